package upload

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. It is the default backend;
// sessions do not survive a restart.
type MemoryStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty in-memory session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (ms *MemoryStore) Create(ctx context.Context, session *Session) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.sessions[session.ID]; exists {
		return ErrSessionExists
	}
	ms.sessions[session.ID] = session.Clone()
	return nil
}

func (ms *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	session, exists := ms.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (ms *MemoryStore) Meta(ctx context.Context, id string) (*Session, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	session, exists := ms.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}

	meta := *session
	meta.Chunks = make(map[int][]byte, len(session.Chunks))
	for index := range session.Chunks {
		meta.Chunks[index] = nil
	}
	return &meta, nil
}

func (ms *MemoryStore) PutChunk(ctx context.Context, id string, index int, data []byte, at time.Time) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	session, exists := ms.sessions[id]
	if !exists {
		return 0, ErrSessionNotFound
	}
	session.Chunks[index] = data
	session.LastActivity = at
	return len(session.Chunks), nil
}

func (ms *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	_, exists := ms.sessions[id]
	delete(ms.sessions, id)
	return exists, nil
}

func (ms *MemoryStore) DeleteExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var expired []string
	for id, session := range ms.sessions {
		if session.LastActivity.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(ms.sessions, id)
	}
	return expired, nil
}

func (ms *MemoryStore) Len(ctx context.Context) (int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.sessions), nil
}
