package upload

import (
	"context"
	"time"
)

// SessionStore holds live upload sessions. Implementations must make every
// method atomic with respect to the others for a given session id.
type SessionStore interface {
	// Create registers a new session; ErrSessionExists if the id is taken
	Create(ctx context.Context, session *Session) error

	// Get returns an isolated snapshot of the session including every chunk
	// payload; ErrSessionNotFound if absent
	Get(ctx context.Context, id string) (*Session, error)

	// Meta returns the session without reading chunk payloads: Chunks holds
	// the received indices mapped to nil. ErrSessionNotFound if absent.
	Meta(ctx context.Context, id string) (*Session, error)

	// PutChunk stores or overwrites one chunk, marks the session active at the
	// given time and returns the number of distinct chunks now held.
	// ErrSessionNotFound if the session no longer exists.
	PutChunk(ctx context.Context, id string, index int, data []byte, at time.Time) (int, error)

	// Delete removes the session and reports whether it existed
	Delete(ctx context.Context, id string) (bool, error)

	// DeleteExpired removes every session whose last activity is before cutoff
	// and returns the removed ids
	DeleteExpired(ctx context.Context, cutoff time.Time) ([]string, error)

	// Len returns the number of live sessions
	Len(ctx context.Context) (int, error)
}

// FinalizeLocker is implemented by stores shared between gateway replicas.
// LockFinalize returns ErrFinalizeInProgress while another holder owns the
// lock; the lock expires after ttl if unlock is never called.
type FinalizeLocker interface {
	LockFinalize(ctx context.Context, id string, ttl time.Duration) (unlock func(context.Context) error, err error)
}
