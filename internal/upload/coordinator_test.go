package upload

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rinkside/rinkside/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memoryBlobs records every object written to it
type memoryBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (b *memoryBlobs) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
	b.types[key] = contentType
	return "https://cdn.example/" + key, nil
}

func (b *memoryBlobs) get(key string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objects[key]
}

type recordingHook struct {
	results []*Result
	err     error
}

func (h *recordingHook) OnUploadComplete(ctx context.Context, result *Result) error {
	h.results = append(h.results, result)
	return h.err
}

func newTestCoordinator(blobs BlobStore) (*Coordinator, *MemoryStore) {
	store := NewMemoryStore()
	return NewCoordinator(store, blobs, Options{}), store
}

func randomBytes(t *testing.T, rng *rand.Rand, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rng.Read(data)
	require.NoError(t, err)
	return data
}

func TestCoordinator_ExampleScenario(t *testing.T) {
	ctx := context.Background()
	blobs := newMemoryBlobs()
	coord, _ := newTestCoordinator(blobs)
	coord.newID = func() string { return "u1" }

	session, err := coord.Init(ctx, InitRequest{
		FileName:    "game.mp4",
		FileSize:    25_000_000,
		MimeType:    "video/mp4",
		TotalChunks: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", session.ID)

	rng := rand.New(rand.NewSource(1))
	chunks := [][]byte{
		randomBytes(t, rng, 10_000_000),
		randomBytes(t, rng, 8_000_000),
		randomBytes(t, rng, 7_000_000),
	}

	for _, index := range []int{1, 0, 2} {
		_, err := coord.AcceptChunk(ctx, "u1", index, chunks[index])
		require.NoError(t, err)
	}

	status, err := coord.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, status.Received)
	assert.Equal(t, 100, status.Progress)
	assert.Empty(t, status.Missing)

	result, err := coord.Complete(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/"+session.FileKey, result.URL)
	assert.Equal(t, "game.mp4", result.FileName)

	stored := blobs.get(session.FileKey)
	assert.Len(t, stored, 25_000_000)
	assert.True(t, bytes.Equal(bytes.Join(chunks, nil), stored), "content must follow index order")
	assert.Equal(t, utils.ComputeSHA256(stored), result.Checksum)

	_, err = coord.Status(ctx, "u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCoordinator_RoundTripAnyOrder(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	sizes := []struct {
		fileSize  int
		chunkSize int
	}{
		{fileSize: 1, chunkSize: 10},
		{fileSize: 100, chunkSize: 10},
		{fileSize: 101, chunkSize: 10},
		{fileSize: 4096, chunkSize: 1000},
		{fileSize: 999, chunkSize: 1},
	}

	for _, sz := range sizes {
		blobs := newMemoryBlobs()
		coord, _ := newTestCoordinator(blobs)

		original := randomBytes(t, rng, sz.fileSize)
		total := (sz.fileSize + sz.chunkSize - 1) / sz.chunkSize

		session, err := coord.Init(ctx, InitRequest{FileName: "clip.mp4", FileSize: int64(sz.fileSize), TotalChunks: total})
		require.NoError(t, err)

		for _, index := range rng.Perm(total) {
			start := index * sz.chunkSize
			end := start + sz.chunkSize
			if end > sz.fileSize {
				end = sz.fileSize
			}
			_, err := coord.AcceptChunk(ctx, session.ID, index, original[start:end])
			require.NoError(t, err)
		}

		_, err = coord.Complete(ctx, session.ID)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(original, blobs.get(session.FileKey)), "size %d / chunk %d", sz.fileSize, sz.chunkSize)
	}
}

func TestCoordinator_IdempotentResend(t *testing.T) {
	ctx := context.Background()
	blobs := newMemoryBlobs()
	coord, _ := newTestCoordinator(blobs)

	session, err := coord.Init(ctx, InitRequest{FileName: "a.mp4", FileSize: 6, TotalChunks: 2})
	require.NoError(t, err)

	receipt, err := coord.AcceptChunk(ctx, session.ID, 0, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.Received)

	receipt, err = coord.AcceptChunk(ctx, session.ID, 0, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.Received)
	assert.Equal(t, 2, receipt.Total)

	_, err = coord.AcceptChunk(ctx, session.ID, 1, []byte("def"))
	require.NoError(t, err)

	_, err = coord.Complete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdef"), blobs.get(session.FileKey))
}

func TestCoordinator_CompletenessGate(t *testing.T) {
	ctx := context.Background()
	blobs := newMemoryBlobs()
	coord, _ := newTestCoordinator(blobs)

	session, err := coord.Init(ctx, InitRequest{FileName: "a.mp4", FileSize: 9, TotalChunks: 3})
	require.NoError(t, err)

	_, err = coord.AcceptChunk(ctx, session.ID, 0, []byte("abc"))
	require.NoError(t, err)
	_, err = coord.AcceptChunk(ctx, session.ID, 2, []byte("ghi"))
	require.NoError(t, err)

	_, err = coord.Complete(ctx, session.ID)
	require.ErrorIs(t, err, ErrIncompleteUpload)

	var incomplete *IncompleteUploadError
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, 2, incomplete.Received)
	assert.Equal(t, 3, incomplete.Total)
	assert.Equal(t, []int{1}, incomplete.Missing)
	assert.Nil(t, blobs.get(session.FileKey))

	_, err = coord.AcceptChunk(ctx, session.ID, 1, []byte("def"))
	require.NoError(t, err)

	_, err = coord.Complete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdefghi"), blobs.get(session.FileKey))
}

func TestCoordinator_UnknownSession(t *testing.T) {
	ctx := context.Background()
	coord, _ := newTestCoordinator(newMemoryBlobs())

	_, err := coord.AcceptChunk(ctx, "nope", 0, []byte("x"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = coord.Complete(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = coord.Status(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	session, err := coord.Init(ctx, InitRequest{FileName: "a.mp4", FileSize: 3, TotalChunks: 1})
	require.NoError(t, err)
	require.NoError(t, coord.Cancel(ctx, session.ID))

	_, err = coord.AcceptChunk(ctx, session.ID, 0, []byte("abc"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = coord.Complete(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = coord.Status(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCoordinator_Eviction(t *testing.T) {
	ctx := context.Background()
	coord, store := newTestCoordinator(newMemoryBlobs())

	created := time.Now().Add(-2 * time.Hour)
	coord.now = func() time.Time { return created }

	session, err := coord.Init(ctx, InitRequest{FileName: "a.mp4", FileSize: 6, TotalChunks: 2})
	require.NoError(t, err)
	_, err = coord.AcceptChunk(ctx, session.ID, 0, []byte("abc"))
	require.NoError(t, err)

	removed, err := NewReaper(store, time.Hour, time.Minute).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = coord.Status(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCoordinator_CancelIdempotent(t *testing.T) {
	ctx := context.Background()
	coord, store := newTestCoordinator(newMemoryBlobs())

	session, err := coord.Init(ctx, InitRequest{FileName: "a.mp4", FileSize: 3, TotalChunks: 1})
	require.NoError(t, err)

	assert.NoError(t, coord.Cancel(ctx, session.ID))
	assert.NoError(t, coord.Cancel(ctx, session.ID))
	assert.NoError(t, coord.Cancel(ctx, "never-created"))

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCoordinator_InitValidation(t *testing.T) {
	ctx := context.Background()
	coord, store := newTestCoordinator(newMemoryBlobs())

	tests := []struct {
		name string
		req  InitRequest
	}{
		{name: "missing file name", req: InitRequest{FileName: "  ", FileSize: 10, TotalChunks: 1}},
		{name: "zero size", req: InitRequest{FileName: "a.mp4", FileSize: 0, TotalChunks: 1}},
		{name: "negative size", req: InitRequest{FileName: "a.mp4", FileSize: -5, TotalChunks: 1}},
		{name: "too large", req: InitRequest{FileName: "a.mp4", FileSize: DefaultMaxFileSize + 1, TotalChunks: 1}},
		{name: "zero chunks", req: InitRequest{FileName: "a.mp4", FileSize: 10, TotalChunks: 0}},
		{name: "more chunks than bytes", req: InitRequest{FileName: "a.mp4", FileSize: 2, TotalChunks: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := coord.Init(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "rejected requests must not create sessions")
}

func TestCoordinator_InitDefaults(t *testing.T) {
	ctx := context.Background()
	coord, _ := newTestCoordinator(newMemoryBlobs())
	fixed := time.UnixMilli(1700000000123)
	coord.now = func() time.Time { return fixed }

	session, err := coord.Init(ctx, InitRequest{FileName: "My Game (final).mp4", FileSize: 10, TotalChunks: 1})
	require.NoError(t, err)

	assert.Equal(t, DefaultMimeType, session.MimeType)
	assert.True(t, strings.HasPrefix(session.FileKey, "videos/1700000000123-"), session.FileKey)
	assert.True(t, strings.HasSuffix(session.FileKey, "-My_Game__final_.mp4"), session.FileKey)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, fixed, session.CreatedAt)
}

func TestCoordinator_AcceptChunkValidation(t *testing.T) {
	ctx := context.Background()
	coord, _ := newTestCoordinator(newMemoryBlobs())

	session, err := coord.Init(ctx, InitRequest{FileName: "a.mp4", FileSize: 6, TotalChunks: 2})
	require.NoError(t, err)

	_, err = coord.AcceptChunk(ctx, session.ID, -1, []byte("abc"))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = coord.AcceptChunk(ctx, session.ID, 2, []byte("abc"))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = coord.AcceptChunk(ctx, session.ID, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	status, err := coord.Status(ctx, session.ID)
	require.NoError(t, err)
	assert.Zero(t, status.Received)
	assert.Equal(t, []int{0, 1}, status.Missing)
}

func TestCoordinator_SizeMismatchKeepsSession(t *testing.T) {
	ctx := context.Background()
	coord, _ := newTestCoordinator(newMemoryBlobs())

	session, err := coord.Init(ctx, InitRequest{FileName: "a.mp4", FileSize: 10, TotalChunks: 2})
	require.NoError(t, err)
	_, err = coord.AcceptChunk(ctx, session.ID, 0, []byte("abc"))
	require.NoError(t, err)
	_, err = coord.AcceptChunk(ctx, session.ID, 1, []byte("def"))
	require.NoError(t, err)

	_, err = coord.Complete(ctx, session.ID)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = coord.Status(ctx, session.ID)
	assert.NoError(t, err)
}

func TestCoordinator_StorageFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	blobs := new(MockBlobStore)
	coord, _ := newTestCoordinator(blobs)

	session, err := coord.Init(ctx, InitRequest{FileName: "a.mp4", FileSize: 3, TotalChunks: 1})
	require.NoError(t, err)
	_, err = coord.AcceptChunk(ctx, session.ID, 0, []byte("abc"))
	require.NoError(t, err)

	blobs.On("Put", mock.Anything, session.FileKey, []byte("abc"), "video/mp4").Return("", errors.New("bucket offline")).Once()
	blobs.On("Put", mock.Anything, session.FileKey, []byte("abc"), "video/mp4").Return("https://cdn.example/ok", nil).Once()

	_, err = coord.Complete(ctx, session.ID)
	require.ErrorIs(t, err, ErrStorageFailure)
	assert.Contains(t, err.Error(), "bucket offline")

	status, err := coord.Status(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Received, "chunks must survive a storage failure")

	result, err := coord.Complete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/ok", result.URL)
	blobs.AssertExpectations(t)
}

// blockingBlobs holds Put open until released
type blockingBlobs struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBlobs) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	close(b.entered)
	<-b.release
	return "https://cdn.example/" + key, nil
}

func TestCoordinator_ConcurrentCompleteRejected(t *testing.T) {
	ctx := context.Background()
	blobs := &blockingBlobs{entered: make(chan struct{}), release: make(chan struct{})}
	coord, _ := newTestCoordinator(blobs)

	session, err := coord.Init(ctx, InitRequest{FileName: "a.mp4", FileSize: 3, TotalChunks: 1})
	require.NoError(t, err)
	_, err = coord.AcceptChunk(ctx, session.ID, 0, []byte("abc"))
	require.NoError(t, err)

	firstErr := make(chan error, 1)
	go func() {
		_, err := coord.Complete(ctx, session.ID)
		firstErr <- err
	}()

	<-blobs.entered
	_, err = coord.Complete(ctx, session.ID)
	assert.ErrorIs(t, err, ErrFinalizeInProgress)

	close(blobs.release)
	assert.NoError(t, <-firstErr)

	_, err = coord.Complete(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// countingStore records how often full chunk payloads are loaded
type countingStore struct {
	*MemoryStore
	mu   sync.Mutex
	gets int
}

func (s *countingStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.MemoryStore.Get(ctx, id)
}

func TestCoordinator_OnlyCompleteLoadsPayloads(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	coord := NewCoordinator(store, newMemoryBlobs(), Options{})

	session, err := coord.Init(ctx, InitRequest{FileName: "a.mp4", FileSize: 6, TotalChunks: 3})
	require.NoError(t, err)

	for i, part := range []string{"ab", "cd"} {
		receipt, err := coord.AcceptChunk(ctx, session.ID, i, []byte(part))
		require.NoError(t, err)
		assert.Equal(t, i+1, receipt.Received)
	}
	_, err = coord.AcceptChunk(ctx, session.ID, 3, []byte("xx"))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	status, err := coord.Status(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, status.Missing)
	assert.Equal(t, 0, store.gets, "chunk and status paths must not read payloads")

	_, err = coord.AcceptChunk(ctx, session.ID, 2, []byte("ef"))
	require.NoError(t, err)
	_, err = coord.Complete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, store.gets)
}

// lockingStore stands in for a backend shared between replicas
type lockingStore struct {
	*MemoryStore
	mu       sync.Mutex
	held     bool
	unlocked int
}

func (s *lockingStore) LockFinalize(ctx context.Context, id string, ttl time.Duration) (func(context.Context) error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		return nil, ErrFinalizeInProgress
	}
	s.held = true
	return func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.held = false
		s.unlocked++
		return nil
	}, nil
}

func TestCoordinator_SharedFinalizeLock(t *testing.T) {
	ctx := context.Background()
	store := &lockingStore{MemoryStore: NewMemoryStore()}
	blobs := newMemoryBlobs()
	coord := NewCoordinator(store, blobs, Options{})

	session, err := coord.Init(ctx, InitRequest{FileName: "a.mp4", FileSize: 3, TotalChunks: 1})
	require.NoError(t, err)
	_, err = coord.AcceptChunk(ctx, session.ID, 0, []byte("abc"))
	require.NoError(t, err)

	// another replica is finalizing the same upload
	store.held = true
	_, err = coord.Complete(ctx, session.ID)
	assert.ErrorIs(t, err, ErrFinalizeInProgress)
	assert.Nil(t, blobs.get(session.FileKey))

	_, err = coord.Status(ctx, session.ID)
	require.NoError(t, err, "a rejected complete keeps the session")

	store.held = false
	_, err = coord.Complete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), blobs.get(session.FileKey))
	assert.Equal(t, 1, store.unlocked)
	assert.False(t, store.held)
}

func TestCoordinator_HooksRunAfterCompletion(t *testing.T) {
	ctx := context.Background()
	coord, _ := newTestCoordinator(newMemoryBlobs())

	failing := &recordingHook{err: errors.New("catalog down")}
	ok := &recordingHook{}
	coord.AddHook(failing)
	coord.AddHook(ok)

	session, err := coord.Init(ctx, InitRequest{FileName: "a.mp4", FileSize: 3, MimeType: "video/webm", TotalChunks: 1})
	require.NoError(t, err)
	_, err = coord.AcceptChunk(ctx, session.ID, 0, []byte("abc"))
	require.NoError(t, err)

	result, err := coord.Complete(ctx, session.ID)
	require.NoError(t, err, "hook failures must not fail the upload")

	require.Len(t, ok.results, 1)
	assert.Equal(t, result, ok.results[0])
	assert.Equal(t, "video/webm", ok.results[0].MimeType)
	assert.Len(t, failing.results, 1)
}

func TestCoordinator_IsolatedSessions(t *testing.T) {
	ctx := context.Background()
	blobs := new(MockBlobStore)
	coord, _ := newTestCoordinator(blobs)

	bad, err := coord.Init(ctx, InitRequest{FileName: "bad.mp4", FileSize: 3, TotalChunks: 1})
	require.NoError(t, err)
	good, err := coord.Init(ctx, InitRequest{FileName: "good.mp4", FileSize: 3, TotalChunks: 1})
	require.NoError(t, err)

	_, err = coord.AcceptChunk(ctx, bad.ID, 0, []byte("bad"))
	require.NoError(t, err)
	_, err = coord.AcceptChunk(ctx, good.ID, 0, []byte("god"))
	require.NoError(t, err)

	blobs.On("Put", mock.Anything, bad.FileKey, mock.Anything, mock.Anything).Return("", errors.New("boom"))
	blobs.On("Put", mock.Anything, good.FileKey, mock.Anything, mock.Anything).Return("https://cdn.example/good", nil)

	_, err = coord.Complete(ctx, bad.ID)
	require.ErrorIs(t, err, ErrStorageFailure)

	result, err := coord.Complete(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/good", result.URL)
}
