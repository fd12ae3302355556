package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rinkside/rinkside/pkg/utils"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMimeType    = "video/mp4"
	DefaultKeyPrefix   = "videos"
	DefaultMaxFileSize = int64(1 << 30)

	// finalizeLockTTL bounds how long a crashed replica can block completion
	finalizeLockTTL = 5 * time.Minute
)

// InitRequest is the client-declared metadata of a new upload
type InitRequest struct {
	FileName    string
	FileSize    int64
	MimeType    string
	TotalChunks int
}

// ChunkReceipt acknowledges one stored chunk
type ChunkReceipt struct {
	Index    int
	Received int
	Total    int
}

// Status is a read-only view of an upload's progress
type Status struct {
	ID           string
	FileName     string
	FileSize     int64
	Received     int
	Total        int
	Progress     int
	Missing      []int
	CreatedAt    time.Time
	LastActivity time.Time
}

// Result describes a finished upload
type Result struct {
	UploadID    string
	URL         string
	FileKey     string
	FileName    string
	FileSize    int64
	MimeType    string
	Checksum    string // hex SHA-256 of the assembled file
	CompletedAt time.Time
}

// CompletionHook is notified after an upload has been written to the blob store
type CompletionHook interface {
	OnUploadComplete(ctx context.Context, result *Result) error
}

// Options tunes the coordinator's validation
type Options struct {
	MaxFileSize     int64
	DefaultMimeType string
	KeyPrefix       string
}

// Coordinator owns the upload session lifecycle. Transport handlers are thin
// adapters onto its methods.
type Coordinator struct {
	store     SessionStore
	assembler *Assembler
	opts      Options
	hooks     []CompletionHook

	now   func() time.Time
	newID func() string

	finalizing   map[string]struct{}
	finalizingMu sync.Mutex
}

// NewCoordinator creates a coordinator over store that writes finished files to blobs
func NewCoordinator(store SessionStore, blobs BlobStore, opts Options) *Coordinator {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.DefaultMimeType == "" {
		opts.DefaultMimeType = DefaultMimeType
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}

	return &Coordinator{
		store:      store,
		assembler:  NewAssembler(blobs),
		opts:       opts,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
		finalizing: make(map[string]struct{}),
	}
}

// AddHook registers a hook run after every successful completion
func (c *Coordinator) AddHook(hook CompletionHook) {
	c.hooks = append(c.hooks, hook)
}

// Store returns the session store backing the coordinator
func (c *Coordinator) Store() SessionStore {
	return c.store
}

// Init validates the declared metadata and opens a new session
func (c *Coordinator) Init(ctx context.Context, req InitRequest) (*Session, error) {
	fileName := strings.TrimSpace(req.FileName)
	switch {
	case fileName == "":
		return nil, invalidf("fileName is required")
	case req.FileSize <= 0:
		return nil, invalidf("fileSize must be greater than 0")
	case req.FileSize > c.opts.MaxFileSize:
		return nil, invalidf("fileSize %d exceeds the limit of %d bytes", req.FileSize, c.opts.MaxFileSize)
	case req.TotalChunks < 1:
		return nil, invalidf("totalChunks must be at least 1")
	case int64(req.TotalChunks) > req.FileSize:
		return nil, invalidf("totalChunks %d exceeds fileSize %d", req.TotalChunks, req.FileSize)
	}

	mimeType := strings.TrimSpace(req.MimeType)
	if mimeType == "" {
		mimeType = c.opts.DefaultMimeType
	}

	now := c.now()
	fileKey, err := utils.GenerateFileKey(c.opts.KeyPrefix, fileName, now)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:           c.newID(),
		FileKey:      fileKey,
		FileName:     fileName,
		FileSize:     req.FileSize,
		MimeType:     mimeType,
		TotalChunks:  req.TotalChunks,
		Chunks:       make(map[int][]byte),
		CreatedAt:    now,
		LastActivity: now,
	}

	if err := c.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create upload session: %w", err)
	}

	log.Info().
		Str("upload_id", session.ID).
		Str("file_name", session.FileName).
		Int64("file_size", session.FileSize).
		Int("total_chunks", session.TotalChunks).
		Str("file_key", session.FileKey).
		Msg("Initialized upload session")

	return session, nil
}

// AcceptChunk stores one chunk. Re-sending an index overwrites it without
// changing the received count; chunks may arrive in any order.
func (c *Coordinator) AcceptChunk(ctx context.Context, id string, index int, data []byte) (*ChunkReceipt, error) {
	session, err := c.store.Meta(ctx, id)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, invalidf("chunk payload is empty")
	}
	if index < 0 || index >= session.TotalChunks {
		return nil, invalidf("chunkIndex %d out of range [0, %d)", index, session.TotalChunks)
	}

	received, err := c.store.PutChunk(ctx, id, index, data, c.now())
	if err != nil {
		// the session can vanish between Get and PutChunk (cancel, reaper, complete)
		return nil, err
	}

	log.Debug().
		Str("upload_id", id).
		Int("chunk_index", index).
		Int("chunk_size", len(data)).
		Int("received", received).
		Int("total", session.TotalChunks).
		Msg("Received chunk")

	return &ChunkReceipt{Index: index, Received: received, Total: session.TotalChunks}, nil
}

// Complete assembles the upload and writes it to the blob store. The session
// is deleted only after the blob store accepted the file, so a failed
// complete can be retried without re-sending chunks.
func (c *Coordinator) Complete(ctx context.Context, id string) (*Result, error) {
	if !c.beginFinalize(id) {
		return nil, ErrFinalizeInProgress
	}
	defer c.endFinalize(id)

	if locker, ok := c.store.(FinalizeLocker); ok {
		unlock, err := locker.LockFinalize(ctx, id, finalizeLockTTL)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Str("upload_id", id).Msg("Failed to release finalize lock")
			}
		}()
	}

	session, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := c.assembler.Assemble(session)
	if err != nil {
		var incomplete *IncompleteUploadError
		if errors.As(err, &incomplete) {
			log.Warn().
				Str("upload_id", id).
				Int("received", incomplete.Received).
				Int("total", incomplete.Total).
				Msg("Complete called before all chunks arrived")
		}
		return nil, err
	}

	if int64(len(data)) != session.FileSize {
		return nil, invalidf("assembled size %d does not match declared fileSize %d", len(data), session.FileSize)
	}

	url, err := c.assembler.Store(ctx, session, data)
	if err != nil {
		log.Error().Err(err).Str("upload_id", id).Str("file_key", session.FileKey).Msg("Failed to store assembled upload")
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	if _, err := c.store.Delete(ctx, id); err != nil {
		log.Warn().Err(err).Str("upload_id", id).Msg("Failed to delete completed upload session")
	}

	result := &Result{
		UploadID:    id,
		URL:         url,
		FileKey:     session.FileKey,
		FileName:    session.FileName,
		FileSize:    session.FileSize,
		MimeType:    session.MimeType,
		Checksum:    utils.ComputeSHA256(data),
		CompletedAt: c.now(),
	}

	log.Info().
		Str("upload_id", id).
		Str("url", url).
		Int64("file_size", result.FileSize).
		Msg("Completed upload")

	for _, hook := range c.hooks {
		if err := hook.OnUploadComplete(ctx, result); err != nil {
			log.Error().Err(err).Str("upload_id", id).Msg("Upload completion hook failed")
		}
	}

	return result, nil
}

// Cancel deletes the session if present. Cancelling an unknown or finished
// upload is a no-op.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	existed, err := c.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if existed {
		log.Info().Str("upload_id", id).Msg("Cancelled upload session")
	}
	return nil
}

// Status reports progress of a live upload
func (c *Coordinator) Status(ctx context.Context, id string) (*Status, error) {
	session, err := c.store.Meta(ctx, id)
	if err != nil {
		return nil, err
	}

	return &Status{
		ID:           session.ID,
		FileName:     session.FileName,
		FileSize:     session.FileSize,
		Received:     session.Received(),
		Total:        session.TotalChunks,
		Progress:     session.Progress(),
		Missing:      session.Missing(),
		CreatedAt:    session.CreatedAt,
		LastActivity: session.LastActivity,
	}, nil
}

func (c *Coordinator) beginFinalize(id string) bool {
	c.finalizingMu.Lock()
	defer c.finalizingMu.Unlock()

	if _, busy := c.finalizing[id]; busy {
		return false
	}
	c.finalizing[id] = struct{}{}
	return true
}

func (c *Coordinator) endFinalize(id string) {
	c.finalizingMu.Lock()
	defer c.finalizingMu.Unlock()
	delete(c.finalizing, id)
}
