package upload

import (
	"context"
)

// BlobStore is the persistent object store finished uploads are written to
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Assembler joins a complete session's chunks and hands the file to the blob store
type Assembler struct {
	blobs BlobStore
}

// NewAssembler creates an assembler writing to blobs
func NewAssembler(blobs BlobStore) *Assembler {
	return &Assembler{blobs: blobs}
}

// Assemble concatenates chunks 0..TotalChunks-1 in index order
func (a *Assembler) Assemble(session *Session) ([]byte, error) {
	if missing := session.Missing(); len(missing) > 0 {
		return nil, &IncompleteUploadError{
			Received: session.Received(),
			Total:    session.TotalChunks,
			Missing:  missing,
		}
	}

	size := 0
	for i := 0; i < session.TotalChunks; i++ {
		size += len(session.Chunks[i])
	}

	buf := make([]byte, 0, size)
	for i := 0; i < session.TotalChunks; i++ {
		buf = append(buf, session.Chunks[i]...)
	}
	return buf, nil
}

// Store writes the assembled file under the session's key and returns the blob
// store's URL unchanged. It does not retry.
func (a *Assembler) Store(ctx context.Context, session *Session, data []byte) (string, error) {
	return a.blobs.Put(ctx, session.FileKey, data, session.MimeType)
}
