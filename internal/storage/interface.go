package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned when a key does not exist in the store
var ErrObjectNotFound = errors.New("object not found")

// BlobStorage defines the interface for video object storage
type BlobStorage interface {
	// Put writes data under key and returns a publicly resolvable URL for it
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Retrieve gets content stored under key
	Retrieve(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object stored under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object is stored under key
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns the public URL of key without touching the store
	URL(key string) string
}
