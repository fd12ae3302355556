package upload

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is returned for malformed or out-of-range input
var ErrInvalidRequest = errors.New("invalid request")

// ErrSessionNotFound is returned when an upload id was never created, or was completed, cancelled or reaped
var ErrSessionNotFound = errors.New("upload session not found")

// ErrSessionExists is returned by a store when an upload id is already taken
var ErrSessionExists = errors.New("upload session already exists")

// ErrIncompleteUpload is returned when complete is called before every chunk arrived
var ErrIncompleteUpload = errors.New("incomplete upload")

// ErrStorageFailure is returned when the blob store rejects the assembled file
var ErrStorageFailure = errors.New("storage failure")

// ErrFinalizeInProgress is returned when complete is already running for the same upload
var ErrFinalizeInProgress = errors.New("upload is already being finalized")

// IncompleteUploadError reports how far an upload got before complete was called
type IncompleteUploadError struct {
	Received int
	Total    int
	Missing  []int
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("missing chunks: received %d/%d", e.Received, e.Total)
}

func (e *IncompleteUploadError) Unwrap() error {
	return ErrIncompleteUpload
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
