package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrSessionLost is returned when the server forgot the upload (expired,
// cancelled or restarted) and no restarts remain
var ErrSessionLost = errors.New("upload session lost")

// ErrChunkFailed is returned when a chunk could not be delivered within the retry budget
var ErrChunkFailed = errors.New("chunk upload failed")

// APIError is a non-2xx response decoded from the server's error envelope
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Received   *int
	Total      *int
	Missing    []int
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

// retryable reports whether repeating the same request may succeed
func (e *APIError) retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError ||
		e.StatusCode == http.StatusConflict ||
		e.StatusCode == http.StatusTooManyRequests
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func asIncomplete(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == "INCOMPLETE_UPLOAD" {
		return apiErr, true
	}
	return nil, false
}
