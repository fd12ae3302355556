package types

import "time"

// ErrorResponse is the single error envelope returned by every upload endpoint
type ErrorResponse struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	Code          string `json:"code"`
	Received      *int   `json:"received,omitempty"`
	Total         *int   `json:"total,omitempty"`
	MissingChunks []int  `json:"missingChunks,omitempty"`
}

// SuccessResponse is returned by operations without a payload
type SuccessResponse struct {
	Success bool `json:"success"`
}

// InitUploadRequest declares a new chunked upload
type InitUploadRequest struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	MimeType    string `json:"mimeType"`
	TotalChunks int    `json:"totalChunks"`
}

type InitUploadResponse struct {
	Success  bool   `json:"success"`
	UploadID string `json:"uploadId"`
	FileKey  string `json:"fileKey"`
}

type ChunkResponse struct {
	Success    bool `json:"success"`
	ChunkIndex int  `json:"chunkIndex"`
	Received   int  `json:"received"`
	Total      int  `json:"total"`
}

type CompleteResponse struct {
	Success  bool   `json:"success"`
	UploadID string `json:"uploadId"`
	VideoURL string `json:"videoUrl"`
	FileKey  string `json:"fileKey"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
	Checksum string `json:"checksum"`
}

type StatusResponse struct {
	Success        bool   `json:"success"`
	UploadID       string `json:"uploadId"`
	FileName       string `json:"fileName"`
	FileSize       int64  `json:"fileSize"`
	ReceivedChunks int    `json:"receivedChunks"`
	TotalChunks    int    `json:"totalChunks"`
	Progress       int    `json:"progress"`
	MissingChunks  []int  `json:"missingChunks"`
}

// HealthResponse reports service liveness and dependency state
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    float64           `json:"uptime"`
	Services  map[string]string `json:"services"`
	Sessions  int               `json:"activeUploads"`
}

// PaginatedResponse wraps one page of results
type PaginatedResponse struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data"`
	TotalCount int64       `json:"totalCount"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
}
