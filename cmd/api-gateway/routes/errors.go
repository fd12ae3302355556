package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rinkside/rinkside/cmd/api-gateway/types"
	"github.com/rinkside/rinkside/internal/upload"
	"github.com/rs/zerolog/log"
)

// writeError maps an upload error to its status code and the error envelope
func writeError(c *gin.Context, err error) {
	resp := types.ErrorResponse{Success: false, Error: err.Error()}
	status := http.StatusInternalServerError

	var incomplete *upload.IncompleteUploadError
	switch {
	case errors.As(err, &incomplete):
		status = http.StatusBadRequest
		resp.Code = "INCOMPLETE_UPLOAD"
		resp.Received = &incomplete.Received
		resp.Total = &incomplete.Total
		resp.MissingChunks = incomplete.Missing
	case errors.Is(err, upload.ErrInvalidRequest):
		status = http.StatusBadRequest
		resp.Code = "INVALID_REQUEST"
	case errors.Is(err, upload.ErrSessionNotFound):
		status = http.StatusNotFound
		resp.Code = "NOT_FOUND"
		resp.Error = "Upload session not found"
	case errors.Is(err, upload.ErrFinalizeInProgress):
		status = http.StatusConflict
		resp.Code = "FINALIZE_IN_PROGRESS"
	case errors.Is(err, upload.ErrStorageFailure):
		resp.Code = "STORAGE_FAILURE"
		resp.Error = "Failed to store uploaded file"
	default:
		resp.Code = "INTERNAL_ERROR"
		resp.Error = "Internal server error"
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Str("upload_id", c.Param("uploadId")).Msg("Upload request failed")
	}

	c.AbortWithStatusJSON(status, resp)
}

func invalidRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, types.ErrorResponse{
		Success: false,
		Error:   message,
		Code:    "INVALID_REQUEST",
	})
}
