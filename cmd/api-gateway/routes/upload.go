package routes

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/rinkside/rinkside/cmd/api-gateway/types"
	"github.com/rinkside/rinkside/internal/upload"
	"github.com/rinkside/rinkside/pkg/utils"
	"github.com/rs/zerolog/log"
)

// multipartOverhead allows for boundaries and part headers around a payload
const multipartOverhead = 1 << 20

var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".flv":  "video/x-flv",
}

// UploadLimits bounds request bodies accepted by the upload handlers
type UploadLimits struct {
	MaxChunkSize int64
	MaxFileSize  int64
}

// UploadRoutes sets up the chunked upload API under r
func UploadRoutes(r *gin.RouterGroup, coordinator UploadCoordinator, limits UploadLimits, authHandlers ...gin.HandlerFunc) {
	uploads := r.Group("/upload")
	uploads.Use(authHandlers...)
	{
		uploads.POST("/init", handleInitUpload(coordinator))
		uploads.POST("/video", handleSingleUpload(coordinator, limits.MaxFileSize))
		uploads.POST("/:uploadId/chunk/:chunkIndex", handleUploadChunk(coordinator, limits.MaxChunkSize))
		uploads.POST("/:uploadId/complete", handleCompleteUpload(coordinator))
		uploads.DELETE("/:uploadId", handleCancelUpload(coordinator))
		uploads.GET("/:uploadId/status", handleUploadStatus(coordinator))
	}
}

// handleInitUpload opens a new upload session
func handleInitUpload(coordinator UploadCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.InitUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidRequest(c, "Invalid request body: "+err.Error())
			return
		}

		session, err := coordinator.Init(c.Request.Context(), upload.InitRequest{
			FileName:    req.FileName,
			FileSize:    req.FileSize,
			MimeType:    req.MimeType,
			TotalChunks: req.TotalChunks,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.InitUploadResponse{
			Success:  true,
			UploadID: session.ID,
			FileKey:  session.FileKey,
		})
	}
}

// handleUploadChunk stores one chunk sent as multipart field "chunk"
func handleUploadChunk(coordinator UploadCoordinator, maxChunkSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		uploadID := c.Param("uploadId")
		index, err := strconv.Atoi(c.Param("chunkIndex"))
		if err != nil {
			invalidRequest(c, "chunkIndex must be an integer")
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxChunkSize+multipartOverhead)

		data, err := readFormFile(c, "chunk", maxChunkSize)
		if err != nil {
			invalidRequest(c, err.Error())
			return
		}

		receipt, err := coordinator.AcceptChunk(c.Request.Context(), uploadID, index, data)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.ChunkResponse{
			Success:    true,
			ChunkIndex: receipt.Index,
			Received:   receipt.Received,
			Total:      receipt.Total,
		})
	}
}

// handleCompleteUpload assembles and stores the upload
func handleCompleteUpload(coordinator UploadCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := coordinator.Complete(c.Request.Context(), c.Param("uploadId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, completeResponse(result))
	}
}

// handleCancelUpload discards the session; unknown ids succeed too
func handleCancelUpload(coordinator UploadCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := coordinator.Cancel(c.Request.Context(), c.Param("uploadId")); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, types.SuccessResponse{Success: true})
	}
}

// handleUploadStatus reports progress for a live session
func handleUploadStatus(coordinator UploadCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := coordinator.Status(c.Request.Context(), c.Param("uploadId"))
		if err != nil {
			writeError(c, err)
			return
		}

		missing := status.Missing
		if missing == nil {
			missing = []int{}
		}

		c.JSON(http.StatusOK, types.StatusResponse{
			Success:        true,
			UploadID:       status.ID,
			FileName:       status.FileName,
			FileSize:       status.FileSize,
			ReceivedChunks: status.Received,
			TotalChunks:    status.Total,
			Progress:       status.Progress,
			MissingChunks:  missing,
		})
	}
}

// handleSingleUpload accepts a whole video in multipart field "video" and
// runs it through the same session lifecycle as a one-chunk upload
func handleSingleUpload(coordinator UploadCoordinator, maxFileSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFileSize+multipartOverhead)

		file, header, err := c.Request.FormFile("video")
		if err != nil {
			invalidRequest(c, "No video file provided")
			return
		}
		defer file.Close()

		data, err := readLimited(file, maxFileSize)
		if err != nil {
			invalidRequest(c, err.Error())
			return
		}

		mimeType, ok := videoMimeType(header, data)
		if !ok {
			invalidRequest(c, "Only video files are allowed")
			return
		}

		ctx := c.Request.Context()
		session, err := coordinator.Init(ctx, upload.InitRequest{
			FileName:    header.Filename,
			FileSize:    int64(len(data)),
			MimeType:    mimeType,
			TotalChunks: 1,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		if _, err := coordinator.AcceptChunk(ctx, session.ID, 0, data); err != nil {
			writeError(c, err)
			return
		}

		result, err := coordinator.Complete(ctx, session.ID)
		if err != nil {
			if cerr := coordinator.Cancel(ctx, session.ID); cerr != nil {
				log.Warn().Err(cerr).Str("upload_id", session.ID).Msg("Failed to discard single-shot session")
			}
			writeError(c, err)
			return
		}

		log.Info().
			Str("upload_id", result.UploadID).
			Str("size", utils.FormatBytes(result.FileSize)).
			Msg("Stored single-shot video upload")

		c.JSON(http.StatusOK, completeResponse(result))
	}
}

func completeResponse(result *upload.Result) types.CompleteResponse {
	return types.CompleteResponse{
		Success:  true,
		UploadID: result.UploadID,
		VideoURL: result.URL,
		FileKey:  result.FileKey,
		FileName: result.FileName,
		FileSize: result.FileSize,
		MimeType: result.MimeType,
		Checksum: result.Checksum,
	}
}

func readFormFile(c *gin.Context, field string, limit int64) ([]byte, error) {
	file, _, err := c.Request.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%s exceeds the limit of %s", field, utils.FormatBytes(limit))
		}
		return nil, fmt.Errorf("no %s data provided", field)
	}
	defer file.Close()

	data, err := readLimited(file, limit)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no %s data provided", field)
	}
	return data, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("upload exceeds the limit of %s", utils.FormatBytes(limit))
	}
	return data, nil
}

// videoMimeType accepts declared video types, then sniffed video content,
// then a known video extension, then untyped binaries
func videoMimeType(header *multipart.FileHeader, data []byte) (string, bool) {
	declared := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if strings.HasPrefix(declared, "video/") {
		return declared, true
	}

	if detected := mimetype.Detect(data).String(); strings.HasPrefix(detected, "video/") {
		return detected, true
	}

	if mimeType, ok := videoExtensions[strings.ToLower(filepath.Ext(header.Filename))]; ok {
		return mimeType, true
	}

	// generic binaries are stored under the default video type
	return "", declared == "application/octet-stream"
}
