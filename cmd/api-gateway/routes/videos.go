package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	apitypes "github.com/rinkside/rinkside/cmd/api-gateway/types"
	"github.com/rinkside/rinkside/internal/catalog"
	"github.com/rinkside/rinkside/pkg/types"
	"github.com/rs/zerolog/log"
)

// VideoRoutes exposes the catalog of finished uploads
func VideoRoutes(r *gin.RouterGroup, catalogService CatalogService, blobs ObjectRemover, authHandlers ...gin.HandlerFunc) {
	videos := r.Group("/videos")
	videos.Use(authHandlers...)
	{
		videos.GET("", listVideos(catalogService))
		videos.GET("/:uploadId", getVideo(catalogService))
		videos.DELETE("/:uploadId", deleteVideo(catalogService, blobs))
	}
}

func listVideos(catalogService CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		result, err := catalogService.List(c.Request.Context(), catalog.ListQuery{
			Status:     types.VideoStatus(c.Query("status")),
			UploadedBy: c.Query("uploadedBy"),
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to list videos")
			c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{
				Success: false,
				Error:   "Failed to list videos",
				Code:    "INTERNAL_ERROR",
			})
			return
		}

		c.JSON(http.StatusOK, apitypes.PaginatedResponse{
			Success:    true,
			Data:       result.Videos,
			TotalCount: result.Total,
			Limit:      result.Limit,
			Offset:     result.Offset,
		})
	}
}

func getVideo(catalogService CatalogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		video, err := catalogService.GetByUploadID(c.Request.Context(), c.Param("uploadId"))
		if err != nil {
			if errors.Is(err, catalog.ErrVideoNotFound) {
				c.JSON(http.StatusNotFound, apitypes.ErrorResponse{
					Success: false,
					Error:   "Video not found",
					Code:    "NOT_FOUND",
				})
				return
			}
			log.Error().Err(err).Msg("failed to get video")
			c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{
				Success: false,
				Error:   "Failed to get video",
				Code:    "INTERNAL_ERROR",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "data": video})
	}
}

// deleteVideo removes the stored object before the catalog entry, so a failed
// object delete leaves the entry in place for a retry
func deleteVideo(catalogService CatalogService, blobs ObjectRemover) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		uploadID := c.Param("uploadId")

		video, err := catalogService.GetByUploadID(ctx, uploadID)
		if err != nil {
			if errors.Is(err, catalog.ErrVideoNotFound) {
				c.JSON(http.StatusNotFound, apitypes.ErrorResponse{
					Success: false,
					Error:   "Video not found",
					Code:    "NOT_FOUND",
				})
				return
			}
			log.Error().Err(err).Str("upload_id", uploadID).Msg("failed to get video")
			c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{
				Success: false,
				Error:   "Failed to delete video",
				Code:    "INTERNAL_ERROR",
			})
			return
		}

		if err := blobs.Delete(ctx, video.FileKey); err != nil {
			log.Error().Err(err).Str("upload_id", uploadID).Str("file_key", video.FileKey).Msg("failed to delete video object")
			c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{
				Success: false,
				Error:   "Failed to delete stored video",
				Code:    "STORAGE_FAILURE",
			})
			return
		}

		if err := catalogService.Delete(ctx, uploadID); err != nil && !errors.Is(err, catalog.ErrVideoNotFound) {
			log.Error().Err(err).Str("upload_id", uploadID).Msg("failed to delete video")
			c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{
				Success: false,
				Error:   "Failed to delete video",
				Code:    "INTERNAL_ERROR",
			})
			return
		}

		c.JSON(http.StatusOK, apitypes.SuccessResponse{Success: true})
	}
}
