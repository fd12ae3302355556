package routes

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rinkside/rinkside/internal/storage"
	"github.com/rs/zerolog/log"
)

// MediaReader is the read side of the blob store
type MediaReader interface {
	Retrieve(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// MediaRoutes serves stored objects under prefix, for blob stores without a public endpoint
func MediaRoutes(r gin.IRoutes, prefix string, blobs MediaReader) {
	pattern := strings.TrimSuffix(prefix, "/") + "/*key"

	r.HEAD(pattern, func(c *gin.Context) {
		key := mediaKey(c)
		found, err := blobs.Exists(c.Request.Context(), key)
		switch {
		case err != nil:
			log.Error().Err(err).Str("key", key).Msg("Failed to check media object")
			c.Status(http.StatusInternalServerError)
		case !found:
			c.Status(http.StatusNotFound)
		default:
			c.Header("Content-Type", mediaContentType(key))
			c.Status(http.StatusOK)
		}
	})

	r.GET(pattern, func(c *gin.Context) {
		key := mediaKey(c)

		reader, err := blobs.Retrieve(c.Request.Context(), key)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				c.Status(http.StatusNotFound)
				return
			}
			log.Error().Err(err).Str("key", key).Msg("Failed to read media object")
			c.Status(http.StatusInternalServerError)
			return
		}
		defer reader.Close()

		c.DataFromReader(http.StatusOK, -1, mediaContentType(key), reader, nil)
	})
}

func mediaKey(c *gin.Context) string {
	return strings.TrimPrefix(path.Clean(c.Param("key")), "/")
}

func mediaContentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if contentType, ok := videoExtensions[ext]; ok {
		return contentType
	}
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}
