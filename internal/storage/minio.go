package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rinkside/rinkside/pkg/config"
	"github.com/rs/zerolog/log"
)

// MinioStorage implements BlobStorage on any S3-compatible object store
type MinioStorage struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewMinioStorage connects to the configured endpoint and makes sure the bucket exists
func NewMinioStorage(ctx context.Context, cfg *config.StorageConfig) (*MinioStorage, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 storage configuration is incomplete")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("created storage bucket")
	}

	publicURL := strings.TrimSuffix(cfg.PublicURL, "/")
	if publicURL == "" || strings.HasPrefix(publicURL, "/") {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &MinioStorage{client: client, bucket: cfg.Bucket, publicURL: publicURL}, nil
}

// Put uploads data as a single object
func (ms *MinioStorage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	startTime := time.Now()

	info, err := ms.client.PutObject(ctx, ms.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		log.Error().Err(err).Str("bucket", ms.bucket).Str("key", key).Msg("failed to put object")
		return "", fmt.Errorf("failed to put object: %w", err)
	}

	log.Info().
		Str("bucket", ms.bucket).
		Str("key", key).
		Str("content_type", contentType).
		Int64("size", info.Size).
		Str("etag", info.ETag).
		Dur("duration", time.Since(startTime)).
		Msg("object stored")

	return ms.URL(key), nil
}

// Retrieve opens the object stored under key
func (ms *MinioStorage) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := ms.client.StatObject(ctx, ms.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	object, err := ms.client.GetObject(ctx, ms.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return object, nil
}

// Delete removes the object stored under key
func (ms *MinioStorage) Delete(ctx context.Context, key string) error {
	if err := ms.client.RemoveObject(ctx, ms.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object: %w", err)
	}
	return nil
}

// Exists checks if an object is stored under key
func (ms *MinioStorage) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := ms.client.StatObject(ctx, ms.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// URL returns the public URL of key
func (ms *MinioStorage) URL(key string) string {
	return ms.publicURL + "/" + strings.TrimPrefix(key, "/")
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
