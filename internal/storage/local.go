package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// LocalStorage implements BlobStorage on the local filesystem
type LocalStorage struct {
	basePath  string
	publicURL string
	mutex     sync.RWMutex
}

// NewLocalStorage creates a new local storage instance rooted at basePath.
// publicURL is the prefix under which basePath is served.
func NewLocalStorage(basePath, publicURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Error().Err(err).Str("path", basePath).Msg("failed to create storage directory")
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	log.Info().Str("path", basePath).Str("public_url", publicURL).Msg("local storage initialized")
	return &LocalStorage{
		basePath:  basePath,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// BasePath returns the directory objects are written to
func (ls *LocalStorage) BasePath() string {
	return ls.basePath
}

// resolve maps a key to a path inside basePath, rejecting keys that escape it
func (ls *LocalStorage) resolve(key string) (string, error) {
	cleaned := filepath.Clean("/" + filepath.FromSlash(key))
	if cleaned == string(filepath.Separator) {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return filepath.Join(ls.basePath, cleaned), nil
}

// Put writes data atomically (temp file + rename) and returns the object URL
func (ls *LocalStorage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	startTime := time.Now()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	fullPath, err := ls.resolve(key)
	if err != nil {
		return "", err
	}

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Error().Err(err).Str("key", key).Str("dir", dir).Msg("failed to create directory")
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, filepath.Base(fullPath)+".tmp.*")
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to create temporary file")
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		tempFile.Close()
		if _, err := os.Stat(tempPath); err == nil {
			os.Remove(tempPath)
		}
	}()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tempFile, hasher), bytes.NewReader(data))
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to write content to temporary file")
		return "", fmt.Errorf("failed to write content: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to sync temporary file")
		return "", fmt.Errorf("failed to sync temporary file: %w", err)
	}
	tempFile.Close()

	if err := os.Rename(tempPath, fullPath); err != nil {
		log.Error().Err(err).Str("key", key).Str("temp_path", tempPath).Msg("failed to move temporary file to final location")
		return "", fmt.Errorf("failed to move file to final location: %w", err)
	}

	log.Info().
		Str("key", key).
		Str("content_type", contentType).
		Int64("bytes_written", written).
		Str("checksum", hex.EncodeToString(hasher.Sum(nil))).
		Dur("duration", time.Since(startTime)).
		Msg("object stored")

	return ls.URL(key), nil
}

// Retrieve opens the object stored under key
func (ls *LocalStorage) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	fullPath, err := ls.resolve(key)
	if err != nil {
		return nil, err
	}

	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		log.Error().Err(err).Str("key", key).Msg("failed to open file")
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes the object stored under key
func (ls *LocalStorage) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fullPath, err := ls.resolve(key)
	if err != nil {
		return err
	}

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("key", key).Msg("object already deleted or does not exist")
			return nil
		}
		log.Error().Err(err).Str("key", key).Msg("failed to delete file")
		return fmt.Errorf("failed to delete file: %w", err)
	}

	log.Info().Str("key", key).Msg("object deleted")
	return nil
}

// Exists checks if an object is stored under key
func (ls *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	fullPath, err := ls.resolve(key)
	if err != nil {
		return false, err
	}

	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}

// URL returns the public URL of key
func (ls *LocalStorage) URL(key string) string {
	return ls.publicURL + "/" + strings.TrimPrefix(key, "/")
}
