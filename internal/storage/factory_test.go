package storage

import (
	"context"
	"io"
	"testing"

	"github.com/rinkside/rinkside/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageFactory_CreateLocalStorage(t *testing.T) {
	storageConfig := &config.StorageConfig{
		Type:      "local",
		LocalPath: t.TempDir(),
		PublicURL: "/media",
	}

	factory := NewStorageFactory(storageConfig)
	storage, err := factory.CreateStorage(context.Background())

	require.NoError(t, err)
	require.NotNil(t, storage)

	ctx := context.Background()
	url, err := storage.Put(ctx, "factory_test.mp4", []byte("content from factory test"), "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "/media/factory_test.mp4", url)

	reader, err := storage.Retrieve(ctx, "factory_test.mp4")
	require.NoError(t, err)
	defer reader.Close()

	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "content from factory test", string(content))
}

func TestStorageFactory_UnsupportedType(t *testing.T) {
	factory := NewStorageFactory(&config.StorageConfig{Type: "tape"})
	storage, err := factory.CreateStorage(context.Background())

	assert.Error(t, err)
	assert.Nil(t, storage)
	assert.Contains(t, err.Error(), "unsupported storage type")
}

func TestStorageFactory_IncompleteS3Config(t *testing.T) {
	factory := NewStorageFactory(&config.StorageConfig{Type: "s3", Bucket: "videos"})
	storage, err := factory.CreateStorage(context.Background())

	assert.Error(t, err)
	assert.Nil(t, storage)
	assert.Contains(t, err.Error(), "incomplete")
}
