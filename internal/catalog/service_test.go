package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/rinkside/rinkside/internal/auth"
	"github.com/rinkside/rinkside/internal/upload"
	"github.com/rinkside/rinkside/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestService(t *testing.T) (*Service, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// Auto migrate tables
	require.NoError(t, db.AutoMigrate(&types.Video{}))

	return NewService(db), db
}

func testResult(id string) *upload.Result {
	return &upload.Result{
		UploadID:    id,
		URL:         "/media/videos/" + id + ".mp4",
		FileKey:     "videos/" + id + ".mp4",
		FileName:    id + ".mp4",
		FileSize:    2048,
		MimeType:    "video/mp4",
		Checksum:    "abc123",
		CompletedAt: time.Now(),
	}
}

func TestOnUploadComplete(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := auth.WithIdentity(context.Background(), &auth.Identity{Subject: "coach-7"})

	require.NoError(t, service.OnUploadComplete(ctx, testResult("u1")))

	video, err := service.GetByUploadID(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, video.ID)
	assert.Equal(t, "videos/u1.mp4", video.FileKey)
	assert.Equal(t, int64(2048), video.FileSize)
	assert.Equal(t, types.VideoStatusUploaded, video.Status)
	assert.Equal(t, "coach-7", video.UploadedBy)
	assert.Contains(t, video.Metadata, "completed_at")
	assert.Equal(t, "abc123", video.Metadata["sha256"])
}

func TestOnUploadComplete_Duplicate(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()

	require.NoError(t, service.OnUploadComplete(ctx, testResult("u1")))
	require.NoError(t, service.OnUploadComplete(ctx, testResult("u1")))

	var count int64
	require.NoError(t, db.Model(&types.Video{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGetByUploadID_NotFound(t *testing.T) {
	service, _ := setupTestService(t)
	_, err := service.GetByUploadID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrVideoNotFound)
}

func TestList(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()
	coachCtx := auth.WithIdentity(ctx, &auth.Identity{Subject: "coach-7"})

	require.NoError(t, service.OnUploadComplete(ctx, testResult("a")))
	require.NoError(t, service.OnUploadComplete(coachCtx, testResult("b")))
	require.NoError(t, service.OnUploadComplete(coachCtx, testResult("c")))
	require.NoError(t, service.UpdateStatus(ctx, "c", types.VideoStatusReady))

	all, err := service.List(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total)
	assert.Len(t, all.Videos, 3)
	assert.Equal(t, 20, all.Limit)

	mine, err := service.List(ctx, ListQuery{UploadedBy: "coach-7"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), mine.Total)

	ready, err := service.List(ctx, ListQuery{Status: types.VideoStatusReady})
	require.NoError(t, err)
	require.Len(t, ready.Videos, 1)
	assert.Equal(t, "c", ready.Videos[0].UploadID)

	page, err := service.List(ctx, ListQuery{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Videos, 1)
}

func TestUpdateStatus_NotFound(t *testing.T) {
	service, _ := setupTestService(t)
	err := service.UpdateStatus(context.Background(), "missing", types.VideoStatusFailed)
	assert.ErrorIs(t, err, ErrVideoNotFound)
}

func TestDelete(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	require.NoError(t, service.OnUploadComplete(ctx, testResult("gone")))
	require.NoError(t, service.Delete(ctx, "gone"))

	_, err := service.GetByUploadID(ctx, "gone")
	assert.ErrorIs(t, err, ErrVideoNotFound)
	assert.ErrorIs(t, service.Delete(ctx, "gone"), ErrVideoNotFound)
}
