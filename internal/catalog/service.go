package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rinkside/rinkside/internal/auth"
	"github.com/rinkside/rinkside/internal/upload"
	"github.com/rinkside/rinkside/pkg/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrVideoNotFound is returned when no catalog entry matches
var ErrVideoNotFound = errors.New("video not found")

// ListQuery filters catalog listings
type ListQuery struct {
	Status     types.VideoStatus
	UploadedBy string
	Limit      int
	Offset     int
}

// ListResult is one page of catalog entries
type ListResult struct {
	Videos []types.Video `json:"videos"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// Service records finished uploads and serves catalog lookups
type Service struct {
	db *gorm.DB
}

// NewService creates a new catalog service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// OnUploadComplete records the finished upload. A repeated completion for the
// same upload id leaves the existing entry untouched.
func (s *Service) OnUploadComplete(ctx context.Context, result *upload.Result) error {
	video := &types.Video{
		UploadID:   result.UploadID,
		FileKey:    result.FileKey,
		FileName:   result.FileName,
		FileSize:   result.FileSize,
		MimeType:   result.MimeType,
		URL:        result.URL,
		Status:     types.VideoStatusUploaded,
		UploadedBy: auth.SubjectFromContext(ctx),
		Metadata: types.JSONMap{
			"sha256":       result.Checksum,
			"completed_at": result.CompletedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "upload_id"}}, DoNothing: true}).
		Create(video).Error
	if err != nil {
		return fmt.Errorf("failed to record video: %w", err)
	}

	log.Info().
		Str("upload_id", result.UploadID).
		Str("video_id", video.ID.String()).
		Msg("Recorded video in catalog")
	return nil
}

// GetByUploadID returns the catalog entry for an upload
func (s *Service) GetByUploadID(ctx context.Context, uploadID string) (*types.Video, error) {
	var video types.Video
	if err := s.db.WithContext(ctx).Where("upload_id = ?", uploadID).First(&video).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVideoNotFound
		}
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return &video, nil
}

// List returns catalog entries, newest first
func (s *Service) List(ctx context.Context, query ListQuery) (*ListResult, error) {
	if query.Limit <= 0 || query.Limit > 100 {
		query.Limit = 20
	}
	if query.Offset < 0 {
		query.Offset = 0
	}

	db := s.db.WithContext(ctx).Model(&types.Video{})
	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}
	if uploader := strings.TrimSpace(query.UploadedBy); uploader != "" {
		db = db.Where("uploaded_by = ?", uploader)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count videos: %w", err)
	}

	var videos []types.Video
	if err := db.Order("created_at DESC").Limit(query.Limit).Offset(query.Offset).Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}

	return &ListResult{Videos: videos, Total: total, Limit: query.Limit, Offset: query.Offset}, nil
}

// UpdateStatus moves a video to a new processing status
func (s *Service) UpdateStatus(ctx context.Context, uploadID string, status types.VideoStatus) error {
	res := s.db.WithContext(ctx).Model(&types.Video{}).
		Where("upload_id = ?", uploadID).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to update video status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVideoNotFound
	}
	return nil
}

// Delete removes the catalog entry for an upload
func (s *Service) Delete(ctx context.Context, uploadID string) error {
	res := s.db.WithContext(ctx).Where("upload_id = ?", uploadID).Delete(&types.Video{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete video: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVideoNotFound
	}

	log.Info().Str("upload_id", uploadID).Msg("Deleted video from catalog")
	return nil
}
