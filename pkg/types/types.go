package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONMap is a custom type that can handle JSON serialization for both PostgreSQL and SQLite
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for GORM
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for GORM
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}

	return json.Unmarshal(bytes, j)
}

// VideoStatus tracks a catalogued video through downstream processing
type VideoStatus string

const (
	VideoStatusUploaded  VideoStatus = "uploaded"
	VideoStatusAnalyzing VideoStatus = "analyzing"
	VideoStatusReady     VideoStatus = "ready"
	VideoStatusFailed    VideoStatus = "failed"
)

// Video is the catalog record written after an upload completes
type Video struct {
	ID         uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	UploadID   string      `json:"upload_id" gorm:"uniqueIndex;not null"`
	FileKey    string      `json:"file_key" gorm:"not null"`
	FileName   string      `json:"file_name" gorm:"not null"`
	FileSize   int64       `json:"file_size" gorm:"not null"`
	MimeType   string      `json:"mime_type" gorm:"not null"`
	URL        string      `json:"url" gorm:"not null"`
	Status     VideoStatus `json:"status" gorm:"not null;default:uploaded;index"`
	UploadedBy string      `json:"uploaded_by,omitempty" gorm:"index"`
	Metadata   JSONMap     `json:"metadata,omitempty" gorm:"serializer:json"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// BeforeCreate generates a UUID for the video ID
func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// VideoUploadedEvent is published when a finished upload is ready for analysis
type VideoUploadedEvent struct {
	UploadID   string    `json:"uploadId"`
	FileKey    string    `json:"fileKey"`
	FileName   string    `json:"fileName"`
	FileSize   int64     `json:"fileSize"`
	MimeType   string    `json:"mimeType"`
	URL        string    `json:"videoUrl"`
	Checksum   string    `json:"sha256,omitempty"`
	UploadedBy string    `json:"uploadedBy,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
