package routes

import (
	"context"

	"github.com/rinkside/rinkside/internal/catalog"
	"github.com/rinkside/rinkside/internal/upload"
	"github.com/rinkside/rinkside/pkg/types"
)

// UploadCoordinator defines the contract the upload handlers adapt onto
type UploadCoordinator interface {
	Init(ctx context.Context, req upload.InitRequest) (*upload.Session, error)
	AcceptChunk(ctx context.Context, id string, index int, data []byte) (*upload.ChunkReceipt, error)
	Complete(ctx context.Context, id string) (*upload.Result, error)
	Cancel(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (*upload.Status, error)
}

// CatalogService defines the contract for catalog lookups
type CatalogService interface {
	List(ctx context.Context, query catalog.ListQuery) (*catalog.ListResult, error)
	GetByUploadID(ctx context.Context, uploadID string) (*types.Video, error)
	Delete(ctx context.Context, uploadID string) error
}

// ObjectRemover deletes stored objects
type ObjectRemover interface {
	Delete(ctx context.Context, key string) error
}

// HealthChecker is a dependency pinged by the health endpoint
type HealthChecker interface {
	Ping(ctx context.Context) error
}
