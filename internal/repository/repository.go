// Package repository defines domain models and data access interfaces for projects, assets, and chunks.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a uniqueness constraint is violated
var ErrDuplicate = errors.New("already exists")

// Asset types
const (
	AssetTypeFile = "file"
)

// Project is the isolation boundary for assets, chunks and the vector collection.
type Project struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Asset is a stored source file. Name is unique within a project.
type Asset struct {
	ID        uuid.UUID
	ProjectID string
	Type      string
	Name      string
	Size      int64
	Config    map[string]string
	PushedAt  time.Time
}

// Chunk is a contiguous span of extracted text.
// Order is 1-based within one processing run of its source asset.
type Chunk struct {
	ID        uuid.UUID
	ProjectID string
	AssetID   uuid.UUID
	Content   string
	Metadata  map[string]string
	Order     int
	CreatedAt time.Time
}

// ProjectRepository defines operations for project persistence
type ProjectRepository interface {
	GetOrCreate(ctx context.Context, id string) (*Project, error)
	GetByID(ctx context.Context, id string) (*Project, error)
	List(ctx context.Context, limit, offset int) ([]*Project, int, error)
}

// AssetRepository defines operations for asset persistence
type AssetRepository interface {
	Create(ctx context.Context, asset *Asset) error
	GetByName(ctx context.Context, projectID, name string) (*Asset, error)
	List(ctx context.Context, projectID, assetType string) ([]*Asset, error)
}

// ChunkRepository defines operations for chunk persistence.
// List returns chunks in a stable order: asset, then chunk order, then id.
type ChunkRepository interface {
	InsertMany(ctx context.Context, chunks []*Chunk) (int, error)
	List(ctx context.Context, projectID string, limit, offset int) ([]*Chunk, error)
	Count(ctx context.Context, projectID string) (int, error)
	DeleteByProject(ctx context.Context, projectID string) (int64, error)
}

// Store bundles the repositories of one backend.
type Store struct {
	Projects ProjectRepository
	Assets   AssetRepository
	Chunks   ChunkRepository
	Ping     func(ctx context.Context) error
	Close    func(ctx context.Context) error
}
