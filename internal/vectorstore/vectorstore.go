// Package vectorstore provides the vector index capability and its backends.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrCollectionNotFound is returned when an operation targets a missing collection.
var ErrCollectionNotFound = errors.New("collection not found")

// Distance is the similarity metric of a collection.
type Distance string

const (
	Cosine Distance = "cosine"
	Dot    Distance = "dot"
)

// ParseDistance maps a configuration value to a Distance.
func ParseDistance(s string) (Distance, error) {
	switch Distance(strings.ToLower(strings.TrimSpace(s))) {
	case Cosine:
		return Cosine, nil
	case Dot:
		return Dot, nil
	default:
		return "", fmt.Errorf("unsupported distance method %q", s)
	}
}

// Record is a chunk's vector together with a copy of the chunk payload.
type Record struct {
	ID        string // chunk identity
	ProjectID string
	Text      string
	Order     int
	Metadata  map[string]string
	Vector    []float32
}

// SearchResult is a ranked record returned from a similarity query.
type SearchResult struct {
	ID       string
	Score    float32
	Text     string
	Order    int
	Metadata map[string]string
}

// CollectionInfo describes a collection.
type CollectionInfo struct {
	Name        string
	Dimension   int
	Distance    Distance
	VectorCount uint64
	Status      string
}

// VectorStore defines the interface for vector database operations.
// Upsert is keyed by Record.ID: writing the same id twice overwrites.
type VectorStore interface {
	Name() string
	CreateCollection(ctx context.Context, name string, dimension int, distance Distance) error
	DeleteCollection(ctx context.Context, name string) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)
	Upsert(ctx context.Context, name string, records []Record) error
	Search(ctx context.Context, name string, vector []float32, topK int) ([]SearchResult, error)
}

// PointID returns a stable UUID for a record id. UUID ids are used as is.
func PointID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}
