package vectorstore

import (
	"context"
	"fmt"
	"sync"
)

type memoryCollection struct {
	dimension int
	distance  Distance
	records   map[string]Record
}

// MemoryStore keeps collections in process memory. Useful for tests and single-node demos.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

// Name returns the backend identifier.
func (s *MemoryStore) Name() string { return "memory" }

// CreateCollection creates a collection, replacing nothing: an existing name is an error.
func (s *MemoryStore) CreateCollection(_ context.Context, name string, dimension int, distance Distance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return fmt.Errorf("collection %q already exists", name)
	}
	s.collections[name] = &memoryCollection{
		dimension: dimension,
		distance:  distance,
		records:   make(map[string]Record),
	}
	return nil
}

// DeleteCollection removes a collection. Deleting a missing collection is not an error.
func (s *MemoryStore) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

// CollectionExists checks if a collection exists
func (s *MemoryStore) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

// CollectionInfo describes a collection
func (s *MemoryStore) CollectionInfo(_ context.Context, name string) (*CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return &CollectionInfo{
		Name:        name,
		Dimension:   c.dimension,
		Distance:    c.distance,
		VectorCount: uint64(len(c.records)),
		Status:      "green",
	}, nil
}

// Upsert inserts or overwrites records by id
func (s *MemoryStore) Upsert(_ context.Context, name string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	for _, r := range records {
		if len(r.Vector) != c.dimension {
			return fmt.Errorf("record %s has dimension %d, collection expects %d", r.ID, len(r.Vector), c.dimension)
		}
	}
	for _, r := range records {
		r.Vector = append([]float32(nil), r.Vector...)
		c.records[r.ID] = r
	}
	return nil
}

// Search performs brute-force similarity search
func (s *MemoryStore) Search(_ context.Context, name string, vector []float32, topK int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if len(vector) != c.dimension {
		return nil, fmt.Errorf("query has dimension %d, collection expects %d", len(vector), c.dimension)
	}

	results := make([]SearchResult, 0, len(c.records))
	for _, r := range c.records {
		results = append(results, SearchResult{
			ID:       r.ID,
			Score:    score(c.distance, vector, r.Vector),
			Text:     r.Text,
			Order:    r.Order,
			Metadata: r.Metadata,
		})
	}
	return rank(results, topK), nil
}

var _ VectorStore = (*MemoryStore)(nil)
