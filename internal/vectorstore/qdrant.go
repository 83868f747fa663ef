package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// Reserved payload keys. Chunk metadata is stored under metaPrefix.
const (
	payloadChunkID   = "chunk_id"
	payloadProjectID = "chunk_project_id"
	payloadText      = "chunk_text"
	payloadOrder     = "chunk_order"
	metaPrefix       = "meta_"
)

// QdrantStore implements VectorStore using Qdrant
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore creates a new Qdrant vector store client
// url should be in format "host:port" (e.g., "localhost:6334")
func NewQdrantStore(ctx context.Context, url, apiKey string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: apiKey != "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client}, nil
}

// Name returns the backend identifier.
func (s *QdrantStore) Name() string { return "qdrant" }

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func toQdrantDistance(d Distance) qdrant.Distance {
	if d == Dot {
		return qdrant.Distance_Dot
	}
	return qdrant.Distance_Cosine
}

func fromQdrantDistance(d qdrant.Distance) Distance {
	if d == qdrant.Distance_Dot {
		return Dot
	}
	return Cosine
}

// CreateCollection creates a new collection with a single dense vector
func (s *QdrantStore) CreateCollection(ctx context.Context, name string, dimension int, distance Distance) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: toQdrantDistance(distance),
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// DeleteCollection deletes a collection
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	err := s.client.DeleteCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	return nil
}

// CollectionExists checks if a collection exists
func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}

	return exists, nil
}

// CollectionInfo returns size and configuration of a collection
func (s *QdrantStore) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	return &CollectionInfo{
		Name:        name,
		Dimension:   int(params.GetSize()),
		Distance:    fromQdrantDistance(params.GetDistance()),
		VectorCount: info.GetPointsCount(),
		Status:      strings.ToLower(info.GetStatus().String()),
	}, nil
}

// Upsert inserts or updates records in the vector store and waits for the write to apply
func (s *QdrantStore) Upsert(ctx context.Context, name string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		payload := map[string]*qdrant.Value{
			payloadChunkID:   qdrant.NewValueString(r.ID),
			payloadProjectID: qdrant.NewValueString(r.ProjectID),
			payloadText:      qdrant.NewValueString(r.Text),
			payloadOrder:     qdrant.NewValueInt(int64(r.Order)),
		}
		for k, v := range r.Metadata {
			payload[metaPrefix+k] = qdrant.NewValueString(v)
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(r.ID)),
			Payload: payload,
			Vectors: qdrant.NewVectors(r.Vector...),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	return nil
}

// Search performs similarity search
func (s *QdrantStore) Search(ctx context.Context, name string, vector []float32, topK int) ([]SearchResult, error) {
	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0, len(response))
	for _, point := range response {
		results = append(results, fromPayload(point.Id.GetUuid(), point.Score, point.Payload))
	}

	return rank(results, topK), nil
}

func fromPayload(pointID string, score float32, payload map[string]*qdrant.Value) SearchResult {
	result := SearchResult{
		ID:       pointID,
		Score:    score,
		Metadata: make(map[string]string),
	}
	for k, v := range payload {
		switch {
		case k == payloadChunkID:
			result.ID = v.GetStringValue()
		case k == payloadText:
			result.Text = v.GetStringValue()
		case k == payloadOrder:
			result.Order = int(v.GetIntegerValue())
		case strings.HasPrefix(k, metaPrefix):
			result.Metadata[strings.TrimPrefix(k, metaPrefix)] = v.GetStringValue()
		}
	}
	return result
}

var _ VectorStore = (*QdrantStore)(nil)
