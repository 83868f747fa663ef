package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/minirag/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type chunkDoc struct {
	ID        string            `bson:"_id"`
	ProjectID string            `bson:"chunk_project_id"`
	AssetID   string            `bson:"chunk_asset_id"`
	Content   string            `bson:"chunk_text"`
	Metadata  map[string]string `bson:"chunk_metadata,omitempty"`
	Order     int               `bson:"chunk_order"`
	CreatedAt time.Time         `bson:"created_at"`
}

// ChunkRepo implements repository.ChunkRepository
type ChunkRepo struct {
	coll *mongo.Collection
}

// NewChunkRepo creates a new chunk repository
func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{coll: db.Database.Collection(chunksCollection)}
}

// InsertMany creates chunks with one bulk insert and returns how many were written.
func (r *ChunkRepo) InsertMany(ctx context.Context, chunks []*repository.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	docs := make([]interface{}, len(chunks))
	for i, chunk := range chunks {
		docs[i] = chunkDoc{
			ID:        chunk.ID.String(),
			ProjectID: chunk.ProjectID,
			AssetID:   chunk.AssetID.String(),
			Content:   chunk.Content,
			Metadata:  chunk.Metadata,
			Order:     chunk.Order,
			CreatedAt: chunk.CreatedAt,
		}
	}

	result, err := r.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		inserted := 0
		if result != nil {
			inserted = len(result.InsertedIDs)
		}
		return inserted, fmt.Errorf("failed to insert chunks: %w", err)
	}
	return len(result.InsertedIDs), nil
}

// List retrieves a page of a project's chunks in stable order
func (r *ChunkRepo) List(ctx context.Context, projectID string, limit, offset int) ([]*repository.Chunk, error) {
	opts := options.Find().
		SetSort(bson.D{
			{Key: "chunk_asset_id", Value: 1},
			{Key: "chunk_order", Value: 1},
			{Key: "_id", Value: 1},
		}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, bson.M{"chunk_project_id": projectID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer cursor.Close(ctx)

	var chunks []*repository.Chunk
	for cursor.Next(ctx) {
		var doc chunkDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode chunk: %w", err)
		}
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid chunk id %q: %w", doc.ID, err)
		}
		assetID, err := uuid.Parse(doc.AssetID)
		if err != nil {
			return nil, fmt.Errorf("invalid asset id %q: %w", doc.AssetID, err)
		}
		chunks = append(chunks, &repository.Chunk{
			ID:        id,
			ProjectID: doc.ProjectID,
			AssetID:   assetID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Order:     doc.Order,
			CreatedAt: doc.CreatedAt,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return chunks, nil
}

// Count returns the number of chunks stored for a project
func (r *ChunkRepo) Count(ctx context.Context, projectID string) (int, error) {
	total, err := r.coll.CountDocuments(ctx, bson.M{"chunk_project_id": projectID})
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return int(total), nil
}

// DeleteByProject removes every chunk of a project
func (r *ChunkRepo) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"chunk_project_id": projectID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return result.DeletedCount, nil
}
