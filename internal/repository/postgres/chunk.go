package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/knoguchi/minirag/internal/repository"
)

// ChunkRepo implements repository.ChunkRepository
type ChunkRepo struct {
	db *DB
}

// NewChunkRepo creates a new chunk repository
func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// InsertMany creates chunks in a single batch and returns how many were written.
func (r *ChunkRepo) InsertMany(ctx context.Context, chunks []*repository.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO chunks (id, project_id, asset_id, content, metadata, chunk_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, chunk := range chunks {
		metadataJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal chunk metadata: %w", err)
		}
		batch.Queue(query, chunk.ID, chunk.ProjectID, chunk.AssetID, chunk.Content,
			metadataJSON, chunk.Order, chunk.CreatedAt)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return inserted, fmt.Errorf("failed to insert chunk: %w", err)
		}
		inserted++
	}
	return inserted, nil
}

// List retrieves a page of a project's chunks in stable order
func (r *ChunkRepo) List(ctx context.Context, projectID string, limit, offset int) ([]*repository.Chunk, error) {
	query := `
		SELECT id, project_id, asset_id, content, metadata, chunk_order, created_at
		FROM chunks
		WHERE project_id = $1
		ORDER BY asset_id, chunk_order, id
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Pool.Query(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*repository.Chunk
	for rows.Next() {
		var chunk repository.Chunk
		var metadataJSON []byte
		if err := rows.Scan(&chunk.ID, &chunk.ProjectID, &chunk.AssetID, &chunk.Content,
			&metadataJSON, &chunk.Order, &chunk.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunk.Metadata = make(map[string]string)
		if err := json.Unmarshal(metadataJSON, &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chunk metadata: %w", err)
		}
		chunks = append(chunks, &chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return chunks, nil
}

// Count returns the number of chunks stored for a project
func (r *ChunkRepo) Count(ctx context.Context, projectID string) (int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE project_id = $1`, projectID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return total, nil
}

// DeleteByProject removes every chunk of a project
func (r *ChunkRepo) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM chunks WHERE project_id = $1`, projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}
