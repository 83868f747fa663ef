package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteStore keeps collections in a local SQLite file. Embeddings are stored
// as JSON text and search is brute force in process.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and creates its tables.
func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// one connection serializes writers and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLiteStore{db: db, logger: logger}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS vector_collections (
			name       TEXT PRIMARY KEY,
			dimension  INTEGER NOT NULL,
			distance   TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vector_records (
			collection  TEXT NOT NULL,
			id          TEXT NOT NULL,
			project_id  TEXT NOT NULL,
			text        TEXT NOT NULL,
			chunk_order INTEGER NOT NULL,
			metadata    TEXT NOT NULL,
			embedding   TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	return nil
}

// Name returns the backend identifier.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateCollection creates a new collection
func (s *SQLiteStore) CreateCollection(ctx context.Context, name string, dimension int, distance Distance) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vector_collections (name, dimension, distance, created_at) VALUES (?, ?, ?, ?)`,
		name, dimension, string(distance), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite: create collection %s: %w", name, err)
	}
	return nil
}

// DeleteCollection removes a collection and all of its records
func (s *SQLiteStore) DeleteCollection(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_records WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("sqlite: delete records of %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_collections WHERE name = ?`, name); err != nil {
		return fmt.Errorf("sqlite: delete collection %s: %w", name, err)
	}
	return tx.Commit()
}

// CollectionExists checks if a collection exists
func (s *SQLiteStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, err := s.collection(ctx, name)
	if errors.Is(err, ErrCollectionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CollectionInfo describes a collection
func (s *SQLiteStore) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	info, err := s.collection(ctx, name)
	if err != nil {
		return nil, err
	}
	var count int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vector_records WHERE collection = ?`, name).Scan(&count); err != nil {
		return nil, fmt.Errorf("sqlite: count records: %w", err)
	}
	info.VectorCount = uint64(count)
	return info, nil
}

func (s *SQLiteStore) collection(ctx context.Context, name string) (*CollectionInfo, error) {
	var info CollectionInfo
	var distance string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, dimension, distance FROM vector_collections WHERE name = ?`, name).
		Scan(&info.Name, &info.Dimension, &distance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get collection %s: %w", name, err)
	}
	info.Distance = Distance(distance)
	info.Status = "green"
	return &info, nil
}

// Upsert inserts or overwrites records by id in one transaction
func (s *SQLiteStore) Upsert(ctx context.Context, name string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()

	info, err := s.collection(ctx, name)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vector_records (collection, id, project_id, text, chunk_order, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			project_id = excluded.project_id,
			text = excluded.text,
			chunk_order = excluded.chunk_order,
			metadata = excluded.metadata,
			embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if len(r.Vector) != info.Dimension {
			return fmt.Errorf("sqlite: record %s has dimension %d, collection expects %d", r.ID, len(r.Vector), info.Dimension)
		}
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: marshal metadata: %w", err)
		}
		embJSON, err := json.Marshal(r.Vector)
		if err != nil {
			return fmt.Errorf("sqlite: marshal embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, name, r.ID, r.ProjectID, r.Text, r.Order, string(metaJSON), string(embJSON)); err != nil {
			return fmt.Errorf("sqlite: upsert record %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	s.logger.Debug("sqlite: upsert", "collection", name, "records", len(records), "duration", time.Since(start))
	return nil
}

// Search performs brute-force similarity search
func (s *SQLiteStore) Search(ctx context.Context, name string, vector []float32, topK int) ([]SearchResult, error) {
	info, err := s.collection(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(vector) != info.Dimension {
		return nil, fmt.Errorf("sqlite: query has dimension %d, collection expects %d", len(vector), info.Dimension)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, chunk_order, metadata, embedding FROM vector_records WHERE collection = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			r                 SearchResult
			metaJSON, embJSON string
			embedding         []float32
		)
		if err := rows.Scan(&r.ID, &r.Text, &r.Order, &metaJSON, &embJSON); err != nil {
			return nil, fmt.Errorf("sqlite: scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(embJSON), &embedding); err != nil {
			return nil, fmt.Errorf("sqlite: decode embedding of %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			return nil, fmt.Errorf("sqlite: decode metadata of %s: %w", r.ID, err)
		}
		r.Score = score(info.Distance, vector, embedding)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate records: %w", err)
	}
	return rank(results, topK), nil
}

var _ VectorStore = (*SQLiteStore)(nil)
