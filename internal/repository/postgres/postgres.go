// Package postgres implements the repository interfaces on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/knoguchi/minirag/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS assets (
	id         UUID PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	type       TEXT NOT NULL,
	name       TEXT NOT NULL,
	size       BIGINT NOT NULL DEFAULT 0,
	config     JSONB NOT NULL DEFAULT '{}',
	pushed_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, name)
);

CREATE TABLE IF NOT EXISTS chunks (
	id          UUID PRIMARY KEY,
	project_id  TEXT NOT NULL REFERENCES projects(id),
	asset_id    UUID NOT NULL,
	content     TEXT NOT NULL,
	metadata    JSONB NOT NULL DEFAULT '{}',
	chunk_order INT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chunks_project_order_idx ON chunks (project_id, asset_id, chunk_order, id);
`

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new PostgreSQL connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// EnsureSchema creates the tables used by the repositories if they are missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Open connects, applies the schema and returns the repositories as one Store.
func Open(ctx context.Context, databaseURL string) (*repository.Store, error) {
	db, err := New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &repository.Store{
		Projects: NewProjectRepo(db),
		Assets:   NewAssetRepo(db),
		Chunks:   NewChunkRepo(db),
		Ping:     db.Pool.Ping,
		Close: func(context.Context) error {
			db.Close()
			return nil
		},
	}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
