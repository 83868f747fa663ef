package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/knoguchi/minirag/internal/repository"
)

// ProjectRepo implements repository.ProjectRepository
type ProjectRepo struct {
	db *DB
}

// NewProjectRepo creates a new project repository
func NewProjectRepo(db *DB) *ProjectRepo {
	return &ProjectRepo{db: db}
}

// GetOrCreate returns the project with the given id, creating it on first reference.
func (r *ProjectRepo) GetOrCreate(ctx context.Context, id string) (*repository.Project, error) {
	query := `
		INSERT INTO projects (id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING id, created_at, updated_at
	`
	var p repository.Project
	if err := r.db.Pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to get or create project: %w", err)
	}
	return &p, nil
}

// GetByID retrieves a project by ID
func (r *ProjectRepo) GetByID(ctx context.Context, id string) (*repository.Project, error) {
	query := `SELECT id, created_at, updated_at FROM projects WHERE id = $1`

	var p repository.Project
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// List retrieves projects with pagination
func (r *ProjectRepo) List(ctx context.Context, limit, offset int) ([]*repository.Project, int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM projects`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count projects: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, created_at, updated_at
		FROM projects
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*repository.Project
	for rows.Next() {
		var p repository.Project
		if err := rows.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, total, nil
}
