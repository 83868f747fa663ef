package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/knoguchi/minirag/internal/repository"
)

// AssetRepo implements repository.AssetRepository
type AssetRepo struct {
	db *DB
}

// NewAssetRepo creates a new asset repository
func NewAssetRepo(db *DB) *AssetRepo {
	return &AssetRepo{db: db}
}

// Create records a new asset. A second asset with the same (project, name) yields ErrDuplicate.
func (r *AssetRepo) Create(ctx context.Context, asset *repository.Asset) error {
	configJSON, err := json.Marshal(asset.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	query := `
		INSERT INTO assets (id, project_id, type, name, size, config, pushed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		asset.ID, asset.ProjectID, asset.Type, asset.Name, asset.Size, configJSON, asset.PushedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("failed to create asset: %w", err)
	}
	return nil
}

// GetByName retrieves an asset by its name within a project
func (r *AssetRepo) GetByName(ctx context.Context, projectID, name string) (*repository.Asset, error) {
	query := `
		SELECT id, project_id, type, name, size, config, pushed_at
		FROM assets
		WHERE project_id = $1 AND name = $2
	`
	asset, err := scanAsset(r.db.Pool.QueryRow(ctx, query, projectID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return asset, nil
}

// List retrieves the assets of a project, optionally filtered by type
func (r *AssetRepo) List(ctx context.Context, projectID, assetType string) ([]*repository.Asset, error) {
	query := `
		SELECT id, project_id, type, name, size, config, pushed_at
		FROM assets
		WHERE project_id = $1
	`
	args := []any{projectID}
	if assetType != "" {
		query += ` AND type = $2`
		args = append(args, assetType)
	}
	query += ` ORDER BY pushed_at, name`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []*repository.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assets: %w", err)
	}
	return assets, nil
}

func scanAsset(row pgx.Row) (*repository.Asset, error) {
	var asset repository.Asset
	var configJSON []byte
	if err := row.Scan(&asset.ID, &asset.ProjectID, &asset.Type, &asset.Name,
		&asset.Size, &configJSON, &asset.PushedAt); err != nil {
		return nil, err
	}
	asset.Config = make(map[string]string)
	if err := json.Unmarshal(configJSON, &asset.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &asset, nil
}
