package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/minirag/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type assetDoc struct {
	ID        string            `bson:"_id"`
	ProjectID string            `bson:"asset_project_id"`
	Type      string            `bson:"asset_type"`
	Name      string            `bson:"asset_name"`
	Size      int64             `bson:"asset_size"`
	Config    map[string]string `bson:"asset_config,omitempty"`
	PushedAt  time.Time         `bson:"asset_pushed_at"`
}

func (d assetDoc) toAsset() (*repository.Asset, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid asset id %q: %w", d.ID, err)
	}
	return &repository.Asset{
		ID:        id,
		ProjectID: d.ProjectID,
		Type:      d.Type,
		Name:      d.Name,
		Size:      d.Size,
		Config:    d.Config,
		PushedAt:  d.PushedAt,
	}, nil
}

// AssetRepo implements repository.AssetRepository
type AssetRepo struct {
	coll *mongo.Collection
}

// NewAssetRepo creates a new asset repository
func NewAssetRepo(db *DB) *AssetRepo {
	return &AssetRepo{coll: db.Database.Collection(assetsCollection)}
}

// Create records a new asset. A second asset with the same (project, name) yields ErrDuplicate.
func (r *AssetRepo) Create(ctx context.Context, asset *repository.Asset) error {
	doc := assetDoc{
		ID:        asset.ID.String(),
		ProjectID: asset.ProjectID,
		Type:      asset.Type,
		Name:      asset.Name,
		Size:      asset.Size,
		Config:    asset.Config,
		PushedAt:  asset.PushedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("failed to create asset: %w", err)
	}
	return nil
}

// GetByName retrieves an asset by its name within a project
func (r *AssetRepo) GetByName(ctx context.Context, projectID, name string) (*repository.Asset, error) {
	var doc assetDoc
	err := r.coll.FindOne(ctx, bson.M{"asset_project_id": projectID, "asset_name": name}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return doc.toAsset()
}

// List retrieves the assets of a project, optionally filtered by type
func (r *AssetRepo) List(ctx context.Context, projectID, assetType string) ([]*repository.Asset, error) {
	filter := bson.M{"asset_project_id": projectID}
	if assetType != "" {
		filter["asset_type"] = assetType
	}
	opts := options.Find().SetSort(bson.D{{Key: "asset_pushed_at", Value: 1}, {Key: "asset_name", Value: 1}})

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer cursor.Close(ctx)

	var assets []*repository.Asset
	for cursor.Next(ctx) {
		var doc assetDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode asset: %w", err)
		}
		asset, err := doc.toAsset()
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assets: %w", err)
	}
	return assets, nil
}
