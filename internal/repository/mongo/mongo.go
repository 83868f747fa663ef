// Package mongo implements the repository interfaces on MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/knoguchi/minirag/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	projectsCollection = "projects"
	assetsCollection   = "assets"
	chunksCollection   = "chunks"
)

// DB wraps a MongoDB client bound to one database
type DB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// New connects to MongoDB and verifies the connection
func New(ctx context.Context, uri, dbName string) (*DB, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &DB{Client: client, Database: client.Database(dbName)}, nil
}

// EnsureIndexes creates the indexes the repositories rely on
func (db *DB) EnsureIndexes(ctx context.Context) error {
	assetIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "asset_project_id", Value: 1}, {Key: "asset_name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "asset_project_id", Value: 1}, {Key: "asset_type", Value: 1}},
		},
	}
	if _, err := db.Database.Collection(assetsCollection).Indexes().CreateMany(ctx, assetIndexes); err != nil {
		return fmt.Errorf("failed to create asset indexes: %w", err)
	}

	chunkIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "chunk_project_id", Value: 1},
				{Key: "chunk_asset_id", Value: 1},
				{Key: "chunk_order", Value: 1},
				{Key: "_id", Value: 1},
			},
		},
	}
	if _, err := db.Database.Collection(chunksCollection).Indexes().CreateMany(ctx, chunkIndexes); err != nil {
		return fmt.Errorf("failed to create chunk indexes: %w", err)
	}
	return nil
}

// Ping checks that the primary is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.Client.Ping(ctx, nil)
}

// Close disconnects the client
func (db *DB) Close(ctx context.Context) error {
	return db.Client.Disconnect(ctx)
}

// Open connects, creates indexes and returns the repositories as one Store.
func Open(ctx context.Context, uri, dbName string) (*repository.Store, error) {
	db, err := New(ctx, uri, dbName)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureIndexes(ctx); err != nil {
		_ = db.Close(ctx)
		return nil, err
	}
	return &repository.Store{
		Projects: NewProjectRepo(db),
		Assets:   NewAssetRepo(db),
		Chunks:   NewChunkRepo(db),
		Ping:     db.Ping,
		Close:    db.Close,
	}, nil
}
