package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/knoguchi/minirag/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type projectDoc struct {
	ID        string    `bson:"_id"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d projectDoc) toProject() *repository.Project {
	return &repository.Project{ID: d.ID, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
}

// ProjectRepo implements repository.ProjectRepository
type ProjectRepo struct {
	coll *mongo.Collection
}

// NewProjectRepo creates a new project repository
func NewProjectRepo(db *DB) *ProjectRepo {
	return &ProjectRepo{coll: db.Database.Collection(projectsCollection)}
}

// GetOrCreate returns the project with the given id, creating it on first reference.
func (r *ProjectRepo) GetOrCreate(ctx context.Context, id string) (*repository.Project, error) {
	now := time.Now().UTC()
	update := bson.M{"$setOnInsert": bson.M{"created_at": now, "updated_at": now}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc projectDoc
	if err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to get or create project: %w", err)
	}
	return doc.toProject(), nil
}

// GetByID retrieves a project by ID
func (r *ProjectRepo) GetByID(ctx context.Context, id string) (*repository.Project, error) {
	var doc projectDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return doc.toProject(), nil
}

// List retrieves projects with pagination
func (r *ProjectRepo) List(ctx context.Context, limit, offset int) ([]*repository.Project, int, error) {
	total, err := r.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count projects: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list projects: %w", err)
	}
	defer cursor.Close(ctx)

	var projects []*repository.Project
	for cursor.Next(ctx) {
		var doc projectDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, fmt.Errorf("failed to decode project: %w", err)
		}
		projects = append(projects, doc.toProject())
	}
	if err := cursor.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, int(total), nil
}
