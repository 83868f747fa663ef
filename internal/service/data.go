package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/minirag/internal/ingestion"
	"github.com/knoguchi/minirag/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ProcessRequest selects which assets to chunk and how.
// Zero ChunkSize and nil OverlapSize fall back to the service defaults.
type ProcessRequest struct {
	FileID      string
	ChunkSize   int
	OverlapSize *int
	DoReset     bool
}

// ProcessResult reports how many chunks were stored.
type ProcessResult struct {
	InsertedChunks int
	ProcessedFiles int
}

// DataService turns stored asset files into chunks.
type DataService struct {
	projects       repository.ProjectRepository
	assets         repository.AssetRepository
	chunks         repository.ChunkRepository
	assetsDir      string
	defaultSize    int
	defaultOverlap int
	tracer         trace.Tracer
}

// NewDataService creates a new DataService reading files from assetsDir/<project_id>/.
func NewDataService(
	projects repository.ProjectRepository,
	assets repository.AssetRepository,
	chunks repository.ChunkRepository,
	assetsDir string,
	chunkSize, overlap int,
) *DataService {
	return &DataService{
		projects:       projects,
		assets:         assets,
		chunks:         chunks,
		assetsDir:      assetsDir,
		defaultSize:    chunkSize,
		defaultOverlap: overlap,
		tracer:         otel.Tracer(tracerName),
	}
}

// AssetPath returns where the file of a project asset is stored.
func (s *DataService) AssetPath(projectID, name string) string {
	return filepath.Join(s.assetsDir, projectID, name)
}

// RegisterAsset records an already stored file as an asset of the project.
// The project is created on first reference.
func (s *DataService) RegisterAsset(ctx context.Context, projectID, name, assetType string) (*repository.Asset, error) {
	if strings.TrimSpace(projectID) == "" || filepath.Base(projectID) != projectID {
		return nil, fmt.Errorf("%w: invalid project_id %q", ErrInvalidArgument, projectID)
	}
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return nil, fmt.Errorf("%w: invalid asset name %q", ErrInvalidArgument, name)
	}
	if assetType == "" {
		assetType = repository.AssetTypeFile
	}

	info, err := os.Stat(s.AssetPath(projectID, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no stored file %q", ErrAssetNotFound, name)
		}
		return nil, fmt.Errorf("checking asset file: %w", err)
	}

	if _, err := s.projects.GetOrCreate(ctx, projectID); err != nil {
		return nil, fmt.Errorf("getting project: %w", err)
	}

	asset := &repository.Asset{
		ID:        uuid.New(),
		ProjectID: projectID,
		Type:      assetType,
		Name:      name,
		Size:      info.Size(),
		PushedAt:  time.Now().UTC(),
	}
	if err := s.assets.Create(ctx, asset); err != nil {
		return nil, fmt.Errorf("creating asset: %w", err)
	}

	slog.Info("asset registered", "project_id", projectID, "asset_id", asset.ID, "name", name, "size", asset.Size)
	return asset, nil
}

// Process chunks the project's assets and stores the chunks. With DoReset
// every existing chunk of the project is deleted first.
func (s *DataService) Process(ctx context.Context, projectID string, req ProcessRequest) (result *ProcessResult, err error) {
	ctx, span := s.tracer.Start(ctx, "data.process", trace.WithAttributes(
		attribute.String("project_id", projectID),
		attribute.Bool("do_reset", req.DoReset),
	))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("%w: project_id is required", ErrInvalidArgument)
	}

	size, overlap := req.ChunkSize, s.defaultOverlap
	if size <= 0 {
		size = s.defaultSize
	}
	if req.OverlapSize != nil {
		overlap = *req.OverlapSize
	}
	pipeline, err := ingestion.NewPipeline(ingestion.PipelineConfig{ChunkSize: size, Overlap: overlap})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	if _, err := s.projects.GetOrCreate(ctx, projectID); err != nil {
		return nil, fmt.Errorf("getting project: %w", err)
	}

	assets, err := s.selectAssets(ctx, projectID, req.FileID)
	if err != nil {
		return nil, err
	}

	// Read every asset before touching stored chunks so a failed run
	// leaves the previous chunks in place.
	var (
		loaded   []*ingestion.PipelineResult
		loadErrs []error
	)
	for _, asset := range assets {
		text, err := ingestion.LoadFile(s.AssetPath(projectID, asset.Name))
		if err != nil {
			slog.Warn("skipping unreadable asset", "project_id", projectID, "asset", asset.Name, "error", err)
			loadErrs = append(loadErrs, err)
			continue
		}

		out, err := pipeline.Process(ctx, asset, text)
		if err != nil {
			return nil, fmt.Errorf("chunking %s: %w", asset.Name, err)
		}
		slog.Debug("asset chunked",
			"project_id", projectID,
			"asset", asset.Name,
			"chunks", out.Stats.ChunkCount,
			"avg_chunk_length", out.Stats.AvgChunkLength,
			"duration", out.Stats.ProcessingTime)
		loaded = append(loaded, out)
	}
	if len(loaded) == 0 {
		return nil, fmt.Errorf("%w: none of %d assets could be read: %w", ErrAssetsUnreadable, len(assets), errors.Join(loadErrs...))
	}

	if req.DoReset {
		deleted, err := s.chunks.DeleteByProject(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("deleting chunks: %w", err)
		}
		slog.Info("chunks deleted", "project_id", projectID, "deleted", deleted)
	}

	var chunks []*repository.Chunk
	for _, out := range loaded {
		chunks = append(chunks, out.Chunks...)
	}
	n, err := s.chunks.InsertMany(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("storing chunks: %w", err)
	}
	result = &ProcessResult{InsertedChunks: n, ProcessedFiles: len(loaded)}

	span.SetAttributes(attribute.Int("inserted_chunks", result.InsertedChunks))
	slog.Info("assets processed",
		"project_id", projectID,
		"processed_files", result.ProcessedFiles,
		"inserted_chunks", result.InsertedChunks)
	return result, nil
}

func (s *DataService) selectAssets(ctx context.Context, projectID, fileID string) ([]*repository.Asset, error) {
	if fileID != "" {
		asset, err := s.assets.GetByName(ctx, projectID, fileID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, fileID)
			}
			return nil, fmt.Errorf("getting asset: %w", err)
		}
		return []*repository.Asset{asset}, nil
	}

	assets, err := s.assets.List(ctx, projectID, repository.AssetTypeFile)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAssets, projectID)
	}
	return assets, nil
}
