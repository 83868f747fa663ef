package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/knoguchi/minirag/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page is one page of a listing. NextPageToken is empty on the last page.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// ProjectService exposes read access to projects and their stored data.
type ProjectService struct {
	projects repository.ProjectRepository
	assets   repository.AssetRepository
	chunks   repository.ChunkRepository
}

// NewProjectService creates a new ProjectService
func NewProjectService(
	projects repository.ProjectRepository,
	assets repository.AssetRepository,
	chunks repository.ChunkRepository,
) *ProjectService {
	return &ProjectService{projects: projects, assets: assets, chunks: chunks}
}

// GetProject returns a project by key.
func (s *ProjectService) GetProject(ctx context.Context, projectID string) (*repository.Project, error) {
	p, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
		}
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return p, nil
}

// ListProjects lists projects. The page token is an offset.
func (s *ProjectService) ListProjects(ctx context.Context, pageSize int, pageToken string) (*Page[*repository.Project], error) {
	pageSize, offset, err := pagination(pageSize, pageToken)
	if err != nil {
		return nil, err
	}

	projects, total, err := s.projects.List(ctx, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	page := &Page[*repository.Project]{Items: projects}
	if offset+len(projects) < total {
		page.NextPageToken = strconv.Itoa(offset + len(projects))
	}
	return page, nil
}

// ListAssets lists the file assets of a project.
func (s *ProjectService) ListAssets(ctx context.Context, projectID string) ([]*repository.Asset, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	assets, err := s.assets.List(ctx, projectID, repository.AssetTypeFile)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	return assets, nil
}

// ListChunks pages through a project's chunks in push order.
func (s *ProjectService) ListChunks(ctx context.Context, projectID string, pageSize int, pageToken string) (*Page[*repository.Chunk], error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	pageSize, offset, err := pagination(pageSize, pageToken)
	if err != nil {
		return nil, err
	}

	chunks, err := s.chunks.List(ctx, projectID, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}

	page := &Page[*repository.Chunk]{Items: chunks}
	if len(chunks) == pageSize {
		page.NextPageToken = strconv.Itoa(offset + len(chunks))
	}
	return page, nil
}

func pagination(pageSize int, pageToken string) (int, int, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("%w: invalid page token", ErrInvalidArgument)
		}
		offset = n
	}
	return pageSize, offset, nil
}
