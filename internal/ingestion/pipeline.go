package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/knoguchi/minirag/internal/repository"
	"github.com/ledongthuc/pdf"
)

// PipelineConfig holds configuration for the ingestion pipeline
type PipelineConfig struct {
	ChunkSize int
	Overlap   int

	// Additional metadata to include in all chunks
	DefaultMetadata map[string]string
}

// PipelineResult holds the result of processing one asset
type PipelineResult struct {
	Chunks []*repository.Chunk
	Stats  PipelineStats
}

// PipelineStats contains statistics about the pipeline execution
type PipelineStats struct {
	// OriginalLength is the character length of the extracted text
	OriginalLength int

	// ChunkCount is the number of chunks generated
	ChunkCount int

	// AvgChunkLength is the average character length per chunk
	AvgChunkLength int

	// ProcessingTime is how long the chunking took
	ProcessingTime time.Duration
}

// Pipeline turns asset text into chunk records.
type Pipeline struct {
	config   PipelineConfig
	splitter *Splitter
}

// NewPipeline creates a new ingestion pipeline
func NewPipeline(config PipelineConfig) (*Pipeline, error) {
	splitter, err := NewSplitter(config.ChunkSize, config.Overlap)
	if err != nil {
		return nil, err
	}
	return &Pipeline{config: config, splitter: splitter}, nil
}

// Process splits text extracted from asset into chunk records owned by the asset's project.
func (p *Pipeline) Process(ctx context.Context, asset *repository.Asset, text string) (*PipelineResult, error) {
	startTime := time.Now()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	pieces := p.splitter.Split(text)
	now := time.Now().UTC()

	chunks := make([]*repository.Chunk, 0, len(pieces))
	totalLen := 0
	for _, piece := range pieces {
		metadata := copyMetadata(p.config.DefaultMetadata)
		for k, v := range piece.Metadata {
			metadata[k] = v
		}
		metadata["source"] = asset.Name
		metadata["asset_id"] = asset.ID.String()

		chunks = append(chunks, &repository.Chunk{
			ID:        uuid.New(),
			ProjectID: asset.ProjectID,
			AssetID:   asset.ID,
			Content:   piece.Content,
			Metadata:  metadata,
			Order:     piece.Order,
			CreatedAt: now,
		})
		totalLen += utf8.RuneCountInString(piece.Content)
	}

	stats := PipelineStats{
		OriginalLength: utf8.RuneCountInString(text),
		ChunkCount:     len(chunks),
		ProcessingTime: time.Since(startTime),
	}
	if len(chunks) > 0 {
		stats.AvgChunkLength = totalLen / len(chunks)
	}

	return &PipelineResult{Chunks: chunks, Stats: stats}, nil
}

// ============================================================================
// Text extraction
// ============================================================================

// LoadFile extracts plain text from a stored asset file.
// Text files are read as UTF-8; PDF pages are concatenated.
func LoadFile(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", "":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%s is not valid UTF-8", path)
		}
		return string(data), nil
	case ".pdf":
		return loadPDF(path)
	default:
		return "", fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

func loadPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	var text strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("reading page %d of %s: %w", i, path, err)
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)
	}
	return text.String(), nil
}
