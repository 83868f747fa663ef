// Package service implements the project-scoped ingestion and retrieval flows.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/knoguchi/minirag/internal/config"
	"github.com/knoguchi/minirag/internal/llm"
	"github.com/knoguchi/minirag/internal/prompt"
	"github.com/knoguchi/minirag/internal/provider"
	"github.com/knoguchi/minirag/internal/repository"
	"github.com/knoguchi/minirag/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/knoguchi/minirag/internal/service"

// CollectionName returns the vector collection that holds a project's chunks.
func CollectionName(projectID string) string {
	return "collection_" + strings.TrimSpace(projectID)
}

// NLPConfig holds the pipeline settings taken from process configuration.
type NLPConfig struct {
	Distance           vectorstore.Distance
	PushBatchSize      int
	InputMaxCharacters int
	MaxTokens          int
	Temperature        float32
	DefaultLanguage    string
}

// NLPConfigFrom extracts pipeline settings from cfg.
func NLPConfigFrom(cfg *config.Config) (NLPConfig, error) {
	distance, err := vectorstore.ParseDistance(cfg.VectorDBDistance)
	if err != nil {
		return NLPConfig{}, err
	}
	return NLPConfig{
		Distance:           distance,
		PushBatchSize:      cfg.PushBatchSize,
		InputMaxCharacters: cfg.InputMaxCharacters,
		MaxTokens:          cfg.GenerationMaxTokens,
		Temperature:        cfg.GenerationTemperature,
		DefaultLanguage:    cfg.DefaultLang,
	}, nil
}

// PushResult reports how a push went. Failed batches were skipped; the
// remaining batches were still indexed.
type PushResult struct {
	TotalChunks    int
	InsertedChunks int
	FailedBatches  int
	Failures       []BatchFailure
}

// BatchFailure identifies a skipped batch so that a caller can retry it.
type BatchFailure struct {
	Batch  int // 1-based
	Offset int
	Size   int
	Err    error
}

// SearchHit is one ranked chunk returned by Search.
type SearchHit struct {
	ChunkID  string
	Text     string
	Score    float32
	Order    int
	Metadata map[string]string
}

// Answer is the result of Generate.
type Answer struct {
	Text             string
	ContextDocuments int
	FullPrompt       string
	Hits             []SearchHit
}

// NLPService indexes project chunks and answers queries against them.
type NLPService struct {
	projects   repository.ProjectRepository
	chunks     repository.ChunkRepository
	embedding  llm.LLM
	generation llm.LLM
	vectors    vectorstore.VectorStore
	templates  *prompt.Engine
	cfg        NLPConfig
	locks      *projectLocks
	tracer     trace.Tracer
}

// NewNLPService creates a new NLPService. embedding and generation may be the same backend.
func NewNLPService(
	projects repository.ProjectRepository,
	chunks repository.ChunkRepository,
	embedding llm.LLM,
	generation llm.LLM,
	vectors vectorstore.VectorStore,
	templates *prompt.Engine,
	cfg NLPConfig,
) *NLPService {
	if cfg.PushBatchSize <= 0 {
		cfg.PushBatchSize = 50
	}
	if cfg.PushBatchSize > config.MaxPushBatchSize {
		cfg.PushBatchSize = config.MaxPushBatchSize
	}
	if cfg.Distance == "" {
		cfg.Distance = vectorstore.Cosine
	}
	return &NLPService{
		projects:   projects,
		chunks:     chunks,
		embedding:  embedding,
		generation: generation,
		vectors:    vectors,
		templates:  templates,
		cfg:        cfg,
		locks:      newProjectLocks(),
		tracer:     otel.Tracer(tracerName),
	}
}

// ============================================================================
// Push
// ============================================================================

// Push embeds every chunk of a project and upserts the vectors into the
// project's collection. With doReset the collection is dropped and rebuilt;
// searches for the project wait until the rebuild completes.
func (s *NLPService) Push(ctx context.Context, projectID string, doReset bool) (result *PushResult, err error) {
	ctx, span := s.startSpan(ctx, "nlp.push", projectID, attribute.Bool("do_reset", doReset))
	defer func() { endSpan(span, err) }()

	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}

	total, err := s.chunks.Count(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoChunks, projectID)
	}

	name := CollectionName(projectID)
	dim := s.embedding.Dimension()
	lock := s.locks.get(projectID)

	if doReset {
		lock.Lock()
		defer lock.Unlock()
		if err := s.resetCollection(ctx, name, dim); err != nil {
			return nil, err
		}
	} else {
		lock.RLock()
		exists, err := s.vectors.CollectionExists(ctx, name)
		if err != nil {
			lock.RUnlock()
			return nil, provider.Wrap(s.vectors.Name(), "collection_exists", err)
		}
		if exists {
			defer lock.RUnlock()
			if err := s.checkCollectionDimension(ctx, name, dim); err != nil {
				return nil, err
			}
		} else {
			lock.RUnlock()
			lock.Lock()
			defer lock.Unlock()
			if err := s.createIfMissing(ctx, name, dim); err != nil {
				return nil, err
			}
		}
	}

	result, err = s.pushBatches(ctx, projectID, name, dim)
	if result != nil {
		span.SetAttributes(
			attribute.Int("total_chunks", result.TotalChunks),
			attribute.Int("inserted_chunks", result.InsertedChunks),
			attribute.Int("failed_batches", result.FailedBatches),
		)
	}
	return result, err
}

func (s *NLPService) pushBatches(ctx context.Context, projectID, name string, dim int) (*PushResult, error) {
	started := time.Now()
	result := &PushResult{}
	size := s.cfg.PushBatchSize

	for batch, offset := 1, 0; ; batch, offset = batch+1, offset+size {
		page, err := s.chunks.List(ctx, projectID, size, offset)
		if err != nil {
			return result, fmt.Errorf("loading chunks at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}
		result.TotalChunks += len(page)

		records, err := s.embedBatch(ctx, page, dim)
		if errors.Is(err, ErrDimensionMismatch) {
			return result, err
		}
		if err == nil {
			if upsertErr := s.vectors.Upsert(ctx, name, records); upsertErr != nil {
				err = provider.Wrap(s.vectors.Name(), "upsert", upsertErr)
			}
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			slog.Warn("push batch failed",
				"project_id", projectID, "batch", batch, "offset", offset, "size", len(page), "error", err)
			result.FailedBatches++
			result.Failures = append(result.Failures, BatchFailure{Batch: batch, Offset: offset, Size: len(page), Err: err})
		} else {
			result.InsertedChunks += len(page)
		}

		if len(page) < size {
			break
		}
	}

	slog.Info("push completed",
		"project_id", projectID,
		"collection", name,
		"total_chunks", result.TotalChunks,
		"inserted_chunks", result.InsertedChunks,
		"failed_batches", result.FailedBatches,
		"duration", time.Since(started))
	return result, nil
}

// embedBatch turns one page of chunks into vector records.
func (s *NLPService) embedBatch(ctx context.Context, page []*repository.Chunk, dim int) ([]vectorstore.Record, error) {
	texts := make([]string, len(page))
	for i, c := range page {
		texts[i] = c.Content
	}

	vectors, err := s.embedding.Embed(ctx, texts, llm.Document)
	if err != nil {
		return nil, provider.Wrap(s.embedding.Name(), "embed", err)
	}
	if len(vectors) != len(page) {
		return nil, provider.Wrap(s.embedding.Name(), "embed",
			fmt.Errorf("got %d vectors for %d texts", len(vectors), len(page)))
	}

	records := make([]vectorstore.Record, len(page))
	for i, c := range page {
		if len(vectors[i]) != dim {
			return nil, fmt.Errorf("%w: chunk %s has %d dimensions, collection expects %d",
				ErrDimensionMismatch, c.ID, len(vectors[i]), dim)
		}
		records[i] = vectorstore.Record{
			ID:        c.ID.String(),
			ProjectID: c.ProjectID,
			Text:      c.Content,
			Order:     c.Order,
			Metadata:  c.Metadata,
			Vector:    vectors[i],
		}
	}
	return records, nil
}

// resetCollection drops and recreates a collection. Caller holds the write lock.
func (s *NLPService) resetCollection(ctx context.Context, name string, dim int) error {
	exists, err := s.vectors.CollectionExists(ctx, name)
	if err != nil {
		return provider.Wrap(s.vectors.Name(), "collection_exists", err)
	}
	if exists {
		if err := s.vectors.DeleteCollection(ctx, name); err != nil {
			return provider.Wrap(s.vectors.Name(), "delete_collection", err)
		}
		slog.Info("collection dropped", "collection", name)
	}
	if err := s.vectors.CreateCollection(ctx, name, dim, s.cfg.Distance); err != nil {
		return provider.Wrap(s.vectors.Name(), "create_collection", err)
	}
	slog.Info("collection created", "collection", name, "dimension", dim, "distance", s.cfg.Distance)
	return nil
}

// createIfMissing creates a collection unless another push got there first. Caller holds the write lock.
func (s *NLPService) createIfMissing(ctx context.Context, name string, dim int) error {
	exists, err := s.vectors.CollectionExists(ctx, name)
	if err != nil {
		return provider.Wrap(s.vectors.Name(), "collection_exists", err)
	}
	if exists {
		return s.checkCollectionDimension(ctx, name, dim)
	}
	if err := s.vectors.CreateCollection(ctx, name, dim, s.cfg.Distance); err != nil {
		return provider.Wrap(s.vectors.Name(), "create_collection", err)
	}
	slog.Info("collection created", "collection", name, "dimension", dim, "distance", s.cfg.Distance)
	return nil
}

// checkCollectionDimension rejects incremental pushes and searches against a
// collection built for another embedding size.
func (s *NLPService) checkCollectionDimension(ctx context.Context, name string, dim int) error {
	info, err := s.vectors.CollectionInfo(ctx, name)
	if err != nil {
		return provider.Wrap(s.vectors.Name(), "collection_info", err)
	}
	if info.Dimension > 0 && info.Dimension != dim {
		return fmt.Errorf("%w: collection %s has %d dimensions, embedding backend produces %d; push with reset",
			ErrDimensionMismatch, name, info.Dimension, dim)
	}
	return nil
}

// ============================================================================
// Search
// ============================================================================

// Search returns up to topK chunks of the project most similar to query,
// highest score first. Equal scores keep chunk order.
func (s *NLPService) Search(ctx context.Context, projectID, query string, topK int) (hits []SearchHit, err error) {
	ctx, span := s.startSpan(ctx, "nlp.search", projectID, attribute.Int("top_k", topK))
	defer func() { endSpan(span, err) }()

	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidArgument, topK)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query text is required", ErrInvalidArgument)
	}
	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}

	lock := s.locks.get(projectID)
	lock.RLock()
	defer lock.RUnlock()

	name := CollectionName(projectID)
	exists, err := s.vectors.CollectionExists(ctx, name)
	if err != nil {
		return nil, provider.Wrap(s.vectors.Name(), "collection_exists", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotIndexed, projectID)
	}
	if err := s.checkCollectionDimension(ctx, name, s.embedding.Dimension()); err != nil {
		if errors.Is(err, vectorstore.ErrCollectionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotIndexed, projectID)
		}
		return nil, err
	}

	vectors, err := s.embedding.Embed(ctx, []string{query}, llm.Query)
	if err != nil {
		return nil, provider.Wrap(s.embedding.Name(), "embed", err)
	}
	if len(vectors) != 1 {
		return nil, provider.Wrap(s.embedding.Name(), "embed", fmt.Errorf("got %d vectors for 1 text", len(vectors)))
	}
	if dim := s.embedding.Dimension(); len(vectors[0]) != dim {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, expected %d", ErrDimensionMismatch, len(vectors[0]), dim)
	}

	results, err := s.vectors.Search(ctx, name, vectors[0], topK)
	if err != nil {
		if errors.Is(err, vectorstore.ErrCollectionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotIndexed, projectID)
		}
		return nil, provider.Wrap(s.vectors.Name(), "search", err)
	}

	hits = make([]SearchHit, len(results))
	for i, r := range results {
		hits[i] = SearchHit{ChunkID: r.ID, Text: r.Text, Score: r.Score, Order: r.Order, Metadata: r.Metadata}
	}
	slices.SortStableFunc(hits, compareHits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	span.SetAttributes(attribute.Int("results", len(hits)))
	return hits, nil
}

func compareHits(a, b SearchHit) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	case a.Order != b.Order:
		return a.Order - b.Order
	default:
		return strings.Compare(a.ChunkID, b.ChunkID)
	}
}

// ============================================================================
// Generate
// ============================================================================

// Generate answers query from the project's most relevant chunks. A project
// without matching chunks still gets an answer rendered with an empty context.
func (s *NLPService) Generate(ctx context.Context, projectID, query, language string, topK int) (answer *Answer, err error) {
	ctx, span := s.startSpan(ctx, "nlp.generate", projectID, attribute.String("language", language))
	defer func() { endSpan(span, err) }()

	if language == "" {
		language = s.cfg.DefaultLanguage
	}

	hits, err := s.Search(ctx, projectID, query, topK)
	if err != nil {
		return nil, err
	}

	contextText, used, err := s.buildContext(language, hits)
	if err != nil {
		return nil, err
	}

	systemPrompt, err := s.templates.Render(language, prompt.System, nil)
	if err != nil {
		return nil, err
	}
	ragPrompt, err := s.templates.Render(language, prompt.RAG, map[string]any{
		"query":   query,
		"context": contextText,
	})
	if err != nil {
		return nil, err
	}

	text, err := s.generation.Generate(ctx, ragPrompt, llm.GenerateOptions{
		SystemPrompt: systemPrompt,
		Temperature:  s.cfg.Temperature,
		MaxTokens:    s.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, provider.Wrap(s.generation.Name(), "generate", err))
	}

	span.SetAttributes(attribute.Int("context_documents", used))
	return &Answer{
		Text:             text,
		ContextDocuments: used,
		FullPrompt:       systemPrompt + "\n\n" + ragPrompt,
		Hits:             hits[:used],
	}, nil
}

// buildContext renders hits as documents until the character budget is
// spent. Lower-ranked hits are dropped first; a top hit that alone exceeds
// the budget is cut to fit.
func (s *NLPService) buildContext(language string, hits []SearchHit) (string, int, error) {
	const sep = "\n\n"
	budget := s.cfg.InputMaxCharacters

	var b strings.Builder
	used, spent := 0, 0
	for i, h := range hits {
		doc, err := s.templates.Render(language, prompt.Document, map[string]any{
			"doc_num":    i + 1,
			"chunk_text": h.Text,
		})
		if err != nil {
			return "", 0, err
		}

		cost := utf8.RuneCountInString(doc)
		if used > 0 {
			cost += utf8.RuneCountInString(sep)
		}
		if budget > 0 && spent+cost > budget {
			if used == 0 {
				b.WriteString(string([]rune(doc)[:budget]))
				used = 1
			}
			break
		}
		if used > 0 {
			b.WriteString(sep)
		}
		b.WriteString(doc)
		spent += cost
		used++
	}
	return b.String(), used, nil
}

// ============================================================================
// Index info
// ============================================================================

// IndexInfo describes the project's vector collection.
func (s *NLPService) IndexInfo(ctx context.Context, projectID string) (info *vectorstore.CollectionInfo, err error) {
	ctx, span := s.startSpan(ctx, "nlp.index_info", projectID)
	defer func() { endSpan(span, err) }()

	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}

	lock := s.locks.get(projectID)
	lock.RLock()
	defer lock.RUnlock()

	name := CollectionName(projectID)
	info, err = s.vectors.CollectionInfo(ctx, name)
	if err != nil {
		if errors.Is(err, vectorstore.ErrCollectionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotIndexed, projectID)
		}
		return nil, provider.Wrap(s.vectors.Name(), "collection_info", err)
	}
	return info, nil
}

// ============================================================================
// Helpers
// ============================================================================

func (s *NLPService) requireProject(ctx context.Context, projectID string) error {
	if strings.TrimSpace(projectID) == "" {
		return fmt.Errorf("%w: project_id is required", ErrInvalidArgument)
	}
	if _, err := s.projects.GetByID(ctx, projectID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
		}
		return fmt.Errorf("getting project: %w", err)
	}
	return nil
}

func (s *NLPService) startSpan(ctx context.Context, name, projectID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("project_id", projectID))
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
