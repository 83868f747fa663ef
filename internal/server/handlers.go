package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/knoguchi/minirag/internal/ingestion"
	"github.com/knoguchi/minirag/internal/prompt"
	"github.com/knoguchi/minirag/internal/provider"
	"github.com/knoguchi/minirag/internal/repository"
	"github.com/knoguchi/minirag/internal/service"
	"github.com/knoguchi/minirag/internal/vectorstore"
)

const maxBodyBytes = 1 << 20

// NLPService is the indexing and retrieval surface used by the HTTP API.
type NLPService interface {
	Push(ctx context.Context, projectID string, doReset bool) (*service.PushResult, error)
	Search(ctx context.Context, projectID, query string, topK int) ([]service.SearchHit, error)
	Generate(ctx context.Context, projectID, query, language string, topK int) (*service.Answer, error)
	IndexInfo(ctx context.Context, projectID string) (*vectorstore.CollectionInfo, error)
}

// DataService is the ingestion surface used by the HTTP API.
type DataService interface {
	RegisterAsset(ctx context.Context, projectID, name, assetType string) (*repository.Asset, error)
	Process(ctx context.Context, projectID string, req service.ProcessRequest) (*service.ProcessResult, error)
}

// ProjectService is the read-only project surface used by the HTTP API.
type ProjectService interface {
	ListProjects(ctx context.Context, pageSize int, pageToken string) (*service.Page[*repository.Project], error)
	ListAssets(ctx context.Context, projectID string) ([]*repository.Asset, error)
	ListChunks(ctx context.Context, projectID string, pageSize int, pageToken string) (*service.Page[*repository.Chunk], error)
}

type handlers struct {
	nlp             NLPService
	data            DataService
	projects        ProjectService
	logger          *slog.Logger
	defaultTopK     int
	defaultLanguage string
}

func (h *handlers) routes(r chi.Router) {
	r.Get("/projects", h.listProjects)

	r.Route("/data", func(r chi.Router) {
		r.Post("/assets/{project_id}", h.registerAsset)
		r.Get("/assets/{project_id}", h.listAssets)
		r.Post("/process/{project_id}", h.process)
		r.Get("/chunks/{project_id}", h.listChunks)
	})

	r.Route("/nlp/index", func(r chi.Router) {
		r.Post("/push/{project_id}", h.push)
		r.Get("/info/{project_id}", h.indexInfo)
		r.Post("/search/{project_id}", h.search)
		r.Post("/answer/{project_id}", h.answer)
	})
}

// ============================================================================
// Request / response types
// ============================================================================

type pushRequest struct {
	DoReset bool `json:"do_reset"`
}

type batchFailureJSON struct {
	Batch  int    `json:"batch"`
	Offset int    `json:"offset"`
	Size   int    `json:"size"`
	Error  string `json:"error"`
}

type pushResponse struct {
	Signal         string             `json:"signal"`
	TotalChunks    int                `json:"total_chunks"`
	InsertedChunks int                `json:"inserted_chunks"`
	FailedBatches  int                `json:"failed_batches"`
	Failures       []batchFailureJSON `json:"failures,omitempty"`
}

type searchRequest struct {
	Text  string `json:"text"`
	Limit *int   `json:"limit"`
}

type searchResultJSON struct {
	ChunkID   string            `json:"chunk_id"`
	ChunkText string            `json:"chunk_text"`
	Score     float32           `json:"score"`
	Order     int               `json:"order"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type answerRequest struct {
	Text     string `json:"text"`
	Limit    *int   `json:"limit"`
	Language string `json:"language"`
}

type answerResponse struct {
	Signal                string             `json:"signal"`
	Answer                string             `json:"answer"`
	FullPrompt            string             `json:"full_prompt"`
	ContextDocumentsCount int                `json:"context_documents_count"`
	Sources               []searchResultJSON `json:"sources"`
}

type processRequest struct {
	FileID      string `json:"file_id"`
	ChunkSize   int    `json:"chunk_size"`
	OverlapSize *int   `json:"overlap_size"`
	DoReset     bool   `json:"do_reset"`
}

type assetRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type assetJSON struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Size      int64     `json:"size"`
	PushedAt  time.Time `json:"pushed_at"`
}

type chunkJSON struct {
	ID       string            `json:"id"`
	AssetID  string            `json:"asset_id"`
	Text     string            `json:"chunk_text"`
	Order    int               `json:"chunk_order"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type projectJSON struct {
	ID        string    `json:"project_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ============================================================================
// NLP handlers
// ============================================================================

func (h *handlers) push(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.nlp.Push(r.Context(), chi.URLParam(r, "project_id"), req.DoReset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := pushResponse{
		Signal:         "push_success",
		TotalChunks:    result.TotalChunks,
		InsertedChunks: result.InsertedChunks,
		FailedBatches:  result.FailedBatches,
	}
	if result.FailedBatches > 0 {
		resp.Signal = "push_partial_failure"
		for _, f := range result.Failures {
			resp.Failures = append(resp.Failures, batchFailureJSON{
				Batch: f.Batch, Offset: f.Offset, Size: f.Size, Error: f.Err.Error(),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) indexInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.nlp.IndexInfo(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"signal": "index_info_success",
		"collection_info": map[string]any{
			"name":         info.Name,
			"dimension":    info.Dimension,
			"distance":     info.Distance,
			"vector_count": info.VectorCount,
			"status":       info.Status,
		},
	})
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !h.decode(w, r, &req) {
		return
	}

	hits, err := h.nlp.Search(r.Context(), chi.URLParam(r, "project_id"), req.Text, h.topK(req.Limit))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"signal":  "search_success",
		"results": toResultsJSON(hits),
	})
}

func (h *handlers) answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !h.decode(w, r, &req) {
		return
	}
	language := req.Language
	if language == "" {
		language = h.defaultLanguage
	}

	answer, err := h.nlp.Generate(r.Context(), chi.URLParam(r, "project_id"), req.Text, language, h.topK(req.Limit))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{
		Signal:                "answer_success",
		Answer:                answer.Text,
		FullPrompt:            answer.FullPrompt,
		ContextDocumentsCount: answer.ContextDocuments,
		Sources:               toResultsJSON(answer.Hits),
	})
}

func (h *handlers) topK(limit *int) int {
	if limit == nil {
		return h.defaultTopK
	}
	return *limit
}

func toResultsJSON(hits []service.SearchHit) []searchResultJSON {
	out := make([]searchResultJSON, len(hits))
	for i, hit := range hits {
		out[i] = searchResultJSON{
			ChunkID:   hit.ChunkID,
			ChunkText: hit.Text,
			Score:     hit.Score,
			Order:     hit.Order,
			Metadata:  hit.Metadata,
		}
	}
	return out
}

// ============================================================================
// Data handlers
// ============================================================================

func (h *handlers) registerAsset(w http.ResponseWriter, r *http.Request) {
	var req assetRequest
	if !h.decode(w, r, &req) {
		return
	}

	asset, err := h.data.RegisterAsset(r.Context(), chi.URLParam(r, "project_id"), req.Name, req.Type)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"signal": "asset_registered",
		"asset":  toAssetJSON(asset),
	})
}

func (h *handlers) listAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.projects.ListAssets(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]assetJSON, len(assets))
	for i, a := range assets {
		out[i] = toAssetJSON(a)
	}
	writeJSON(w, http.StatusOK, map[string]any{"signal": "assets_listed", "assets": out})
}

func (h *handlers) process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.data.Process(r.Context(), chi.URLParam(r, "project_id"), service.ProcessRequest{
		FileID:      req.FileID,
		ChunkSize:   req.ChunkSize,
		OverlapSize: req.OverlapSize,
		DoReset:     req.DoReset,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"signal":          "processing_success",
		"inserted_chunks": result.InsertedChunks,
		"processed_files": result.ProcessedFiles,
	})
}

func (h *handlers) listChunks(w http.ResponseWriter, r *http.Request) {
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	page, err := h.projects.ListChunks(r.Context(), chi.URLParam(r, "project_id"), pageSize, r.URL.Query().Get("page_token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]chunkJSON, len(page.Items))
	for i, c := range page.Items {
		out[i] = chunkJSON{ID: c.ID.String(), AssetID: c.AssetID.String(), Text: c.Content, Order: c.Order, Metadata: c.Metadata}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"signal":          "chunks_listed",
		"chunks":          out,
		"next_page_token": page.NextPageToken,
	})
}

func (h *handlers) listProjects(w http.ResponseWriter, r *http.Request) {
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	page, err := h.projects.ListProjects(r.Context(), pageSize, r.URL.Query().Get("page_token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]projectJSON, len(page.Items))
	for i, p := range page.Items {
		out[i] = projectJSON{ID: p.ID, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"signal":          "projects_listed",
		"projects":        out,
		"next_page_token": page.NextPageToken,
	})
}

func toAssetJSON(a *repository.Asset) assetJSON {
	return assetJSON{
		ID:        a.ID.String(),
		ProjectID: a.ProjectID,
		Name:      a.Name,
		Type:      a.Type,
		Size:      a.Size,
		PushedAt:  a.PushedAt,
	}
}

// ============================================================================
// Encoding and errors
// ============================================================================

// decode reads an optional JSON body into v. It writes a 400 and returns
// false when the body is malformed.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"signal":  "invalid_argument",
		"message": "invalid request body: " + err.Error(),
	})
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps a service error to an HTTP status and a machine-readable signal.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument), errors.Is(err, ingestion.ErrInvalidConfiguration):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, service.ErrProjectNotFound):
		return http.StatusNotFound, "project_not_found"
	case errors.Is(err, service.ErrProjectNotIndexed):
		return http.StatusNotFound, "project_not_indexed"
	case errors.Is(err, service.ErrAssetNotFound):
		return http.StatusNotFound, "asset_not_found"
	case errors.Is(err, service.ErrNoAssets):
		return http.StatusNotFound, "no_assets"
	case errors.Is(err, service.ErrAssetsUnreadable):
		return http.StatusUnprocessableEntity, "assets_unreadable"
	case errors.Is(err, service.ErrNoChunks):
		return http.StatusNotFound, "no_chunks"
	case errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, service.ErrDimensionMismatch):
		return http.StatusConflict, "dimension_mismatch"
	case errors.Is(err, service.ErrGenerationFailed):
		return http.StatusBadGateway, "generation_failed"
	case errors.Is(err, provider.ErrCallFailed):
		return http.StatusBadGateway, "provider_call_failed"
	case errors.Is(err, prompt.ErrTemplateNotFound), errors.Is(err, prompt.ErrMissingTemplateVariable):
		return http.StatusInternalServerError, "template_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, signal := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"signal", signal,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{
		"signal":  signal,
		"message": err.Error(),
	})
}
