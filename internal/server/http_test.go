package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/knoguchi/minirag/internal/auth"
	"github.com/knoguchi/minirag/internal/provider"
	"github.com/knoguchi/minirag/internal/repository"
	"github.com/knoguchi/minirag/internal/service"
	"github.com/knoguchi/minirag/internal/vectorstore"
)

type stubNLP struct {
	err error

	pushReset bool
	topK      int
	language  string
}

func (s *stubNLP) Push(_ context.Context, _ string, doReset bool) (*service.PushResult, error) {
	s.pushReset = doReset
	if s.err != nil {
		return nil, s.err
	}
	return &service.PushResult{
		TotalChunks:    150,
		InsertedChunks: 100,
		FailedBatches:  1,
		Failures:       []service.BatchFailure{{Batch: 2, Offset: 50, Size: 50, Err: errors.New("boom")}},
	}, nil
}

func (s *stubNLP) Search(_ context.Context, _, _ string, topK int) ([]service.SearchHit, error) {
	s.topK = topK
	if s.err != nil {
		return nil, s.err
	}
	return []service.SearchHit{
		{ChunkID: "c1", Text: "first", Score: 0.9, Order: 1},
		{ChunkID: "c2", Text: "second", Score: 0.5, Order: 2},
	}, nil
}

func (s *stubNLP) Generate(_ context.Context, _, _, language string, topK int) (*service.Answer, error) {
	s.topK = topK
	s.language = language
	if s.err != nil {
		return nil, s.err
	}
	return &service.Answer{Text: "42", ContextDocuments: 1, FullPrompt: "prompt", Hits: []service.SearchHit{{ChunkID: "c1"}}}, nil
}

func (s *stubNLP) IndexInfo(_ context.Context, projectID string) (*vectorstore.CollectionInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &vectorstore.CollectionInfo{Name: service.CollectionName(projectID), Dimension: 4, Distance: vectorstore.Cosine, VectorCount: 3, Status: "green"}, nil
}

type stubData struct {
	err error
	req service.ProcessRequest
}

func (s *stubData) RegisterAsset(_ context.Context, projectID, name, assetType string) (*repository.Asset, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &repository.Asset{ID: uuid.New(), ProjectID: projectID, Name: name, Type: assetType, Size: 10}, nil
}

func (s *stubData) Process(_ context.Context, _ string, req service.ProcessRequest) (*service.ProcessResult, error) {
	s.req = req
	if s.err != nil {
		return nil, s.err
	}
	return &service.ProcessResult{InsertedChunks: 3, ProcessedFiles: 1}, nil
}

type stubProjects struct{}

func (stubProjects) ListProjects(context.Context, int, string) (*service.Page[*repository.Project], error) {
	return &service.Page[*repository.Project]{Items: []*repository.Project{{ID: "p1"}}}, nil
}

func (stubProjects) ListAssets(context.Context, string) ([]*repository.Asset, error) {
	return nil, nil
}

func (stubProjects) ListChunks(context.Context, string, int, string) (*service.Page[*repository.Chunk], error) {
	return &service.Page[*repository.Chunk]{Items: []*repository.Chunk{{ID: uuid.New(), Order: 1}}, NextPageToken: "1"}, nil
}

func newTestServer(t *testing.T, nlp *stubNLP, data *stubData, key string) http.Handler {
	t.Helper()
	srv, err := NewHTTPServer(HTTPServerConfig{
		Logger:          nilLogger(),
		Auth:            auth.NewAPIKey(key),
		NLP:             nlp,
		Data:            data,
		Projects:        stubProjects{},
		DefaultTopK:     5,
		DefaultLanguage: "en",
		ReadinessChecks: map[string]func(context.Context) error{
			"ok": func(context.Context) error { return nil },
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %s %s response %q: %v", method, path, rec.Body.String(), err)
	}
	return rec, out
}

func TestPushHandler(t *testing.T) {
	nlp := &stubNLP{}
	h := newTestServer(t, nlp, &stubData{}, "")

	rec, body := do(t, h, http.MethodPost, "/api/v1/nlp/index/push/p1", `{"do_reset": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !nlp.pushReset {
		t.Error("expected do_reset to reach the service")
	}
	if body["total_chunks"] != float64(150) || body["inserted_chunks"] != float64(100) || body["failed_batches"] != float64(1) {
		t.Errorf("unexpected push body %v", body)
	}
	if body["signal"] != "push_partial_failure" {
		t.Errorf("expected partial failure signal, got %v", body["signal"])
	}

	// An empty body means defaults.
	rec, _ = do(t, h, http.MethodPost, "/api/v1/nlp/index/push/p1", "")
	if rec.Code != http.StatusOK || nlp.pushReset {
		t.Errorf("expected 200 without reset, got %d (reset=%v)", rec.Code, nlp.pushReset)
	}
}

func TestSearchHandler_Limit(t *testing.T) {
	tests := []struct {
		body string
		want int
	}{
		{`{"text": "q"}`, 5},
		{`{"text": "q", "limit": 2}`, 2},
		{`{"text": "q", "limit": 0}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			nlp := &stubNLP{}
			h := newTestServer(t, nlp, &stubData{}, "")
			rec, body := do(t, h, http.MethodPost, "/api/v1/nlp/index/search/p1", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if nlp.topK != tt.want {
				t.Errorf("expected top_k %d, got %d", tt.want, nlp.topK)
			}
			results, _ := body["results"].([]any)
			if len(results) != 2 {
				t.Errorf("expected 2 results, got %v", body["results"])
			}
		})
	}
}

func TestAnswerHandler(t *testing.T) {
	nlp := &stubNLP{}
	h := newTestServer(t, nlp, &stubData{}, "")

	rec, body := do(t, h, http.MethodPost, "/api/v1/nlp/index/answer/p1", `{"text": "q"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["answer"] != "42" || body["context_documents_count"] != float64(1) {
		t.Errorf("unexpected answer body %v", body)
	}
	if nlp.language != "en" {
		t.Errorf("expected default language en, got %q", nlp.language)
	}
}

func TestIndexInfoHandler(t *testing.T) {
	h := newTestServer(t, &stubNLP{}, &stubData{}, "")
	rec, body := do(t, h, http.MethodGet, "/api/v1/nlp/index/info/p1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	info, _ := body["collection_info"].(map[string]any)
	if info["name"] != "collection_p1" || info["vector_count"] != float64(3) {
		t.Errorf("unexpected collection info %v", body["collection_info"])
	}
}

func TestDataHandlers(t *testing.T) {
	data := &stubData{}
	h := newTestServer(t, &stubNLP{}, data, "")

	rec, body := do(t, h, http.MethodPost, "/api/v1/data/process/p1", `{"file_id": "a.txt", "chunk_size": 200, "overlap_size": 0, "do_reset": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["inserted_chunks"] != float64(3) {
		t.Errorf("unexpected process body %v", body)
	}
	if data.req.FileID != "a.txt" || data.req.ChunkSize != 200 || data.req.OverlapSize == nil || *data.req.OverlapSize != 0 || !data.req.DoReset {
		t.Errorf("unexpected process request %+v", data.req)
	}

	rec, _ = do(t, h, http.MethodPost, "/api/v1/data/assets/p1", `{"name": "a.txt"}`)
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	rec, body = do(t, h, http.MethodGet, "/api/v1/data/chunks/p1?page_size=1", "")
	if rec.Code != http.StatusOK || body["next_page_token"] != "1" {
		t.Errorf("unexpected chunks response %d %v", rec.Code, body)
	}

	rec, _ = do(t, h, http.MethodGet, "/api/v1/projects", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		signal string
	}{
		{fmt.Errorf("%w: top_k", service.ErrInvalidArgument), http.StatusBadRequest, "invalid_argument"},
		{fmt.Errorf("%w: p1", service.ErrProjectNotFound), http.StatusNotFound, "project_not_found"},
		{fmt.Errorf("%w: p1", service.ErrProjectNotIndexed), http.StatusNotFound, "project_not_indexed"},
		{service.ErrNoChunks, http.StatusNotFound, "no_chunks"},
		{service.ErrNoAssets, http.StatusNotFound, "no_assets"},
		{fmt.Errorf("%w: none of 1 assets could be read", service.ErrAssetsUnreadable), http.StatusUnprocessableEntity, "assets_unreadable"},
		{service.ErrDimensionMismatch, http.StatusConflict, "dimension_mismatch"},
		{fmt.Errorf("%w: %w", service.ErrGenerationFailed, provider.Wrap("fake", "generate", errors.New("down"))), http.StatusBadGateway, "generation_failed"},
		{provider.Wrap("fake", "embed", errors.New("down")), http.StatusBadGateway, "provider_call_failed"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.signal, func(t *testing.T) {
			h := newTestServer(t, &stubNLP{err: tt.err}, &stubData{}, "")
			rec, body := do(t, h, http.MethodPost, "/api/v1/nlp/index/search/p1", `{"text": "q"}`)
			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rec.Code)
			}
			if body["signal"] != tt.signal {
				t.Errorf("expected signal %s, got %v", tt.signal, body["signal"])
			}
		})
	}
}

func TestMalformedBody(t *testing.T) {
	h := newTestServer(t, &stubNLP{}, &stubData{}, "")
	rec, body := do(t, h, http.MethodPost, "/api/v1/nlp/index/search/p1", `{"text": `)
	if rec.Code != http.StatusBadRequest || body["signal"] != "invalid_argument" {
		t.Errorf("expected 400 invalid_argument, got %d %v", rec.Code, body)
	}
}

func TestAPIKeyAndHealth(t *testing.T) {
	h := newTestServer(t, &stubNLP{}, &stubData{}, "secret")

	rec, _ := do(t, h, http.MethodGet, "/api/v1/nlp/index/info/p1", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	rec, body := do(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("expected healthy, got %d %v", rec.Code, body)
	}

	rec, body = do(t, h, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK || body["status"] != "ready" {
		t.Errorf("expected ready, got %d %v", rec.Code, body)
	}
}

func TestReadinessFailure(t *testing.T) {
	srv, err := NewHTTPServer(HTTPServerConfig{
		Logger:   nilLogger(),
		NLP:      &stubNLP{},
		Data:     &stubData{},
		Projects: stubProjects{},
		ReadinessChecks: map[string]func(context.Context) error{
			"chunk_store": func(context.Context) error { return errors.New("connection refused") },
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	rec, body := do(t, srv.Handler(), http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	checks, _ := body["checks"].(map[string]any)
	if checks["chunk_store"] != "connection refused" {
		t.Errorf("expected failed check in body, got %v", body)
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"wildcard echoes origin", []string{"*"}, "https://app.example", "https://app.example"},
		{"listed origin", []string{"https://app.example"}, "https://app.example", "https://app.example"},
		{"unlisted origin", []string{"https://app.example"}, "https://evil.example", ""},
		{"empty list allows none", nil, "https://app.example", ""},
		{"no origin header", []string{"*"}, "", ""},
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			corsMiddleware(tt.allowed)(next).ServeHTTP(rec, req)
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("expected allow origin %q, got %q", tt.want, got)
			}
		})
	}
}
