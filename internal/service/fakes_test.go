package service

import (
	"context"
	"errors"
	"hash/fnv"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/minirag/internal/llm"
	"github.com/knoguchi/minirag/internal/repository"
)

// ----------------------------------------------------------------------------
// Repositories
// ----------------------------------------------------------------------------

type memProjects struct {
	mu       sync.Mutex
	projects map[string]*repository.Project
}

func newMemProjects(ids ...string) *memProjects {
	r := &memProjects{projects: make(map[string]*repository.Project)}
	for _, id := range ids {
		r.projects[id] = &repository.Project{ID: id, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	}
	return r
}

func (r *memProjects) GetOrCreate(_ context.Context, id string) (*repository.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.projects[id]; ok {
		return p, nil
	}
	p := &repository.Project{ID: id, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.projects[id] = p
	return p, nil
}

func (r *memProjects) GetByID(_ context.Context, id string) (*repository.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.projects[id]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

func (r *memProjects) List(_ context.Context, limit, offset int) ([]*repository.Project, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*repository.Project, 0, len(r.projects))
	for _, p := range r.projects {
		all = append(all, p)
	}
	slices.SortFunc(all, func(a, b *repository.Project) int { return strings.Compare(a.ID, b.ID) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	return all[offset:min(offset+limit, total)], total, nil
}

type memAssets struct {
	mu     sync.Mutex
	assets []*repository.Asset
}

func (r *memAssets) Create(_ context.Context, a *repository.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.assets {
		if existing.ProjectID == a.ProjectID && existing.Name == a.Name {
			return repository.ErrDuplicate
		}
	}
	r.assets = append(r.assets, a)
	return nil
}

func (r *memAssets) GetByName(_ context.Context, projectID, name string) (*repository.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.assets {
		if a.ProjectID == projectID && a.Name == name {
			return a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memAssets) List(_ context.Context, projectID, assetType string) ([]*repository.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repository.Asset
	for _, a := range r.assets {
		if a.ProjectID == projectID && a.Type == assetType {
			out = append(out, a)
		}
	}
	return out, nil
}

type memChunks struct {
	mu      sync.Mutex
	chunks  []*repository.Chunk
	listErr error
}

func (r *memChunks) InsertMany(_ context.Context, chunks []*repository.Chunk) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunks...)
	return len(chunks), nil
}

func (r *memChunks) List(_ context.Context, projectID string, limit, offset int) ([]*repository.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var all []*repository.Chunk
	for _, c := range r.chunks {
		if c.ProjectID == projectID {
			all = append(all, c)
		}
	}
	slices.SortFunc(all, func(a, b *repository.Chunk) int {
		if c := strings.Compare(a.AssetID.String(), b.AssetID.String()); c != 0 {
			return c
		}
		if a.Order != b.Order {
			return a.Order - b.Order
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	if offset >= len(all) {
		return nil, nil
	}
	return all[offset:min(offset+limit, len(all))], nil
}

func (r *memChunks) Count(_ context.Context, projectID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.chunks {
		if c.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

func (r *memChunks) DeleteByProject(_ context.Context, projectID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.chunks[:0]
	var deleted int64
	for _, c := range r.chunks {
		if c.ProjectID == projectID {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	r.chunks = kept
	return deleted, nil
}

// addChunks stores texts as one asset's chunks with orders 1..n.
func (r *memChunks) addChunks(projectID string, texts ...string) []*repository.Chunk {
	asset := uuid.New()
	out := make([]*repository.Chunk, len(texts))
	for i, text := range texts {
		out[i] = &repository.Chunk{
			ID:        uuid.New(),
			ProjectID: projectID,
			AssetID:   asset,
			Content:   text,
			Metadata:  map[string]string{"source": "test.txt"},
			Order:     i + 1,
		}
	}
	_, _ = r.InsertMany(context.Background(), out)
	return out
}

// ----------------------------------------------------------------------------
// LLM
// ----------------------------------------------------------------------------

var errProviderDown = errors.New("provider unavailable")

type fakeLLM struct {
	mu sync.Mutex

	dim       int
	outDim    int          // length of returned vectors when > 0
	failCalls map[int]bool // 1-based Embed call numbers that fail
	vectors   map[string][]float32

	answer string
	genErr error

	embedCalls int
	kinds      []llm.InputKind
	prompts    []string
	opts       []llm.GenerateOptions
}

func newFakeLLM(dim int) *fakeLLM {
	return &fakeLLM{dim: dim, answer: "fake answer", vectors: make(map[string][]float32)}
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Dimension() int { return f.dim }

func (f *fakeLLM) Embed(ctx context.Context, texts []string, kind llm.InputKind) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedCalls++
	f.kinds = append(f.kinds, kind)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.failCalls[f.embedCalls] {
		return nil, errProviderDown
	}

	n := f.dim
	if f.outDim > 0 {
		n = f.outDim
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := f.vectors[text]; ok {
			out[i] = append([]float32(nil), v...)
			continue
		}
		out[i] = hashVector(text, n)
	}
	return out, nil
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	if f.genErr != nil {
		return "", f.genErr
	}
	return f.answer, nil
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// hashVector derives a deterministic, non-zero vector from text.
func hashVector(text string, n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		h := fnv.New32a()
		h.Write([]byte{byte(i)})
		h.Write([]byte(text))
		v[i] = float32(h.Sum32()%1000)/1000 + 0.01
	}
	return v
}
