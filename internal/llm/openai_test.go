package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/embeddings":
			var req struct {
				Input      []string `json:"input"`
				Dimensions int      `json:"dimensions"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data := make([]map[string]any, len(req.Input))
			// reversed on purpose: clients must honour the index field
			for i := range req.Input {
				j := len(req.Input) - 1 - i
				data[i] = map[string]any{
					"object":    "embedding",
					"index":     j,
					"embedding": []float32{float32(j), float32(req.Dimensions)},
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "text-embedding-3-small"})
		case "/v1/chat/completions":
			json.NewEncoder(w).Encode(map[string]any{
				"id":     "cmpl-1",
				"object": "chat.completion",
				"choices": []map[string]any{{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": "forty-two"},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIConfig{
		APIKey:         "test",
		BaseURL:        srv.URL + "/v1",
		EmbeddingModel: "text-embedding-3-small",
		Dimension:      256,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vectors, err := c.Embed(context.Background(), []string{"a", "b", "c"}, Document)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range vectors {
		if v[0] != float32(i) {
			t.Errorf("vector %d out of order: %v", i, v)
		}
		if v[1] != 256 {
			t.Errorf("expected requested dimensions 256 to be sent, got %v", v[1])
		}
	}

	answer, err := c.Generate(context.Background(), "what is it?", GenerateOptions{SystemPrompt: "sys"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "forty-two" {
		t.Errorf("expected forty-two, got %q", answer)
	}
}

func TestNewOpenAIClient_MissingKey(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{}); err == nil {
		t.Error("expected error without api key")
	}
}
