package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/knoguchi/minirag/internal/config"
	"github.com/knoguchi/minirag/internal/llm"
	"github.com/knoguchi/minirag/internal/vectorstore"
)

// Capability family names.
const (
	FamilyLLM         = "llm"
	FamilyVectorStore = "vectorstore"
)

const initTimeout = 15 * time.Second

// NewLLMRegistry returns a registry with the built-in LLM backends: ollama, openai, gemini.
// Every backend is wrapped in llm.Guard.
func NewLLMRegistry() *Registry[llm.LLM] {
	r := NewRegistry[llm.LLM](FamilyLLM)

	r.Register("ollama", func(cfg *config.Config) (llm.LLM, error) {
		c := llm.NewOllamaClient(
			llm.WithBaseURL(cfg.OllamaURL),
			llm.WithModel(cfg.GenerationModelID),
			llm.WithEmbeddingModel(cfg.EmbeddingModelID, cfg.EmbeddingSize),
		)
		return guard(c, cfg), nil
	})

	r.Register("openai", func(cfg *config.Config) (llm.LLM, error) {
		c, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIAPIURL,
			Model:          cfg.GenerationModelID,
			EmbeddingModel: cfg.EmbeddingModelID,
			Dimension:      cfg.EmbeddingSize,
		})
		if err != nil {
			return nil, err
		}
		return guard(c, cfg), nil
	})

	r.Register("gemini", func(cfg *config.Config) (llm.LLM, error) {
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		c, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:         cfg.GeminiAPIKey,
			Model:          cfg.GenerationModelID,
			EmbeddingModel: cfg.EmbeddingModelID,
			Dimension:      cfg.EmbeddingSize,
		})
		if err != nil {
			return nil, err
		}
		return guard(c, cfg), nil
	})

	return r
}

func guard(c llm.LLM, cfg *config.Config) llm.LLM {
	if native, ok := llm.NativeDimension(cfg.EmbeddingModelID); ok && native != cfg.EmbeddingSize {
		slog.Warn("configured embedding size differs from the model's native size",
			"backend", c.Name(), "model", cfg.EmbeddingModelID, "configured", cfg.EmbeddingSize, "native", native)
	}
	return llm.Guard(c, llm.GuardConfig{
		RequestsPerSecond: cfg.LLMRequestsPerSecond,
		MaxFailures:       cfg.LLMBreakerMaxFailures,
		Timeout:           cfg.LLMBreakerTimeout,
	})
}

// NewVectorStoreRegistry returns a registry with the built-in vector backends: qdrant, sqlite, memory.
func NewVectorStoreRegistry() *Registry[vectorstore.VectorStore] {
	r := NewRegistry[vectorstore.VectorStore](FamilyVectorStore)

	r.Register("qdrant", func(cfg *config.Config) (vectorstore.VectorStore, error) {
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		s, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL, cfg.QdrantAPIKey)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	r.Register("sqlite", func(cfg *config.Config) (vectorstore.VectorStore, error) {
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		s, err := vectorstore.NewSQLiteStore(ctx, cfg.VectorDBPath, slog.Default())
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	r.Register("memory", func(*config.Config) (vectorstore.VectorStore, error) {
		return vectorstore.NewMemoryStore(), nil
	})

	return r
}
