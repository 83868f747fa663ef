package llm

// ModelConfig holds what is known about an embedding model.
type ModelConfig struct {
	Dimension     int // Embedding dimension
	ContextLength int // Max tokens the model can process
}

// KnownModels maps embedding model names to their configurations.
var KnownModels = map[string]ModelConfig{
	// ollama
	"nomic-embed-text":       {Dimension: 768, ContextLength: 8192},
	"mxbai-embed-large":      {Dimension: 1024, ContextLength: 512},
	"all-minilm":             {Dimension: 384, ContextLength: 256},
	"snowflake-arctic-embed": {Dimension: 1024, ContextLength: 8192},

	// openai
	"text-embedding-3-small": {Dimension: 1536, ContextLength: 8191},
	"text-embedding-3-large": {Dimension: 3072, ContextLength: 8191},
	"text-embedding-ada-002": {Dimension: 1536, ContextLength: 8191},

	// gemini
	"text-embedding-004": {Dimension: 768, ContextLength: 2048},
	"embedding-001":      {Dimension: 768, ContextLength: 2048},
}

// NativeDimension returns the output size of a known model.
func NativeDimension(model string) (int, bool) {
	cfg, ok := KnownModels[model]
	return cfg.Dimension, ok
}
