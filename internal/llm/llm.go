// Package llm provides the unified embedding and generation capability and its backends.
package llm

import (
	"context"
)

// InputKind tells a backend what an embedded text is used for.
type InputKind int

const (
	// Document marks texts stored in the index.
	Document InputKind = iota
	// Query marks texts used to search the index.
	Query
)

func (k InputKind) String() string {
	if k == Query {
		return "query"
	}
	return "document"
}

// GenerateOptions configures the LLM generation request.
type GenerateOptions struct {
	// SystemPrompt sets the system-level instructions for the model.
	SystemPrompt string

	// Temperature controls randomness in generation (0.0 = deterministic, 1.0 = creative).
	Temperature float32

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int
}

// LLM is a backend that can both embed text and generate answers.
type LLM interface {
	// Name returns the backend identifier, e.g. "ollama".
	Name() string

	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string, kind InputKind) ([][]float32, error)

	// Generate sends a prompt to the model and returns the complete response.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int
}
