package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	defaultGeminiModel          = "gemini-2.0-flash"
	defaultGeminiEmbeddingModel = "text-embedding-004"
)

// GeminiClient implements the LLM interface using the Gemini API.
type GeminiClient struct {
	client         *genai.Client
	model          string
	embeddingModel string
	dimension      int
}

// GeminiConfig holds configuration for GeminiClient.
type GeminiConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Dimension      int
}

// NewGeminiClient creates a Gemini backed LLM.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: GEMINI_API_KEY is not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}

	c := &GeminiClient{
		client:         client,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		dimension:      cfg.Dimension,
	}
	if c.model == "" {
		c.model = defaultGeminiModel
	}
	if c.embeddingModel == "" {
		c.embeddingModel = defaultGeminiEmbeddingModel
	}
	if c.dimension <= 0 {
		c.dimension, _ = NativeDimension(c.embeddingModel)
	}
	return c, nil
}

// Name returns the backend identifier.
func (c *GeminiClient) Name() string { return "gemini" }

// Dimension returns the dimensionality of the embedding vectors.
func (c *GeminiClient) Dimension() int { return c.dimension }

// Close releases the underlying client.
func (c *GeminiClient) Close() error { return c.client.Close() }

// Embed batches texts into one request, tagging them as retrieval documents or queries.
func (c *GeminiClient) Embed(ctx context.Context, texts []string, kind InputKind) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	em := c.client.EmbeddingModel(c.embeddingModel)
	em.TaskType = genai.TaskTypeRetrievalDocument
	if kind == Query {
		em.TaskType = genai.TaskTypeRetrievalQuery
	}

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w", err)
	}
	return embeddingValues(resp, len(texts))
}

func embeddingValues(resp *genai.BatchEmbedContentsResponse, want int) ([][]float32, error) {
	if resp == nil || len(resp.Embeddings) != want {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("gemini embeddings: expected %d vectors, got %d", want, got)
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("gemini embeddings: empty vector at index %d", i)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}

// Generate runs a single-turn generation.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(opts.Temperature)
	if opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(opts.MaxTokens))
	}
	if opts.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(opts.SystemPrompt)},
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	return candidateText(resp)
}

// candidateText joins the text parts of the first candidate. A response
// without text, such as a blocked prompt, is an error.
func candidateText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("gemini generate: empty response")
	}
	if len(resp.Candidates) == 0 {
		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockReasonUnspecified {
			return "", fmt.Errorf("gemini generate: prompt blocked: %v", fb.BlockReason)
		}
		return "", errors.New("gemini generate: no candidates returned")
	}

	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return "", errors.New("gemini generate: candidate has no content")
	}
	var result strings.Builder
	for _, part := range cand.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			result.WriteString(string(text))
		}
	}
	if result.Len() == 0 {
		return "", fmt.Errorf("gemini generate: no text in candidate (finish reason %v)", cand.FinishReason)
	}
	return result.String(), nil
}

var _ LLM = (*GeminiClient)(nil)
