package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

type stubLLM struct {
	calls int
	err   error
}

func (s *stubLLM) Name() string   { return "stub" }
func (s *stubLLM) Dimension() int { return 2 }

func (s *stubLLM) Embed(_ context.Context, texts []string, _ InputKind) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (s *stubLLM) Generate(_ context.Context, prompt string, _ GenerateOptions) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return prompt, nil
}

func TestGuard_PassesThrough(t *testing.T) {
	inner := &stubLLM{}
	g := Guard(inner, GuardConfig{})

	vectors, err := g.Embed(context.Background(), []string{"a", "b"}, Query)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 {
		t.Errorf("expected 2 vectors, got %d", len(vectors))
	}

	out, err := g.Generate(context.Background(), "hello", GenerateOptions{})
	if err != nil || out != "hello" {
		t.Errorf("expected hello, got %q (%v)", out, err)
	}
	if g.Name() != "stub" || g.Dimension() != 2 {
		t.Errorf("expected wrapped name and dimension, got %s/%d", g.Name(), g.Dimension())
	}
}

func TestGuard_OpensAfterFailures(t *testing.T) {
	boom := errors.New("boom")
	inner := &stubLLM{err: boom}
	g := Guard(inner, GuardConfig{MaxFailures: 2, Timeout: time.Minute})

	for i := 0; i < 2; i++ {
		if _, err := g.Generate(context.Background(), "x", GenerateOptions{}); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected boom, got %v", i, err)
		}
	}

	_, err := g.Generate(context.Background(), "x", GenerateOptions{})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected open breaker, got %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("expected backend to be called twice, got %d", inner.calls)
	}
}

func TestGuard_CancellationDoesNotTrip(t *testing.T) {
	inner := &stubLLM{err: context.Canceled}
	g := Guard(inner, GuardConfig{MaxFailures: 1, Timeout: time.Minute})

	for i := 0; i < 3; i++ {
		if _, err := g.Embed(context.Background(), []string{"a"}, Document); !errors.Is(err, context.Canceled) {
			t.Fatalf("call %d: expected context.Canceled, got %v", i, err)
		}
	}
	if inner.calls != 3 {
		t.Errorf("expected every call to reach the backend, got %d", inner.calls)
	}
}

func TestGuard_RateLimiterHonoursContext(t *testing.T) {
	g := Guard(&stubLLM{}, GuardConfig{RequestsPerSecond: 0.001, Burst: 1})

	if _, err := g.Generate(context.Background(), "first", GenerateOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := g.Generate(ctx, "second", GenerateOptions{}); err == nil {
		t.Error("expected limiter to reject the second call")
	}
}
