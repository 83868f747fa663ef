package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GuardConfig configures rate limiting and circuit breaking around a backend.
type GuardConfig struct {
	// RequestsPerSecond caps outgoing calls; 0 disables the limiter.
	RequestsPerSecond float64
	Burst             int

	// MaxFailures consecutive failures open the breaker.
	MaxFailures uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
}

// GuardedLLM wraps an LLM with a token-bucket limiter and a circuit breaker.
// It never retries; a rejected call fails immediately.
type GuardedLLM struct {
	inner   LLM
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Guard decorates inner with cfg's limits.
func Guard(inner LLM, cfg GuardConfig) *GuardedLLM {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	g := &GuardedLLM{inner: inner}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.RequestsPerSecond))
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// the caller gave up; the backend did not fail
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("llm circuit breaker state change", "backend", name, "from", from.String(), "to", to.String())
		},
	})
	return g
}

// Name returns the wrapped backend's identifier.
func (g *GuardedLLM) Name() string { return g.inner.Name() }

// Dimension returns the wrapped backend's embedding dimension.
func (g *GuardedLLM) Dimension() int { return g.inner.Dimension() }

// Embed forwards to the wrapped backend under the guard.
func (g *GuardedLLM) Embed(ctx context.Context, texts []string, kind InputKind) ([][]float32, error) {
	result, err := g.call(ctx, func() (interface{}, error) {
		return g.inner.Embed(ctx, texts, kind)
	})
	if err != nil {
		return nil, err
	}
	return result.([][]float32), nil
}

// Generate forwards to the wrapped backend under the guard.
func (g *GuardedLLM) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	result, err := g.call(ctx, func() (interface{}, error) {
		return g.inner.Generate(ctx, prompt, opts)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Close closes the wrapped backend if it holds resources.
func (g *GuardedLLM) Close() error {
	if c, ok := g.inner.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (g *GuardedLLM) call(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	result, err := g.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s unavailable: %w", g.inner.Name(), err)
		}
		return nil, err
	}
	return result, nil
}

var _ LLM = (*GuardedLLM)(nil)
