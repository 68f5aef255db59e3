package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/semaphore"
)

// GateConfig configures the shared rate-limited gate.
type GateConfig struct {
	// MaxConcurrent caps simultaneous outstanding calls (default 4).
	MaxConcurrent int64
	// RequestsPerMinute feeds the token-bucket limiter (default 60).
	RequestsPerMinute int
	// Attempts is the hard cap per logical call (default 3).
	Attempts uint
	// BaseDelay seeds the exponential backoff (default 2s).
	BaseDelay time.Duration
	// MaxJitter bounds the random jitter added per retry (default 1s).
	MaxJitter time.Duration
	Logger    *slog.Logger
}

// Gate wraps a Client with a concurrency cap, request rate limiting, and
// bounded exponential-backoff retries for transient failures. It is the one
// cross-cutting shared resource: every analysis, generation, and evaluation
// call in the process goes through a single Gate.
type Gate struct {
	client   Client
	sem      *semaphore.Weighted
	limiter  *RateLimiter
	attempts uint
	delay    time.Duration
	jitter   time.Duration
	logger   *slog.Logger
}

// NewGate wraps client with the configured call budget.
func NewGate(client Client, cfg GateConfig) *Gate {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.MaxJitter == 0 {
		cfg.MaxJitter = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{
		client:   client,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		limiter:  NewRateLimiter(cfg.RequestsPerMinute),
		attempts: cfg.Attempts,
		delay:    cfg.BaseDelay,
		jitter:   cfg.MaxJitter,
		logger:   logger.With("component", "llm_gate"),
	}
}

// Name returns the wrapped client's identifier.
func (g *Gate) Name() string { return g.client.Name() }

// AnalyzeChapter routes through the gate.
func (g *Gate) AnalyzeChapter(ctx context.Context, req ChapterRequest) (*ChapterAnalysis, error) {
	return doGated(ctx, g, func(ctx context.Context) (*ChapterAnalysis, error) {
		return g.client.AnalyzeChapter(ctx, req)
	})
}

// Synthesize routes through the gate.
func (g *Gate) Synthesize(ctx context.Context, req SynthesisRequest) (*Synthesis, error) {
	return doGated(ctx, g, func(ctx context.Context) (*Synthesis, error) {
		return g.client.Synthesize(ctx, req)
	})
}

// GenerateTierContent routes through the gate.
func (g *Gate) GenerateTierContent(ctx context.Context, req TierContentRequest) (string, error) {
	return doGated(ctx, g, func(ctx context.Context) (string, error) {
		return g.client.GenerateTierContent(ctx, req)
	})
}

// EvaluateResponse routes through the gate.
func (g *Gate) EvaluateResponse(ctx context.Context, req EvaluationRequest) (float64, error) {
	return doGated(ctx, g, func(ctx context.Context) (float64, error) {
		return g.client.EvaluateResponse(ctx, req)
	})
}

// doGated acquires the concurrency budget, then runs fn with rate limiting
// and transient-only retries. The semaphore is released on every exit path.
func doGated[T any](ctx context.Context, g *Gate, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer g.sem.Release(1)

	result, err := retry.DoWithData(
		func() (T, error) {
			if err := g.limiter.Wait(ctx); err != nil {
				return zero, Permanent(err)
			}
			out, err := fn(ctx)
			if err != nil {
				return zero, classify(err)
			}
			return out, nil
		},
		retry.Context(ctx),
		retry.Attempts(g.attempts),
		retry.Delay(g.delay),
		retry.MaxJitter(g.jitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Warn("retrying call", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return zero, err
	}
	return result, nil
}
