// Package inference turns a prompt into reply text through a pluggable model backend.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"remember2.co/relay/internal/obs"
)

var (
	ErrInferenceUnavailable = errors.New("inference: backend unavailable")
	ErrEmptyPrompt          = errors.New("inference: prompt is empty")
)

// Backend produces a completion for a single prompt.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, prompt string) (string, error)

func (f BackendFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type maxTokensKey struct{}

// WithMaxTokens asks backends to generate at most n tokens for calls made with ctx.
// A backend never exceeds its own configured limit.
func WithMaxTokens(ctx context.Context, n int) context.Context {
	if n <= 0 {
		return ctx
	}
	return context.WithValue(ctx, maxTokensKey{}, n)
}

// maxTokens is the per-call limit carried by ctx, capped at limit.
func maxTokens(ctx context.Context, limit int) int {
	if n, ok := ctx.Value(maxTokensKey{}).(int); ok && n < limit {
		return n
	}
	return limit
}

// Gateway fronts a Backend. It makes no retries and does not stream.
type Gateway struct {
	name    string
	backend Backend
	logger  *slog.Logger
}

func NewGateway(name string, backend Backend, logger *slog.Logger) (*Gateway, error) {
	if backend == nil {
		return nil, errors.New("inference: backend is required")
	}
	if name == "" {
		name = "unknown"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		name:    name,
		backend: backend,
		logger:  logger.With(slog.String("component", "inference"), slog.String("backend", name)),
	}, nil
}

// Name reports the configured backend type.
func (g *Gateway) Name() string { return g.name }

// Generate returns the backend's reply. Backend failures are wrapped in ErrInferenceUnavailable.
func (g *Gateway) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	start := time.Now()
	reply, err := g.backend.Generate(ctx, prompt)
	elapsed := time.Since(start)
	obs.ObserveInference(g.name, err == nil, elapsed)
	if err != nil {
		g.logger.WarnContext(ctx, "inference failed",
			slog.Any("error", err), slog.Duration("elapsed", elapsed))
		return "", fmt.Errorf("%w: %w", ErrInferenceUnavailable, err)
	}
	g.logger.DebugContext(ctx, "inference completed",
		slog.Duration("elapsed", elapsed), slog.Int("reply_bytes", len(reply)))
	return reply, nil
}
