package middleware

import (
	"context"
	"io"
	"log/slog"
	"time"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
)

// LoggingMiddleware logs one line per provider call
type LoggingMiddleware struct {
	logger *slog.Logger
}

// NewLoggingMiddleware creates a new logging middleware
func NewLoggingMiddleware(logger *slog.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingMiddleware{logger: logger}
}

// Wrap wraps a provider with call logging
func (m *LoggingMiddleware) Wrap(next aiwarp.Provider) aiwarp.Provider {
	return &loggingProvider{
		Provider: next,
		logger:   m.logger.With("provider", next.Name()),
	}
}

type loggingProvider struct {
	aiwarp.Provider
	logger *slog.Logger
}

func (p *loggingProvider) Complete(ctx context.Context, model, prompt string, opts aiwarp.RequestOptions) (*aiwarp.Response, error) {
	start := time.Now()
	resp, err := p.Provider.Complete(ctx, model, prompt, opts)
	if err != nil {
		p.logger.WarnContext(ctx, "provider call failed",
			"model", model,
			"duration", time.Since(start),
			"code", aiwarp.CodeOf(err),
			"error", err,
		)
		return nil, err
	}
	p.logger.InfoContext(ctx, "provider call completed",
		"model", model,
		"duration", time.Since(start),
		"result", resp.Result,
	)
	return resp, nil
}

func (p *loggingProvider) Stream(ctx context.Context, model, prompt string, opts aiwarp.RequestOptions) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := p.Provider.Stream(ctx, model, prompt, opts)
	if err != nil {
		p.logger.WarnContext(ctx, "provider stream failed to open",
			"model", model,
			"duration", time.Since(start),
			"code", aiwarp.CodeOf(err),
			"error", err,
		)
		return nil, err
	}
	p.logger.InfoContext(ctx, "provider stream opened",
		"model", model,
		"duration", time.Since(start),
	)
	return rc, nil
}
