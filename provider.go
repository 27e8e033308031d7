package aiwarp

import (
	"context"
	"io"
)

// Provider is the interface every backend adapter implements. Adapters only
// ever see one resolved model; candidate lists stay in the Router.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "gemini")
	Name() string

	// Complete performs a buffered request
	Complete(ctx context.Context, model, prompt string, opts RequestOptions) (*Response, error)

	// Stream starts a streaming request. The returned reader yields
	// canonical SSE frames (content, error, end) as they arrive.
	Stream(ctx context.Context, model, prompt string, opts RequestOptions) (io.ReadCloser, error)

	// Close releases the provider's connection pool
	Close(ctx context.Context) error
}

// Middleware wraps a Provider with additional functionality
type Middleware interface {
	Wrap(next Provider) Provider
}
