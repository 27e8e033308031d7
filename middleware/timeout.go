package middleware

import (
	"context"
	"io"
	"sync"
	"time"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
)

// TimeoutMiddleware bounds each provider call. For streams the deadline
// covers the whole stream, not only opening it.
type TimeoutMiddleware struct {
	timeout time.Duration
}

// NewTimeoutMiddleware creates a new timeout middleware
func NewTimeoutMiddleware(timeout time.Duration) *TimeoutMiddleware {
	return &TimeoutMiddleware{
		timeout: timeout,
	}
}

// Wrap wraps a provider with timeout
func (m *TimeoutMiddleware) Wrap(next aiwarp.Provider) aiwarp.Provider {
	return &timeoutProvider{
		Provider: next,
		timeout:  m.timeout,
	}
}

type timeoutProvider struct {
	aiwarp.Provider
	timeout time.Duration
}

func (p *timeoutProvider) Complete(ctx context.Context, model, prompt string, opts aiwarp.RequestOptions) (*aiwarp.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.Provider.Complete(ctx, model, prompt, opts)
}

func (p *timeoutProvider) Stream(ctx context.Context, model, prompt string, opts aiwarp.RequestOptions) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)

	rc, err := p.Provider.Stream(ctx, model, prompt, opts)
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelOnClose{ReadCloser: rc, cancel: cancel}, nil
}

// cancelOnClose releases the stream's context once the reader is done with it
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelOnClose) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	if err != nil {
		c.once.Do(c.cancel)
	}
	return n, err
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.once.Do(c.cancel)
	return err
}
