package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
)

// CircuitBreakerMiddleware keeps one breaker per wrapped provider. An open
// breaker fails fast with aiwarp.ErrCircuitOpen, so the router moves on to
// the next candidate without touching the provider.
type CircuitBreakerMiddleware struct {
	maxFailures uint32
	timeout     time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerMiddleware creates a new circuit breaker middleware. A
// breaker opens after more than maxFailures consecutive failures and
// half-opens after timeout.
func NewCircuitBreakerMiddleware(maxFailures uint32, timeout time.Duration, logger *slog.Logger) *CircuitBreakerMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreakerMiddleware{
		maxFailures: maxFailures,
		timeout:     timeout,
		logger:      logger,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Wrap wraps a provider with circuit breaker protection
func (m *CircuitBreakerMiddleware) Wrap(next aiwarp.Provider) aiwarp.Provider {
	return &circuitBreakerProvider{
		Provider: next,
		cb:       m.breaker(next.Name()),
	}
}

// State returns the state of the named provider's breaker. Unknown
// providers report closed.
func (m *CircuitBreakerMiddleware) State(provider string) gobreaker.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[provider]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

func (m *CircuitBreakerMiddleware) breaker(name string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}

	maxFailures := m.maxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     m.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > maxFailures
		},
		// caller mistakes and cancellations say nothing about provider health
		IsSuccessful: func(err error) bool {
			return err == nil || !aiwarp.ShouldFallback(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.logger.Warn("circuit breaker state changed",
				"provider", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	m.breakers[name] = cb
	return cb
}

type circuitBreakerProvider struct {
	aiwarp.Provider
	cb *gobreaker.CircuitBreaker
}

func (p *circuitBreakerProvider) Complete(ctx context.Context, model, prompt string, opts aiwarp.RequestOptions) (*aiwarp.Response, error) {
	result, err := p.cb.Execute(func() (interface{}, error) {
		return p.Provider.Complete(ctx, model, prompt, opts)
	})
	if err != nil {
		return nil, circuitError(err)
	}
	return result.(*aiwarp.Response), nil
}

// Stream only guards opening the stream. Failures inside an already
// flowing stream are reported to its reader.
func (p *circuitBreakerProvider) Stream(ctx context.Context, model, prompt string, opts aiwarp.RequestOptions) (io.ReadCloser, error) {
	result, err := p.cb.Execute(func() (interface{}, error) {
		return p.Provider.Stream(ctx, model, prompt, opts)
	})
	if err != nil {
		return nil, circuitError(err)
	}
	return result.(io.ReadCloser), nil
}

func circuitError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return aiwarp.ErrCircuitOpen
	}
	return err
}
