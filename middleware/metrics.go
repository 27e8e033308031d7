package middleware

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
)

// outcome labels for calls that carry no error code
const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// MetricsOptions configures the collectors registered by MetricsMiddleware
type MetricsOptions struct {
	Namespace string
	Subsystem string
	// Buckets for the latency histogram, in seconds
	Buckets []float64
}

// MetricsMiddleware records Prometheus metrics for every provider call.
//
// Metrics:
//   - <ns>_provider_requests_total: calls by provider, model, mode, outcome
//   - <ns>_provider_request_duration_seconds: time to a response or to an
//     open stream, by provider and model
//   - <ns>_provider_stream_errors_total: streams whose reader saw an error
type MetricsMiddleware struct {
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	streamErrors *prometheus.CounterVec
}

// NewMetricsMiddleware creates the collectors and registers them with reg
func NewMetricsMiddleware(opts MetricsOptions, reg prometheus.Registerer) (*MetricsMiddleware, error) {
	if opts.Namespace == "" {
		opts.Namespace = "aiwarp"
	}
	if len(opts.Buckets) == 0 {
		// LLM calls take from a few hundred ms to tens of seconds
		opts.Buckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &MetricsMiddleware{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Subsystem: opts.Subsystem,
				Name:      "provider_requests_total",
				Help:      "Total number of provider calls by outcome",
			},
			[]string{"provider", "model", "mode", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: opts.Namespace,
				Subsystem: opts.Subsystem,
				Name:      "provider_request_duration_seconds",
				Help:      "Provider call latency in seconds",
				Buckets:   opts.Buckets,
			},
			[]string{"provider", "model"},
		),
		streamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Subsystem: opts.Subsystem,
				Name:      "provider_stream_errors_total",
				Help:      "Total number of streams that failed after opening",
			},
			[]string{"provider", "model"},
		),
	}

	for _, c := range []prometheus.Collector{m.requests, m.latency, m.streamErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Wrap wraps a provider with metrics recording
func (m *MetricsMiddleware) Wrap(next aiwarp.Provider) aiwarp.Provider {
	return &metricsProvider{Provider: next, m: m}
}

type metricsProvider struct {
	aiwarp.Provider
	m *MetricsMiddleware
}

func (p *metricsProvider) Complete(ctx context.Context, model, prompt string, opts aiwarp.RequestOptions) (*aiwarp.Response, error) {
	start := time.Now()
	resp, err := p.Provider.Complete(ctx, model, prompt, opts)
	p.m.observe(p.Name(), model, "complete", start, err)
	return resp, err
}

func (p *metricsProvider) Stream(ctx context.Context, model, prompt string, opts aiwarp.RequestOptions) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := p.Provider.Stream(ctx, model, prompt, opts)
	p.m.observe(p.Name(), model, "stream", start, err)
	if err != nil {
		return nil, err
	}
	return &streamErrorCounter{ReadCloser: rc, counter: p.m.streamErrors.WithLabelValues(p.Name(), model)}, nil
}

func (m *MetricsMiddleware) observe(provider, model, mode string, start time.Time, err error) {
	m.latency.WithLabelValues(provider, model).Observe(time.Since(start).Seconds())
	m.requests.WithLabelValues(provider, model, mode, outcome(err)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return outcomeOK
	}
	if code := aiwarp.CodeOf(err); code != "" {
		return string(code)
	}
	return outcomeError
}

// streamErrorCounter counts a stream once if its reader gets a non-EOF error
type streamErrorCounter struct {
	io.ReadCloser
	counter prometheus.Counter
	counted bool
}

func (s *streamErrorCounter) Read(p []byte) (int, error) {
	n, err := s.ReadCloser.Read(p)
	if err != nil && err != io.EOF && !s.counted {
		s.counted = true
		s.counter.Inc()
	}
	return n, err
}
