package config

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
	"github.com/Simon-Lind-glitch/ai-warp/middleware"
	"github.com/Simon-Lind-glitch/ai-warp/providers"
)

// BuildOptions carries the runtime pieces a YAML file cannot describe
type BuildOptions struct {
	Logger *slog.Logger
	// Registerer receives the metrics collectors; nil means the default
	// Prometheus registerer
	Registerer prometheus.Registerer
}

// Build creates every configured provider and returns a router over them.
// Middleware runs outermost first: logging, metrics, circuit breaker,
// timeout.
func (c *Config) Build(opts BuildOptions) (*aiwarp.Router, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	built, err := c.buildProviders(logger)
	if err != nil {
		return nil, err
	}

	mw, err := c.middleware(logger, opts.Registerer)
	if err != nil {
		closeAll(built)
		return nil, err
	}

	routerOpts := []aiwarp.Option{
		aiwarp.WithModels(c.Models...),
		aiwarp.WithMiddleware(mw...),
		aiwarp.WithLogger(logger),
	}
	for _, p := range built {
		routerOpts = append(routerOpts, aiwarp.WithProvider(p))
	}

	router, err := aiwarp.New(routerOpts...)
	if err != nil {
		closeAll(built)
		return nil, err
	}
	return router, nil
}

func (c *Config) buildProviders(logger *slog.Logger) ([]aiwarp.Provider, error) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	built := make([]aiwarp.Provider, 0, len(names))
	for _, name := range names {
		pc := c.Providers[name]
		kind := pc.Type
		if kind == "" {
			kind = name
		}
		p, err := providers.New(kind, aiwarp.ProviderConfig{
			Name:      name,
			APIKey:    pc.APIKey,
			BaseURL:   pc.BaseURL,
			APIPath:   pc.APIPath,
			UserAgent: pc.UserAgent,
			Headers:   toHeader(pc.Headers),
			Pool:      pc.Pool,
			ExtraBody: pc.ExtraBody,
			Logger:    logger,
		})
		if err != nil {
			closeAll(built)
			return nil, err
		}
		built = append(built, p)
	}
	return built, nil
}

func (c *Config) middleware(logger *slog.Logger, reg prometheus.Registerer) ([]aiwarp.Middleware, error) {
	mw := []aiwarp.Middleware{middleware.NewLoggingMiddleware(logger)}
	if c.Metrics.Enabled {
		m, err := middleware.NewMetricsMiddleware(middleware.MetricsOptions{
			Namespace: c.Metrics.Namespace,
			Subsystem: c.Metrics.Subsystem,
			Buckets:   c.Metrics.Buckets,
		}, reg)
		if err != nil {
			return nil, err
		}
		mw = append(mw, m)
	}
	if c.CircuitBreaker.Enabled {
		mw = append(mw, middleware.NewCircuitBreakerMiddleware(c.CircuitBreaker.MaxFailures, c.CircuitBreaker.Timeout, logger))
	}
	if c.Timeout > 0 {
		mw = append(mw, middleware.NewTimeoutMiddleware(c.Timeout))
	}
	return mw, nil
}

func toHeader(m map[string]string) http.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

// closeAll releases providers built before a later step failed
func closeAll(ps []aiwarp.Provider) {
	for _, p := range ps {
		_ = p.Close(context.Background())
	}
}

// NewLogger builds the slog logger described by cfg, writing to w
func NewLogger(cfg LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
