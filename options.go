package aiwarp

import "log/slog"

// Option configures the Router
type Option func(*Router)

// WithProvider registers a provider with the router under p.Name()
func WithProvider(p Provider) Option {
	return func(r *Router) {
		r.providers[p.Name()] = p
	}
}

// WithModels sets the default candidates in priority order. Each entry is a
// "provider:model" token.
func WithModels(models ...string) Option {
	return func(r *Router) {
		r.models = append(r.models, models...)
	}
}

// WithCandidates is WithModels for already parsed pairs
func WithCandidates(candidates ...Candidate) Option {
	return func(r *Router) {
		for _, c := range candidates {
			r.models = append(r.models, c.String())
		}
	}
}

// WithMiddleware adds middleware to the processing chain. The first one
// given is the outermost.
//
//	provider, _ := openai.NewOpenAI(key)
//	router, err := aiwarp.New(
//	    aiwarp.WithProvider(provider),
//	    aiwarp.WithModels("openai:gpt-4o-mini"),
//	    aiwarp.WithMiddleware(
//	        middleware.NewTimeoutMiddleware(60*time.Second),
//	    ),
//	)
func WithMiddleware(m ...Middleware) Option {
	return func(r *Router) {
		r.middleware = append(r.middleware, m...)
	}
}

// WithLogger sets the logger used for fallback diagnostics
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}
