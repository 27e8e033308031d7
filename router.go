package aiwarp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Router tries an ordered list of (provider, model) candidates and returns
// the first success
type Router struct {
	providers  map[string]Provider
	chain      map[string]Provider // providers wrapped with middleware
	models     []string            // default candidates as given
	candidates []Candidate
	middleware []Middleware
	logger     *slog.Logger
}

// Result is the outcome of Request. Exactly one of Response and Stream is set.
type Result struct {
	Candidate Candidate
	Response  *Response
	Stream    io.ReadCloser
}

// New creates a Router. The candidate list and providers are fixed from
// here on; every default candidate must name a registered provider.
func New(opts ...Option) (*Router, error) {
	r := &Router{
		providers: make(map[string]Provider),
		chain:     make(map[string]Provider),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if len(r.providers) == 0 {
		return nil, &OptionError{Message: "router needs at least one provider", Err: ErrNoProviders}
	}

	candidates, err := r.parseCandidates(r.models)
	if err != nil {
		return nil, err
	}
	r.candidates = candidates

	for name, p := range r.providers {
		r.chain[name] = r.buildChain(p)
	}
	return r, nil
}

// Request resolves the candidates for req and tries them in order. With
// req.Options.Stream set it returns a stream, otherwise a buffered response.
// When every candidate fails the last failure is returned.
func (r *Router) Request(ctx context.Context, req *Request) (*Result, error) {
	candidates, err := r.resolveCandidates(req.Models)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for i, c := range candidates {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		res, err := r.try(ctx, c, req)
		if err == nil {
			return res, nil
		}
		lastErr = annotateCandidate(err, c)
		if !ShouldFallback(err) {
			return nil, lastErr
		}
		if i < len(candidates)-1 {
			r.logger.DebugContext(ctx, "candidate failed, trying next",
				"provider", c.Provider,
				"model", c.Model,
				"next", candidates[i+1].String(),
				"error", err,
			)
		}
	}
	return nil, lastErr
}

// Complete performs a buffered request regardless of req.Options.Stream
func (r *Router) Complete(ctx context.Context, req *Request) (*Response, error) {
	buffered := *req
	buffered.Options.Stream = false
	res, err := r.Request(ctx, &buffered)
	if err != nil {
		return nil, err
	}
	return res.Response, nil
}

// Stream performs a streaming request regardless of req.Options.Stream
func (r *Router) Stream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	streaming := *req
	streaming.Options.Stream = true
	res, err := r.Request(ctx, &streaming)
	if err != nil {
		return nil, err
	}
	return res.Stream, nil
}

func (r *Router) try(ctx context.Context, c Candidate, req *Request) (*Result, error) {
	p := r.chain[c.Provider]
	if req.Options.Stream {
		s, err := p.Stream(ctx, c.Model, req.Prompt, req.Options)
		if err != nil {
			return nil, err
		}
		return &Result{Candidate: c, Stream: s}, nil
	}
	resp, err := p.Complete(ctx, c.Model, req.Prompt, req.Options)
	if err != nil {
		return nil, err
	}
	if resp.Provider == "" {
		resp.Provider = c.Provider
	}
	if resp.Model == "" {
		resp.Model = c.Model
	}
	return &Result{Candidate: c, Response: resp}, nil
}

// resolveCandidates returns the explicit override when given, else the
// defaults
func (r *Router) resolveCandidates(models []string) ([]Candidate, error) {
	if len(models) == 0 {
		if len(r.candidates) == 0 {
			return nil, &OptionError{Message: "no models configured and none requested", Err: ErrNoCandidates}
		}
		return r.candidates, nil
	}
	return r.parseCandidates(models)
}

func (r *Router) parseCandidates(models []string) ([]Candidate, error) {
	candidates := make([]Candidate, 0, len(models))
	for _, m := range models {
		c, err := ParseCandidate(m)
		if err != nil {
			return nil, err
		}
		if _, ok := r.providers[c.Provider]; !ok {
			return nil, &OptionError{
				Message: fmt.Sprintf("provider %q for model %q is not configured", c.Provider, c.Model),
				Err:     ErrUnknownProvider,
			}
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// buildChain wraps the provider with middleware
func (r *Router) buildChain(provider Provider) Provider {
	result := provider
	// Apply middleware in reverse order so first middleware is outermost
	for i := len(r.middleware) - 1; i >= 0; i-- {
		result = r.middleware[i].Wrap(result)
	}
	return result
}

// Candidates returns a copy of the default candidate list
func (r *Router) Candidates() []Candidate {
	return append([]Candidate(nil), r.candidates...)
}

// Providers returns the sorted list of registered provider names
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetProvider returns a provider by name, without middleware
func (r *Router) GetProvider(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Close closes every provider concurrently and joins their errors
func (r *Router) Close(ctx context.Context) error {
	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}

	var g errgroup.Group
	errs := make([]error, len(providers))
	for i, p := range providers {
		g.Go(func() error {
			errs[i] = p.Close(ctx)
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}
