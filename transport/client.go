// Package transport is the provider client: a pooled HTTP connection with a
// fixed header set, shared by every request made to one backend.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
)

// maxErrorBodyBytes caps how much of an error response is read
const maxErrorBodyBytes = 1 << 20

// ErrClientClosed is returned by calls made after Close
var ErrClientClosed = errors.New("transport: client closed")

// Options configures a Client. It is fixed once Init returns.
type Options struct {
	Provider string
	BaseURL  string
	APIPath  string

	// APIKey is sent as "Authorization: Bearer <key>" unless APIKeyHeader
	// names another header. An empty key sends nothing.
	APIKey       string
	APIKeyHeader string

	UserAgent string
	Headers   http.Header
	Pool      aiwarp.PoolOptions

	// CheckResponse fully replaces the default status classification
	CheckResponse aiwarp.CheckFunc
	Logger        *slog.Logger
}

// Client owns one connection pool and its static headers
type Client struct {
	provider     string
	baseURL      string
	path         string
	apiKeyHeader string

	transport *http.Transport
	http      *http.Client
	headers   http.Header
	check     aiwarp.CheckFunc
	logger    *slog.Logger
	closed    atomic.Bool
}

// Call is one request made through a Client
type Call struct {
	// Path overrides Options.APIPath when set
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
	// APIKey overrides Options.APIKey for this call
	APIKey string
}

// Init opens the pool and builds the static header set
func Init(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Provider) == "" {
		return nil, &aiwarp.OptionError{Message: "transport: provider name required"}
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, &aiwarp.OptionError{Message: fmt.Sprintf("transport: base url required for provider %q", opts.Provider)}
	}
	if _, err := url.Parse(base); err != nil {
		return nil, &aiwarp.OptionError{Message: fmt.Sprintf("transport: parse base url for provider %q", opts.Provider), Err: err}
	}

	pool := opts.Pool.WithDefaults()
	dialer := &net.Dialer{
		Timeout:   pool.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          pool.MaxIdleConns,
		MaxIdleConnsPerHost:   pool.MaxIdleConnsPerHost,
		MaxConnsPerHost:       pool.MaxConnsPerHost,
		IdleConnTimeout:       pool.IdleConnTimeout,
		ResponseHeaderTimeout: pool.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
	}

	headers := make(http.Header)
	for k, vs := range opts.Headers {
		for _, v := range vs {
			headers.Add(k, v)
		}
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = aiwarp.DefaultUserAgent
	}
	headers.Set("Content-Type", "application/json")
	headers.Set("User-Agent", userAgent)

	c := &Client{
		provider:     opts.Provider,
		baseURL:      base,
		path:         normalizePath(opts.APIPath),
		apiKeyHeader: opts.APIKeyHeader,
		transport:    transport,
		http:         &http.Client{Transport: transport},
		headers:      headers,
		check:        opts.CheckResponse,
		logger:       opts.Logger,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.setAPIKey(c.headers, opts.APIKey)
	return c, nil
}

// Provider returns the provider name the client was created for
func (c *Client) Provider() string { return c.provider }

// Close releases the pool. It is safe on a nil or partly built client and
// may be called more than once.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.transport == nil {
		return nil
	}
	if c.closed.Swap(true) {
		return nil
	}
	c.transport.CloseIdleConnections()
	c.logger.DebugContext(ctx, "provider client closed", "provider", c.provider)
	return nil
}

// Response is a buffered reply that passed the status check
type Response struct {
	Status int
	Body   []byte
}

// Request performs one buffered round trip
func (c *Client) Request(ctx context.Context, call Call) (*Response, error) {
	resp, err := c.do(ctx, call, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", c.provider, err)
	}
	return &Response{Status: resp.StatusCode, Body: body}, nil
}

// Stream performs the request and hands back the live response body. The
// caller must close it.
func (c *Client) Stream(ctx context.Context, call Call) (io.ReadCloser, error) {
	resp, err := c.do(ctx, call, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, call Call, accept string) (*http.Response, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	body, err := encodeBody(call.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.provider, err)
	}

	endpoint := c.endpoint(call)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.provider, err)
	}
	req.Header = c.headers.Clone()
	req.Header.Set("Accept", accept)
	for k, vs := range call.Header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if call.APIKey != "" {
		c.setAPIKey(req.Header, call.APIKey)
	}

	c.logger.DebugContext(ctx, "sending request to provider",
		"provider", c.provider,
		"url", endpoint,
	)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.provider, err)
	}
	if err := c.checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func (c *Client) checkResponse(resp *http.Response) error {
	if c.check != nil {
		return c.check(c.provider, resp)
	}
	return checkResponse(c.logger, c.provider, resp)
}

// CheckResponse is the default classification: 2xx passes, 429 is an
// ExceededQuotaError, anything else a ResponseError. The error body is read
// and logged.
func CheckResponse(provider string, resp *http.Response) error {
	return checkResponse(slog.Default(), provider, resp)
}

func checkResponse(logger *slog.Logger, provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	body := string(raw)
	logger.Error("provider returned error status",
		"provider", provider,
		"status", resp.StatusCode,
		"body", body,
	)

	base := aiwarp.ProviderError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       body,
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &aiwarp.ExceededQuotaError{ProviderError: base}
	}
	return &aiwarp.ResponseError{ProviderError: base}
}

func (c *Client) setAPIKey(h http.Header, key string) {
	if key == "" {
		return
	}
	if c.apiKeyHeader != "" {
		h.Set(c.apiKeyHeader, key)
		return
	}
	h.Set("Authorization", "Bearer "+key)
}

func (c *Client) endpoint(call Call) string {
	path := c.path
	if call.Path != "" {
		path = normalizePath(call.Path)
	}
	u := c.baseURL + path
	if len(call.Query) > 0 {
		u += "?" + call.Query.Encode()
	}
	return u
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func encodeBody(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(v)
	}
}
