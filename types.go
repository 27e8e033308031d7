package aiwarp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Request is one logical "ask a model" call made against the router
type Request struct {
	Prompt string `json:"prompt"`
	// Models overrides the router's default candidates. Each entry is a
	// "provider:model" token; the caller's order is the priority order.
	Models  []string       `json:"models,omitempty"`
	Options RequestOptions `json:"options"`
}

// RequestOptions carries everything about a request besides the prompt
type RequestOptions struct {
	// Context is the system prompt
	Context     string         `json:"context,omitempty"`
	History     []HistoryEntry `json:"history,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"maxTokens,omitempty"`
	Stream      bool           `json:"stream,omitempty"`

	// OnStreamChunk rewrites the content of every streamed chunk before it
	// is emitted. It is awaited in order, one record at a time.
	OnStreamChunk ChunkFunc `json:"-"`

	// ResponseFormat, Tools and ToolChoice are passed through untouched
	ResponseFormat json.RawMessage `json:"responseFormat,omitempty"`
	Tools          json.RawMessage `json:"tools,omitempty"`
	ToolChoice     json.RawMessage `json:"toolChoice,omitempty"`
	// AllowedTools restricts Tools to the named functions
	AllowedTools []string `json:"allowedTools,omitempty"`

	// APIKey overrides the provider's configured key for this request
	APIKey string `json:"-"`
	// SessionID is forwarded as the upstream user identifier
	SessionID string      `json:"sessionId,omitempty"`
	Headers   http.Header `json:"-"`
}

// HistoryEntry is one earlier exchange, oldest first
type HistoryEntry struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// ChunkFunc rewrites streamed content
type ChunkFunc func(ctx context.Context, content string) (string, error)

// Response is the canonical buffered response
type Response struct {
	Text     string     `json:"text"`
	Result   ResultKind `json:"result"`
	Provider string     `json:"provider,omitempty"`
	Model    string     `json:"model,omitempty"`
}

// ResultKind is the completion status of a model response
type ResultKind string

const (
	ResultComplete            ResultKind = "COMPLETE"
	ResultIncompleteMaxTokens ResultKind = "INCOMPLETE_MAX_TOKENS"
	ResultIncompleteUnknown   ResultKind = "INCOMPLETE_UNKNOWN"
)

// FinishReasonMapper maps a backend finish reason onto a ResultKind
type FinishReasonMapper func(reason string) ResultKind

// NewFinishReasonMapper builds a mapper from a backend's vocabulary. Any
// reason not listed, including the empty one, maps to ResultIncompleteUnknown.
func NewFinishReasonMapper(stop, length []string) FinishReasonMapper {
	return func(reason string) ResultKind {
		for _, s := range stop {
			if reason == s {
				return ResultComplete
			}
		}
		for _, l := range length {
			if reason == l {
				return ResultIncompleteMaxTokens
			}
		}
		return ResultIncompleteUnknown
	}
}

// MapFinishReason uses the OpenAI vocabulary ("stop", "length")
var MapFinishReason = NewFinishReasonMapper([]string{"stop"}, []string{"length"})

// EventKind is the type of a canonical stream event
type EventKind string

const (
	EventContent EventKind = "content"
	EventError   EventKind = "error"
	EventEnd     EventKind = "end"
)

// ContentData is the payload of a content event
type ContentData struct {
	Response string `json:"response"`
}

// EndData is the payload of an end event
type EndData struct {
	Response ResultKind `json:"response"`
}

// ErrorData is the payload of an error event
type ErrorData struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Candidate is one (provider, model) pair the router may try
type Candidate struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
}

func (c Candidate) String() string {
	return c.Provider + ":" + c.Model
}

// ParseCandidate parses a "provider:model" token. The model part may itself
// contain colons (for example "ollama:llama3:8b").
func ParseCandidate(token string) (Candidate, error) {
	provider, model, ok := strings.Cut(strings.TrimSpace(token), ":")
	if !ok || provider == "" || model == "" {
		return Candidate{}, &OptionError{Message: fmt.Sprintf("invalid model %q, expected \"provider:model\"", token), Err: ErrInvalidModel}
	}
	return Candidate{Provider: provider, Model: model}, nil
}

// ProviderConfig holds common configuration for providers
type ProviderConfig struct {
	Name      string
	APIKey    string
	BaseURL   string
	APIPath   string
	UserAgent string
	Headers   http.Header
	Pool      PoolOptions
	// ExtraBody is merged into every request body, keyed by JSON path
	ExtraBody map[string]any
	// CheckResponse replaces the default upstream status classification
	CheckResponse CheckFunc
	Logger        *slog.Logger
}

// CheckFunc inspects an upstream response before its body is consumed.
// A non-nil error fails the call.
type CheckFunc func(provider string, resp *http.Response) error

// DefaultUserAgent is sent when a provider sets none
const DefaultUserAgent = "ai-warp"

// PoolOptions tunes the pooled HTTP transport of a provider client
type PoolOptions struct {
	MaxIdleConns          int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost       int           `yaml:"max_conns_per_host"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
}

// DefaultPoolOptions returns the pool settings used when none are given
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		DialTimeout:           10 * time.Second,
		ResponseHeaderTimeout: 5 * time.Minute,
	}
}

// WithDefaults fills zero fields from DefaultPoolOptions
func (o PoolOptions) WithDefaults() PoolOptions {
	d := DefaultPoolOptions()
	if o.MaxIdleConns == 0 {
		o.MaxIdleConns = d.MaxIdleConns
	}
	if o.MaxIdleConnsPerHost == 0 {
		o.MaxIdleConnsPerHost = d.MaxIdleConnsPerHost
	}
	if o.IdleConnTimeout == 0 {
		o.IdleConnTimeout = d.IdleConnTimeout
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = d.DialTimeout
	}
	if o.ResponseHeaderTimeout == 0 {
		o.ResponseHeaderTimeout = d.ResponseHeaderTimeout
	}
	return o
}
