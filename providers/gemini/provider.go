package gemini

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
	"github.com/Simon-Lind-glitch/ai-warp/stream"
	"github.com/Simon-Lind-glitch/ai-warp/transport"
)

const (
	// DefaultBaseURL is the Generative Language API root
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultAPIPath prefixes every model method
	DefaultAPIPath = "/models"

	apiKeyHeader = "x-goog-api-key"
)

// Provider handles the Google Gemini generateContent API
type Provider struct {
	name      string
	apiPath   string
	client    *transport.Client
	extraBody map[string]any
	logger    *slog.Logger
}

// New creates a Gemini provider
func New(cfg aiwarp.ProviderConfig) (*Provider, error) {
	if cfg.Name == "" {
		cfg.Name = "gemini"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	apiPath := strings.TrimRight(cfg.APIPath, "/")
	if apiPath == "" {
		apiPath = DefaultAPIPath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := transport.Init(transport.Options{
		Provider:      cfg.Name,
		BaseURL:       baseURL,
		APIPath:       apiPath,
		APIKey:        cfg.APIKey,
		APIKeyHeader:  apiKeyHeader,
		UserAgent:     cfg.UserAgent,
		Headers:       cfg.Headers,
		Pool:          cfg.Pool,
		CheckResponse: cfg.CheckResponse,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	return &Provider{
		name:      cfg.Name,
		apiPath:   apiPath,
		client:    client,
		extraBody: cfg.ExtraBody,
		logger:    logger,
	}, nil
}

// NewFromEnv creates a provider using the GEMINI_API_KEY environment variable
func NewFromEnv() (*Provider, error) {
	return New(aiwarp.ProviderConfig{
		APIKey: os.Getenv("GEMINI_API_KEY"),
	})
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Complete(ctx context.Context, model, prompt string, opts aiwarp.RequestOptions) (*aiwarp.Response, error) {
	body, err := buildBody(prompt, opts, p.extraBody)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Request(ctx, transport.Call{
		Path:   p.method(model, "generateContent"),
		Body:   body,
		Header: opts.Headers,
		APIKey: opts.APIKey,
	})
	if err != nil {
		return nil, err
	}
	return convertResponse(p.name, model, resp.Status, resp.Body)
}

func (p *Provider) Stream(ctx context.Context, model, prompt string, opts aiwarp.RequestOptions) (io.ReadCloser, error) {
	body, err := buildBody(prompt, opts, p.extraBody)
	if err != nil {
		return nil, err
	}

	upstream, err := p.client.Stream(ctx, transport.Call{
		Path:   p.method(model, "streamGenerateContent"),
		Query:  url.Values{"alt": {"sse"}},
		Body:   body,
		Header: opts.Headers,
		APIKey: opts.APIKey,
	})
	if err != nil {
		return nil, err
	}

	t := stream.New(p.name,
		stream.WithExtractor(stream.GeminiExtractor),
		stream.WithChunkFunc(opts.OnStreamChunk),
		stream.WithFinishReasonMapper(MapFinishReason),
		stream.WithLogger(p.logger),
	)
	return t.Pipe(ctx, upstream), nil
}

func (p *Provider) Close(ctx context.Context) error {
	return p.client.Close(ctx)
}

// method builds "/models/{model}:{name}"
func (p *Provider) method(model, name string) string {
	return p.apiPath + "/" + url.PathEscape(model) + ":" + name
}
