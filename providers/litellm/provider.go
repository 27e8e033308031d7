// Package litellm talks to a LiteLLM proxy. The proxy speaks the OpenAI chat
// wire format and resolves model aliases itself, so model names are sent
// through verbatim.
package litellm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tidwall/sjson"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
	"github.com/Simon-Lind-glitch/ai-warp/providers/openai"
	"github.com/Simon-Lind-glitch/ai-warp/stream"
	"github.com/Simon-Lind-glitch/ai-warp/transport"
)

// DefaultBaseURL is where a locally started proxy listens
const DefaultBaseURL = "http://localhost:4000"

// Provider handles a LiteLLM proxy
type Provider struct {
	name      string
	client    *transport.Client
	extraBody map[string]any
	logger    *slog.Logger
}

// New creates a LiteLLM provider. The master key is optional.
func New(cfg aiwarp.ProviderConfig) (*Provider, error) {
	if cfg.Name == "" {
		cfg.Name = "litellm"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	apiPath := cfg.APIPath
	if apiPath == "" {
		apiPath = openai.DefaultAPIPath
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
		client:    client,
		extraBody: cfg.ExtraBody,
		logger:    logger,
	}, nil
}

// NewFromEnv creates a provider from LITELLM_BASE_URL and LITELLM_API_KEY
func NewFromEnv() (*Provider, error) {
	return New(aiwarp.ProviderConfig{
		BaseURL: os.Getenv("LITELLM_BASE_URL"),
		APIKey:  os.Getenv("LITELLM_API_KEY"),
	})
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Complete(ctx context.Context, model, prompt string, opts aiwarp.RequestOptions) (*aiwarp.Response, error) {
	body, err := p.body(model, prompt, opts, false)
	if err != nil {
		return nil, err
	}

	reply, err := p.client.Request(ctx, transport.Call{
		Body:   body,
		Header: opts.Headers,
		APIKey: opts.APIKey,
	})
	if err != nil {
		return nil, err
	}
	resp, err := openai.ConvertResponse(p.name, reply.Status, reply.Body)
	if err != nil {
		return nil, err
	}
	// the proxy may answer with the deployment name; report the alias asked for
	resp.Model = model
	return resp, nil
}

func (p *Provider) Stream(ctx context.Context, model, prompt string, opts aiwarp.RequestOptions) (io.ReadCloser, error) {
	body, err := p.body(model, prompt, opts, true)
	if err != nil {
		return nil, err
	}

	upstream, err := p.client.Stream(ctx, transport.Call{
		Body:   body,
		Header: opts.Headers,
		APIKey: opts.APIKey,
	})
	if err != nil {
		return nil, err
	}

	t := stream.New(p.name,
		stream.WithChunkFunc(opts.OnStreamChunk),
		stream.WithFinishReasonMapper(openai.MapFinishReason),
		stream.WithLogger(p.logger),
	)
	return t.Pipe(ctx, upstream), nil
}

func (p *Provider) Close(ctx context.Context) error {
	return p.client.Close(ctx)
}

// body is the OpenAI chat body with the session id repeated under
// metadata.session_id, which the proxy uses for its own request logs
func (p *Provider) body(model, prompt string, opts aiwarp.RequestOptions, stream bool) ([]byte, error) {
	opts.SessionID = openai.SessionID(opts)
	body, err := openai.BuildChatBody(model, prompt, opts, stream, p.extraBody)
	if err != nil {
		return nil, err
	}
	body, err = sjson.SetBytes(body, "metadata.session_id", opts.SessionID)
	if err != nil {
		return nil, fmt.Errorf("set litellm session metadata: %w", err)
	}
	return body, nil
}
