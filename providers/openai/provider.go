package openai

import (
	"context"
	"io"
	"log/slog"
	"os"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
	"github.com/Simon-Lind-glitch/ai-warp/stream"
	"github.com/Simon-Lind-glitch/ai-warp/transport"
)

// DefaultAPIPath is the chat completions path appended to the base URL
const DefaultAPIPath = "/chat/completions"

// Presets contains default base URLs for OpenAI-compatible providers
var Presets = map[string]struct {
	BaseURL string
	EnvKey  string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		EnvKey:  "OPENAI_API_KEY",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		EnvKey:  "DEEPSEEK_API_KEY",
	},
	"groq": {
		BaseURL: "https://api.groq.com/openai/v1",
		EnvKey:  "GROQ_API_KEY",
	},
	"together": {
		BaseURL: "https://api.together.xyz/v1",
		EnvKey:  "TOGETHER_API_KEY",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
	},
}

// Provider handles OpenAI and OpenAI-compatible APIs
type Provider struct {
	name      string
	client    *transport.Client
	extraBody map[string]any
	logger    *slog.Logger
}

// New creates a new OpenAI-compatible provider. cfg.Name selects a preset
// for any base URL left empty.
func New(cfg aiwarp.ProviderConfig) (*Provider, error) {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	baseURL := cfg.BaseURL
	if preset, ok := Presets[cfg.Name]; ok && baseURL == "" {
		baseURL = preset.BaseURL
	}
	apiPath := cfg.APIPath
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

// NewFromEnv creates a preset provider using the preset's environment
// variable for the API key
func NewFromEnv(name string) (*Provider, error) {
	return New(aiwarp.ProviderConfig{
		Name:   name,
		APIKey: os.Getenv(Presets[name].EnvKey),
	})
}

// NewOpenAI creates a standard OpenAI provider
func NewOpenAI(apiKey string) (*Provider, error) {
	return New(aiwarp.ProviderConfig{
		Name:   "openai",
		APIKey: apiKey,
	})
}

// NewDeepSeek creates a DeepSeek provider
func NewDeepSeek(apiKey string) (*Provider, error) {
	return New(aiwarp.ProviderConfig{
		Name:   "deepseek",
		APIKey: apiKey,
	})
}

// NewGroq creates a Groq provider
func NewGroq(apiKey string) (*Provider, error) {
	return New(aiwarp.ProviderConfig{
		Name:   "groq",
		APIKey: apiKey,
	})
}

// NewTogether creates a Together AI provider
func NewTogether(apiKey string) (*Provider, error) {
	return New(aiwarp.ProviderConfig{
		Name:   "together",
		APIKey: apiKey,
	})
}

// NewOllama creates an Ollama provider. Ollama needs no key.
func NewOllama(baseURL string) (*Provider, error) {
	return New(aiwarp.ProviderConfig{
		Name:    "ollama",
		BaseURL: baseURL,
	})
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Complete(ctx context.Context, model, prompt string, opts aiwarp.RequestOptions) (*aiwarp.Response, error) {
	body, err := BuildChatBody(model, prompt, opts, false, p.extraBody)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Request(ctx, transport.Call{
		Body:   body,
		Header: opts.Headers,
		APIKey: opts.APIKey,
	})
	if err != nil {
		return nil, err
	}
	return ConvertResponse(p.name, resp.Status, resp.Body)
}

func (p *Provider) Stream(ctx context.Context, model, prompt string, opts aiwarp.RequestOptions) (io.ReadCloser, error) {
	body, err := BuildChatBody(model, prompt, opts, true, p.extraBody)
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
		stream.WithFinishReasonMapper(MapFinishReason),
		stream.WithLogger(p.logger),
	)
	return t.Pipe(ctx, upstream), nil
}

func (p *Provider) Close(ctx context.Context) error {
	return p.client.Close(ctx)
}
