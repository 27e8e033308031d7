// Package providers maps provider names to adapter factories.
package providers

import (
	"fmt"
	"sort"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
	"github.com/Simon-Lind-glitch/ai-warp/providers/gemini"
	"github.com/Simon-Lind-glitch/ai-warp/providers/litellm"
	"github.com/Simon-Lind-glitch/ai-warp/providers/openai"
)

// Factory builds one adapter from its configuration
type Factory func(cfg aiwarp.ProviderConfig) (aiwarp.Provider, error)

func openaiFactory(cfg aiwarp.ProviderConfig) (aiwarp.Provider, error) {
	return openai.New(cfg)
}

func geminiFactory(cfg aiwarp.ProviderConfig) (aiwarp.Provider, error) {
	return gemini.New(cfg)
}

func litellmFactory(cfg aiwarp.ProviderConfig) (aiwarp.Provider, error) {
	return litellm.New(cfg)
}

var factories = map[string]Factory{
	"openai":   openaiFactory,
	"deepseek": openaiFactory,
	"groq":     openaiFactory,
	"together": openaiFactory,
	"ollama":   openaiFactory,
	"gemini":   geminiFactory,
	"litellm":  litellmFactory,
}

// New builds the adapter registered as kind. cfg.Name, when empty, becomes
// kind, so a second OpenAI-compatible backend can be registered as
// New("openai", cfg) with its own Name and BaseURL.
func New(kind string, cfg aiwarp.ProviderConfig) (aiwarp.Provider, error) {
	factory, ok := factories[kind]
	if !ok {
		return nil, &aiwarp.OptionError{
			Message: fmt.Sprintf("unknown provider type %q", kind),
			Err:     aiwarp.ErrUnknownProvider,
		}
	}
	if cfg.Name == "" {
		cfg.Name = kind
	}
	return factory(cfg)
}

// Kinds lists the registered provider types
func Kinds() []string {
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
