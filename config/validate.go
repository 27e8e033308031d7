package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sort"
	"strings"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
	"github.com/Simon-Lind-glitch/ai-warp/providers"
)

// FieldError is a validation error for one configuration field
type FieldError struct {
	// Field is the dotted path to the field (e.g., "providers.openai.type")
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Code tags configuration failures like every other option error
func (e ValidationError) Code() aiwarp.ErrorCode { return aiwarp.CodeOption }

// Validate checks cfg and returns a ValidationError listing every problem,
// or nil
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if len(cfg.Providers) == 0 {
		add("providers", "at least one provider is required")
	}

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	kinds := providers.Kinds()
	for _, name := range names {
		p := cfg.Providers[name]
		field := "providers." + name
		if strings.ContainsRune(name, ':') {
			add(field, "provider name must not contain ':'")
		}
		if p.Type != "" && !slices.Contains(kinds, p.Type) {
			add(field+".type", "unknown provider type %q (known: %s)", p.Type, strings.Join(kinds, ", "))
		}
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				add(field+".base_url", "invalid URL %q", p.BaseURL)
			}
		}
	}

	for i, m := range cfg.Models {
		field := fmt.Sprintf("models[%d]", i)
		c, err := aiwarp.ParseCandidate(m)
		if err != nil {
			add(field, "%q is not a provider:model token", m)
			continue
		}
		if _, ok := cfg.Providers[c.Provider]; !ok {
			add(field, "provider %q is not configured", c.Provider)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		add("logging.level", "invalid level %q", cfg.Logging.Level)
	}
	if f := cfg.Logging.Format; f != "json" && f != "text" {
		add("logging.format", "must be json or text, got %q", f)
	}

	if cfg.Timeout < 0 {
		add("timeout", "must not be negative")
	}
	if cfg.CircuitBreaker.Timeout < 0 {
		add("circuit_breaker.timeout", "must not be negative")
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
