// Package config loads the YAML configuration of an ai-warp router and
// builds the router from it.
//
// Example:
//
//	providers:
//	  openai:
//	    api_key: ${OPENAI_API_KEY}
//	  local:
//	    type: litellm
//	    base_url: http://localhost:4000
//	models:
//	  - openai:gpt-4o-mini
//	  - local:claude-3-haiku
//	timeout: 60s
//	circuit_breaker:
//	  enabled: true
package config

import (
	"time"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
)

// Config is the root configuration
type Config struct {
	// Providers maps the name used in model tokens to a backend
	Providers      map[string]ProviderConfig `yaml:"providers"`
	Models         []string                  `yaml:"models"`
	Logging        LoggingConfig             `yaml:"logging"`
	Timeout        time.Duration             `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig      `yaml:"circuit_breaker"`
	Metrics        MetricsConfig             `yaml:"metrics"`
}

// ProviderConfig configures one backend
type ProviderConfig struct {
	// Type selects the adapter; it defaults to the provider's name
	Type      string             `yaml:"type"`
	APIKey    string             `yaml:"api_key"`
	BaseURL   string             `yaml:"base_url"`
	APIPath   string             `yaml:"api_path"`
	UserAgent string             `yaml:"user_agent"`
	Headers   map[string]string  `yaml:"headers"`
	Pool      aiwarp.PoolOptions `yaml:"pool"`
	ExtraBody map[string]any     `yaml:"extra_body"`
}

// LoggingConfig selects the slog handler
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// CircuitBreakerConfig configures the per-provider breakers
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MetricsConfig configures Prometheus collectors
type MetricsConfig struct {
	Enabled   bool      `yaml:"enabled"`
	Namespace string    `yaml:"namespace"`
	Subsystem string    `yaml:"subsystem"`
	Buckets   []float64 `yaml:"buckets"`
}
