package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values
const (
	DefaultLogLevel                  = "info"
	DefaultLogFormat                 = "text"
	DefaultCircuitBreakerMaxFailures = 5
	DefaultCircuitBreakerTimeout     = 30 * time.Second
)

// Load reads the YAML file at path, expands ${VAR} references from the
// environment, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load for in-memory YAML
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv replaces ${VAR} with the variable's value. A bare $ is left
// alone so keys and URLs containing one survive.
func expandEnv(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:start])
		b.WriteString(os.Getenv(s[start+2 : start+end]))
		s = s[start+end+1:]
	}
}

// ApplyDefaults fills in every unset field that has a default
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	if cfg.CircuitBreaker.MaxFailures == 0 {
		cfg.CircuitBreaker.MaxFailures = DefaultCircuitBreakerMaxFailures
	}
	if cfg.CircuitBreaker.Timeout == 0 {
		cfg.CircuitBreaker.Timeout = DefaultCircuitBreakerTimeout
	}

	for name, p := range cfg.Providers {
		if p.Type == "" {
			p.Type = name
		}
		p.Pool = p.Pool.WithDefaults()
		cfg.Providers[name] = p
	}
}
