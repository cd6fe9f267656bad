package restengine

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	envprovider "github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the resolved engine configuration. Its layout mirrors the
// script-behavior section of the deployment YAML; every field the engine
// needs is required and validated by Validate before any engine is built.
type Config struct {
	RateLimiting struct {
		Enabled        bool    `koanf:"enabled"`
		CallsPerSecond float64 `koanf:"calls-per-second"`
		BurstSize      float64 `koanf:"burst-size"`
	} `koanf:"rate-limiting"`

	CircuitBreaker struct {
		Enabled          bool `koanf:"enabled"`
		FailureThreshold int  `koanf:"failure-threshold"`
		TimeoutSeconds   int  `koanf:"timeout-seconds"`
	} `koanf:"circuit-breaker"`

	RetryStrategy struct {
		MaxRetries    int     `koanf:"max-retries"`
		BackoffFactor float64 `koanf:"backoff-factor"`
	} `koanf:"retry-strategy"`

	Jitter struct {
		MinFactor float64 `koanf:"min-factor"`
		MaxFactor float64 `koanf:"max-factor"`
	} `koanf:"jitter"`

	APITimeouts struct {
		RestTimeoutSeconds       int `koanf:"rest-timeout-seconds"`
		AsyncMaxWaitSeconds      int `koanf:"async-max-wait"`
		AsyncPollIntervalSeconds int `koanf:"async-poll-interval"`
	} `koanf:"api-timeouts"`

	SessionPool struct {
		MaxSessions int `koanf:"max-sessions"`
	} `koanf:"session-pool"`
}

// envPrefix is stripped from environment overrides; the remainder maps
// double underscores to section separators and single underscores to dashes,
// e.g. RESTENGINE_RETRY_STRATEGY__MAX_RETRIES -> retry-strategy.max-retries.
const envPrefix = "RESTENGINE_"

// LoadConfig loads configuration with priority: environment variables over
// the YAML file at path over built-in defaults. The loaded config is
// validated before it is returned.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(configDefaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(envprovider.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ReplaceAll(s, "_", "-")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func configDefaults() map[string]any {
	return map[string]any{
		"rate-limiting.enabled":          false,
		"rate-limiting.calls-per-second": 10.0,
		"rate-limiting.burst-size":       1.0,

		"circuit-breaker.enabled":           true,
		"circuit-breaker.failure-threshold": 5,
		"circuit-breaker.timeout-seconds":   60,

		"retry-strategy.max-retries":    3,
		"retry-strategy.backoff-factor": 2.0,

		"jitter.min-factor": 0.8,
		"jitter.max-factor": 1.2,

		"api-timeouts.rest-timeout-seconds": 30,
		"api-timeouts.async-max-wait":       300,
		"api-timeouts.async-poll-interval":  5,

		"session-pool.max-sessions": 50,
	}
}

// Validate fails fast on missing or invalid required fields.
func (c *Config) Validate() error {
	var problems []string

	if c.RateLimiting.Enabled {
		if c.RateLimiting.CallsPerSecond <= 0 {
			problems = append(problems, "rate-limiting.calls-per-second must be positive when enabled")
		}
		if c.RateLimiting.BurstSize < 1 {
			problems = append(problems, "rate-limiting.burst-size must be at least 1")
		}
	}
	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.FailureThreshold <= 0 {
			problems = append(problems, "circuit-breaker.failure-threshold must be positive when enabled")
		}
		if c.CircuitBreaker.TimeoutSeconds <= 0 {
			problems = append(problems, "circuit-breaker.timeout-seconds must be positive when enabled")
		}
	}
	if c.RetryStrategy.MaxRetries < 0 {
		problems = append(problems, "retry-strategy.max-retries must be non-negative")
	}
	if c.RetryStrategy.BackoffFactor < 1 {
		problems = append(problems, "retry-strategy.backoff-factor must be at least 1")
	}
	if c.Jitter.MinFactor <= 0 || c.Jitter.MaxFactor < c.Jitter.MinFactor {
		problems = append(problems, "jitter factors must satisfy 0 < min-factor <= max-factor")
	}
	if c.APITimeouts.RestTimeoutSeconds <= 0 {
		problems = append(problems, "api-timeouts.rest-timeout-seconds must be positive")
	}
	if c.APITimeouts.AsyncMaxWaitSeconds <= 0 {
		problems = append(problems, "api-timeouts.async-max-wait must be positive")
	}
	if c.APITimeouts.AsyncPollIntervalSeconds <= 0 {
		problems = append(problems, "api-timeouts.async-poll-interval must be positive")
	}
	if c.SessionPool.MaxSessions <= 0 {
		problems = append(problems, "session-pool.max-sessions must be positive")
	}

	if len(problems) > 0 {
		return &EngineError{
			Type:    ErrorTypeValidation,
			Message: "invalid configuration: " + strings.Join(problems, "; "),
		}
	}
	return nil
}

// NewFromConfig builds an engine from a validated Config and an opaque
// bearer token (empty for public APIs). Extra options are applied after the
// config-derived ones, so callers can still inject a logger or metrics
// collector.
func NewFromConfig(cfg *Config, token string, extra ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := []Option{
		WithBearerToken(token),
		WithMaxRetries(cfg.RetryStrategy.MaxRetries),
		// The configured factor drives delays of factor^attempt seconds.
		WithBackoff(time.Second, time.Minute, cfg.RetryStrategy.BackoffFactor),
		WithJitterRange(cfg.Jitter.MinFactor, cfg.Jitter.MaxFactor),
		WithRequestTimeout(time.Duration(cfg.APITimeouts.RestTimeoutSeconds) * time.Second),
		WithAsyncPolling(
			time.Duration(cfg.APITimeouts.AsyncPollIntervalSeconds)*time.Second,
			time.Duration(cfg.APITimeouts.AsyncMaxWaitSeconds)*time.Second,
		),
		WithMaxSessions(cfg.SessionPool.MaxSessions),
	}

	if cfg.RateLimiting.Enabled {
		options = append(options, WithRateLimit(cfg.RateLimiting.CallsPerSecond, cfg.RateLimiting.BurstSize))
	}
	if cfg.CircuitBreaker.Enabled {
		options = append(options, WithCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  time.Duration(cfg.CircuitBreaker.TimeoutSeconds) * time.Second,
		}))
	} else {
		options = append(options, WithoutCircuitBreaker())
	}

	options = append(options, extra...)
	return New(options...)
}
