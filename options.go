package restengine

import (
	"fmt"
	"strings"
	"time"
)

// Option configures an Engine at construction.
type Option func(*Engine)

// WithBearerToken attaches the opaque bearer token to every request as an
// Authorization header. The engine never fetches or refreshes credentials.
func WithBearerToken(token string) Option {
	return func(e *Engine) {
		e.token = token
	}
}

// WithRequireAuth makes construction fail when no bearer token is supplied.
// Leave unset for public APIs.
func WithRequireAuth() Option {
	return func(e *Engine) {
		e.requireAuth = true
	}
}

// WithMaxRetries sets the maximum number of retry attempts after the first
// try.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		e.maxRetries = n
	}
}

// WithBackoff sets the exponential backoff parameters: the first retry waits
// about base, each subsequent retry multiplies by factor, capped at cap.
func WithBackoff(base, ceiling time.Duration, factor float64) Option {
	return func(e *Engine) {
		e.backoffBase = base
		e.backoffCap = ceiling
		e.backoffFactor = factor
	}
}

// WithJitterRange sets the uniform multiplicative jitter applied to every
// computed delay, e.g. 0.8 and 1.2 for ±20%.
func WithJitterRange(minFactor, maxFactor float64) Option {
	return func(e *Engine) {
		e.jitterMin = minFactor
		e.jitterMax = maxFactor
	}
}

// WithRequestTimeout sets the per-attempt HTTP timeout. The async poller's
// wall-clock budget is configured separately via WithAsyncPolling.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.requestTimeout = d
	}
}

// WithRateLimit enables the token-bucket throttle at callsPerSecond with the
// given burst capacity. A rate of zero or less leaves throttling disabled.
func WithRateLimit(callsPerSecond, burstSize float64) Option {
	return func(e *Engine) {
		if callsPerSecond <= 0 {
			e.limiter = nil
			return
		}
		e.limiter = NewRateLimiter(callsPerSecond, burstSize)
	}
}

// WithCircuitBreaker sets the circuit breaker configuration.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(e *Engine) {
		e.breaker = NewCircuitBreaker(config)
	}
}

// WithoutCircuitBreaker disables circuit breaking entirely.
func WithoutCircuitBreaker() Option {
	return func(e *Engine) {
		e.breaker = nil
	}
}

// WithMaxSessions bounds the session pool.
func WithMaxSessions(n int) Option {
	return func(e *Engine) {
		e.maxSessions = n
	}
}

// WithAsyncPolling sets the default poll interval used when a 202 response
// carries no Retry-After hint, and the overall wall-clock budget for an
// async operation.
func WithAsyncPolling(interval, maxWait time.Duration) Option {
	return func(e *Engine) {
		e.pollInterval = interval
		e.maxPollWait = maxWait
	}
}

// WithMetrics enables Prometheus metrics collection on the default
// registerer.
func WithMetrics() Option {
	return func(e *Engine) {
		e.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(e *Engine) {
		e.metrics = collector
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithZeroLogger sets a zerolog-backed logger at the given level.
func WithZeroLogger(level string, pretty bool) Option {
	return func(e *Engine) {
		e.logger = NewZeroLogger(level, pretty)
	}
}

// WithDebug enables per-request debug logging through the configured logger.
func WithDebug() Option {
	return func(e *Engine) {
		e.debug = true
	}
}

// validate checks the assembled configuration; New rejects the engine when
// any section is invalid so misconfiguration surfaces at construction.
func (e *Engine) validate() error {
	var problems []string

	problems = append(problems, e.validateAuthConfig()...)
	problems = append(problems, e.validateRetryConfig()...)
	problems = append(problems, e.validateRateLimiterConfig()...)
	problems = append(problems, e.validateCircuitBreakerConfig()...)
	problems = append(problems, e.validateSessionPoolConfig()...)
	problems = append(problems, e.validatePollingConfig()...)

	if len(problems) > 0 {
		return &EngineError{
			Type:    ErrorTypeValidation,
			Message: fmt.Sprintf("configuration validation failed: %s", strings.Join(problems, "; ")),
		}
	}
	return nil
}

func (e *Engine) validateAuthConfig() []string {
	var problems []string
	if e.requireAuth && e.token == "" {
		problems = append(problems, "bearer token is required when auth is required")
	}
	return problems
}

func (e *Engine) validateRetryConfig() []string {
	var problems []string
	if e.maxRetries < 0 {
		problems = append(problems, "maxRetries must be non-negative")
	}
	if e.backoffBase <= 0 {
		problems = append(problems, "backoff base must be positive")
	}
	if e.backoffCap < e.backoffBase {
		problems = append(problems, "backoff cap must be greater than or equal to backoff base")
	}
	if e.backoffFactor < 1 {
		problems = append(problems, "backoff factor must be at least 1")
	}
	if e.jitterMin <= 0 || e.jitterMax < e.jitterMin {
		problems = append(problems, "jitter range must satisfy 0 < min <= max")
	}
	if e.requestTimeout <= 0 {
		problems = append(problems, "request timeout must be positive")
	}
	return problems
}

func (e *Engine) validateRateLimiterConfig() []string {
	var problems []string
	if e.limiter != nil {
		if e.limiter.rate <= 0 {
			problems = append(problems, "rate limiter callsPerSecond must be positive")
		}
		if e.limiter.capacity < 1 {
			problems = append(problems, "rate limiter burstSize must be at least 1")
		}
	}
	return problems
}

func (e *Engine) validateCircuitBreakerConfig() []string {
	var problems []string
	if e.breaker != nil {
		if e.breaker.config.FailureThreshold <= 0 {
			problems = append(problems, "circuit breaker FailureThreshold must be positive")
		}
		if e.breaker.config.RecoveryTimeout <= 0 {
			problems = append(problems, "circuit breaker RecoveryTimeout must be positive")
		}
	}
	return problems
}

func (e *Engine) validateSessionPoolConfig() []string {
	var problems []string
	if e.maxSessions <= 0 {
		problems = append(problems, "maxSessions must be positive")
	}
	return problems
}

func (e *Engine) validatePollingConfig() []string {
	var problems []string
	if e.pollInterval <= 0 {
		problems = append(problems, "poll interval must be positive")
	}
	if e.maxPollWait <= 0 {
		problems = append(problems, "max poll wait must be positive")
	}
	if e.maxPollWait < e.pollInterval {
		problems = append(problems, "max poll wait must be at least the poll interval")
	}
	return problems
}
