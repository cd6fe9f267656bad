package restengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tentixo/restengine/internal/backoff"
)

// sendFunc performs a single request attempt and returns the fully-read
// response. The session leased for the attempt is released before it returns.
type sendFunc func(ctx context.Context, spec *RequestSpec) (*attemptResponse, error)

// attemptResponse is one attempt's outcome with the body already drained, so
// no transport resources outlive the attempt.
type attemptResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// classification is the tagged outcome of one attempt. Errors are raised at
// the engine boundary only after terminal classification. breakerFailure
// marks outcomes that signal dependency ill health: transport failures and
// 5xx responses, but never caller cancellations or plain 4xx responses.
type classification struct {
	retryable      bool
	breakerFailure bool
	errType        ErrorType
	message        string
}

// retryExecutor wraps a send primitive with bounded retries, exponential
// backoff and jitter. It consults the circuit breaker before each attempt and
// paces attempts through the rate limiter. The breaker hears about the
// terminal outcome of a logical call exactly once.
type retryExecutor struct {
	maxRetries int
	policy     backoff.Policy
	breaker    *CircuitBreaker
	limiter    *RateLimiter
	metrics    *MetricsCollector
	logger     Logger
}

// do runs up to maxRetries+1 attempts of spec. It returns the successful
// response and the number of attempts made, or a classified error carrying
// the attempt count.
func (r *retryExecutor) do(ctx context.Context, spec *RequestSpec, send sendFunc) (*attemptResponse, int, *EngineError) {
	endpoint := endpointFromURL(spec.URL)
	attempts := 0

	var lastResp *attemptResponse
	var lastErr error
	var lastClass classification

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if r.breaker != nil && !r.breaker.Allow() {
			r.logger.Warn("circuit breaker open", "method", spec.Method, "endpoint", endpoint)
			return nil, attempts, &EngineError{
				Type:     ErrorTypeCircuitOpen,
				Message:  "circuit breaker is open",
				Cause:    ErrCircuitOpen,
				Attempts: attempts,
			}
		}

		wait, err := r.limiter.Acquire(ctx)
		if err != nil {
			return nil, attempts, &EngineError{
				Type:     ErrorTypeTimeout,
				Message:  "canceled while waiting for rate limiter token",
				Cause:    err,
				Attempts: attempts,
			}
		}
		if r.metrics != nil {
			r.metrics.RecordRateLimiterWait("default", wait)
			r.metrics.RecordRateLimiterTokens("default", r.limiter.Tokens())
		}

		if attempt > 0 && r.metrics != nil {
			r.metrics.RecordRetry(spec.Method, endpoint, attempt)
		}

		attempts++
		resp, err := send(ctx, spec)
		class := r.classify(ctx, spec, resp, err)

		if class.errType == "" {
			// Success.
			if r.breaker != nil {
				r.breaker.RecordSuccess()
				r.recordBreakerState()
			}
			return resp, attempts, nil
		}

		if !class.retryable {
			// Non-retryable failures propagate on first occurrence. Transport
			// failures and 5xx responses are health signals for the breaker;
			// plain 4xx responses and caller cancellations are not.
			if r.breaker != nil && class.breakerFailure {
				r.breaker.RecordFailure()
				r.recordBreakerState()
			}
			return nil, attempts, &EngineError{
				Type:       class.errType,
				Message:    class.message,
				Cause:      err,
				StatusCode: statusOf(resp),
				Attempts:   attempts,
			}
		}

		lastResp, lastErr, lastClass = resp, err, class

		if attempt == r.maxRetries {
			break
		}

		delay := r.retryDelay(resp, attempt)
		r.logger.Warn("retrying request",
			"method", spec.Method, "endpoint", endpoint,
			"attempt", attempt+1, "maxRetries", r.maxRetries, "backoff", delay)
		if err := backoff.Sleep(ctx, delay); err != nil {
			return nil, attempts, &EngineError{
				Type:     ErrorTypeTimeout,
				Message:  "canceled during retry backoff",
				Cause:    err,
				Attempts: attempts,
			}
		}
	}

	// Retries exhausted: this is the logical call's terminal failure, so the
	// breaker hears about it exactly once.
	if r.breaker != nil {
		r.breaker.RecordFailure()
		r.recordBreakerState()
	}

	msg := fmt.Sprintf("%s failed after %d attempts", spec.Method, attempts)
	if lastClass.message != "" {
		msg = fmt.Sprintf("%s: %s", msg, lastClass.message)
	}
	return nil, attempts, &EngineError{
		Type:       lastClass.errType,
		Message:    msg,
		Cause:      lastErr,
		StatusCode: statusOf(lastResp),
		Attempts:   attempts,
	}
}

// retryDelay honors a Retry-After header when present, otherwise computes
// the exponential backoff for the attempt. The hint is jittered only upward:
// retrying before the server's requested delay invites another rejection.
func (r *retryExecutor) retryDelay(resp *attemptResponse, attempt int) time.Duration {
	if resp != nil {
		if hinted := parseRetryAfter(resp.Header.Get("Retry-After")); hinted > 0 {
			return r.policy.JitterUp(hinted)
		}
	}
	return r.policy.Delay(attempt)
}

func (r *retryExecutor) recordBreakerState() {
	if r.metrics != nil && r.breaker != nil {
		r.metrics.RecordCircuitBreakerState("default", r.breaker.State())
	}
}

// classify maps one attempt's outcome to the engine's failure taxonomy.
// A zero-valued classification means success.
func (r *retryExecutor) classify(ctx context.Context, spec *RequestSpec, resp *attemptResponse, err error) classification {
	if err != nil {
		// Caller cancellation is terminal regardless of retry budget. It says
		// nothing about the dependency's health, so it never counts against
		// the breaker.
		if ctx.Err() != nil {
			return classification{errType: ErrorTypeTimeout, message: "request canceled"}
		}
		if errors.Is(err, context.DeadlineExceeded) || isTimeoutError(err) {
			if !spec.Idempotent {
				return classification{breakerFailure: true, errType: ErrorTypeTimeout, message: "request timed out (not retried: non-idempotent)"}
			}
			return classification{retryable: true, breakerFailure: true, errType: ErrorTypeTimeout, message: "request timed out"}
		}
		// Network-level failure: the server may or may not have received the
		// request, so only idempotent requests are retried.
		if !spec.Idempotent {
			return classification{breakerFailure: true, errType: ErrorTypeTransientNetwork, message: "network failure (not retried: non-idempotent)"}
		}
		return classification{retryable: true, breakerFailure: true, errType: ErrorTypeTransientNetwork, message: "network failure"}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return classification{}
	case resp.StatusCode == http.StatusTooManyRequests:
		// The server explicitly declined to process the request, so a retry
		// is safe even for non-idempotent methods.
		return classification{retryable: true, errType: ErrorTypeRateLimited, message: "rate limited by server"}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return classification{errType: ErrorTypeAuthentication, message: fmt.Sprintf("authentication failed: HTTP %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusRequestTimeout:
		return classification{errType: ErrorTypeTimeout, message: "server reported request timeout: HTTP 408"}
	case resp.StatusCode >= 500:
		if !spec.Idempotent {
			return classification{breakerFailure: true, errType: ErrorTypeOperation, message: fmt.Sprintf("server error: HTTP %d (not retried: non-idempotent)", resp.StatusCode)}
		}
		return classification{retryable: true, breakerFailure: true, errType: ErrorTypeOperation, message: fmt.Sprintf("server error: HTTP %d", resp.StatusCode)}
	default:
		return classification{errType: ErrorTypeOperation, message: fmt.Sprintf("request failed: HTTP %d: %s", resp.StatusCode, truncate(resp.Body, 200))}
	}
}

func statusOf(resp *attemptResponse) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// isTimeoutError reports whether err is a transport-level timeout.
func isTimeoutError(err error) bool {
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) {
		return timeout.Timeout()
	}
	return false
}

// parseRetryAfter parses the Retry-After header value. It supports both
// delay-seconds and HTTP-date formats, capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

// endpointFromURL reduces a URL to a host+path label suitable for logs and
// metrics cardinality.
func endpointFromURL(rawURL string) string {
	rest := rawURL
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexByte(rest, '?'); idx >= 0 {
		rest = rest[:idx]
	}
	if rest == "" {
		return "unknown"
	}
	if !strings.Contains(rest, "/") {
		return rest + "/"
	}
	return rest
}
