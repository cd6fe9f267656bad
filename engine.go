package restengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tentixo/restengine/internal/backoff"
)

// Engine is the resilient HTTP request engine. It composes a session pool,
// rate limiter, circuit breaker, retry executor and async poller into one
// coherent call path and is safe for many concurrent logical calls sharing
// a single instance. All collaborators are explicit constructed instances so
// independently-configured engines coexist in one process without
// interference.
type Engine struct {
	token          string
	requireAuth    bool
	maxRetries     int
	backoffBase    time.Duration
	backoffCap     time.Duration
	backoffFactor  float64
	jitterMin      float64
	jitterMax      float64
	requestTimeout time.Duration
	pollInterval   time.Duration
	maxPollWait    time.Duration
	maxSessions    int

	pool    *SessionPool
	limiter *RateLimiter
	breaker *CircuitBreaker
	retry   *retryExecutor
	poller  *asyncPoller

	metrics *MetricsCollector
	logger  Logger
	debug   bool
}

// New constructs an Engine from the provided functional options. Missing or
// invalid required configuration fails construction immediately, never at
// first use.
func New(options ...Option) (*Engine, error) {
	e := &Engine{
		maxRetries:     3,
		backoffBase:    250 * time.Millisecond,
		backoffCap:     30 * time.Second,
		backoffFactor:  2.0,
		jitterMin:      0.8,
		jitterMax:      1.2,
		requestTimeout: 30 * time.Second,
		pollInterval:   5 * time.Second,
		maxPollWait:    5 * time.Minute,
		maxSessions:    50,
		breaker:        NewCircuitBreaker(CircuitBreakerConfig{}),
		logger:         nopLogger{},
	}

	for _, option := range options {
		option(e)
	}

	if err := e.validate(); err != nil {
		return nil, err
	}

	e.pool = NewSessionPool(e.maxSessions, e.requestTimeout)
	if e.metrics != nil {
		e.pool.onEvict = func(string) { e.metrics.RecordSessionEviction("default") }
	}

	policy := backoff.Policy{
		Base:      e.backoffBase,
		Factor:    e.backoffFactor,
		Cap:       e.backoffCap,
		JitterMin: e.jitterMin,
		JitterMax: e.jitterMax,
	}
	e.retry = &retryExecutor{
		maxRetries: e.maxRetries,
		policy:     policy,
		breaker:    e.breaker,
		limiter:    e.limiter,
		metrics:    e.metrics,
		logger:     e.logger,
	}
	e.poller = &asyncPoller{
		interval: e.pollInterval,
		maxWait:  e.maxPollWait,
		policy:   policy,
		retry:    e.retry,
		metrics:  e.metrics,
		logger:   e.logger,
	}

	return e, nil
}

// Get performs an HTTP GET.
func (e *Engine) Get(ctx context.Context, url string, opts ...RequestOption) (*OperationResult, error) {
	return e.Do(ctx, NewRequestSpec(http.MethodGet, url, nil, opts...))
}

// Post performs an HTTP POST. A []byte body is sent as-is; any other non-nil
// body is JSON-encoded.
func (e *Engine) Post(ctx context.Context, url string, body any, opts ...RequestOption) (*OperationResult, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	return e.Do(ctx, NewRequestSpec(http.MethodPost, url, payload, opts...))
}

// Put performs an HTTP PUT with the same body handling as Post.
func (e *Engine) Put(ctx context.Context, url string, body any, opts ...RequestOption) (*OperationResult, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	return e.Do(ctx, NewRequestSpec(http.MethodPut, url, payload, opts...))
}

// Patch performs an HTTP PATCH with the same body handling as Post. Use
// WithIfMatch to attach an etag for optimistic concurrency.
func (e *Engine) Patch(ctx context.Context, url string, body any, opts ...RequestOption) (*OperationResult, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	return e.Do(ctx, NewRequestSpec(http.MethodPatch, url, payload, opts...))
}

// Delete performs an HTTP DELETE.
func (e *Engine) Delete(ctx context.Context, url string, opts ...RequestOption) (*OperationResult, error) {
	return e.Do(ctx, NewRequestSpec(http.MethodDelete, url, nil, opts...))
}

// Do executes a prepared RequestSpec applying all reliability features and
// returns the classified result of the logical call.
func (e *Engine) Do(ctx context.Context, spec *RequestSpec) (*OperationResult, error) {
	start := time.Now()
	endpoint := endpointFromURL(spec.URL)

	if e.debug {
		e.logger.Debug("starting request", "method", spec.Method, "url", spec.URL, "endpoint", endpoint)
	}
	if e.metrics != nil {
		e.metrics.RecordRequestStart(spec.Method, endpoint)
		defer e.metrics.RecordRequestEnd(spec.Method, endpoint)
	}

	resp, attempts, engErr := e.retry.do(ctx, spec, e.send)

	polls := 0
	if engErr == nil && resp.StatusCode == http.StatusAccepted {
		var pollAttempts int
		resp, polls, pollAttempts, engErr = e.poller.poll(ctx, spec, resp, e.send)
		attempts += pollAttempts
	}

	elapsed := time.Since(start)

	if engErr != nil {
		engErr.Method = spec.Method
		engErr.URL = spec.URL
		engErr.Attempts = attempts
		engErr.Elapsed = elapsed
		engErr.Timestamp = time.Now()
		if e.metrics != nil {
			e.metrics.RecordError(engErr.Type, spec.Method, endpoint)
			e.metrics.RecordRequest(spec.Method, endpoint, engErr.StatusCode, elapsed)
		}
		if e.debug {
			e.logger.Debug("request failed", "method", spec.Method, "endpoint", endpoint,
				"type", string(engErr.Type), "attempts", attempts, "elapsed", elapsed)
		}
		return nil, engErr
	}

	if e.metrics != nil {
		e.metrics.RecordRequest(spec.Method, endpoint, resp.StatusCode, elapsed)
	}
	if e.debug {
		e.logger.Debug("request completed", "method", spec.Method, "endpoint", endpoint,
			"status", resp.StatusCode, "attempts", attempts, "polls", polls, "elapsed", elapsed)
	}

	return &OperationResult{
		Success:    true,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Payload:    resp.Body,
		Attempts:   attempts,
		Polls:      polls,
		Elapsed:    elapsed,
	}, nil
}

// send performs one request attempt on a session leased for this attempt
// only. The response body is drained before returning so the session is
// released immediately, even when the caller abandons the logical call.
func (e *Engine) send(ctx context.Context, spec *RequestSpec) (*attemptResponse, error) {
	hostKey, err := hostKeyFromURL(spec.URL)
	if err != nil {
		return nil, err
	}

	client := e.pool.Lease(hostKey)
	if e.metrics != nil {
		e.metrics.RecordSessionPoolSize("default", e.pool.Len())
	}

	var body io.Reader
	if len(spec.Body) > 0 {
		body = bytes.NewReader(spec.Body)
	}
	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if len(spec.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	for key, values := range spec.Header {
		req.Header[key] = values
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &attemptResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Close releases all pooled sessions. The engine remains usable afterwards.
func (e *Engine) Close() {
	e.pool.Close()
}

// CircuitState returns the current breaker state, or StateClosed when no
// breaker is configured.
func (e *Engine) CircuitState() CircuitState {
	if e.breaker == nil {
		return StateClosed
	}
	return e.breaker.State()
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &EngineError{
				Type:    ErrorTypeValidation,
				Message: "request body is not JSON-encodable",
				Cause:   err,
			}
		}
		return data, nil
	}
}

// hostKeyFromURL reduces a URL to the scheme://host key that identifies a
// pooled session.
func hostKeyFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &EngineError{
			Type:    ErrorTypeValidation,
			Message: fmt.Sprintf("invalid URL: %s", rawURL),
			Cause:   err,
		}
	}
	if u.Scheme == "" || u.Host == "" {
		return "", &EngineError{
			Type:    ErrorTypeValidation,
			Message: fmt.Sprintf("URL missing scheme or host: %s", rawURL),
		}
	}
	return u.Scheme + "://" + u.Host, nil
}
