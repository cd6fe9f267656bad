package restengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/tentixo/restengine/internal/backoff"
)

func newTestRetry(maxRetries int, breaker *CircuitBreaker) *retryExecutor {
	return &retryExecutor{
		maxRetries: maxRetries,
		policy: backoff.Policy{
			Base:      time.Millisecond,
			Factor:    2.0,
			Cap:       10 * time.Millisecond,
			JitterMin: 1.0,
			JitterMax: 1.0,
		},
		breaker: breaker,
		logger:  nopLogger{},
	}
}

func respWith(status int, header http.Header) *attemptResponse {
	if header == nil {
		header = make(http.Header)
	}
	return &attemptResponse{StatusCode: status, Header: header, Body: nil}
}

func TestRetrySucceedsAfterRetryableFailures(t *testing.T) {
	r := newTestRetry(2, nil)
	spec := NewRequestSpec(http.MethodGet, "https://api.example.com/items", nil)

	calls := 0
	send := func(ctx context.Context, s *RequestSpec) (*attemptResponse, error) {
		calls++
		if calls < 3 {
			return respWith(503, nil), nil
		}
		return respWith(200, nil), nil
	}

	resp, attempts, engErr := r.do(context.Background(), spec, send)
	if engErr != nil {
		t.Fatalf("Expected success, got %v", engErr)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if attempts != 3 {
		t.Errorf("Expected attempts=3, got %d", attempts)
	}
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	r := newTestRetry(2, nil)
	spec := NewRequestSpec(http.MethodGet, "https://api.example.com/items", nil)

	send := func(ctx context.Context, s *RequestSpec) (*attemptResponse, error) {
		return respWith(503, nil), nil
	}

	_, attempts, engErr := r.do(context.Background(), spec, send)
	if engErr == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("Expected attempts=3, got %d", attempts)
	}
	if engErr.Type != ErrorTypeOperation {
		t.Errorf("Expected Operation error for terminal 5xx, got %s", engErr.Type)
	}
	if engErr.StatusCode != 503 {
		t.Errorf("Expected StatusCode=503, got %d", engErr.StatusCode)
	}
}

func TestRetryNonRetryableFailsImmediately(t *testing.T) {
	cases := []struct {
		status   int
		wantType ErrorType
	}{
		{400, ErrorTypeOperation},
		{401, ErrorTypeAuthentication},
		{403, ErrorTypeAuthentication},
		{404, ErrorTypeOperation},
		{408, ErrorTypeTimeout},
		{409, ErrorTypeOperation},
		{422, ErrorTypeOperation},
	}

	for _, tc := range cases {
		r := newTestRetry(3, nil)
		spec := NewRequestSpec(http.MethodGet, "https://api.example.com/items", nil)

		calls := 0
		send := func(ctx context.Context, s *RequestSpec) (*attemptResponse, error) {
			calls++
			return respWith(tc.status, nil), nil
		}

		_, attempts, engErr := r.do(context.Background(), spec, send)
		if engErr == nil {
			t.Fatalf("Status %d: expected error", tc.status)
		}
		if engErr.Type != tc.wantType {
			t.Errorf("Status %d: expected %s, got %s", tc.status, tc.wantType, engErr.Type)
		}
		if calls != 1 {
			t.Errorf("Status %d: expected one attempt, got %d", tc.status, calls)
		}
		if attempts != 1 {
			t.Errorf("Status %d: expected attempts=1, got %d", tc.status, attempts)
		}
	}
}

func TestRetry429HonorsRetryAfter(t *testing.T) {
	r := newTestRetry(1, nil)
	spec := NewRequestSpec(http.MethodPost, "https://api.example.com/items", []byte("{}"))

	header := make(http.Header)
	header.Set("Retry-After", "1")

	calls := 0
	var firstRetryAt time.Time
	start := time.Now()
	send := func(ctx context.Context, s *RequestSpec) (*attemptResponse, error) {
		calls++
		if calls == 1 {
			return respWith(429, header), nil
		}
		firstRetryAt = time.Now()
		return respWith(200, nil), nil
	}

	_, attempts, engErr := r.do(context.Background(), spec, send)
	if engErr != nil {
		t.Fatalf("Expected success, got %v", engErr)
	}
	if attempts != 2 {
		t.Errorf("Expected attempts=2, got %d", attempts)
	}
	if delay := firstRetryAt.Sub(start); delay < 900*time.Millisecond {
		t.Errorf("Expected Retry-After of 1s to be honored, retried after %v", delay)
	}
}

func TestRetry429ExhaustionIsRateLimited(t *testing.T) {
	r := newTestRetry(0, nil)
	spec := NewRequestSpec(http.MethodGet, "https://api.example.com/items", nil)

	send := func(ctx context.Context, s *RequestSpec) (*attemptResponse, error) {
		return respWith(429, nil), nil
	}

	_, _, engErr := r.do(context.Background(), spec, send)
	if engErr == nil {
		t.Fatal("Expected error")
	}
	if engErr.Type != ErrorTypeRateLimited {
		t.Errorf("Expected RateLimited, got %s", engErr.Type)
	}
	if !errors.Is(engErr, ErrRateLimited) {
		t.Error("Expected errors.Is(err, ErrRateLimited)")
	}
}

func TestRetryNetworkErrorRetriedForIdempotent(t *testing.T) {
	r := newTestRetry(2, nil)
	spec := NewRequestSpec(http.MethodGet, "https://api.example.com/items", nil)

	calls := 0
	send := func(ctx context.Context, s *RequestSpec) (*attemptResponse, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("connection reset")
		}
		return respWith(200, nil), nil
	}

	_, attempts, engErr := r.do(context.Background(), spec, send)
	if engErr != nil {
		t.Fatalf("Expected success after network retry, got %v", engErr)
	}
	if attempts != 2 {
		t.Errorf("Expected attempts=2, got %d", attempts)
	}
}

func TestRetryNetworkErrorNotRetriedForNonIdempotent(t *testing.T) {
	r := newTestRetry(3, nil)
	spec := NewRequestSpec(http.MethodPost, "https://api.example.com/items", []byte("{}"))

	calls := 0
	send := func(ctx context.Context, s *RequestSpec) (*attemptResponse, error) {
		calls++
		return nil, fmt.Errorf("connection reset")
	}

	_, _, engErr := r.do(context.Background(), spec, send)
	if engErr == nil {
		t.Fatal("Expected error")
	}
	if engErr.Type != ErrorTypeTransientNetwork {
		t.Errorf("Expected TransientNetwork, got %s", engErr.Type)
	}
	if calls != 1 {
		t.Errorf("Expected one attempt for ambiguous non-idempotent failure, got %d", calls)
	}
}

func TestRetryNonIdempotentOverride(t *testing.T) {
	r := newTestRetry(1, nil)
	spec := NewRequestSpec(http.MethodPost, "https://api.example.com/items", []byte("{}"),
		WithIdempotent(true))

	calls := 0
	send := func(ctx context.Context, s *RequestSpec) (*attemptResponse, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("connection reset")
		}
		return respWith(201, nil), nil
	}

	resp, _, engErr := r.do(context.Background(), spec, send)
	if engErr != nil {
		t.Fatalf("Expected retried POST to succeed, got %v", engErr)
	}
	if resp.StatusCode != 201 {
		t.Errorf("Expected 201, got %d", resp.StatusCode)
	}
}

func TestRetryBreakerNotifiedOncePerCall(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 100, RecoveryTimeout: time.Minute})
	r := newTestRetry(2, cb)
	spec := NewRequestSpec(http.MethodGet, "https://api.example.com/items", nil)

	send := func(ctx context.Context, s *RequestSpec) (*attemptResponse, error) {
		return respWith(500, nil), nil
	}

	if _, _, engErr := r.do(context.Background(), spec, send); engErr == nil {
		t.Fatal("Expected terminal failure")
	}
	if cb.Failures() != 1 {
		t.Errorf("Expected exactly one breaker failure per logical call, got %d", cb.Failures())
	}
}

func TestRetryCallerCancellationNotABreakerFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	r := newTestRetry(3, cb)
	spec := NewRequestSpec(http.MethodGet, "https://api.example.com/items", nil)

	// The caller abandons the request mid-attempt; the server is healthy.
	ctx, cancel := context.WithCancel(context.Background())
	send := func(ctx context.Context, s *RequestSpec) (*attemptResponse, error) {
		cancel()
		return nil, ctx.Err()
	}

	_, _, engErr := r.do(ctx, spec, send)
	if engErr == nil {
		t.Fatal("Expected cancellation error")
	}
	if engErr.Type != ErrorTypeTimeout {
		t.Errorf("Expected Timeout classification, got %s", engErr.Type)
	}
	if cb.Failures() != 0 {
		t.Errorf("Expected no breaker failures from caller cancellation, got %d", cb.Failures())
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected breaker to stay closed, got %v", cb.State())
	}
}

func TestRetryAfterNeverShortenedByJitter(t *testing.T) {
	r := newTestRetry(1, nil)
	r.policy.JitterMin = 0.1
	r.policy.JitterMax = 0.5
	spec := NewRequestSpec(http.MethodGet, "https://api.example.com/items", nil)

	header := make(http.Header)
	header.Set("Retry-After", "1")

	calls := 0
	var firstRetryAt time.Time
	start := time.Now()
	send := func(ctx context.Context, s *RequestSpec) (*attemptResponse, error) {
		calls++
		if calls == 1 {
			return respWith(429, header), nil
		}
		firstRetryAt = time.Now()
		return respWith(200, nil), nil
	}

	if _, _, engErr := r.do(context.Background(), spec, send); engErr != nil {
		t.Fatalf("Expected success, got %v", engErr)
	}
	if delay := firstRetryAt.Sub(start); delay < time.Second {
		t.Errorf("Expected retry no earlier than the server's Retry-After, retried after %v", delay)
	}
}

func TestRetryCircuitOpenShortCircuits(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	cb.RecordFailure()

	r := newTestRetry(3, cb)
	spec := NewRequestSpec(http.MethodGet, "https://api.example.com/items", nil)

	calls := 0
	send := func(ctx context.Context, s *RequestSpec) (*attemptResponse, error) {
		calls++
		return respWith(200, nil), nil
	}

	_, attempts, engErr := r.do(context.Background(), spec, send)
	if engErr == nil {
		t.Fatal("Expected circuit open error")
	}
	if engErr.Type != ErrorTypeCircuitOpen {
		t.Errorf("Expected CircuitOpen, got %s", engErr.Type)
	}
	if !errors.Is(engErr, ErrCircuitOpen) {
		t.Error("Expected errors.Is(err, ErrCircuitOpen)")
	}
	if calls != 0 || attempts != 0 {
		t.Errorf("Expected zero network attempts, got calls=%d attempts=%d", calls, attempts)
	}
}

func TestRetryCancellationDuringBackoff(t *testing.T) {
	r := newTestRetry(3, nil)
	r.policy.Base = 10 * time.Second // force a long backoff
	r.policy.Cap = 10 * time.Second
	spec := NewRequestSpec(http.MethodGet, "https://api.example.com/items", nil)

	ctx, cancel := context.WithCancel(context.Background())
	send := func(ctx context.Context, s *RequestSpec) (*attemptResponse, error) {
		return respWith(503, nil), nil
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, _, engErr := r.do(ctx, spec, send)
	if engErr == nil {
		t.Fatal("Expected cancellation error")
	}
	if engErr.Type != ErrorTypeTimeout {
		t.Errorf("Expected Timeout classification for cancellation, got %s", engErr.Type)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Cancellation should interrupt backoff promptly, took %v", elapsed)
	}
}

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{" 10 ", 10 * time.Second},
		{"0", 0},
		{"-3", 0},
		{"garbage", 0},
		{"7200", time.Hour}, // capped
	}

	for _, tc := range cases {
		if got := parseRetryAfter(tc.value); got != tc.want {
			t.Errorf("parseRetryAfter(%q): expected %v, got %v", tc.value, tc.want, got)
		}
	}

	// HTTP-date format.
	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got < 25*time.Second || got > 30*time.Second {
		t.Errorf("parseRetryAfter(http-date): expected about 30s, got %v", got)
	}
}

func TestEndpointFromURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://api.example.com/v2/items", "api.example.com/v2/items"},
		{"https://api.example.com/v2/items?$top=50", "api.example.com/v2/items"},
		{"https://api.example.com", "api.example.com/"},
		{"", "unknown"},
	}
	for _, tc := range cases {
		if got := endpointFromURL(tc.url); got != tc.want {
			t.Errorf("endpointFromURL(%q): expected %q, got %q", tc.url, tc.want, got)
		}
	}
}
