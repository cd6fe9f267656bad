package restengine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestEngineErrorMessage(t *testing.T) {
	err := &EngineError{
		Type:    ErrorTypeOperation,
		Message: "GET failed after 4 attempts",
	}
	got := err.Error()
	if !strings.Contains(got, "Operation") || !strings.Contains(got, "GET failed after 4 attempts") {
		t.Errorf("Unexpected error string: %q", got)
	}
	if strings.Contains(got, "attempts:") {
		t.Errorf("Expected no attempt suffix without attempts, got %q", got)
	}
}

func TestEngineErrorMessageWithContext(t *testing.T) {
	cause := errors.New("connection refused")
	err := &EngineError{
		Type:     ErrorTypeTransientNetwork,
		Message:  "request failed",
		Cause:    cause,
		Attempts: 3,
		Elapsed:  1500 * time.Millisecond,
	}
	got := err.Error()
	for _, want := range []string{"TransientNetwork", "connection refused", "attempts: 3", "1.5s"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected %q in error string %q", want, got)
		}
	}
}

func TestEngineErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &EngineError{Type: ErrorTypeOperation, Message: "wrapped", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to reach the cause")
	}

	var nilErr *EngineError
	if nilErr.Unwrap() != nil {
		t.Error("Expected nil Unwrap on nil receiver")
	}
}

func TestEngineErrorIsMatchesByType(t *testing.T) {
	err := fmt.Errorf("call failed: %w", &EngineError{Type: ErrorTypeRateLimited, Message: "too many requests"})

	if !errors.Is(err, &EngineError{Type: ErrorTypeRateLimited}) {
		t.Error("Expected match on same type")
	}
	if errors.Is(err, &EngineError{Type: ErrorTypeTimeout}) {
		t.Error("Expected no match on different type")
	}
}

func TestEngineErrorIsMatchesSentinels(t *testing.T) {
	cases := []struct {
		errType  ErrorType
		sentinel error
	}{
		{ErrorTypeCircuitOpen, ErrCircuitOpen},
		{ErrorTypeRateLimited, ErrRateLimited},
		{ErrorTypeTimeout, ErrPollTimeout},
	}
	for _, tc := range cases {
		err := &EngineError{Type: tc.errType, Message: "x"}
		if !errors.Is(err, tc.sentinel) {
			t.Errorf("Expected %s to match its sentinel", tc.errType)
		}
	}
	if errors.Is(&EngineError{Type: ErrorTypeOperation}, ErrCircuitOpen) {
		t.Error("Expected Operation not to match ErrCircuitOpen")
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", &EngineError{Type: ErrorTypeTransientNetwork}, true},
		{"timeout", &EngineError{Type: ErrorTypeTimeout}, true},
		{"rate limited", &EngineError{Type: ErrorTypeRateLimited}, true},
		{"circuit open", &EngineError{Type: ErrorTypeCircuitOpen}, true},
		{"server error", &EngineError{Type: ErrorTypeOperation, StatusCode: 503}, true},
		{"client error", &EngineError{Type: ErrorTypeOperation, StatusCode: 404}, false},
		{"authentication", &EngineError{Type: ErrorTypeAuthentication, StatusCode: 401}, false},
		{"validation", &EngineError{Type: ErrorTypeValidation}, false},
		{"plain error", errors.New("boom"), false},
		{"bare sentinel", ErrCircuitOpen, true},
		{"wrapped", fmt.Errorf("ctx: %w", &EngineError{Type: ErrorTypeTimeout}), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestDebugInfo(t *testing.T) {
	err := &EngineError{
		Type:       ErrorTypeOperation,
		Message:    "server error",
		Method:     "DELETE",
		URL:        "https://api.example.com/items/9",
		StatusCode: 500,
		Attempts:   4,
		Elapsed:    2 * time.Second,
		Timestamp:  time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
		Cause:      errors.New("upstream exploded"),
	}
	info := err.DebugInfo()
	for _, want := range []string{
		"Error Type: Operation",
		"Method: DELETE",
		"URL: https://api.example.com/items/9",
		"Status Code: 500",
		"Attempts: 4",
		"Timestamp: 2026-08-29T12:00:00Z",
		"Cause: upstream exploded",
	} {
		if !strings.Contains(info, want) {
			t.Errorf("Expected %q in debug info:\n%s", want, info)
		}
	}

	var nilErr *EngineError
	if nilErr.DebugInfo() != "Error: <nil>" {
		t.Errorf("Unexpected nil debug info: %q", nilErr.DebugInfo())
	}
}
