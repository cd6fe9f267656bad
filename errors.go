package restengine

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType classifies an EngineError per the engine's failure taxonomy.
type ErrorType string

const (
	// ErrorTypeAuthentication marks 401/403 responses; never retried.
	ErrorTypeAuthentication ErrorType = "Authentication"
	// ErrorTypeRateLimited marks a 429 that survived retry exhaustion.
	ErrorTypeRateLimited ErrorType = "RateLimited"
	// ErrorTypeCircuitOpen marks a request rejected by the breaker with no
	// network attempt.
	ErrorTypeCircuitOpen ErrorType = "CircuitOpen"
	// ErrorTypeTimeout marks an attempt timeout that survived retries or an
	// async poll that exceeded its wall-clock budget.
	ErrorTypeTimeout ErrorType = "Timeout"
	// ErrorTypeOperation marks generic non-retryable failures such as
	// persistent 4xx responses or a 5xx left over after retries.
	ErrorTypeOperation ErrorType = "Operation"
	// ErrorTypeTransientNetwork marks a network-level failure that was
	// retried internally and only surfaced because retries ran out.
	ErrorTypeTransientNetwork ErrorType = "TransientNetwork"
	// ErrorTypeValidation marks invalid engine configuration at construction.
	ErrorTypeValidation ErrorType = "Validation"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrCircuitOpen is returned when the circuit breaker is in open state.
	ErrCircuitOpen = errors.New("restengine: circuit open")

	// ErrRateLimited is returned when a rate-limit wait is interrupted or a
	// 429 exhausts its retries.
	ErrRateLimited = errors.New("restengine: rate limited")

	// ErrPollTimeout is returned when an async operation does not complete
	// within the configured wall-clock budget.
	ErrPollTimeout = errors.New("restengine: async operation timed out")
)

// EngineError is the classified error surfaced by the engine. Every surfaced
// error carries the number of attempts made and the total elapsed time so
// callers can distinguish a fast circuit rejection from retry exhaustion.
type EngineError struct {
	Type       ErrorType
	Message    string
	Cause      error
	Method     string
	URL        string
	StatusCode int
	Attempts   int
	Elapsed    time.Duration
	Timestamp  time.Time
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s (attempts: %d, elapsed: %v)", msg, e.Attempts, e.Elapsed.Round(time.Millisecond))
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types so errors.Is can match by taxonomy.
func (e *EngineError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*EngineError); ok {
		return e.Type == targetErr.Type
	}
	switch {
	case errors.Is(target, ErrCircuitOpen):
		return e.Type == ErrorTypeCircuitOpen
	case errors.Is(target, ErrRateLimited):
		return e.Type == ErrorTypeRateLimited
	case errors.Is(target, ErrPollTimeout):
		return e.Type == ErrorTypeTimeout
	}
	return false
}

// IsTransient reports whether err represents a failure that might succeed on
// retry: network errors, timeouts, 5xx leftovers, rate limiting, and open
// circuits. 4xx client errors other than 429 are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) {
		return true
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		switch engineErr.Type {
		case ErrorTypeTransientNetwork, ErrorTypeTimeout, ErrorTypeRateLimited, ErrorTypeCircuitOpen:
			return true
		case ErrorTypeOperation:
			return engineErr.StatusCode >= 500
		default:
			return false
		}
	}

	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *EngineError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempts > 0 {
		info += fmt.Sprintf("Attempts: %d\n", e.Attempts)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Elapsed > 0 {
		info += fmt.Sprintf("Elapsed: %v\n", e.Elapsed)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
