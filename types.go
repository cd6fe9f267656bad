package restengine

import (
	"encoding/json"
	"net/http"
	"time"
)

// RequestSpec is the immutable input to one logical engine call. Build one
// with NewRequestSpec or let the verb helpers (Get, Post, ...) assemble it.
type RequestSpec struct {
	Method     string
	URL        string
	Header     http.Header
	Body       []byte
	Idempotent bool
}

// NewRequestSpec builds a RequestSpec with idempotency defaulted from the
// method per RFC 7231 semantics. Request options may override anything.
func NewRequestSpec(method, url string, body []byte, opts ...RequestOption) *RequestSpec {
	spec := &RequestSpec{
		Method:     method,
		URL:        url,
		Header:     make(http.Header),
		Body:       body,
		Idempotent: isIdempotentMethod(method),
	}
	for _, opt := range opts {
		opt(spec)
	}
	return spec
}

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}

// RequestOption customizes a single RequestSpec.
type RequestOption func(*RequestSpec)

// WithRequestHeader sets a header on this request, overriding any default the
// engine would attach.
func WithRequestHeader(key, value string) RequestOption {
	return func(s *RequestSpec) {
		s.Header.Set(key, value)
	}
}

// WithIdempotent overrides the method-derived idempotency flag. Marking a
// POST idempotent (e.g. when the server honors idempotency keys) allows it to
// be retried on ambiguous network failures.
func WithIdempotent(idempotent bool) RequestOption {
	return func(s *RequestSpec) {
		s.Idempotent = idempotent
	}
}

// WithIfMatch attaches an If-Match header for optimistic concurrency on
// PATCH and DELETE.
func WithIfMatch(etag string) RequestOption {
	return func(s *RequestSpec) {
		s.Header.Set("If-Match", etag)
	}
}

// OperationResult is the outcome of one logical call including all retries
// and async polls. It is immutable after return.
type OperationResult struct {
	Success    bool
	StatusCode int
	Header     http.Header
	Payload    []byte
	Attempts   int
	Polls      int
	Elapsed    time.Duration
}

// JSON decodes the payload into v. An empty payload decodes to the zero
// value without error, matching servers that return 204-style empty bodies.
func (r *OperationResult) JSON(v any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(r.Payload, v)
}
