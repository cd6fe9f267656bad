package restengine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tentixo/restengine/internal/backoff"
)

// pendingOperation tracks one 202-style deferred completion from acceptance
// until the poll loop terminates.
type pendingOperation struct {
	locationURL string
	startedAt   time.Time
	hint        time.Duration
}

// asyncPoller resolves 202 Accepted responses by polling the Location URL
// until the server reports completion or the wall-clock budget runs out.
// Poll requests go through the retry executor, so transient failures during
// polling get the same backoff treatment as any other request; a response
// that merely says "still pending" never counts as a breaker failure.
type asyncPoller struct {
	interval time.Duration
	maxWait  time.Duration
	policy   backoff.Policy
	retry    *retryExecutor
	metrics  *MetricsCollector
	logger   Logger
}

// poll drives the pending operation to completion. It returns the final
// response, the number of polls issued, and the total attempts consumed by
// poll requests.
func (ap *asyncPoller) poll(ctx context.Context, spec *RequestSpec, accepted *attemptResponse, send sendFunc) (*attemptResponse, int, int, *EngineError) {
	location := accepted.Header.Get("Location")
	if location == "" {
		// Nothing to poll; surface the acceptance as-is.
		ap.logger.Warn("202 response missing Location header", "url", spec.URL)
		return accepted, 0, 0, nil
	}

	location = resolveLocation(spec.URL, location)

	pending := &pendingOperation{
		locationURL: location,
		startedAt:   time.Now(),
		hint:        parseRetryAfter(accepted.Header.Get("Retry-After")),
	}
	if pending.hint <= 0 {
		pending.hint = ap.interval
	}

	endpoint := endpointFromURL(location)
	ap.logger.Info("async operation started", "location", location, "hint", pending.hint)

	pollSpec := NewRequestSpec(http.MethodGet, location, nil)
	polls := 0
	attempts := 0

	for time.Since(pending.startedAt) < ap.maxWait {
		// Cap the wait at the remaining budget so a large Retry-After hint
		// cannot sleep past the deadline; at most one poll runs at the edge.
		wait := ap.policy.JitterUp(pending.hint)
		if remaining := ap.maxWait - time.Since(pending.startedAt); wait > remaining {
			wait = remaining
		}
		ap.logger.Debug("polling async operation", "poll", polls+1, "wait", wait)
		if err := backoff.Sleep(ctx, wait); err != nil {
			return nil, polls, attempts, &EngineError{
				Type:     ErrorTypeTimeout,
				Message:  "canceled while waiting to poll async operation",
				Cause:    err,
				Attempts: attempts,
			}
		}

		polls++
		if ap.metrics != nil {
			ap.metrics.RecordAsyncPoll(http.MethodGet, endpoint)
		}

		resp, n, engErr := ap.retry.do(ctx, pollSpec, send)
		attempts += n
		if engErr != nil {
			engErr.Attempts = attempts
			return nil, polls, attempts, engErr
		}

		if resp.StatusCode == http.StatusAccepted {
			// Still pending; refresh the wait hint if the server sent one.
			if hinted := parseRetryAfter(resp.Header.Get("Retry-After")); hinted > 0 {
				pending.hint = hinted
			}
			continue
		}

		ap.logger.Info("async operation completed", "location", location, "polls", polls)
		return resp, polls, attempts, nil
	}

	elapsed := time.Since(pending.startedAt)
	return nil, polls, attempts, &EngineError{
		Type:     ErrorTypeTimeout,
		Message:  fmt.Sprintf("async operation timed out after %v (%d polls)", elapsed.Round(time.Millisecond), polls),
		Cause:    ErrPollTimeout,
		Attempts: attempts,
	}
}

// resolveLocation resolves a possibly-relative Location header against the
// originating request URL.
func resolveLocation(base, location string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return location
	}
	locURL, err := url.Parse(location)
	if err != nil {
		return location
	}
	return baseURL.ResolveReference(locURL).String()
}
