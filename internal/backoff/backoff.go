// Package backoff centralizes delay calculation shared by the retry executor
// and the async operation poller. Both loops derive their waits from one
// Policy so retry storms and poll storms are de-synchronized the same way.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes exponential backoff with multiplicative uniform jitter.
// The computed delay for attempt n is min(Cap, Base*Factor^n) scaled by a
// random factor drawn from [JitterMin, JitterMax].
type Policy struct {
	Base      time.Duration
	Factor    float64
	Cap       time.Duration
	JitterMin float64
	JitterMax float64
}

// Delay returns the jittered backoff duration for the given attempt index
// (0-based). The un-jittered delay is monotonically non-decreasing in the
// attempt index and never exceeds Cap.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Prevent overflow by limiting attempt
	if attempt > 30 {
		attempt = 30
	}

	delay := time.Duration(float64(p.Base) * pow(p.Factor, attempt))
	if delay < 0 || delay > p.Cap {
		delay = p.Cap
	}
	return p.Jitter(delay)
}

// Jitter scales d by a uniform random factor in [JitterMin, JitterMax].
// A degenerate range (max <= min) applies the min factor deterministically.
func (p Policy) Jitter(d time.Duration) time.Duration {
	minF, maxF := p.JitterMin, p.JitterMax
	if minF <= 0 {
		minF = 1.0
	}
	if maxF < minF {
		maxF = minF
	}
	factor := minF
	if maxF > minF {
		factor = minF + rand.Float64()*(maxF-minF)
	}
	out := time.Duration(float64(d) * factor)
	if out < 0 {
		out = 0
	}
	return out
}

// JitterUp scales d by a uniform random factor in [1, JitterMax], so the
// result is never shorter than d. Server-supplied delay hints go through
// this: honoring the requested minimum while still de-synchronizing callers.
func (p Policy) JitterUp(d time.Duration) time.Duration {
	if p.JitterMax <= 1 {
		return d
	}
	factor := 1 + rand.Float64()*(p.JitterMax-1)
	return time.Duration(float64(d) * factor)
}

// Sleep blocks for d or until ctx is done, whichever comes first. It returns
// ctx.Err() when the wait was interrupted by cancellation or deadline.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pow calculates base^exponent using integer exponentiation.
func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
