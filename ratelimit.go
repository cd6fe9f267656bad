package restengine

import (
	"context"
	"sync"
	"time"

	"github.com/tentixo/restengine/internal/backoff"
)

// RateLimiter is a blocking token-bucket throttle. Tokens accumulate at a
// fixed rate up to a burst capacity; each acquisition consumes one token,
// naturally smoothing bursts. A zero or negative rate disables the limiter
// entirely and Acquire becomes a no-op.
type RateLimiter struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	capacity float64
	tokens   float64
	lastAt   time.Time
	now      func() time.Time
}

// NewRateLimiter creates a limiter sustaining callsPerSecond with the given
// burst capacity. Burst sizes below one are raised to one so a single call
// can always proceed once refilled.
func NewRateLimiter(callsPerSecond, burstSize float64) *RateLimiter {
	if burstSize < 1 {
		burstSize = 1
	}
	return &RateLimiter{
		rate:     callsPerSecond,
		capacity: burstSize,
		tokens:   burstSize,
		lastAt:   time.Now(),
		now:      time.Now,
	}
}

// Acquire blocks until a token is available or ctx is done, then consumes
// one token. It returns the wait incurred for observability. All bucket
// state is read and written inside the limiter's lock; the lock is never
// held while sleeping.
func (rl *RateLimiter) Acquire(ctx context.Context) (time.Duration, error) {
	if rl == nil || rl.rate <= 0 {
		return 0, nil
	}

	var waited time.Duration
	for {
		rl.mu.Lock()
		now := rl.now()
		elapsed := now.Sub(rl.lastAt).Seconds()
		if elapsed > 0 {
			rl.tokens += elapsed * rl.rate
			if rl.tokens > rl.capacity {
				rl.tokens = rl.capacity
			}
		}
		rl.lastAt = now

		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return waited, nil
		}

		wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		if err := backoff.Sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
	}
}

// Tokens returns the number of currently available tokens after refill,
// for metrics and tests.
func (rl *RateLimiter) Tokens() float64 {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	tokens := rl.tokens + now.Sub(rl.lastAt).Seconds()*rl.rate
	if tokens > rl.capacity {
		tokens = rl.capacity
	}
	return tokens
}
