package restengine

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRateLimiterBurstThenThrottle(t *testing.T) {
	rl := NewRateLimiter(10, 3)
	ctx := context.Background()

	// The initial burst is free.
	for i := 0; i < 3; i++ {
		wait, err := rl.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		if wait > 10*time.Millisecond {
			t.Errorf("Acquire %d: expected no wait during burst, waited %v", i, wait)
		}
	}

	// The bucket is empty now; the next acquisition must wait ~100ms.
	start := time.Now()
	wait, err := rl.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after burst failed: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 50*time.Millisecond {
		t.Errorf("Expected a throttled wait of about 100ms, elapsed %v", elapsed)
	}
	if wait <= 0 {
		t.Errorf("Expected reported wait > 0, got %v", wait)
	}
}

func TestRateLimiterRollingWindow(t *testing.T) {
	// At 10 calls/sec with burst 1, 4 acquisitions need at least ~300ms of
	// refill after the initial token.
	rl := NewRateLimiter(10, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		if _, err := rl.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	elapsed := time.Since(start)
	if elapsed < 250*time.Millisecond {
		t.Errorf("4 acquisitions at 10/sec finished in %v; limiter is not pacing", elapsed)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		wait, err := rl.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if wait != 0 {
			t.Fatalf("Expected zero wait from disabled limiter, got %v", wait)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Disabled limiter should be a no-op, took %v", elapsed)
	}
}

func TestRateLimiterNilReceiver(t *testing.T) {
	var rl *RateLimiter
	wait, err := rl.Acquire(context.Background())
	if err != nil || wait != 0 {
		t.Errorf("Expected nil limiter to be a no-op, got wait=%v err=%v", wait, err)
	}
	if rl.Tokens() != 0 {
		t.Errorf("Expected nil limiter Tokens()=0")
	}
}

func TestRateLimiterContextCancellation(t *testing.T) {
	rl := NewRateLimiter(0.1, 1) // one token per 10s after the burst
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := rl.Acquire(ctx); err != nil {
		t.Fatalf("Burst acquire failed: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := rl.Acquire(ctx)
	if err == nil {
		t.Fatal("Expected cancellation error while waiting for token")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Cancellation should interrupt the wait promptly, took %v", elapsed)
	}
}

func TestRateLimiterTokensNeverExceedCapacity(t *testing.T) {
	rl := NewRateLimiter(1000, 5)
	time.Sleep(50 * time.Millisecond)

	if tokens := rl.Tokens(); tokens > 5 {
		t.Errorf("Tokens %v exceed capacity 5", tokens)
	}
}

func TestRateLimiterConcurrentAcquire(t *testing.T) {
	rl := NewRateLimiter(100, 10)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := rl.Acquire(ctx); err != nil {
				t.Errorf("Concurrent Acquire failed: %v", err)
			}
		}()
	}
	wg.Wait()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.tokens < 0 || rl.tokens > rl.capacity {
		t.Errorf("Token count %v outside [0, %v]", rl.tokens, rl.capacity)
	}
}
