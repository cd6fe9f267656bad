// Package restengine provides a resilient HTTP request engine with composable
// reliability primitives:
//
//   - Retries with exponential backoff + jitter
//   - Rate limiting (blocking token bucket)
//   - Circuit breaker (closed / open / half-open states)
//   - Bounded LRU session pool keyed by target host
//   - Async operation polling (202 Accepted + Location)
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area – functional options configure everything
//   - Explicit constructed instances, no package-level shared state
//   - Safe concurrent use of a single *Engine instance
//   - Fail-fast construction: invalid configuration is rejected by New
//
// Typical usage:
//
//	engine, err := restengine.New(
//	    restengine.WithBearerToken(token),
//	    restengine.WithMaxRetries(3),
//	    restengine.WithRateLimit(10, 2),
//	    restengine.WithCircuitBreaker(restengine.CircuitBreakerConfig{}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := engine.Get(ctx, "https://api.example.com/data")
//
// A 202 Accepted response carrying a Location header is transparently polled
// until completion; the final payload is returned as the OperationResult.
// The library avoids opinionated logging: provide a Logger (e.g. via
// WithZeroLogger) and enable debug selectively for insight without noise.
package restengine
