// Package acfetch provides a resilient HTTP client built around a
// middleware pipeline over a fetch-like transport:
//
//   - Middleware composition with strict onion ordering and single-next
//     enforcement
//   - Request de-duplication (merges concurrent identical in-flight requests)
//   - Response caching with TTL, HTTP header semantics and
//     stale-while-revalidate
//   - Retries with exponential or decorrelated jitter and retry budgets
//   - Keyed rate limiting (sliding window or token bucket)
//   - Keyed circuit breaking (closed / open / half-open)
//   - Prometheus metrics and pluggable structured logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - No ambient global state: all keyed plugin state lives in explicit
//     instances, shareable through the Storage abstraction
//   - Safe concurrent use of a single *Client instance
//   - A typed error taxonomy so callers and retry policies can classify
//     every failure with errors.Is
//
// Typical usage:
//
//	client := acfetch.New(
//	    acfetch.WithRetry(acfetch.RetryConfig{MaxRetries: 3}),
//	    acfetch.WithRateLimiter(acfetch.RateLimiterConfig{Limit: 10, Window: time.Second}),
//	    acfetch.WithCache(5*time.Minute),
//	    acfetch.WithCircuitBreaker(acfetch.CircuitBreakerConfig{}),
//	    acfetch.WithDeduplication(),
//	)
//	resp, err := client.Get(ctx, "https://api.example.com/data")
//
// Every short-circuit decision (cache hit, dedupe hit, breaker rejection,
// rate limit) is observable through Context metadata and the error types in
// errors.go.
package acfetch
