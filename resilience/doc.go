// Package resilience provides resilience links for operation chains.
//
// Each pattern is configured once and exposes Link, so the same breaker,
// limiter or bulkhead state is shared by every operation that flows through
// it. The patterns sit in front of the cache link and the transport.
//
// # Patterns
//
//   - Circuit Breaker: stops issuing operations after repeated failures and
//     lets trial requests through to test recovery after ResetTimeout.
//
//   - Retry: resubscribes queries and mutations that fail before delivering
//     data, with exponential, linear or constant backoff.
//
//   - Rate Limiter: a token bucket (golang.org/x/time/rate) in front of the
//     chain.
//
//   - Bulkhead: bounds operations in flight (golang.org/x/sync/semaphore).
//
//   - Timeout: a per-attempt deadline for queries and mutations.
//
// Local rejections fail with a *link.ClientError wrapping ErrCircuitOpen,
// ErrRateLimitExceeded, ErrBulkheadFull or ErrTimeout.
//
// # Usage
//
//	l := resilience.Factory(
//	    resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: 50})),
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 3})),
//	    resilience.WithTimeout(resilience.NewTimeout(resilience.TimeoutConfig{Timeout: 5 * time.Second})),
//	)
//
//	chain, err := link.Compose(rt, l, cache.NewLink(opts), procedure.Link(caller))
package resilience
