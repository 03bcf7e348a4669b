// Package health reports whether the components behind an rpclink pipeline
// can serve operations.
//
// Checkers cover the cache store (StoreChecker) and the circuit breaker
// guarding the transport (CircuitChecker). An Aggregator runs them
// concurrently under a timeout, and the HTTP handlers expose the result as
// liveness, readiness and detailed JSON endpoints:
//
//	agg := health.NewAggregator(health.AggregatorConfig{})
//	agg.Register(health.NewStoreChecker("cache", store))
//	agg.Register(health.NewCircuitChecker("upstream", breaker))
//	health.RegisterHandlers(mux, agg)
package health
