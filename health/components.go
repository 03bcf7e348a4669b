package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/rpclink/resilience"
)

// Pinger is implemented by cache stores backed by a connection, such as
// cache.SQLiteStore.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker reports a cache store as unhealthy when it stops answering
// pings.
type StoreChecker struct {
	name  string
	store Pinger
}

// NewStoreChecker creates a checker named name for store.
func NewStoreChecker(name string, store Pinger) *StoreChecker {
	return &StoreChecker{name: name, store: store}
}

// Name returns the checker name.
func (c *StoreChecker) Name() string {
	return c.name
}

// Check pings the store.
func (c *StoreChecker) Check(ctx context.Context) Result {
	if err := c.store.Ping(ctx); err != nil {
		return Unhealthy("cache store unreachable", fmt.Errorf("%w: %w", ErrCheckFailed, err))
	}
	return Healthy("cache store reachable")
}

// CircuitChecker maps a circuit breaker state onto a health status: closed is
// healthy, half-open degraded and open unhealthy.
type CircuitChecker struct {
	name string
	cb   *resilience.CircuitBreaker
}

// NewCircuitChecker creates a checker named name for cb.
func NewCircuitChecker(name string, cb *resilience.CircuitBreaker) *CircuitChecker {
	return &CircuitChecker{name: name, cb: cb}
}

// Name returns the checker name.
func (c *CircuitChecker) Name() string {
	return c.name
}

// Check reads the breaker state.
func (c *CircuitChecker) Check(_ context.Context) Result {
	m := c.cb.Metrics()
	details := map[string]any{
		"state":    m.State.String(),
		"failures": m.Failures,
		"trips":    m.Trips,
	}

	switch m.State {
	case resilience.StateOpen:
		return Unhealthy("circuit open", ErrCheckFailed).WithDetails(details)
	case resilience.StateHalfOpen:
		return Degraded("circuit half-open").WithDetails(details)
	default:
		return Healthy("circuit closed").WithDetails(details)
	}
}

var (
	_ Checker = (*StoreChecker)(nil)
	_ Checker = (*CircuitChecker)(nil)
)
