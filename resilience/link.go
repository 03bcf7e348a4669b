package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/observable"
)

// errCancelled is reported to after hooks when the subscriber leaves before
// the rest of the chain delivered anything.
var errCancelled = errors.New("resilience: unsubscribed")

// guarded admits op with before and then subscribes the rest of the chain.
//
// before runs on its own goroutine with a context that is cancelled on
// unsubscribe; a non-nil error rejects op without calling next. after runs
// exactly once for every admitted op, with the terminal error (nil on
// completion). A subscriber that leaves early reports nil if a value was
// delivered and errCancelled otherwise.
func guarded(ctx context.Context, op link.Operation, next link.NextFunc,
	before func(ctx context.Context) error, after func(err error)) link.ResultObservable {
	return observable.New(func(obs link.ResultObserver) observable.Teardown {
		ctx, cancel := context.WithCancel(ctx)

		var (
			mu        sync.Mutex
			inner     *observable.Subscription
			left      bool
			once      sync.Once
			delivered atomic.Bool
		)
		finish := func(err error) {
			once.Do(func() { after(err) })
		}
		abandon := func() {
			if delivered.Load() {
				finish(nil)
				return
			}
			finish(errCancelled)
		}

		go func() {
			if err := before(ctx); err != nil {
				obs.Error(reject(err, op))
				return
			}

			sub := next(ctx, op).Subscribe(observable.Funcs[link.Envelope]{
				OnNext: func(env link.Envelope) {
					delivered.Store(true)
					obs.Next(env)
				},
				OnError: func(err error) {
					finish(err)
					obs.Error(err)
				},
				OnComplete: func() {
					finish(nil)
					obs.Complete()
				},
			})

			mu.Lock()
			if left {
				mu.Unlock()
				sub.Unsubscribe()
				abandon()
				return
			}
			inner = sub
			mu.Unlock()
		}()

		return func() {
			cancel()
			mu.Lock()
			left = true
			sub := inner
			mu.Unlock()
			if sub != nil {
				sub.Unsubscribe()
				abandon()
			}
		}
	})
}

// Option configures the links returned by Links.
type Option func(*pipeline)

type pipeline struct {
	circuitBreaker *CircuitBreaker
	retry          *Retry
	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	timeout        *Timeout
}

// WithCircuitBreaker adds a circuit breaker.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(p *pipeline) {
		p.circuitBreaker = cb
	}
}

// WithRetry adds retry logic.
func WithRetry(r *Retry) Option {
	return func(p *pipeline) {
		p.retry = r
	}
}

// WithRateLimiter adds rate limiting.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(p *pipeline) {
		p.rateLimiter = rl
	}
}

// WithBulkhead adds bulkhead isolation.
func WithBulkhead(b *Bulkhead) Option {
	return func(p *pipeline) {
		p.bulkhead = b
	}
}

// WithTimeout adds a per-attempt deadline.
func WithTimeout(t *Timeout) Option {
	return func(p *pipeline) {
		p.timeout = t
	}
}

// Links returns the configured patterns as links, outermost first:
//
//  1. Rate Limiter - limits request rate
//  2. Bulkhead - limits concurrency
//  3. Circuit Breaker - prevents cascading failures
//  4. Retry - resubscribes on failure
//  5. Timeout - limits each attempt
func Links(opts ...Option) []link.Link {
	p := &pipeline{}
	for _, opt := range opts {
		opt(p)
	}

	var links []link.Link
	if p.rateLimiter != nil {
		links = append(links, p.rateLimiter.Link())
	}
	if p.bulkhead != nil {
		links = append(links, p.bulkhead.Link())
	}
	if p.circuitBreaker != nil {
		links = append(links, p.circuitBreaker.Link())
	}
	if p.retry != nil {
		links = append(links, p.retry.Link())
	}
	if p.timeout != nil {
		links = append(links, p.timeout.Link())
	}
	return links
}

// Factory chains Links(opts...) into one link factory. With no options the
// link passes operations through unchanged.
func Factory(opts ...Option) link.Factory {
	return link.Static(link.Chain(Links(opts...)...))
}
