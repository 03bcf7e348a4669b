package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/observable"
)

// TimeoutConfig configures the timeout link.
type TimeoutConfig struct {
	// Timeout is the maximum duration for a query or mutation.
	// Default: 30 seconds
	Timeout time.Duration
}

// Timeout bounds the time a query or mutation may take to settle.
// Subscriptions are long-lived and pass through.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a new timeout link.
func NewTimeout(config TimeoutConfig) *Timeout {
	// Apply defaults
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Timeout{config: config}
}

// Link returns the timeout as a link.
//
// The rest of the chain receives a context with the deadline. When it
// expires first, the rest of the chain is unsubscribed and the result fails
// with ErrTimeout.
func (t *Timeout) Link() link.Link {
	return func(ctx context.Context, op link.Operation, next link.NextFunc) link.ResultObservable {
		if op.Type == link.OpSubscription {
			return next(ctx, op)
		}

		return observable.New(func(obs link.ResultObserver) observable.Teardown {
			ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)

			var settled atomic.Bool
			sub := next(ctx, op).Subscribe(observable.Funcs[link.Envelope]{
				OnNext: obs.Next,
				OnError: func(err error) {
					if settled.CompareAndSwap(false, true) {
						if errors.Is(ctx.Err(), context.DeadlineExceeded) {
							err = reject(ErrTimeout, op)
						}
						cancel()
						obs.Error(err)
					}
				},
				OnComplete: func() {
					if settled.CompareAndSwap(false, true) {
						cancel()
						obs.Complete()
					}
				},
			})

			go func() {
				<-ctx.Done()
				if errors.Is(ctx.Err(), context.DeadlineExceeded) && settled.CompareAndSwap(false, true) {
					sub.Unsubscribe()
					obs.Error(reject(ErrTimeout, op))
				}
			}()

			return func() {
				cancel()
				sub.Unsubscribe()
			}
		})
	}
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}
