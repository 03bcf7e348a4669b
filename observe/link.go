package observe

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/observable"
)

// Middleware instruments operations with tracing, metrics, and logging.
//
// Contract:
//   - Concurrency: the Link returned by Link() is safe for concurrent use.
//   - Context: the span context is passed to the rest of the chain.
//   - Errors: errors from downstream are recorded and propagated unchanged.
//   - Ownership: operations and envelopes are passed through without modification.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
	now     func() time.Time
}

// NewMiddleware creates a new Middleware with the given observability components.
// Nil components are replaced with no-op implementations.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NewNoopTracer()
	}
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
// This is a convenience function for common use cases.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Factory returns the middleware as a link factory.
func (m *Middleware) Factory() link.Factory {
	return link.Static(m.Link())
}

// Link returns a link that spans the rest of the chain.
//
// The span starts when the result is subscribed and ends exactly once: on
// Error, on Complete, or when the subscriber unsubscribes first. An
// unsubscribe after data was delivered is recorded as a success.
func (m *Middleware) Link() link.Link {
	return func(ctx context.Context, op link.Operation, next link.NextFunc) link.ResultObservable {
		return observable.New(func(obs link.ResultObserver) observable.Teardown {
			meta := MetaFromOperation(op)
			spanCtx, span := m.tracer.StartSpan(ctx, meta)
			start := m.now()
			opLogger := m.logger.WithOperation(meta)

			var (
				once      sync.Once
				delivered atomic.Bool
			)
			finish := func(err error, cancelled bool) {
				once.Do(func() {
					duration := m.now().Sub(start)
					m.tracer.EndSpan(span, err)
					m.metrics.RecordOperation(spanCtx, meta, duration, err)

					fields := []Field{
						{Key: "duration_ms", Value: float64(duration.Milliseconds())},
					}
					switch {
					case err != nil:
						fields = append(fields,
							Field{Key: "error", Value: err.Error()},
							Field{Key: "code", Value: errorCode(err)},
						)
						opLogger.Error(spanCtx, "operation failed", fields...)
					case cancelled:
						opLogger.Info(spanCtx, "operation cancelled", fields...)
					default:
						opLogger.Info(spanCtx, "operation completed", fields...)
					}
				})
			}

			sub := next(spanCtx, op).Subscribe(observable.Funcs[link.Envelope]{
				OnNext: func(env link.Envelope) {
					delivered.Store(true)
					obs.Next(env)
				},
				OnError: func(err error) {
					finish(err, false)
					obs.Error(err)
				},
				OnComplete: func() {
					finish(nil, false)
					obs.Complete()
				},
			})

			return func() {
				sub.Unsubscribe()
				finish(nil, !delivered.Load())
			}
		})
	}
}
