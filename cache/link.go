package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/observable"
	"github.com/jonwraymond/rpclink/observe"
	"github.com/jonwraymond/rpclink/procedure"
	"github.com/jonwraymond/rpclink/transformer"
)

// Link configuration errors, returned synchronously by the factory.
var (
	ErrMissingCreateContext = errors.New("cache: link requires Runtime.CreateContext")
	ErrMissingCaller        = errors.New("cache: link requires a Caller")
)

// LinkOptions configures the cache link. It is read once when the link is
// built.
type LinkOptions struct {
	// Caller executes procedures. Required.
	Caller procedure.Caller

	// CacheContext selects the request-context values that take part in the
	// cache tag, in order. Nil selects none.
	CacheContext func(reqCtx any) []any

	// Policy holds the default revalidate window and its cap.
	Policy Policy

	// Transformer serializes results before they are stored. Defaults to
	// transformer.Default().
	Transformer transformer.Transformer

	// Store holds serialized results. Defaults to a new MemoryStore.
	Store Store

	// Tagger derives cache tags. Defaults to DefaultTagger.
	Tagger Tagger

	// Logger receives hit/miss and failure logs. Defaults to a no-op logger.
	Logger observe.Logger

	// Meter records rpc.cache.hits and rpc.cache.misses. Defaults to no-op.
	Meter metric.Meter
}

// state is the stage an operation has reached inside the cache link.
type state int

const (
	stateIdle state = iota
	stateResolvingContext
	stateComputingTag
	stateExecuting
	stateSerializing
	stateEmitting
	stateComplete
	stateErrored
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateResolvingContext:
		return "context-resolving"
	case stateComputingTag:
		return "tag-computing"
	case stateExecuting:
		return "executing"
	case stateSerializing:
		return "serializing"
	case stateEmitting:
		return "emitting"
	case stateComplete:
		return "complete"
	case stateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

type cacheLink struct {
	caller        procedure.Caller
	cacheContext  func(any) []any
	policy        Policy
	transformer   transformer.Transformer
	store         Store
	tagger        Tagger
	logger        observe.Logger
	createContext func(context.Context) (any, error)
	hits          metric.Int64Counter
	misses        metric.Int64Counter
}

// NewLink returns the cache link factory.
//
// Queries are executed through Store.GetOrCompute under Key(path, tag), with
// the tag as their only invalidation tag. Mutations are executed directly and
// never stored. Subscriptions are forwarded to the next link unchanged.
//
// Contract:
//   - Configuration: the factory fails with ErrMissingCreateContext when the
//     runtime has no CreateContext and with ErrMissingCaller without a Caller.
//   - Delivery: a query or mutation emits exactly one data result followed by
//     completion, or exactly one *link.ClientError.
//   - Cancellation: unsubscribing discards the result; in-flight work runs to
//     completion so other callers sharing the key still get it.
func NewLink(opts LinkOptions) link.Factory {
	return func(rt link.Runtime) (link.Link, error) {
		if rt.CreateContext == nil {
			return nil, ErrMissingCreateContext
		}
		if opts.Caller == nil {
			return nil, ErrMissingCaller
		}

		c, err := newCacheLink(opts, rt.CreateContext)
		if err != nil {
			return nil, err
		}
		return c.run, nil
	}
}

func newCacheLink(opts LinkOptions, createContext func(context.Context) (any, error)) (*cacheLink, error) {
	c := &cacheLink{
		caller:        opts.Caller,
		cacheContext:  opts.CacheContext,
		policy:        opts.Policy,
		transformer:   opts.Transformer,
		store:         opts.Store,
		tagger:        opts.Tagger,
		logger:        opts.Logger,
		createContext: createContext,
	}

	if c.transformer.Input == nil && c.transformer.Output == nil {
		c.transformer = transformer.Default()
	}
	if err := c.transformer.Validate(); err != nil {
		return nil, err
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.tagger == nil {
		c.tagger = NewDefaultTagger()
	}
	if c.logger == nil {
		c.logger = observe.NopLogger()
	}

	meter := opts.Meter
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("noop")
	}

	var err error
	c.hits, err = meter.Int64Counter(
		"rpc.cache.hits",
		metric.WithDescription("Queries served from the cache store"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}
	c.misses, err = meter.Int64Counter(
		"rpc.cache.misses",
		metric.WithDescription("Queries that executed the procedure"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *cacheLink) run(ctx context.Context, op link.Operation, next link.NextFunc) link.ResultObservable {
	if op.Type == link.OpSubscription {
		return next(ctx, op)
	}

	return observable.New(func(obs link.ResultObserver) observable.Teardown {
		go c.execute(ctx, op, obs)
		return nil
	})
}

// execution tracks one operation through the cache link.
type execution struct {
	c        *cacheLink
	op       link.Operation
	logger   observe.Logger
	state    atomic.Int32
	computed atomic.Bool
}

// enter records the stage reached. Compute may run on a store goroutine, so
// the stage is atomic.
func (e *execution) enter(s state) {
	e.state.Store(int32(s))
}

func (e *execution) current() state {
	return state(e.state.Load())
}

func (c *cacheLink) execute(ctx context.Context, op link.Operation, obs link.ResultObserver) {
	e := &execution{
		c:      c,
		op:     op,
		logger: c.logger.WithOperation(observe.MetaFromOperation(op)),
	}

	data, err := e.resolve(ctx)
	if err != nil {
		failed := e.current()
		e.enter(stateErrored)
		e.logger.Warn(ctx, "cache link failed",
			observe.Field{Key: "stage", Value: failed.String()},
			observe.Field{Key: "error", Value: err.Error()},
		)
		obs.Error(link.FromError(err, op))
		return
	}

	e.enter(stateEmitting)
	obs.Next(link.DataEnvelope(data))
	obs.Complete()
	e.enter(stateComplete)
}

func (e *execution) resolve(ctx context.Context) (any, error) {
	e.enter(stateResolvingContext)
	reqCtx, err := e.c.createContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: create context: %w", err)
	}

	e.enter(stateComputingTag)
	var values []any
	if e.c.cacheContext != nil {
		values = e.c.cacheContext(reqCtx)
	}
	tag, err := e.c.tagger.Tag(e.op.Path, e.op.Input, values)
	if err != nil {
		return nil, err
	}

	req := procedure.Request{
		Type:  e.op.Type,
		Path:  e.op.Path,
		Input: e.op.Input,
		Ctx:   reqCtx,
		Tag:   tag,
	}

	e.enter(stateExecuting)
	var raw []byte
	if e.op.Type == link.OpQuery {
		raw, err = e.query(ctx, req)
	} else {
		raw, err = e.call(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	data, err := e.c.transformer.Output.Deserialize(raw)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (e *execution) query(ctx context.Context, req procedure.Request) ([]byte, error) {
	revalidate := e.c.policy.Effective(e.op)
	key := Key(req.Path, req.Tag)

	start := time.Now()
	raw, err := e.c.store.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		e.computed.Store(true)
		return e.call(ctx, req)
	}, Options{Revalidate: revalidate, Tags: []string{req.Tag}})
	if err != nil {
		return nil, err
	}

	attrs := metric.WithAttributes(attribute.String("rpc.path", req.Path))
	fields := []observe.Field{
		{Key: "tag", Value: req.Tag},
		{Key: "revalidate", Value: revalidate.String()},
		{Key: "duration_ms", Value: float64(time.Since(start).Milliseconds())},
	}
	if e.computed.Load() {
		e.c.misses.Add(ctx, 1, attrs)
		e.logger.Debug(ctx, "cache miss", fields...)
	} else {
		e.c.hits.Add(ctx, 1, attrs)
		e.logger.Debug(ctx, "cache hit", fields...)
	}
	return raw, nil
}

// call executes the procedure and serializes its result.
func (e *execution) call(ctx context.Context, req procedure.Request) ([]byte, error) {
	result, err := e.c.caller.Call(ctx, req)
	if err != nil {
		return nil, err
	}

	e.enter(stateSerializing)
	return e.c.transformer.Input.Serialize(result)
}
