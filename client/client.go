package client

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/jonwraymond/rpclink/auth"
	"github.com/jonwraymond/rpclink/health"
	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/observable"
)

// DefaultStreamBuffer is the number of subscription results buffered ahead
// of the reader.
const DefaultStreamBuffer = 16

// Options configures New.
type Options struct {
	// Links form the chain, outermost first. The last link must terminate
	// operations. Required.
	Links []link.Factory

	// CreateContext resolves the request context of each operation.
	// Default: auth.CreateContext
	CreateContext func(ctx context.Context) (any, error)

	// Headers are attached to every operation (auth.WithHeaders). Headers
	// already on the context take precedence.
	Headers http.Header

	// StreamBuffer sizes Subscribe streams. Default: DefaultStreamBuffer
	StreamBuffer int
}

// Client issues operations through a composed link chain.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - IDs: operation IDs increase monotonically from 1 per client.
//   - Context: Query and Mutate return ctx.Err() and unsubscribe when ctx
//     ends first; a Stream ends when ctx ends or Close is called.
type Client struct {
	chain         link.Link
	createContext func(ctx context.Context) (any, error)
	headers       http.Header
	buffer        int
	ids           atomic.Int64

	// Set by FromConfig.
	cache    *cacheHandle
	identify func(ctx context.Context) (*auth.Identity, error)
	health   *health.Aggregator
	closers  []func(context.Context) error
}

// New composes opts.Links into a client.
func New(opts Options) (*Client, error) {
	if len(opts.Links) == 0 {
		return nil, ErrNoLinks
	}
	if opts.CreateContext == nil {
		opts.CreateContext = auth.CreateContext
	}
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = DefaultStreamBuffer
	}

	chain, err := link.Compose(link.Runtime{CreateContext: opts.CreateContext}, opts.Links...)
	if err != nil {
		return nil, err
	}
	return &Client{
		chain:         chain,
		createContext: opts.CreateContext,
		headers:       opts.Headers.Clone(),
		buffer:        opts.StreamBuffer,
	}, nil
}

// CallOption adjusts the context of a single operation.
type CallOption func(link.Context) link.Context

// WithRevalidate overrides the cache window for one operation.
func WithRevalidate(r link.Revalidate) CallOption {
	return func(c link.Context) link.Context {
		return c.WithRevalidate(r)
	}
}

// WithContextValue sets an operation context value for downstream links.
func WithContextValue(key string, value any) CallOption {
	return func(c link.Context) link.Context {
		return c.With(key, value)
	}
}

// NextID reserves a fresh operation ID.
func (c *Client) NextID() int64 {
	return c.ids.Add(1)
}

// Operation builds an operation with a fresh ID.
func (c *Client) Operation(t link.OpType, path string, input any, opts ...CallOption) link.Operation {
	var lc link.Context
	for _, opt := range opts {
		lc = opt(lc)
	}
	return link.Operation{
		ID:      c.NextID(),
		Type:    t,
		Path:    path,
		Input:   input,
		Context: lc,
	}
}

// Execute runs op through the chain. An operation without an ID gets one.
func (c *Client) Execute(ctx context.Context, op link.Operation) link.ResultObservable {
	if op.ID == 0 {
		op.ID = c.NextID()
	}
	if op.Path == "" {
		return link.Fail(ErrEmptyPath, op)
	}
	return link.Execute(c.withHeaders(ctx), c.chain, op)
}

// Query runs a query and returns its result.
func (c *Client) Query(ctx context.Context, path string, input any, opts ...CallOption) (any, error) {
	return c.await(ctx, c.Operation(link.OpQuery, path, input, opts...))
}

// Mutate runs a mutation and returns its result.
func (c *Client) Mutate(ctx context.Context, path string, input any, opts ...CallOption) (any, error) {
	return c.await(ctx, c.Operation(link.OpMutation, path, input, opts...))
}

func (c *Client) await(ctx context.Context, op link.Operation) (any, error) {
	p := observable.ToPromise(c.Execute(ctx, op))
	env, err := p.Await(ctx)
	if err != nil {
		p.Cancel()
		return nil, err
	}
	return env.Result.Data, nil
}

// Subscribe starts a subscription. Close the stream when done.
func (c *Client) Subscribe(ctx context.Context, path string, input any, opts ...CallOption) *Stream {
	op := c.Operation(link.OpSubscription, path, input, opts...)
	return &Stream{src: observable.ToStream(c.Execute(ctx, op), c.buffer)}
}

// withHeaders attaches the configured headers beneath those already on ctx.
func (c *Client) withHeaders(ctx context.Context) context.Context {
	if len(c.headers) == 0 {
		return ctx
	}
	merged := c.headers.Clone()
	for k, v := range auth.HeadersFromContext(ctx) {
		merged[k] = v
	}
	return auth.WithHeaders(ctx, merged)
}

// Health returns the aggregator of the client's components, or nil when
// the client was not built by FromConfig.
func (c *Client) Health() *health.Aggregator {
	return c.health
}

// Close releases the resources FromConfig acquired, in reverse order. It
// returns the first error.
func (c *Client) Close(ctx context.Context) error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

// Stream delivers the data results of a subscription.
type Stream struct {
	src *observable.Stream[link.Envelope]
}

// Recv returns the next data result, skipping lifecycle markers. It returns
// io.EOF when the subscription stopped and the error that ended it
// otherwise.
func (s *Stream) Recv(ctx context.Context) (any, error) {
	for {
		env, err := s.src.Recv(ctx)
		if err != nil {
			return nil, err
		}
		if env.Result.Type == link.ResultData {
			return env.Result.Data, nil
		}
	}
}

// Close ends the subscription.
func (s *Stream) Close() {
	s.src.Close()
}
