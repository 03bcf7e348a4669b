package procedure

import (
	"context"

	"github.com/jonwraymond/rpclink/link"
)

// Request is one procedure invocation.
type Request struct {
	// Type is the operation type the caller issued.
	Type link.OpType

	// Path is the procedure path, e.g. "users.get".
	Path string

	// Input is the raw procedure input.
	Input any

	// Ctx is the request context produced by Runtime.CreateContext.
	Ctx any

	// Tag is an optional cache-busting token. Dispatchers that keep their own
	// memoization must treat requests with different tags as distinct.
	Tag string
}

// Caller executes queries and mutations.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: Call should honor cancellation where the work allows it.
//   - Errors: failures should carry a code via ErrorCode() (see *Error);
//     others are reported as INTERNAL_SERVER_ERROR.
type Caller interface {
	Call(ctx context.Context, req Request) (any, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, req Request) (any, error)

// Call invokes f.
func (f CallerFunc) Call(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}

// EmitFunc pushes one subscription value. A non-nil error means the consumer
// is gone and the handler should return.
type EmitFunc func(v any) error

// Subscriber streams values for subscription procedures.
//
// Contract:
//   - Subscribe blocks until the stream ends, ctx is cancelled, or emit fails.
//   - Returning nil ends the stream normally.
type Subscriber interface {
	Subscribe(ctx context.Context, req Request, emit EmitFunc) error
}

// Handler serves a query or mutation.
type Handler func(ctx context.Context, req Request) (any, error)

// SubscriptionHandler serves a subscription.
type SubscriptionHandler func(ctx context.Context, req Request, emit EmitFunc) error

var _ Caller = CallerFunc(nil)
