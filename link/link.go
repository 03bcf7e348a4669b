package link

import (
	"context"
	"fmt"

	"github.com/jonwraymond/rpclink/observable"
)

// NextFunc invokes the rest of the chain and returns its results.
type NextFunc func(ctx context.Context, op Operation) ResultObservable

// Link intercepts one operation.
//
// Contract:
//   - Concurrency: a Link is invoked once per operation and must be safe for
//     concurrent use across operations.
//   - Ownership: op must not be modified in place; pass a copy to next.
//   - Short-circuit: a link that never calls next stops the chain for op.
//   - Errors: failures are delivered as the observable's single Error signal.
type Link func(ctx context.Context, op Operation, next NextFunc) ResultObservable

// Runtime carries options shared by every link of a chain.
type Runtime struct {
	// CreateContext resolves the request context handed to procedures.
	// It is invoked at most once per operation subscription by links that
	// need it.
	CreateContext func(ctx context.Context) (any, error)
}

// Factory builds a Link at setup time. Configuration errors are returned
// here, synchronously, rather than delivered per operation.
type Factory func(rt Runtime) (Link, error)

// Static wraps a ready Link as a Factory.
func Static(l Link) Factory {
	return func(Runtime) (Link, error) {
		return l, nil
	}
}

// Chain folds links into one composite Link. links[0] runs first; each
// link's next is the remainder of the list, and the last link's next is the
// next passed to the composite.
func Chain(links ...Link) Link {
	links = append([]Link(nil), links...)

	return func(ctx context.Context, op Operation, next NextFunc) ResultObservable {
		// Build from the inside out, last link closest to next.
		exec := next
		for i := len(links) - 1; i >= 0; i-- {
			l, inner := links[i], exec
			exec = func(ctx context.Context, op Operation) ResultObservable {
				return l(ctx, op, inner)
			}
		}
		return exec(ctx, op)
	}
}

// Compose builds every factory with rt and chains the results in order.
func Compose(rt Runtime, factories ...Factory) (Link, error) {
	if len(factories) == 0 {
		return nil, ErrEmptyChain
	}

	links := make([]Link, 0, len(factories))
	for i, f := range factories {
		l, err := f(rt)
		if err != nil {
			return nil, fmt.Errorf("link: build link %d: %w", i, err)
		}
		if l == nil {
			return nil, fmt.Errorf("link: build link %d: %w", i, ErrNilLink)
		}
		links = append(links, l)
	}
	return Chain(links...), nil
}

// Execute runs op through a composite link. If the last link delegates to
// next, the result fails with ErrNoTerminalLink.
func Execute(ctx context.Context, l Link, op Operation) ResultObservable {
	return l(ctx, op, terminalStub)
}

func terminalStub(_ context.Context, op Operation) ResultObservable {
	return Fail(ErrNoTerminalLink, op)
}

// Fail returns an observable that errors immediately with err normalized
// into a *ClientError.
func Fail(err error, op Operation) ResultObservable {
	return observable.Throw[Envelope](FromError(err, op))
}
