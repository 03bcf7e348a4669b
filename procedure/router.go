package procedure

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jonwraymond/rpclink/link"
)

type route struct {
	typ     link.OpType
	handler Handler
	sub     SubscriptionHandler
}

// Router dispatches requests to handlers registered by path.
//
// Contract:
//   - Concurrency: safe for concurrent registration and dispatch.
//   - Errors: unknown paths fail with NOT_FOUND, a type mismatch with
//     BAD_REQUEST. Handler errors are returned unchanged.
type Router struct {
	mu     sync.RWMutex
	routes map[string]route
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]route)}
}

// Query registers a query handler.
func (r *Router) Query(path string, h Handler) error {
	return r.add(path, route{typ: link.OpQuery, handler: h})
}

// Mutation registers a mutation handler.
func (r *Router) Mutation(path string, h Handler) error {
	return r.add(path, route{typ: link.OpMutation, handler: h})
}

// Subscription registers a subscription handler.
func (r *Router) Subscription(path string, h SubscriptionHandler) error {
	return r.add(path, route{typ: link.OpSubscription, sub: h})
}

func (r *Router) add(path string, rt route) error {
	if path == "" {
		return fmt.Errorf("procedure: empty path: %w", ErrBadRequest)
	}
	if rt.handler == nil && rt.sub == nil {
		return fmt.Errorf("procedure: nil handler for %q: %w", path, ErrBadRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[path]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePath, path)
	}
	r.routes[path] = rt
	return nil
}

// Paths returns the registered paths in sorted order.
func (r *Router) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := make([]string, 0, len(r.routes))
	for p := range r.routes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (r *Router) lookup(req Request) (route, error) {
	r.mu.RLock()
	rt, ok := r.routes[req.Path]
	r.mu.RUnlock()

	if !ok {
		return route{}, Errorf(CodeNotFound, "no procedure on path %q", req.Path)
	}
	if rt.typ != req.Type {
		return route{}, Errorf(CodeBadRequest, "%q is a %s, not a %s", req.Path, rt.typ, req.Type)
	}
	return rt, nil
}

// Call dispatches a query or mutation.
func (r *Router) Call(ctx context.Context, req Request) (any, error) {
	rt, err := r.lookup(req)
	if err != nil {
		return nil, err
	}
	if rt.handler == nil {
		return nil, Errorf(CodeBadRequest, "%q does not accept %s calls", req.Path, req.Type)
	}
	return rt.handler(ctx, req)
}

// Subscribe dispatches a subscription.
func (r *Router) Subscribe(ctx context.Context, req Request, emit EmitFunc) error {
	rt, err := r.lookup(req)
	if err != nil {
		return err
	}
	if rt.sub == nil {
		return Errorf(CodeBadRequest, "%q is not a subscription", req.Path)
	}
	return rt.sub(ctx, req, emit)
}

var (
	_ Caller     = (*Router)(nil)
	_ Subscriber = (*Router)(nil)
)
