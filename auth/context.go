package auth

import (
	"context"
	"net/http"
)

// Context keys for auth-related values.
type contextKey int

const (
	identityKey contextKey = iota
	headersKey
)

// WithIdentity returns a new context with the given identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext retrieves the identity from the context.
// Returns nil if no identity is present.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// WithHeaders returns a new context carrying the request headers that
// authenticators read credentials from.
func WithHeaders(ctx context.Context, headers http.Header) context.Context {
	return context.WithValue(ctx, headersKey, headers)
}

// HeadersFromContext retrieves the headers from the context.
// Returns nil if no headers are present.
func HeadersFromContext(ctx context.Context) http.Header {
	h, _ := ctx.Value(headersKey).(http.Header)
	return h
}

// RequestContext is the per-request context handed to procedures and to the
// cache tag generator.
type RequestContext struct {
	Identity *Identity
	Headers  http.Header
}

// Principal returns the principal, or "" for a context without identity.
func (rc *RequestContext) Principal() string {
	if rc == nil || rc.Identity == nil {
		return ""
	}
	return rc.Identity.Principal
}

// TenantID returns the tenant, or "" for a context without identity.
func (rc *RequestContext) TenantID() string {
	if rc == nil || rc.Identity == nil {
		return ""
	}
	return rc.Identity.TenantID
}

// CreateContext builds a *RequestContext from the identity and headers
// carried on ctx. It is meant for link.Runtime.CreateContext and never fails.
func CreateContext(ctx context.Context) (any, error) {
	return &RequestContext{
		Identity: IdentityFromContext(ctx),
		Headers:  HeadersFromContext(ctx),
	}, nil
}

// PrincipalCacheContext selects the principal and tenant of a *RequestContext
// so that cached query results are partitioned per caller. Any other value
// selects nothing.
func PrincipalCacheContext(reqCtx any) []any {
	rc, ok := reqCtx.(*RequestContext)
	if !ok {
		return nil
	}
	return []any{rc.Principal(), rc.TenantID()}
}
