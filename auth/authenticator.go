package auth

import (
	"context"
	"net/http"

	"github.com/jonwraymond/rpclink/link"
)

// Authenticator validates credentials and returns an identity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods should honor cancellation/deadlines.
// - Errors: Authenticate returns (nil, error) for internal errors;
//   returns (AuthResult, nil) for auth failures (check result.Authenticated).
type Authenticator interface {
	// Name returns a unique identifier for this authenticator.
	Name() string

	// Supports returns true if this authenticator can handle the request.
	Supports(ctx context.Context, req *AuthRequest) bool

	// Authenticate validates credentials and returns a result.
	Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error)
}

// AuthRequest contains the information needed to authenticate one operation.
type AuthRequest struct {
	// Headers carries the credentials (Authorization, X-API-Key, ...).
	Headers http.Header

	// Path is the procedure path of the operation.
	Path string

	// Type is the operation type.
	Type link.OpType
}

// GetHeader returns the first value for a header, or empty string.
func (r *AuthRequest) GetHeader(key string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(key)
}

// AuthResult is the result of an authentication attempt.
type AuthResult struct {
	// Authenticated is true if authentication succeeded.
	Authenticated bool

	// Identity is the authenticated identity (only if Authenticated=true).
	Identity *Identity

	// Error is the authentication error (only if Authenticated=false).
	Error error

	// Method names the authenticator that produced the result.
	Method string
}

// AuthSuccess creates a successful authentication result.
func AuthSuccess(identity *Identity) *AuthResult {
	return &AuthResult{
		Authenticated: true,
		Identity:      identity,
		Method:        string(identity.Method),
	}
}

// AuthFailure creates a failed authentication result.
func AuthFailure(err error, method string) *AuthResult {
	return &AuthResult{
		Authenticated: false,
		Error:         err,
		Method:        method,
	}
}

// FirstMatch tries authenticators in order and returns the result of the first
// one that supports the request. Without a supporting authenticator the result
// fails with ErrMissingCredentials.
type FirstMatch []Authenticator

// Name returns "first_match".
func (f FirstMatch) Name() string {
	return "first_match"
}

// Supports returns true if any authenticator supports the request.
func (f FirstMatch) Supports(ctx context.Context, req *AuthRequest) bool {
	for _, a := range f {
		if a.Supports(ctx, req) {
			return true
		}
	}
	return false
}

// Authenticate delegates to the first supporting authenticator.
func (f FirstMatch) Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error) {
	for _, a := range f {
		if a.Supports(ctx, req) {
			return a.Authenticate(ctx, req)
		}
	}
	return AuthFailure(ErrMissingCredentials, f.Name()), nil
}

var _ Authenticator = FirstMatch(nil)
