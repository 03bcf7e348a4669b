package auth

import (
	"context"
	"sync"
	"time"

	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/observable"
)

// LinkOption configures the auth link.
type LinkOption func(*authLink)

// WithClock sets the clock used to check identity expiry.
func WithClock(now func() time.Time) LinkOption {
	return func(l *authLink) {
		if now != nil {
			l.now = now
		}
	}
}

type authLink struct {
	authn          Authenticator
	authz          Authorizer
	allowAnonymous bool
	now            func() time.Time
}

// NewLink returns a link factory that authenticates and authorizes every
// operation before the rest of the chain sees it.
//
// Credentials are read from the headers carried on the Go context (see
// WithHeaders). A request without credentials runs as AnonymousIdentity when
// allowAnonymous is set and fails with ErrMissingCredentials otherwise. A nil
// authorizer permits everything.
//
// Contract:
//   - Rejection: a rejected operation emits one *link.ClientError coded
//     UNAUTHORIZED or FORBIDDEN and never reaches the next link.
//   - Propagation: admitted operations run with WithIdentity(ctx, identity),
//     so CreateContext and downstream links observe the caller.
//   - Cancellation: unsubscribing before admission skips the next link.
func NewLink(authn Authenticator, authz Authorizer, allowAnonymous bool, opts ...LinkOption) link.Factory {
	return func(link.Runtime) (link.Link, error) {
		if authn == nil {
			return nil, ErrNilAuthenticator
		}
		if authz == nil {
			authz = AllowAllAuthorizer{}
		}
		l := &authLink{
			authn:          authn,
			authz:          authz,
			allowAnonymous: allowAnonymous,
			now:            time.Now,
		}
		for _, opt := range opts {
			opt(l)
		}
		return l.run, nil
	}
}

// admit authenticates and authorizes op with the headers on ctx and returns
// the identity it runs as.
func (l *authLink) admit(ctx context.Context, op link.Operation) (*Identity, error) {
	req := &AuthRequest{
		Headers: HeadersFromContext(ctx),
		Path:    op.Path,
		Type:    op.Type,
	}
	identity, err := identify(ctx, l.authn, req, l.allowAnonymous, l.now())
	if err != nil {
		return nil, err
	}

	err = l.authz.Authorize(ctx, &AuthzRequest{
		Subject: identity,
		Path:    op.Path,
		Type:    op.Type,
	})
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// Identify authenticates the headers carried on ctx outside of a link chain,
// the way NewLink does before authorization.
func Identify(ctx context.Context, authn Authenticator, allowAnonymous bool) (*Identity, error) {
	if authn == nil {
		return nil, ErrNilAuthenticator
	}
	req := &AuthRequest{Headers: HeadersFromContext(ctx)}
	return identify(ctx, authn, req, allowAnonymous, time.Now())
}

func identify(ctx context.Context, authn Authenticator, req *AuthRequest, allowAnonymous bool, now time.Time) (*Identity, error) {
	if !authn.Supports(ctx, req) {
		if !allowAnonymous {
			return nil, ErrMissingCredentials
		}
		return AnonymousIdentity(), nil
	}

	result, err := authn.Authenticate(ctx, req)
	if err != nil {
		return nil, err
	}
	if !result.Authenticated {
		if result.Error == nil {
			return nil, ErrInvalidCredentials
		}
		return nil, result.Error
	}
	if result.Identity.ExpiredAt(now) {
		return nil, ErrTokenExpired
	}
	return result.Identity, nil
}

func (l *authLink) run(ctx context.Context, op link.Operation, next link.NextFunc) link.ResultObservable {
	return observable.New(func(obs link.ResultObserver) observable.Teardown {
		ctx, cancel := context.WithCancel(ctx)

		var (
			mu    sync.Mutex
			inner *observable.Subscription
			left  bool
		)

		go func() {
			identity, err := l.admit(ctx, op)
			if err != nil {
				obs.Error(reject(err, op))
				return
			}

			mu.Lock()
			if left {
				mu.Unlock()
				return
			}
			mu.Unlock()

			sub := next(WithIdentity(ctx, identity), op).Subscribe(obs)

			mu.Lock()
			if left {
				mu.Unlock()
				sub.Unsubscribe()
				return
			}
			inner = sub
			mu.Unlock()
		}()

		return func() {
			mu.Lock()
			left = true
			sub := inner
			mu.Unlock()
			if sub != nil {
				sub.Unsubscribe()
			}
			cancel()
		}
	})
}
