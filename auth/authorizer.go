package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jonwraymond/rpclink/link"
)

// Authorizer determines if an identity may run an operation.
type Authorizer interface {
	// Authorize checks if the request is permitted.
	// Returns nil if authorized, or an error (typically *AuthzError) if denied.
	Authorize(ctx context.Context, req *AuthzRequest) error

	// Name returns a unique identifier for this authorizer.
	Name() string
}

// AuthzRequest contains the information needed for authorization.
type AuthzRequest struct {
	// Subject is the identity making the request.
	Subject *Identity

	// Path is the procedure path (e.g., "users.get").
	Path string

	// Type is the operation type.
	Type link.OpType
}

// AuthzError represents an authorization failure.
type AuthzError struct {
	Subject string
	Path    string
	Type    link.OpType
	Reason  string
}

// Error returns the error message.
func (e *AuthzError) Error() string {
	return fmt.Sprintf("authorization denied: subject=%q path=%q type=%q reason=%q",
		e.Subject, e.Path, e.Type, e.Reason)
}

// Is reports whether this error matches the target.
func (e *AuthzError) Is(target error) bool {
	return target == ErrForbidden
}

func deny(req *AuthzRequest, reason string) *AuthzError {
	subject := ""
	if req.Subject != nil {
		subject = req.Subject.Principal
	}
	return &AuthzError{Subject: subject, Path: req.Path, Type: req.Type, Reason: reason}
}

// AllowAllAuthorizer permits all requests.
type AllowAllAuthorizer struct{}

// Authorize always returns nil (permitted).
func (AllowAllAuthorizer) Authorize(_ context.Context, _ *AuthzRequest) error {
	return nil
}

// Name returns "allow_all".
func (AllowAllAuthorizer) Name() string {
	return "allow_all"
}

// AuthorizerFunc is an adapter to allow use of ordinary functions as Authorizers.
type AuthorizerFunc func(ctx context.Context, req *AuthzRequest) error

// Authorize calls the function.
func (f AuthorizerFunc) Authorize(ctx context.Context, req *AuthzRequest) error {
	return f(ctx, req)
}

// Name returns "func" for function-based authorizers.
func (f AuthorizerFunc) Name() string {
	return "func"
}

// Rule grants access to the procedures under a path prefix.
type Rule struct {
	// Prefix matches a path exactly or as a dotted prefix: "users" matches
	// "users" and "users.get" but not "usersettings". "*" matches every path.
	Prefix string `yaml:"prefix"`

	// Roles may run matching operations. Empty means any identity, including
	// the anonymous one.
	Roles []string `yaml:"roles"`

	// Types restricts the rule to these operation types. Empty means all.
	Types []link.OpType `yaml:"types"`
}

func (r Rule) matches(path string) bool {
	if r.Prefix == "*" || r.Prefix == path {
		return true
	}
	return strings.HasPrefix(path, r.Prefix+".")
}

func (r Rule) specificity() int {
	if r.Prefix == "*" {
		return -1
	}
	return len(r.Prefix)
}

// RuleAuthorizer permits an operation according to the most specific rule
// whose prefix matches its path. Paths without a matching rule are denied
// unless DefaultAllow is set.
type RuleAuthorizer struct {
	rules        []Rule
	defaultAllow bool
}

// NewRuleAuthorizer creates a rule authorizer.
func NewRuleAuthorizer(rules []Rule, defaultAllow bool) *RuleAuthorizer {
	return &RuleAuthorizer{
		rules:        slices.Clone(rules),
		defaultAllow: defaultAllow,
	}
}

// Name returns "rules".
func (a *RuleAuthorizer) Name() string {
	return "rules"
}

// Authorize applies the most specific matching rule.
func (a *RuleAuthorizer) Authorize(_ context.Context, req *AuthzRequest) error {
	rule, ok := a.match(req.Path)
	if !ok {
		if a.defaultAllow {
			return nil
		}
		return deny(req, "no rule matches path")
	}

	if len(rule.Types) > 0 && !slices.Contains(rule.Types, req.Type) {
		return deny(req, fmt.Sprintf("operation type not allowed by rule %q", rule.Prefix))
	}
	if len(rule.Roles) == 0 {
		return nil
	}
	if req.Subject.IsAnonymous() {
		return deny(req, "rule requires an authenticated identity")
	}
	if !req.Subject.HasAnyRole(rule.Roles...) {
		return deny(req, fmt.Sprintf("no role permitted by rule %q", rule.Prefix))
	}
	return nil
}

func (a *RuleAuthorizer) match(path string) (Rule, bool) {
	best, found := Rule{}, false
	for _, r := range a.rules {
		if !r.matches(path) {
			continue
		}
		if !found || r.specificity() > best.specificity() {
			best, found = r, true
		}
	}
	return best, found
}

var (
	_ Authorizer = AllowAllAuthorizer{}
	_ Authorizer = AuthorizerFunc(nil)
	_ Authorizer = (*RuleAuthorizer)(nil)
)
