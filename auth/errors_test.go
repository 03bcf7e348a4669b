package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/procedure"
)

func TestSentinelErrors_Distinct(t *testing.T) {
	errs := []error{
		ErrMissingCredentials,
		ErrInvalidCredentials,
		ErrTokenExpired,
		ErrTokenMalformed,
		ErrUnknownKey,
		ErrForbidden,
		ErrNilAuthenticator,
		ErrMissingSecret,
	}
	for i, a := range errs {
		for j, b := range errs {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v should not match %v", a, b)
			}
		}
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"missing", ErrMissingCredentials, procedure.CodeUnauthorized},
		{"invalid", ErrInvalidCredentials, procedure.CodeUnauthorized},
		{"expired", ErrTokenExpired, procedure.CodeUnauthorized},
		{"malformed", ErrTokenMalformed, procedure.CodeUnauthorized},
		{"unknown key", ErrUnknownKey, procedure.CodeUnauthorized},
		{"forbidden", ErrForbidden, procedure.CodeForbidden},
		{"authz error", &AuthzError{Reason: "no"}, procedure.CodeForbidden},
		{"wrapped", fmt.Errorf("wrap: %w", ErrTokenExpired), procedure.CodeUnauthorized},
		{"other", errors.New("store down"), procedure.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := codeOf(tt.err); got != tt.want {
				t.Errorf("codeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReject(t *testing.T) {
	op := link.Operation{Type: link.OpMutation, Path: "users.delete"}
	ce := reject(ErrForbidden, op)

	if ce.Path != "users.delete" || ce.Type != link.OpMutation {
		t.Errorf("reject() = %+v", ce)
	}
	if !errors.Is(ce, ErrForbidden) {
		t.Error("reject() should wrap the cause")
	}
}
