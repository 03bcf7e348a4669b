package auth

import (
	"errors"

	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/procedure"
)

// Sentinel errors for authentication and authorization.
var (
	// Authentication errors
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenMalformed     = errors.New("auth: token malformed")
	ErrUnknownKey         = errors.New("auth: unknown api key")

	// Authorization errors
	ErrForbidden = errors.New("auth: access denied")

	// Configuration errors
	ErrNilAuthenticator = errors.New("auth: authenticator is nil")
	ErrMissingSecret    = errors.New("auth: signing secret is empty")
)

// codeOf maps an auth failure onto the procedure error code carried by the
// link.ClientError that replaces the operation result.
func codeOf(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return procedure.CodeForbidden
	case errors.Is(err, ErrMissingCredentials),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrUnknownKey):
		return procedure.CodeUnauthorized
	default:
		return procedure.CodeInternal
	}
}

// reject converts an auth failure into the client error for op.
func reject(err error, op link.Operation) *link.ClientError {
	return &link.ClientError{
		Path:  op.Path,
		Type:  op.Type,
		Code:  codeOf(err),
		Cause: err,
	}
}
