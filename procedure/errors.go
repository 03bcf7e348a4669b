package procedure

import (
	"errors"
	"fmt"
)

// Error codes carried on the wire and by *Error.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeInternal        = "INTERNAL_SERVER_ERROR"
	CodeTimeout         = "TIMEOUT"
	CodeTooManyRequests = "TOO_MANY_REQUESTS"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
)

// Sentinel errors, matched by code with errors.Is.
var (
	ErrNotFound   = &Error{Code: CodeNotFound}
	ErrBadRequest = &Error{Code: CodeBadRequest}
	ErrInternal   = &Error{Code: CodeInternal}
)

// ErrDuplicatePath is returned when a path is registered twice.
var ErrDuplicatePath = errors.New("procedure: path already registered")

// Error is a procedure failure with a wire error code.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// NewError creates an error with a code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an error with a code and formatted message. A %w verb in
// format becomes the cause.
func Errorf(code, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Code: code, Message: err.Error(), Cause: errors.Unwrap(err)}
}

// Error returns the error message.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" {
		return "procedure: " + e.Code
	}
	return fmt.Sprintf("procedure: %s: %s", e.Code, msg)
}

// ErrorCode returns the wire error code.
func (e *Error) ErrorCode() string {
	return e.Code
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) string {
	var c interface{ ErrorCode() string }
	if errors.As(err, &c) && c.ErrorCode() != "" {
		return c.ErrorCode()
	}
	return CodeInternal
}
