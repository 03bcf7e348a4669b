package link

import (
	"errors"
	"fmt"
)

// Sentinel errors for chain composition.
var (
	// ErrNoTerminalLink is emitted when the last link of a chain calls next.
	ErrNoTerminalLink = errors.New("link: no more links to execute, the chain needs a terminating link")

	// ErrNilLink is returned by Compose when a factory produced a nil link.
	ErrNilLink = errors.New("link: factory returned a nil link")

	// ErrEmptyChain is returned by Compose with no factories.
	ErrEmptyChain = errors.New("link: chain has no links")
)

// CodeInternal is used when the cause carries no error code.
const CodeInternal = "INTERNAL_SERVER_ERROR"

// coder is implemented by errors that carry a wire error code.
type coder interface {
	ErrorCode() string
}

// ClientError is the normalized error delivered to observers of a chain.
// It wraps the original cause.
type ClientError struct {
	// Path is the procedure path of the failed operation.
	Path string

	// Type is the operation type.
	Type OpType

	// Code is the error code reported by the cause, or CodeInternal.
	Code string

	// Cause is the original error.
	Cause error
}

// Error returns the error message.
func (e *ClientError) Error() string {
	return fmt.Sprintf("link: %s %s failed [%s]: %v", e.Type, e.Path, e.Code, e.Cause)
}

// ErrorCode returns the wire error code.
func (e *ClientError) ErrorCode() string {
	return e.Code
}

// Unwrap returns the cause for errors.Is/As support.
func (e *ClientError) Unwrap() error {
	return e.Cause
}

// FromError normalizes err into a *ClientError for op. An error that already
// is (or wraps) a *ClientError is returned as that ClientError.
func FromError(err error, op Operation) *ClientError {
	if err == nil {
		return nil
	}

	var ce *ClientError
	if errors.As(err, &ce) {
		return ce
	}

	code := CodeInternal
	var c coder
	if errors.As(err, &c) && c.ErrorCode() != "" {
		code = c.ErrorCode()
	}

	return &ClientError{
		Path:  op.Path,
		Type:  op.Type,
		Code:  code,
		Cause: err,
	}
}
