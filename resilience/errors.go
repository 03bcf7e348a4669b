package resilience

import (
	"context"
	"errors"

	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/procedure"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRateLimitExceeded is returned when the rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("resilience: operation timed out")
)

// codeOf maps resilience sentinels to wire codes.
func codeOf(err error) string {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return procedure.CodeTimeout
	case errors.Is(err, ErrRateLimitExceeded):
		return procedure.CodeTooManyRequests
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrBulkheadFull):
		return procedure.CodeUnavailable
	default:
		return link.CodeInternal
	}
}

// reject wraps a local rejection as the client error delivered for op.
func reject(err error, op link.Operation) *link.ClientError {
	return &link.ClientError{
		Path:  op.Path,
		Type:  op.Type,
		Code:  codeOf(err),
		Cause: err,
	}
}

// Retryable reports whether err may succeed on another attempt. Errors the
// server attributes to the request itself are not retried, nor is local
// cancellation.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch procedure.CodeOf(err) {
	case procedure.CodeBadRequest, procedure.CodeNotFound,
		procedure.CodeUnauthorized, procedure.CodeForbidden:
		return false
	}
	return !errors.Is(err, ErrCircuitOpen)
}
