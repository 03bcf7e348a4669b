package transport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonwraymond/rpclink/procedure"
)

var (
	// ErrMissingBaseURL indicates an HTTPCaller without a base URL.
	ErrMissingBaseURL = errors.New("transport: base URL is required")

	// ErrNilCaller indicates a Handler without a procedure caller.
	ErrNilCaller = errors.New("transport: caller is nil")

	// ErrMalformedResponse indicates a response body that is not a result or
	// error object.
	ErrMalformedResponse = errors.New("transport: malformed response")
)

// RemoteError is an error reported by the server side of the wire.
type RemoteError struct {
	// Status is the HTTP status of the response.
	Status int

	// Code is the procedure error code, e.g. NOT_FOUND.
	Code string

	// Message is the server's description of the failure.
	Message string
}

// Error returns the error message.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("transport: remote %s (%d): %s", e.Code, e.Status, e.Message)
}

// ErrorCode returns the procedure error code.
func (e *RemoteError) ErrorCode() string {
	return e.Code
}

var codeStatus = map[string]int{
	procedure.CodeBadRequest:      http.StatusBadRequest,
	procedure.CodeUnauthorized:    http.StatusUnauthorized,
	procedure.CodeForbidden:       http.StatusForbidden,
	procedure.CodeNotFound:        http.StatusNotFound,
	procedure.CodeTimeout:         http.StatusRequestTimeout,
	procedure.CodeTooManyRequests: http.StatusTooManyRequests,
	procedure.CodeUnavailable:     http.StatusServiceUnavailable,
	procedure.CodeInternal:        http.StatusInternalServerError,
}

// StatusFromCode returns the HTTP status for a procedure error code.
// Unknown codes map to 500.
func StatusFromCode(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// CodeFromStatus returns the procedure error code for an HTTP status that
// arrived without an error object, e.g. from a proxy.
func CodeFromStatus(status int) string {
	for code, s := range codeStatus {
		if s == status {
			return code
		}
	}
	switch {
	case status == http.StatusBadGateway, status == http.StatusGatewayTimeout:
		return procedure.CodeUnavailable
	case status >= 400 && status < 500:
		return procedure.CodeBadRequest
	default:
		return procedure.CodeInternal
	}
}
