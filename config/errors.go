package config

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingServerURL indicates no server URL was configured.
	ErrMissingServerURL = errors.New("config: server.url is required")

	// ErrInvalidValue indicates a configuration value out of range.
	ErrInvalidValue = errors.New("config: invalid value")
)

// Error describes a configuration failure and the key it concerns.
type Error struct {
	Key    string
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Key, e.Reason, e.Cause)
	}
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

func invalid(key, format string, args ...any) error {
	return &Error{Key: key, Reason: fmt.Sprintf(format, args...), Cause: ErrInvalidValue}
}
