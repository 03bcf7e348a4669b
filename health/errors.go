package health

import "errors"

var (
	// ErrCheckFailed wraps the error of a component that failed its check.
	ErrCheckFailed = errors.New("health: component check failed")

	// ErrCheckTimeout indicates a check did not finish before the
	// aggregator's deadline.
	ErrCheckTimeout = errors.New("health: check timed out")

	// ErrCheckerNotFound indicates no checker is registered under the name.
	ErrCheckerNotFound = errors.New("health: no checker registered under that name")
)
