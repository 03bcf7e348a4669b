package client

import "errors"

var (
	// ErrNoLinks indicates a client without links.
	ErrNoLinks = errors.New("client: at least one link is required")

	// ErrEmptyPath indicates an operation without a procedure path.
	ErrEmptyPath = errors.New("client: procedure path is required")

	// ErrCacheDisabled indicates a cache operation on a client without a
	// cache.
	ErrCacheDisabled = errors.New("client: cache is disabled")
)
