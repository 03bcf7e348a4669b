package observable

import "errors"

// Sentinel errors for observable adapters.
var (
	// ErrNoValue is returned by a Promise whose source completed without a value.
	ErrNoValue = errors.New("observable: completed without a value")

	// ErrStreamClosed is returned by Stream.Recv after Close.
	ErrStreamClosed = errors.New("observable: stream closed")
)
