package handle

import "errors"

var (
	// ErrNullHandle reports a handle that was never issued, is stale, or
	// has been destroyed.
	ErrNullHandle = errors.New("null handle")

	// ErrInvalidInput reports an out-of-range number or a non-UTF-8 string.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCallbackNotSet reports a refresh on a node with no device callback.
	ErrCallbackNotSet = errors.New("device callback not set")

	// ErrCallbackFailed reports a callback that failed, panicked, or was
	// invoked re-entrantly.
	ErrCallbackFailed = errors.New("device callback failed")

	// ErrSerialization reports a snapshot that could not be encoded.
	ErrSerialization = errors.New("serialization error")
)
