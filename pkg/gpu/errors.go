package gpu

import "errors"

var (
	// ErrNotInitialized is returned by manager calls made before Initialize
	// or after Shutdown.
	ErrNotInitialized = errors.New("gpu manager not initialized")

	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("gpu manager already initialized")
)
