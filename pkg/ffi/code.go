package ffi

import (
	"errors"

	"github.com/williw/nodecore/pkg/handle"
)

// Code is the status returned across the native boundary.
type Code int32

const (
	Success Code = iota
	NullHandle
	InvalidInput
	CallbackNotSet
	CallbackFailed
	SerializationError
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case NullHandle:
		return "null_handle"
	case InvalidInput:
		return "invalid_input"
	case CallbackNotSet:
		return "callback_not_set"
	case CallbackFailed:
		return "callback_failed"
	case SerializationError:
		return "serialization_error"
	default:
		return "unknown"
	}
}

// CodeOf maps an error from the handle package to its boundary code.
// Errors that match no sentinel are reported as InvalidInput.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, handle.ErrNullHandle):
		return NullHandle
	case errors.Is(err, handle.ErrInvalidInput):
		return InvalidInput
	case errors.Is(err, handle.ErrCallbackNotSet):
		return CallbackNotSet
	case errors.Is(err, handle.ErrCallbackFailed):
		return CallbackFailed
	case errors.Is(err, handle.ErrSerialization):
		return SerializationError
	default:
		return InvalidInput
	}
}
