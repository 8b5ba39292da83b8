//go:build !(linux && cgo)

package gpu

import (
	"context"
	"errors"
)

// ErrNVMLUnsupported is returned by the NVML manager on builds without
// Linux cgo support.
var ErrNVMLUnsupported = errors.New("nvml: not supported on this build")

// IsNVMLAvailable always reports false on this build.
func IsNVMLAvailable() bool { return false }

// NewNVML returns a manager that fails to initialize.
func NewNVML() Manager { return unsupported{} }

type unsupported struct{}

func (unsupported) Initialize(context.Context) error { return ErrNVMLUnsupported }
func (unsupported) Shutdown(context.Context) error   { return nil }

func (unsupported) GetDeviceCount(context.Context) (int, error) { return 0, ErrNVMLUnsupported }

func (unsupported) GetDeviceInfo(context.Context, int) (*DeviceInfo, error) {
	return nil, ErrNVMLUnsupported
}
