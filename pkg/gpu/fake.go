package gpu

import (
	"context"
	"fmt"
	"sync"
)

// Fake serves a fixed device list. Tests use it in place of NVML.
type Fake struct {
	mu      sync.Mutex
	devices []DeviceInfo
	ready   bool

	// InitErr, when set, is returned from Initialize.
	InitErr error
}

// NewFake returns a manager reporting n identical consumer GPUs
// (12 GiB, compute capability 8.9).
func NewFake(n int) *Fake {
	devices := make([]DeviceInfo, n)
	for i := range devices {
		devices[i] = DeviceInfo{
			Index:        i,
			UUID:         fmt.Sprintf("GPU-fake-%04d", i),
			Name:         "NVIDIA GeForce RTX 4070",
			PCIBusID:     fmt.Sprintf("0000:%02x:00.0", i),
			Memory:       12 << 30,
			ComputeMajor: 8,
			ComputeMinor: 9,
		}
	}
	return NewFakeDevices(devices...)
}

// NewFakeDevices returns a manager reporting exactly devices.
func NewFakeDevices(devices ...DeviceInfo) *Fake {
	return &Fake{devices: devices}
}

func (f *Fake) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.InitErr != nil:
		return f.InitErr
	case f.ready:
		return ErrAlreadyInitialized
	}
	f.ready = true
	return nil
}

func (f *Fake) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return ErrNotInitialized
	}
	f.ready = false
	return nil
}

func (f *Fake) GetDeviceCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return 0, ErrNotInitialized
	}
	return len(f.devices), nil
}

func (f *Fake) GetDeviceInfo(_ context.Context, index int) (*DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return nil, ErrNotInitialized
	}
	if index < 0 || index >= len(f.devices) {
		return nil, fmt.Errorf("gpu index %d out of range [0,%d)", index, len(f.devices))
	}
	info := f.devices[index]
	return &info, nil
}

// Initialized reports whether the fake is between Initialize and Shutdown.
func (f *Fake) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}
