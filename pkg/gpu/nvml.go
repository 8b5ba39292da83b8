//go:build linux && cgo

package gpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NVML reads GPU inventory from NVIDIA's management library.
type NVML struct {
	mu    sync.RWMutex
	ready bool
}

// NewNVML returns an NVML-backed manager.
func NewNVML() Manager {
	return &NVML{}
}

// nvmlErr wraps a failed NVML return code.
func nvmlErr(op string, ret nvml.Return) error {
	return fmt.Errorf("nvml %s: %s", op, nvml.ErrorString(ret))
}

func (n *NVML) Initialize(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ready {
		return ErrAlreadyInitialized
	}
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nvmlErr("init", ret)
	}
	n.ready = true
	return nil
}

func (n *NVML) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.ready {
		return ErrNotInitialized
	}
	n.ready = false
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return nvmlErr("shutdown", ret)
	}
	return nil
}

func (n *NVML) GetDeviceCount(ctx context.Context) (int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.ready {
		return 0, ErrNotInitialized
	}
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, nvmlErr("device count", ret)
	}
	return count, nil
}

// GetDeviceInfo reads identity, memory and compute capability of one GPU.
// Drivers that cannot report a compute capability leave it at 0.0.
func (n *NVML) GetDeviceInfo(ctx context.Context, index int) (*DeviceInfo, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.ready {
		return nil, ErrNotInitialized
	}

	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return nil, nvmlErr(fmt.Sprintf("device %d", index), ret)
	}

	info := &DeviceInfo{Index: index}
	if info.UUID, ret = dev.GetUUID(); ret != nvml.SUCCESS {
		return nil, nvmlErr("uuid", ret)
	}
	if info.Name, ret = dev.GetName(); ret != nvml.SUCCESS {
		return nil, nvmlErr("name", ret)
	}
	mem, ret := dev.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return nil, nvmlErr("memory", ret)
	}
	info.Memory = mem.Total

	if pci, ret := dev.GetPciInfo(); ret == nvml.SUCCESS {
		info.PCIBusID = cString(pci.BusId[:])
	}
	if major, minor, ret := dev.GetCudaComputeCapability(); ret == nvml.SUCCESS {
		info.ComputeMajor, info.ComputeMinor = major, minor
	}
	return info, nil
}

// cString converts a NUL-terminated C char array.
func cString[T int8 | uint8](b []T) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c == 0 {
			break
		}
		out = append(out, byte(c))
	}
	return string(out)
}

// IsNVMLAvailable reports whether the NVML library loads on this host.
func IsNVMLAvailable() bool {
	if nvml.Init() != nvml.SUCCESS {
		return false
	}
	nvml.Shutdown()
	return true
}
