// Package gpu discovers accelerators on desktop hosts so the node core can
// advertise GPU compute support.
package gpu

import (
	"context"
	"fmt"
)

// DeviceInfo describes one GPU.
type DeviceInfo struct {
	Index    int
	UUID     string
	Name     string
	PCIBusID string
	// Memory is total device memory in bytes.
	Memory uint64
	// ComputeMajor and ComputeMinor are the CUDA compute capability.
	ComputeMajor int
	ComputeMinor int
}

// Manager provides access to GPU inventory.
type Manager interface {
	// Initialize prepares the manager for use.
	Initialize(ctx context.Context) error

	// Shutdown releases resources.
	Shutdown(ctx context.Context) error

	// GetDeviceCount returns the number of GPUs available.
	GetDeviceCount(ctx context.Context) (int, error)

	// GetDeviceInfo returns information about one GPU.
	GetDeviceInfo(ctx context.Context, index int) (*DeviceInfo, error)
}

// Inventory summarizes every GPU a manager reports.
type Inventory struct {
	Devices []DeviceInfo
}

// Count returns the number of GPUs.
func (inv Inventory) Count() int { return len(inv.Devices) }

// TotalMemoryMB returns combined device memory in MiB.
func (inv Inventory) TotalMemoryMB() uint64 {
	var total uint64
	for _, d := range inv.Devices {
		total += d.Memory
	}
	return total / (1024 * 1024)
}

// SupportsCUDA reports whether any GPU exposes a CUDA compute capability.
func (inv Inventory) SupportsCUDA() bool {
	for _, d := range inv.Devices {
		if d.ComputeMajor > 0 {
			return true
		}
	}
	return false
}

// Discover initializes m, lists its devices and shuts it down again.
func Discover(ctx context.Context, m Manager) (Inventory, error) {
	if err := m.Initialize(ctx); err != nil {
		return Inventory{}, fmt.Errorf("initialize gpu manager: %w", err)
	}
	defer m.Shutdown(ctx)

	count, err := m.GetDeviceCount(ctx)
	if err != nil {
		return Inventory{}, fmt.Errorf("count gpus: %w", err)
	}

	inv := Inventory{Devices: make([]DeviceInfo, 0, count)}
	for i := 0; i < count; i++ {
		info, err := m.GetDeviceInfo(ctx, i)
		if err != nil {
			return Inventory{}, fmt.Errorf("gpu %d: %w", i, err)
		}
		inv.Devices = append(inv.Devices, *info)
	}
	return inv, nil
}
