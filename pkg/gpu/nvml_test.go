//go:build linux && cgo

package gpu

import (
	"context"
	"errors"
	"testing"
)

func TestNVML_RequiresInitialize(t *testing.T) {
	ctx := context.Background()
	m := NewNVML()

	if _, err := m.GetDeviceCount(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("GetDeviceCount: %v, want ErrNotInitialized", err)
	}
	if _, err := m.GetDeviceInfo(ctx, 0); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("GetDeviceInfo: %v, want ErrNotInitialized", err)
	}
	if err := m.Shutdown(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Shutdown: %v, want ErrNotInitialized", err)
	}
}

func TestCString(t *testing.T) {
	if got := cString([]int8{'0', '0', ':', 0, 'x'}); got != "00:" {
		t.Errorf("cString(int8) = %q, want %q", got, "00:")
	}
	if got := cString([]uint8{'a', 'b'}); got != "ab" {
		t.Errorf("cString(uint8) = %q, want %q", got, "ab")
	}
}

func TestNVML_Hardware(t *testing.T) {
	if !IsNVMLAvailable() {
		t.Skip("NVML not available")
	}

	inv, err := Discover(context.Background(), NewNVML())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	for _, d := range inv.Devices {
		if d.UUID == "" || d.Memory == 0 {
			t.Errorf("incomplete device info: %+v", d)
		}
	}
}
