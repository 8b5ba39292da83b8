//go:build !(linux && cgo)

package gpu

import (
	"context"
	"errors"
	"testing"
)

func TestNVMLUnsupported(t *testing.T) {
	if IsNVMLAvailable() {
		t.Fatal("IsNVMLAvailable() = true on a build without NVML")
	}
	_, err := Discover(context.Background(), NewNVML())
	if !errors.Is(err, ErrNVMLUnsupported) {
		t.Errorf("Discover() error = %v, want ErrNVMLUnsupported", err)
	}
}
