// Package callback defines how the node core pulls telemetry from host code.
//
// The core hands the host a set of pre-allocated output slots, the host
// writes into them and returns a status code: 0 for success, anything else
// for failure. Text is written into a fixed-capacity buffer that the host
// must NUL-terminate without ever writing past its end.
//
// A callback runs synchronously on the caller's thread and must not call
// back into the node it was invoked from. The core enforces no timeout;
// bounding the callback's run time is the host's responsibility.
package callback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/williw/nodecore/pkg/device"
)

// DefaultNetworkTypeCapacity is the size of the network type buffer,
// terminator included.
const DefaultNetworkTypeCapacity = 32

// Tri-state charging values written into Slots.IsCharging.
const (
	ChargingUnknown int32 = -1
	ChargingFalse   int32 = 0
	ChargingTrue    int32 = 1
)

// StatusOK is the only success status a callback may return.
const StatusOK int32 = 0

// ErrFailed is returned when a callback reports failure or panics.
var ErrFailed = errors.New("device callback failed")

// StatusError carries the nonzero status a callback returned.
type StatusError struct {
	Status int32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device callback returned status %d", e.Status)
}

func (e *StatusError) Unwrap() error { return ErrFailed }

// Slots are the output parameters handed to a callback.
type Slots struct {
	MemoryMB uint32
	CPUCores uint32
	// NetworkType is a fixed-capacity, NUL-terminated text buffer.
	NetworkType  []byte
	BatteryLevel float32
	IsCharging   int32
}

// NewSlots allocates slots with a network buffer of the given capacity.
// Numeric slots start at their "not reported" values.
func NewSlots(capacity int) *Slots {
	if capacity < 0 {
		capacity = 0
	}
	return &Slots{
		NetworkType:  make([]byte, capacity),
		BatteryLevel: -1,
		IsCharging:   ChargingUnknown,
	}
}

// WriteString copies s into buf as a NUL-terminated string, truncating so
// that the terminator always fits. It never writes past len(buf) and
// returns the number of text bytes written.
func WriteString(buf []byte, s string) int {
	if len(buf) == 0 {
		return 0
	}
	n := copy(buf[:len(buf)-1], s)
	buf[n] = 0
	return n
}

// SetNetworkType writes s into the network buffer.
func (s *Slots) SetNetworkType(v string) {
	WriteString(s.NetworkType, v)
}

// Network reads the network buffer up to its terminator. A buffer with no
// terminator is truncated to capacity-1 bytes, as if the final byte were NUL.
func (s *Slots) Network() string {
	buf := s.NetworkType
	if len(buf) == 0 {
		return ""
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf[:len(buf)-1])
}

// Func is a telemetry callback. It fills s and returns StatusOK on success.
type Func func(s *Slots) int32

// Provider supplies a callback; platform probes implement it.
type Provider interface {
	Callback() Func
}

// Reading is the validated content of slots after a successful callback.
type Reading struct {
	// MemoryMB and CPUCores are zero when the host did not report them.
	MemoryMB    uint64
	CPUCores    uint32
	NetworkType device.NetworkType
	// BatteryLevel and IsCharging are jointly nil when no battery was reported.
	BatteryLevel *float32
	IsCharging   *bool
}

// ReadSlots validates raw slots into a Reading.
func ReadSlots(s *Slots) Reading {
	r := Reading{
		MemoryMB:    uint64(s.MemoryMB),
		CPUCores:    s.CPUCores,
		NetworkType: device.ParseNetworkType(s.Network()),
	}
	level := s.BatteryLevel
	if !math.IsNaN(float64(level)) && !math.IsInf(float64(level), 0) && level >= 0 {
		r.BatteryLevel, r.IsCharging = device.NormalizeBattery(device.Float32(device.ScaleBatteryLevel(level)), Charging(s.IsCharging))
	}
	return r
}

// Charging converts a tri-state charging value to a pointer; nil is unknown.
func Charging(v int32) *bool {
	switch {
	case v < 0:
		return nil
	case v == 0:
		return device.Bool(false)
	default:
		return device.Bool(true)
	}
}

// Apply returns c with every reported value of r applied. Unreported
// memory and core counts keep their previous values.
func (r Reading) Apply(c device.Capabilities) device.Capabilities {
	out := c.Clone()
	if r.MemoryMB > 0 {
		out.MaxMemoryMB = r.MemoryMB
	}
	if r.CPUCores > 0 {
		out.CPUCores = r.CPUCores
	}
	out.NetworkType = r.NetworkType
	out.BatteryLevel = r.BatteryLevel
	out.IsCharging = r.IsCharging
	return out
}

// Invoke runs cb against freshly allocated slots. A nonzero status yields a
// *StatusError and a panic yields ErrFailed; in both cases nothing the
// callback wrote is returned. ctx is only checked before the call: once
// invoked, the callback runs to completion.
func Invoke(ctx context.Context, cb Func, capacity int) (r Reading, err error) {
	if cb == nil {
		return Reading{}, errors.New("nil device callback")
	}
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	slots := NewSlots(capacity)
	defer func() {
		if p := recover(); p != nil {
			r = Reading{}
			err = fmt.Errorf("%w: panic: %v", ErrFailed, p)
		}
	}()

	if status := cb(slots); status != StatusOK {
		return Reading{}, &StatusError{Status: status}
	}
	return ReadSlots(slots), nil
}

// Static is a Provider that always reports the same values.
type Static struct {
	MemoryMB     uint32
	CPUCores     uint32
	NetworkType  string
	BatteryLevel float32
	IsCharging   int32
	// Status is returned from the callback; nonzero simulates a host failure.
	Status int32
}

// Callback implements Provider.
func (p Static) Callback() Func {
	return func(s *Slots) int32 {
		s.MemoryMB = p.MemoryMB
		s.CPUCores = p.CPUCores
		s.SetNetworkType(p.NetworkType)
		s.BatteryLevel = p.BatteryLevel
		s.IsCharging = p.IsCharging
		return p.Status
	}
}
