// Package ffi is the boundary-shaped layer behind the C exports: integer
// handles in, integer status codes out. Nothing here panics outward; every
// entry point recovers and reports a code instead.
//
// A Surface does not serialize calls on one handle. Hosts must drive each
// handle from a single caller at a time.
package ffi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/williw/nodecore/pkg/callback"
	"github.com/williw/nodecore/pkg/clock"
	"github.com/williw/nodecore/pkg/device"
	"github.com/williw/nodecore/pkg/handle"
	"github.com/williw/nodecore/pkg/metrics"
)

// Surface exposes node operations with native-friendly types.
type Surface struct {
	arena    *handle.Arena
	logger   *slog.Logger
	recorder metrics.Recorder
	clock    clock.Clock
	capacity int
}

// Option configures a Surface.
type Option func(*Surface)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Surface) { s.logger = l }
}

// WithRecorder sets the metrics recorder. Defaults to metrics.Nop.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Surface) { s.recorder = r }
}

// WithClock sets the clock used for node timestamps and callback timing.
func WithClock(c clock.Clock) Option {
	return func(s *Surface) { s.clock = c }
}

// WithNetworkTypeCapacity sets the network text buffer size handed to
// callbacks of nodes created afterwards.
func WithNetworkTypeCapacity(n int) Option {
	return func(s *Surface) { s.capacity = n }
}

// New creates a Surface with its own handle arena.
func New(opts ...Option) *Surface {
	s := &Surface{
		logger:   slog.Default(),
		recorder: metrics.Nop{},
		clock:    clock.Real(),
		capacity: callback.DefaultNetworkTypeCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.arena = handle.NewArena(
		handle.WithClock(s.clock),
		handle.WithReleaseHook(func(n *handle.Node) {
			s.logger.Debug("node released", slog.String("node_id", n.ID()), slog.String("handle", n.Handle().String()))
		}),
	)
	return s
}

// Live returns the number of handles that have not been destroyed.
func (s *Surface) Live() int {
	return s.arena.Live()
}

// Create allocates a node with default capabilities. It never fails.
func (s *Surface) Create() uint64 {
	h, node := s.arena.Create()
	node.NetworkTypeCapacity = s.capacity
	s.recorder.Call("create", Success.String())
	s.logger.Debug("node created", slog.String("node_id", node.ID()), slog.String("handle", h.String()))
	return uint64(h)
}

// Destroy releases a node. Destroying a destroyed or unknown handle is a
// no-op.
func (s *Surface) Destroy(h uint64) {
	defer s.recoverPanic("destroy", h, nil)
	if !s.arena.Destroy(handle.Handle(h)) {
		s.recorder.Call("destroy", NullHandle.String())
		return
	}
	s.recorder.Call("destroy", Success.String())
}

// Status reports whether h refers to a live node.
func (s *Surface) Status(h uint64) Code {
	return s.call("status", h, func(*handle.Node) error { return nil })
}

// GetCapabilities returns the capability document for h. An invalid handle
// or an encoding failure yields the empty object.
func (s *Surface) GetCapabilities(h uint64) (out []byte) {
	out = []byte(device.EmptyJSON)
	s.call("get_capabilities", h, func(n *handle.Node) error {
		data, err := n.CapabilitiesJSON()
		if err != nil {
			return err
		}
		out = data
		return nil
	})
	return out
}

// UpdateNetworkType sets the network class. raw is nil when the host passed
// a null string.
func (s *Surface) UpdateNetworkType(h uint64, raw []byte) Code {
	return s.call("update_network_type", h, func(n *handle.Node) error {
		if raw == nil {
			return fmt.Errorf("network type: %w: null string", handle.ErrInvalidInput)
		}
		return n.UpdateNetworkType(string(raw))
	})
}

// UpdateBattery sets battery level and tri-state charging.
func (s *Surface) UpdateBattery(h uint64, level float32, charging int32) Code {
	return s.call("update_battery", h, func(n *handle.Node) error {
		return n.UpdateBattery(level, charging)
	})
}

// UpdateHardware sets memory and core count.
func (s *Surface) UpdateHardware(h uint64, memoryMB, cores uint32) Code {
	return s.call("update_hardware", h, func(n *handle.Node) error {
		return n.UpdateHardware(memoryMB, cores)
	})
}

// UpdateDeviceInfo applies a capability document. Keys that fail to decode
// are logged and fall back to their defaults; the call still succeeds.
func (s *Surface) UpdateDeviceInfo(h uint64, doc []byte) Code {
	return s.call("update_device_info", h, func(n *handle.Node) error {
		if doc == nil {
			return fmt.Errorf("device info: %w: null string", handle.ErrInvalidInput)
		}
		err := n.UpdateDeviceInfo(doc)
		if err != nil && !errors.Is(err, handle.ErrInvalidInput) {
			s.logger.Warn("device info fields defaulted",
				slog.String("handle", handle.Handle(h).String()),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return err
	})
}

// RecommendedModelDim returns the model dimension for h, or the default
// dimension for an invalid handle.
func (s *Surface) RecommendedModelDim(h uint64) uint64 {
	dim := uint64(device.DefaultModelDim)
	s.call("recommended_model_dim", h, func(n *handle.Node) error {
		dim = uint64(n.Decide().ModelDim)
		return nil
	})
	return dim
}

// RecommendedTickInterval returns the tick interval in seconds for h, or the
// default interval for an invalid handle.
func (s *Surface) RecommendedTickInterval(h uint64) uint64 {
	secs := device.DefaultTickIntervalSec
	s.call("recommended_tick_interval", h, func(n *handle.Node) error {
		secs = n.Decide().TickIntervalSecs
		return nil
	})
	return secs
}

// ShouldPauseTraining returns 1 when work should pause and 0 otherwise,
// including for an invalid handle.
func (s *Surface) ShouldPauseTraining(h uint64) int32 {
	var pause int32
	s.call("should_pause_training", h, func(n *handle.Node) error {
		if n.Decide().Pause {
			pause = 1
		}
		return nil
	})
	return pause
}

// SetDeviceCallback registers fn for h. A nil fn clears the registration.
func (s *Surface) SetDeviceCallback(h uint64, fn callback.Func) Code {
	return s.call("set_device_callback", h, func(n *handle.Node) error {
		n.SetCallback(fn)
		return nil
	})
}

// RefreshDeviceInfo invokes the registered callback and applies its
// readings. On failure the previous snapshot is kept.
func (s *Surface) RefreshDeviceInfo(h uint64) Code {
	return s.call("refresh_device_info", h, func(n *handle.Node) error {
		start := s.clock.Now()
		err := n.Refresh(context.Background())
		if !errors.Is(err, handle.ErrCallbackNotSet) {
			s.recorder.CallbackDuration(s.clock.Since(start), err == nil)
		}
		return err
	})
}

// call acquires h for the duration of fn and maps the outcome to a code.
func (s *Surface) call(op string, h uint64, fn func(*handle.Node) error) (code Code) {
	defer s.recoverPanic(op, h, &code)

	node, release, err := s.arena.Acquire(handle.Handle(h))
	defer release()
	if err == nil {
		err = fn(node)
	}

	code = CodeOf(err)
	s.recorder.Call(op, code.String())
	if err != nil {
		s.logger.Warn("call failed",
			slog.String("op", op),
			slog.String("handle", handle.Handle(h).String()),
			slog.String("code", code.String()),
			slog.String("error", err.Error()),
		)
	}
	return code
}

// recoverPanic turns a panic into InvalidInput so nothing unwinds into the host.
func (s *Surface) recoverPanic(op string, h uint64, code *Code) {
	p := recover()
	if p == nil {
		return
	}
	s.logger.Error("panic in boundary call",
		slog.String("op", op),
		slog.String("handle", handle.Handle(h).String()),
		slog.Any("panic", p),
	)
	s.recorder.Call(op, InvalidInput.String())
	if code != nil {
		*code = InvalidInput
	}
}
