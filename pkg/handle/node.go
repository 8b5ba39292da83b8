package handle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/williw/nodecore/pkg/callback"
	"github.com/williw/nodecore/pkg/device"
	"github.com/williw/nodecore/pkg/engine"
)

// Node is the state behind one handle: a capability snapshot, an optional
// device callback and identity for logging.
//
// Snapshots are replaced with a single atomic swap so readers never see a
// half-applied update. Callers must still serialize mutations of one node;
// concurrent writers are retried rather than merged field by field.
type Node struct {
	id        string
	handle    Handle
	createdAt time.Time

	snapshot atomic.Pointer[device.Capabilities]
	cb       atomic.Pointer[registration]
	// cache holds the serialization of the snapshot it points at.
	cache      atomic.Pointer[encoded]
	refreshing atomic.Bool
	closed     atomic.Bool

	// NetworkTypeCapacity is the text buffer size handed to callbacks.
	NetworkTypeCapacity int
}

type registration struct {
	fn callback.Func
}

type encoded struct {
	snap *device.Capabilities
	data []byte
}

func newNode(now time.Time) *Node {
	n := &Node{
		id:                  uuid.NewString(),
		createdAt:           now,
		NetworkTypeCapacity: callback.DefaultNetworkTypeCapacity,
	}
	initial := engine.Derive(device.Default())
	n.snapshot.Store(&initial)
	return n
}

// ID returns the node's unique identifier.
func (n *Node) ID() string { return n.id }

// Handle returns the handle the node was issued under.
func (n *Node) Handle() Handle { return n.handle }

// CreatedAt returns when the node was created.
func (n *Node) CreatedAt() time.Time { return n.createdAt }

// Capabilities returns a copy of the current snapshot.
func (n *Node) Capabilities() device.Capabilities {
	return n.snapshot.Load().Clone()
}

// Decide evaluates the decision engine against the current snapshot.
func (n *Node) Decide() engine.Decision {
	return engine.Decide(*n.snapshot.Load())
}

// CapabilitiesJSON serializes the current snapshot, reusing the previous
// encoding when the snapshot has not changed. The caller owns the returned
// slice.
func (n *Node) CapabilitiesJSON() ([]byte, error) {
	snap := n.snapshot.Load()
	if c := n.cache.Load(); c != nil && c.snap == snap {
		return bytes.Clone(c.data), nil
	}
	data, err := device.Marshal(*snap)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	n.cache.Store(&encoded{snap: snap, data: bytes.Clone(data)})
	return data, nil
}

// update replaces the snapshot with mutate(current), normalized and with
// derived fields recomputed.
func (n *Node) update(mutate func(device.Capabilities) device.Capabilities) {
	for {
		cur := n.snapshot.Load()
		next := engine.Derive(mutate(cur.Clone()).Normalize())
		if n.snapshot.CompareAndSwap(cur, &next) {
			return
		}
	}
}

// Replace installs c as the new snapshot.
func (n *Node) Replace(c device.Capabilities) {
	n.update(func(device.Capabilities) device.Capabilities { return c })
}

// UpdateNetworkType sets the network class from a host string. Unknown
// names are stored as "unknown"; invalid UTF-8 is rejected.
func (n *Node) UpdateNetworkType(raw string) error {
	if !utf8.ValidString(raw) {
		return fmt.Errorf("network type: %w: not valid UTF-8", ErrInvalidInput)
	}
	nt := device.ParseNetworkType(raw)
	n.update(func(c device.Capabilities) device.Capabilities {
		c.NetworkType = nt
		return c
	})
	return nil
}

// UpdateBattery sets the battery state. A negative level means the device
// has no battery. Levels in (1,100] are percentages and anything above 100
// is full. charging is tri-state: -1 unknown, 0 not charging, positive
// charging.
func (n *Node) UpdateBattery(level float32, charging int32) error {
	if math.IsNaN(float64(level)) || math.IsInf(float64(level), 0) {
		return fmt.Errorf("battery level %v: %w", level, ErrInvalidInput)
	}
	var lvl *float32
	if level >= 0 {
		lvl = device.Float32(device.ScaleBatteryLevel(level))
	}
	bl, ch := device.NormalizeBattery(lvl, callback.Charging(charging))
	n.update(func(c device.Capabilities) device.Capabilities {
		c.BatteryLevel, c.IsCharging = bl, ch
		return c
	})
	return nil
}

// UpdateHardware sets total memory and logical core count. Both must be
// nonzero.
func (n *Node) UpdateHardware(memoryMB, cores uint32) error {
	if memoryMB == 0 {
		return fmt.Errorf("memory_mb must be > 0: %w", ErrInvalidInput)
	}
	if cores == 0 {
		return fmt.Errorf("cpu_cores must be >= 1: %w", ErrInvalidInput)
	}
	n.update(func(c device.Capabilities) device.Capabilities {
		c.MaxMemoryMB = uint64(memoryMB)
		c.CPUCores = cores
		return c
	})
	return nil
}

// UpdateDeviceInfo replaces the snapshot from a capability document.
// A document that is not a JSON object leaves the snapshot untouched and
// returns ErrInvalidInput. Keys that fail to decode fall back to defaults
// and are returned as field errors alongside the applied update.
func (n *Node) UpdateDeviceInfo(data []byte) error {
	if !utf8.Valid(data) {
		return fmt.Errorf("device info: %w: not valid UTF-8", ErrInvalidInput)
	}
	caps, err := device.Parse(data)
	if errors.Is(err, device.ErrMalformed) {
		return fmt.Errorf("device info: %w: %v", ErrInvalidInput, err)
	}
	n.Replace(caps)
	return err
}

// SetCallback registers fn as the node's device callback, replacing any
// previous one. A nil fn clears the registration.
func (n *Node) SetCallback(fn callback.Func) {
	if fn == nil {
		n.cb.Store(nil)
		return
	}
	n.cb.Store(&registration{fn: fn})
}

// HasCallback reports whether a device callback is registered.
func (n *Node) HasCallback() bool {
	return n.cb.Load() != nil
}

// Refresh pulls telemetry through the registered callback and applies it in
// one atomic update. On failure the snapshot is left untouched.
// The callback must not call Refresh on the same node.
func (n *Node) Refresh(ctx context.Context) error {
	reg := n.cb.Load()
	if reg == nil {
		return ErrCallbackNotSet
	}
	if !n.refreshing.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: re-entrant refresh", ErrCallbackFailed)
	}
	defer n.refreshing.Store(false)

	reading, err := callback.Invoke(ctx, reg.fn, n.NetworkTypeCapacity)
	if err != nil {
		if ctx.Err() != nil {
			// Still a callback failure, with the context error kept in the chain.
			return fmt.Errorf("%w: %w", ErrCallbackFailed, err)
		}
		return fmt.Errorf("%w: %v", ErrCallbackFailed, err)
	}
	n.update(reading.Apply)
	return nil
}

// close drops the callback and cached encoding once the node is released.
func (n *Node) close() {
	n.closed.Store(true)
	n.cb.Store(nil)
	n.cache.Store(nil)
}

// Closed reports whether the node has been released.
func (n *Node) Closed() bool {
	return n.closed.Load()
}
