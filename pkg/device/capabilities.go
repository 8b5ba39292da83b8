// Package device defines the capability snapshot exchanged across the native
// boundary and the JSON schema used to carry it.
//
// A Capabilities value is treated as immutable once published: updates build
// a new value and replace the old one wholesale.
package device

import (
	"fmt"
	"math"
	"slices"
)

// Platform-neutral defaults used when a field is unknown.
const (
	DefaultMemoryMB        uint64 = 2048
	DefaultCPUCores        uint32 = 4
	DefaultArchitecture           = "unknown"
	DefaultBrand                  = "unknown"
	DefaultModel                  = "unknown"
	DefaultModelDim        uint32 = 256
	DefaultTickIntervalSec uint64 = 10
)

// Capabilities is a snapshot of a device's hardware, network and battery state.
type Capabilities struct {
	MaxMemoryMB     uint64
	CPUCores        uint32
	CPUArchitecture string
	HasGPU          bool
	GPUComputeAPIs  []GPUComputeAPI
	// HasTPU is nil when the host never probed for an accelerator.
	HasTPU      *bool
	NetworkType NetworkType
	// BatteryLevel and IsCharging are both nil on battery-less devices.
	BatteryLevel *float32
	IsCharging   *bool
	DeviceType   DeviceType
	DeviceBrand  string
	DeviceModel  string

	// Derived by the decision engine; callers do not set these.
	RecommendedModelDim         uint32
	RecommendedTickIntervalSecs uint64
}

// Default returns the platform-neutral starting snapshot.
func Default() Capabilities {
	return Capabilities{
		MaxMemoryMB:                 DefaultMemoryMB,
		CPUCores:                    DefaultCPUCores,
		CPUArchitecture:             DefaultArchitecture,
		GPUComputeAPIs:              []GPUComputeAPI{},
		NetworkType:                 NetworkUnknown,
		DeviceType:                  DeviceUnknown,
		DeviceBrand:                 DefaultBrand,
		DeviceModel:                 DefaultModel,
		RecommendedModelDim:         DefaultModelDim,
		RecommendedTickIntervalSecs: DefaultTickIntervalSec,
	}
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Float32 returns a pointer to f.
func Float32(f float32) *float32 { return &f }

// Clone returns a deep copy of c.
func (c Capabilities) Clone() Capabilities {
	out := c
	out.GPUComputeAPIs = slices.Clone(c.GPUComputeAPIs)
	if out.GPUComputeAPIs == nil {
		out.GPUComputeAPIs = []GPUComputeAPI{}
	}
	if c.HasTPU != nil {
		out.HasTPU = Bool(*c.HasTPU)
	}
	if c.BatteryLevel != nil {
		out.BatteryLevel = Float32(*c.BatteryLevel)
	}
	if c.IsCharging != nil {
		out.IsCharging = Bool(*c.IsCharging)
	}
	return out
}

// Normalize returns a copy of c with every invariant of the snapshot applied.
func (c Capabilities) Normalize() Capabilities {
	out := c.Clone()

	if out.MaxMemoryMB == 0 {
		out.MaxMemoryMB = DefaultMemoryMB
	}
	if out.CPUCores == 0 {
		out.CPUCores = DefaultCPUCores
	}
	if out.CPUArchitecture == "" {
		out.CPUArchitecture = DefaultArchitecture
	}
	if out.DeviceBrand == "" {
		out.DeviceBrand = DefaultBrand
	}
	if out.DeviceModel == "" {
		out.DeviceModel = DefaultModel
	}
	if !out.NetworkType.Valid() {
		out.NetworkType = ParseNetworkType(string(out.NetworkType))
	}
	if !out.DeviceType.Valid() {
		out.DeviceType = ParseDeviceType(string(out.DeviceType))
	}

	out.GPUComputeAPIs = normalizeAPIs(out.GPUComputeAPIs)
	if len(out.GPUComputeAPIs) > 0 {
		out.HasGPU = true
	}

	out.BatteryLevel, out.IsCharging = NormalizeBattery(out.BatteryLevel, out.IsCharging)
	return out
}

// NormalizeBattery enforces the joint battery invariant: both values are
// nil or both are set. A known level with unknown charging state is stored
// as not charging.
func NormalizeBattery(level *float32, charging *bool) (*float32, *bool) {
	if level == nil {
		return nil, nil
	}
	l := *level
	if math.IsNaN(float64(l)) || math.IsInf(float64(l), 0) || l < 0 {
		return nil, nil
	}
	if l > 1 {
		l = 1
	}
	c := false
	if charging != nil {
		c = *charging
	}
	return Float32(l), Bool(c)
}

func normalizeAPIs(apis []GPUComputeAPI) []GPUComputeAPI {
	out := make([]GPUComputeAPI, 0, len(apis))
	for _, api := range apis {
		parsed, ok := ParseGPUComputeAPI(string(api))
		if !ok || slices.Contains(out, parsed) {
			continue
		}
		out = append(out, parsed)
	}
	slices.Sort(out)
	return out
}

// Equal reports whether two snapshots carry the same values.
func (c Capabilities) Equal(o Capabilities) bool {
	return c.MaxMemoryMB == o.MaxMemoryMB &&
		c.CPUCores == o.CPUCores &&
		c.CPUArchitecture == o.CPUArchitecture &&
		c.HasGPU == o.HasGPU &&
		slices.Equal(c.GPUComputeAPIs, o.GPUComputeAPIs) &&
		equalPtr(c.HasTPU, o.HasTPU) &&
		c.NetworkType == o.NetworkType &&
		equalPtr(c.BatteryLevel, o.BatteryLevel) &&
		equalPtr(c.IsCharging, o.IsCharging) &&
		c.DeviceType == o.DeviceType &&
		c.DeviceBrand == o.DeviceBrand &&
		c.DeviceModel == o.DeviceModel &&
		c.RecommendedModelDim == o.RecommendedModelDim &&
		c.RecommendedTickIntervalSecs == o.RecommendedTickIntervalSecs
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// HasBattery reports whether battery telemetry is present.
func (c Capabilities) HasBattery() bool {
	return c.BatteryLevel != nil
}

// Charging reports whether the device is known to be charging.
func (c Capabilities) Charging() bool {
	return c.IsCharging != nil && *c.IsCharging
}

// SupportsGPUAPI reports whether api is in the advertised set.
func (c Capabilities) SupportsGPUAPI(api GPUComputeAPI) bool {
	return slices.Contains(c.GPUComputeAPIs, api)
}

// HasSufficientResources reports whether the device meets a memory and core floor.
func (c Capabilities) HasSufficientResources(memoryMB uint64, cores uint32) bool {
	return c.MaxMemoryMB >= memoryMB && c.CPUCores >= cores
}

// PerformanceScore rates the device on a 0..1 scale, weighting cores and
// memory at 30% each, GPU 20%, TPU 10% and network up to 10%.
func (c Capabilities) PerformanceScore() float64 {
	score := math.Min(float64(c.CPUCores), 16) / 16 * 0.3
	score += math.Min(float64(c.MaxMemoryMB), 16384) / 16384 * 0.3
	if c.HasGPU {
		score += 0.2
	}
	if c.HasTPU != nil && *c.HasTPU {
		score += 0.1
	}
	score += float64(c.NetworkType.BandwidthFactor()) * 0.1
	return math.Min(score, 1)
}

// BatteryStatus renders the battery state for logs and CLI output.
func (c Capabilities) BatteryStatus() string {
	if c.BatteryLevel == nil {
		return "no battery"
	}
	pct := *c.BatteryLevel * 100
	if c.Charging() {
		return fmt.Sprintf("%.0f%% (charging)", pct)
	}
	return fmt.Sprintf("%.0f%% (on battery)", pct)
}

// Summary is a one-line description of the device.
func (c Capabilities) Summary() string {
	gpu := "no GPU"
	if c.HasGPU {
		gpu = "GPU"
	}
	s := fmt.Sprintf("%s (%d cores, %d MB, %s", c.DeviceType, c.CPUCores, c.MaxMemoryMB, gpu)
	if c.HasTPU != nil && *c.HasTPU {
		s += ", TPU"
	}
	return s + ", " + c.BatteryStatus() + ")"
}
