// Package engine turns a capability snapshot into operating parameters for
// the background compute workload. Every function is pure: it reads only the
// snapshot it is given and holds no state.
package engine

import "github.com/williw/nodecore/pkg/device"

// LowBatteryThreshold is the battery fraction below which battery-constrained
// devices back off and unplugged devices pause. Both rules share one cutoff.
const LowBatteryThreshold float32 = 0.2

// Memory tiers, inclusive at the lower bound.
var modelDimTiers = []struct {
	minMemoryMB uint64
	dim         uint32
}{
	{8192, 1024},
	{4096, 512},
	{2048, 256},
	{0, 128},
}

// Tick intervals in seconds.
const (
	TickDesktop    uint64 = 5
	TickTablet     uint64 = 8
	TickPhone      uint64 = 10
	TickUnknown    uint64 = 10
	TickLowBattery uint64 = 30
)

// RecommendedModelDim picks a model partition dimension from total memory.
func RecommendedModelDim(c device.Capabilities) uint32 {
	for _, tier := range modelDimTiers {
		if c.MaxMemoryMB >= tier.minMemoryMB {
			return tier.dim
		}
	}
	return modelDimTiers[len(modelDimTiers)-1].dim
}

// RecommendedTickIntervalSecs picks the participation cadence from the form
// factor, widened on phones running low on battery.
func RecommendedTickIntervalSecs(c device.Capabilities) uint64 {
	var base uint64
	switch c.DeviceType {
	case device.DeviceDesktop:
		base = TickDesktop
	case device.DeviceTablet:
		base = TickTablet
	case device.DevicePhone:
		base = TickPhone
	default:
		base = TickUnknown
	}
	if c.DeviceType == device.DevicePhone && lowBattery(c) {
		return TickLowBattery
	}
	return base
}

// ShouldPauseTraining reports whether work should stop: the battery is known,
// below the threshold, and the device is not known to be charging. Devices
// without battery data never pause on this axis.
func ShouldPauseTraining(c device.Capabilities) bool {
	return lowBattery(c) && !c.Charging()
}

func lowBattery(c device.Capabilities) bool {
	return c.BatteryLevel != nil && *c.BatteryLevel < LowBatteryThreshold
}

// Derive returns c with its derived fields recomputed.
func Derive(c device.Capabilities) device.Capabilities {
	c.RecommendedModelDim = RecommendedModelDim(c)
	c.RecommendedTickIntervalSecs = RecommendedTickIntervalSecs(c)
	return c
}

// Decision bundles every verdict computed from one snapshot.
type Decision struct {
	ModelDim         uint32
	TickIntervalSecs uint64
	Pause            bool
}

// Decide evaluates all rules against the same snapshot.
func Decide(c device.Capabilities) Decision {
	return Decision{
		ModelDim:         RecommendedModelDim(c),
		TickIntervalSecs: RecommendedTickIntervalSecs(c),
		Pause:            ShouldPauseTraining(c),
	}
}
