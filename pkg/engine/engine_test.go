package engine

import (
	"testing"

	"github.com/williw/nodecore/pkg/device"
)

func caps(memoryMB uint64, dt device.DeviceType, level *float32, charging *bool) device.Capabilities {
	c := device.Default()
	c.MaxMemoryMB = memoryMB
	c.DeviceType = dt
	c.BatteryLevel, c.IsCharging = level, charging
	return c
}

func TestRecommendedModelDim(t *testing.T) {
	tests := []struct {
		memoryMB uint64
		want     uint32
	}{
		{65536, 1024},
		{8192, 1024},
		{8191, 512},
		{4096, 512},
		{4095, 256},
		{2048, 256},
		{2047, 128},
		{1, 128},
		{0, 128},
	}
	for _, tt := range tests {
		if got := RecommendedModelDim(caps(tt.memoryMB, device.DeviceUnknown, nil, nil)); got != tt.want {
			t.Errorf("RecommendedModelDim(%d MB) = %d, want %d", tt.memoryMB, got, tt.want)
		}
	}
}

func TestRecommendedTickIntervalSecs(t *testing.T) {
	low := device.Float32(0.1)
	high := device.Float32(0.9)

	tests := []struct {
		name  string
		dt    device.DeviceType
		level *float32
		want  uint64
	}{
		{"desktop", device.DeviceDesktop, nil, 5},
		{"tablet", device.DeviceTablet, nil, 8},
		{"phone", device.DevicePhone, nil, 10},
		{"unknown", device.DeviceUnknown, nil, 10},
		{"phone low battery", device.DevicePhone, low, 30},
		{"phone high battery", device.DevicePhone, high, 10},
		{"phone at threshold", device.DevicePhone, device.Float32(LowBatteryThreshold), 10},
		{"tablet low battery", device.DeviceTablet, low, 8},
		{"desktop low battery", device.DeviceDesktop, low, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := caps(4096, tt.dt, tt.level, device.Bool(false))
			if got := RecommendedTickIntervalSecs(c); got != tt.want {
				t.Errorf("RecommendedTickIntervalSecs() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestShouldPauseTraining(t *testing.T) {
	tests := []struct {
		name     string
		level    *float32
		charging *bool
		want     bool
	}{
		{"unknown battery", nil, nil, false},
		{"low unplugged", device.Float32(0.15), device.Bool(false), true},
		{"low charging state unknown", device.Float32(0.15), nil, true},
		{"low charging", device.Float32(0.15), device.Bool(true), false},
		{"empty unplugged", device.Float32(0), device.Bool(false), true},
		{"threshold", device.Float32(0.2), device.Bool(false), false},
		{"full", device.Float32(1), device.Bool(false), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := caps(4096, device.DevicePhone, tt.level, tt.charging)
			if got := ShouldPauseTraining(c); got != tt.want {
				t.Errorf("ShouldPauseTraining() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecideMatchesIndividualRules(t *testing.T) {
	c := caps(8192, device.DevicePhone, device.Float32(0.1), device.Bool(false))
	d := Decide(c)
	if d.ModelDim != 1024 || d.TickIntervalSecs != 30 || !d.Pause {
		t.Errorf("Decide() = %+v", d)
	}

	derived := Derive(c)
	if derived.RecommendedModelDim != d.ModelDim || derived.RecommendedTickIntervalSecs != d.TickIntervalSecs {
		t.Errorf("Derive() = %d/%d, Decide() = %+v", derived.RecommendedModelDim, derived.RecommendedTickIntervalSecs, d)
	}
}
