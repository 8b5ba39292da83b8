// Package probe detects device capabilities on desktop hosts. It serves
// both as a full detector and as a device callback for hosts that embed the
// node core without platform telemetry of their own.
package probe

import (
	"context"
	"errors"
	"log/slog"
	"runtime"

	"github.com/williw/nodecore/pkg/callback"
	"github.com/williw/nodecore/pkg/device"
	"github.com/williw/nodecore/pkg/engine"
	"github.com/williw/nodecore/pkg/gpu"
)

// Probe gathers capabilities from the local machine.
type Probe struct {
	reader *Reader
	gpu    gpu.Manager
	logger *slog.Logger
	cores  func() int
	arch   string
}

// Option configures a Probe.
type Option func(*Probe)

// WithReader sets the procfs/sysfs reader.
func WithReader(r *Reader) Option {
	return func(p *Probe) { p.reader = r }
}

// WithGPU sets the GPU manager. A nil manager skips GPU discovery.
func WithGPU(m gpu.Manager) Option {
	return func(p *Probe) { p.gpu = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Probe) { p.logger = l }
}

// New creates a Probe. Without WithGPU it uses NVML when available.
func New(opts ...Option) *Probe {
	p := &Probe{
		reader: NewReader(),
		logger: slog.Default(),
		cores:  runtime.NumCPU,
		arch:   runtime.GOARCH,
	}
	if gpu.IsNVMLAvailable() {
		p.gpu = gpu.NewNVML()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Detect builds a full snapshot of the machine. Anything that cannot be
// read keeps its default; failures are logged, never returned.
func (p *Probe) Detect(ctx context.Context) device.Capabilities {
	caps := device.Default()
	caps.CPUCores = uint32(p.cores())
	caps.CPUArchitecture = p.arch
	caps.DeviceType = device.DeviceDesktop

	if mb, err := p.reader.ReadMemoryMB(ctx); err != nil {
		p.logger.Debug("memory probe failed", slog.String("error", err.Error()))
	} else {
		caps.MaxMemoryMB = mb
	}

	if nt, err := p.reader.ReadNetworkType(ctx); err != nil {
		p.logger.Debug("network probe failed", slog.String("error", err.Error()))
	} else {
		caps.NetworkType = nt
	}

	if b, err := p.reader.ReadBattery(ctx); err == nil {
		caps.BatteryLevel, caps.IsCharging = device.NormalizeBattery(device.Float32(b.Level), callback.Charging(b.Charging))
	} else if !errors.Is(err, ErrNoBattery) {
		p.logger.Debug("battery probe failed", slog.String("error", err.Error()))
	}

	caps.HasTPU = device.Bool(p.reader.ReadTPU(ctx))
	caps.DeviceBrand, caps.DeviceModel = p.reader.ReadDMI(ctx)

	if p.gpu != nil {
		inv, err := gpu.Discover(ctx, p.gpu)
		if err != nil {
			p.logger.Debug("gpu probe failed", slog.String("error", err.Error()))
		} else if inv.Count() > 0 {
			caps.HasGPU = true
			if inv.SupportsCUDA() {
				caps.GPUComputeAPIs = append(caps.GPUComputeAPIs, device.GPUCUDA)
			}
		}
	}

	return engine.Derive(caps.Normalize())
}

// Callback implements callback.Provider. It reports memory, cores, network
// and battery through the slot contract and always succeeds; values it
// cannot read are left at their "not reported" defaults.
func (p *Probe) Callback() callback.Func {
	return func(s *callback.Slots) int32 {
		ctx := context.Background()
		if mb, err := p.reader.ReadMemoryMB(ctx); err == nil && mb <= uint64(^uint32(0)) {
			s.MemoryMB = uint32(mb)
		}
		s.CPUCores = uint32(p.cores())
		if nt, err := p.reader.ReadNetworkType(ctx); err == nil {
			s.SetNetworkType(string(nt))
		} else {
			s.SetNetworkType(string(device.NetworkUnknown))
		}
		if b, err := p.reader.ReadBattery(ctx); err == nil {
			s.BatteryLevel = b.Level
			s.IsCharging = b.Charging
		}
		return callback.StatusOK
	}
}
