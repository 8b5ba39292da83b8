package probe

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/sysfs"

	"github.com/williw/nodecore/pkg/callback"
	"github.com/williw/nodecore/pkg/device"
)

// ErrNoBattery is returned when no power supply reports itself as a battery.
var ErrNoBattery = errors.New("no battery present")

// Paths locates the pseudo-filesystems a Reader inspects.
type Paths struct {
	Proc string
	Sys  string
	Dev  string
}

// DefaultPaths returns the standard Linux mount points.
func DefaultPaths() Paths {
	return Paths{
		Proc: procfs.DefaultMountPoint,
		Sys:  sysfs.DefaultMountPoint,
		Dev:  "/dev",
	}
}

// Reader reads device telemetry from procfs and sysfs (Linux).
type Reader struct {
	paths Paths
}

// NewReader creates a Reader with default paths.
func NewReader() *Reader {
	return &Reader{paths: DefaultPaths()}
}

// NewReaderWithPaths creates a Reader with custom paths (for testing).
func NewReaderWithPaths(paths Paths) *Reader {
	return &Reader{paths: paths}
}

func (r *Reader) sys() (sysfs.FS, error) {
	fs, err := sysfs.NewFS(r.paths.Sys)
	if err != nil {
		return sysfs.FS{}, fmt.Errorf("failed to open sysfs: %w", err)
	}
	return fs, nil
}

// ReadMemoryMB returns total system memory in MiB.
func (r *Reader) ReadMemoryMB(ctx context.Context) (uint64, error) {
	fs, err := procfs.NewFS(r.paths.Proc)
	if err != nil {
		return 0, fmt.Errorf("failed to open procfs: %w", err)
	}
	info, err := fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("failed to read meminfo: %w", err)
	}
	if info.MemTotal == nil {
		return 0, errors.New("MemTotal not found in meminfo")
	}
	return *info.MemTotal / 1024, nil
}

// Battery is one power supply reading.
type Battery struct {
	// Level is the charge fraction in [0,1].
	Level float32
	// Charging is tri-state: callback.ChargingUnknown, ChargingFalse or ChargingTrue.
	Charging int32
}

// ReadBattery returns the first battery under the power supply class, in
// name order. It returns ErrNoBattery on machines without one.
func (r *Reader) ReadBattery(ctx context.Context) (Battery, error) {
	fs, err := r.sys()
	if err != nil {
		return Battery{}, err
	}
	supplies, err := fs.PowerSupplyClass()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Battery{}, ErrNoBattery
		}
		return Battery{}, fmt.Errorf("failed to read power supplies: %w", err)
	}

	for _, name := range slices.Sorted(maps.Keys(supplies)) {
		ps := supplies[name]
		if ps.Type != "Battery" {
			continue
		}
		if ps.Present != nil && *ps.Present == 0 {
			continue
		}
		if ps.Capacity == nil {
			return Battery{}, fmt.Errorf("battery %s reports no capacity", name)
		}
		return Battery{
			Level:    float32(*ps.Capacity) / 100,
			Charging: chargingState(ps.Status),
		}, nil
	}
	return Battery{}, ErrNoBattery
}

func chargingState(status string) int32 {
	switch strings.ToLower(status) {
	case "charging", "full":
		return callback.ChargingTrue
	case "discharging", "not charging":
		return callback.ChargingFalse
	default:
		return callback.ChargingUnknown
	}
}

var networkRank = map[device.NetworkType]int{
	device.NetworkNone:       0,
	device.NetworkCellular4G: 1,
	device.NetworkWiFi:       2,
	device.NetworkEthernet:   3,
}

// ReadNetworkType classifies the active link. Wired interfaces win over
// wireless ones, and wireless over cellular modems. Loopback and virtual
// interfaces are ignored; with nothing up the result is NetworkNone.
func (r *Reader) ReadNetworkType(ctx context.Context) (device.NetworkType, error) {
	fs, err := r.sys()
	if err != nil {
		return device.NetworkUnknown, err
	}
	ifaces, err := fs.NetClass()
	if err != nil {
		return device.NetworkUnknown, fmt.Errorf("failed to read net class: %w", err)
	}

	best := device.NetworkNone
	for name, iface := range ifaces {
		if name == "lo" || iface.OperState != "up" {
			continue
		}
		nt, ok := r.classify(iface)
		if ok && networkRank[nt] > networkRank[best] {
			best = nt
		}
	}
	return best, nil
}

// classify maps one interface to a network type. NetClassIface carries
// only attribute files, so the wireless and device links are checked on
// disk.
func (r *Reader) classify(iface sysfs.NetClassIface) (device.NetworkType, bool) {
	dir := filepath.Join(r.paths.Sys, "class", "net", iface.Name)
	switch {
	case exists(filepath.Join(dir, "wireless")) || exists(filepath.Join(dir, "phy80211")):
		return device.NetworkWiFi, true
	case strings.HasPrefix(iface.Name, "wwan") || strings.HasPrefix(iface.Name, "rmnet"):
		return device.NetworkCellular4G, true
	case !exists(filepath.Join(dir, "device")):
		// Bridges, tunnels and veth pairs have no backing device.
		return "", false
	case iface.Type != nil && *iface.Type == 1:
		return device.NetworkEthernet, true
	default:
		return "", false
	}
}

// ReadTPU reports whether an accelerator device node is present.
func (r *Reader) ReadTPU(ctx context.Context) bool {
	for _, pattern := range []string{"accel*", "apex_*"} {
		matches, _ := filepath.Glob(filepath.Join(r.paths.Dev, pattern))
		if len(matches) > 0 {
			return true
		}
	}
	return false
}

// ReadDMI returns the system vendor and product name. Either is empty when
// the firmware does not expose it.
func (r *Reader) ReadDMI(ctx context.Context) (brand, model string) {
	fs, err := r.sys()
	if err != nil {
		return "", ""
	}
	dmi, err := fs.DMIClass()
	if err != nil {
		return "", ""
	}
	return deref(dmi.SystemVendor), deref(dmi.ProductName)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
