// Command libwilliw builds the node core as a C shared library:
//
//	go build -buildmode=c-shared -o libwilliw.so ./cmd/libwilliw
//
// Every export is a thin conversion between C types and ffi.Surface. The
// library reads WILLIW_CONFIG and WILLIW_LOG_LEVEL on first use and logs to
// stderr.
package main

/*
#include <stdlib.h>
#include <string.h>
#include "williw.h"
*/
import "C"

import (
	"log/slog"
	"os"
	"sync"
	"unsafe"

	"github.com/williw/nodecore/pkg/callback"
	"github.com/williw/nodecore/pkg/config"
	"github.com/williw/nodecore/pkg/device"
	"github.com/williw/nodecore/pkg/ffi"
	"github.com/williw/nodecore/pkg/metrics"
)

var (
	initOnce sync.Once
	core     *ffi.Surface
	issued   = ffi.NewLedger()
)

func surface() *ffi.Surface {
	initOnce.Do(func() { core = newSurface() })
	return core
}

func newSurface() *ffi.Surface {
	cfg, err := config.FromEnv()
	if err != nil {
		cfg = config.Default()
	}
	logger := cfg.NewLogger(os.Stderr)
	if err != nil {
		logger.Warn("using default configuration", slog.String("error", err.Error()))
	}

	opts := []ffi.Option{
		ffi.WithLogger(logger),
		ffi.WithNetworkTypeCapacity(cfg.Callback.NetworkTypeCapacity),
	}
	if cfg.Metrics.Address == "" {
		return ffi.New(opts...)
	}

	var s *ffi.Surface
	rec := metrics.NewPrometheus(func() int { return s.Live() })
	s = ffi.New(append(opts, ffi.WithRecorder(rec))...)

	srv, err := metrics.NewServer(cfg.Metrics.Address, cfg.Metrics.Token, rec, logger)
	if err != nil {
		logger.Error("metrics endpoint disabled", slog.String("error", err.Error()))
		return s
	}
	srv.Start()
	return s
}

// goBytes copies a C string. A null pointer yields nil.
func goBytes(p *C.char) []byte {
	if p == nil {
		return nil
	}
	b := C.GoBytes(unsafe.Pointer(p), C.int(C.strlen(p)))
	if b == nil {
		b = []byte{}
	}
	return b
}

// cString allocates a NUL-terminated copy of data and records it in the
// ledger so williw_string_free can release it.
func cString(data []byte) *C.char {
	buf := make([]byte, len(data)+1)
	copy(buf, data)
	p := C.CBytes(buf)
	issued.Track(uintptr(p))
	return (*C.char)(p)
}

// bridge adapts a native callback to the slot contract. The slots and text
// buffer are C-allocated for each call and freed when it returns.
func bridge(invoke func(s *C.williw_slots, buf *C.char, n C.size_t) C.int32_t) callback.Func {
	return func(slots *callback.Slots) int32 {
		sc := (*C.williw_slots)(C.calloc(1, C.sizeof_williw_slots))
		defer C.free(unsafe.Pointer(sc))

		n := len(slots.NetworkType)
		buf := (*C.char)(C.calloc(C.size_t(max(n, 1)), 1))
		defer C.free(unsafe.Pointer(buf))

		sc.memory_mb = C.uint32_t(slots.MemoryMB)
		sc.cpu_cores = C.uint32_t(slots.CPUCores)
		sc.battery_level = C.float(slots.BatteryLevel)
		sc.is_charging = C.int32_t(slots.IsCharging)

		status := invoke(sc, buf, C.size_t(n))

		slots.MemoryMB = uint32(sc.memory_mb)
		slots.CPUCores = uint32(sc.cpu_cores)
		slots.BatteryLevel = float32(sc.battery_level)
		slots.IsCharging = int32(sc.is_charging)
		if n > 0 {
			copy(slots.NetworkType, unsafe.Slice((*byte)(unsafe.Pointer(buf)), n))
		}
		return int32(status)
	}
}

//export williw_node_create
func williw_node_create() C.uint64_t {
	return C.uint64_t(surface().Create())
}

//export williw_node_destroy
func williw_node_destroy(h C.uint64_t) {
	surface().Destroy(uint64(h))
}

//export williw_node_status
func williw_node_status(h C.uint64_t) C.int32_t {
	return C.int32_t(surface().Status(uint64(h)))
}

//export williw_node_get_capabilities
func williw_node_get_capabilities(h C.uint64_t) *C.char {
	data := surface().GetCapabilities(uint64(h))
	if len(data) == 0 {
		data = []byte(device.EmptyJSON)
	}
	return cString(data)
}

//export williw_string_free
func williw_string_free(p *C.char) {
	if issued.Release(uintptr(unsafe.Pointer(p))) {
		C.free(unsafe.Pointer(p))
	}
}

//export williw_node_update_network_type
func williw_node_update_network_type(h C.uint64_t, networkType *C.char) C.int32_t {
	return C.int32_t(surface().UpdateNetworkType(uint64(h), goBytes(networkType)))
}

//export williw_node_update_battery
func williw_node_update_battery(h C.uint64_t, level C.float, charging C.int32_t) C.int32_t {
	return C.int32_t(surface().UpdateBattery(uint64(h), float32(level), int32(charging)))
}

//export williw_node_update_hardware
func williw_node_update_hardware(h C.uint64_t, memoryMB, cpuCores C.uint32_t) C.int32_t {
	return C.int32_t(surface().UpdateHardware(uint64(h), uint32(memoryMB), uint32(cpuCores)))
}

//export williw_node_update_device_info
func williw_node_update_device_info(h C.uint64_t, doc *C.char) C.int32_t {
	return C.int32_t(surface().UpdateDeviceInfo(uint64(h), goBytes(doc)))
}

//export williw_node_recommended_model_dim
func williw_node_recommended_model_dim(h C.uint64_t) C.uint64_t {
	return C.uint64_t(surface().RecommendedModelDim(uint64(h)))
}

//export williw_node_recommended_tick_interval
func williw_node_recommended_tick_interval(h C.uint64_t) C.uint64_t {
	return C.uint64_t(surface().RecommendedTickInterval(uint64(h)))
}

//export williw_node_should_pause_training
func williw_node_should_pause_training(h C.uint64_t) C.int32_t {
	return C.int32_t(surface().ShouldPauseTraining(uint64(h)))
}

//export williw_node_set_device_callback
func williw_node_set_device_callback(h C.uint64_t, cb C.williw_device_cb) C.int32_t {
	var fn callback.Func
	if cb != nil {
		fn = bridge(func(s *C.williw_slots, buf *C.char, n C.size_t) C.int32_t {
			return C.williw_invoke(cb, s, buf, n)
		})
	}
	return C.int32_t(surface().SetDeviceCallback(uint64(h), fn))
}

//export williw_node_set_device_callback_ctx
func williw_node_set_device_callback_ctx(h C.uint64_t, cb C.williw_device_cb_ctx, userData unsafe.Pointer) C.int32_t {
	var fn callback.Func
	if cb != nil {
		fn = bridge(func(s *C.williw_slots, buf *C.char, n C.size_t) C.int32_t {
			return C.williw_invoke_ctx(cb, s, buf, n, userData)
		})
	}
	return C.int32_t(surface().SetDeviceCallback(uint64(h), fn))
}

//export williw_node_refresh_device_info
func williw_node_refresh_device_info(h C.uint64_t) C.int32_t {
	return C.int32_t(surface().RefreshDeviceInfo(uint64(h)))
}

func main() {}
