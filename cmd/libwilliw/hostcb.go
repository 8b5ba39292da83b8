package main

// Native callbacks standing in for a platform wrapper. The shim tests
// register them through the exported functions; cgo is not available in
// _test.go files.

/*
#include <stdio.h>
#include <stdlib.h>
#include "williw.h"

static int32_t williw_host_fill(uint32_t* memory_mb, uint32_t* cpu_cores,
	char* network_type, size_t network_type_len,
	float* battery_level, int32_t* is_charging) {
	*memory_mb = 8192;
	*cpu_cores = 8;
	if (network_type_len > 0) {
		snprintf(network_type, network_type_len, "%s", "wifi");
	}
	*battery_level = 0.5f;
	*is_charging = 1;
	return 0;
}

// Fills the whole buffer and never terminates it.
static int32_t williw_host_unterminated(uint32_t* memory_mb, uint32_t* cpu_cores,
	char* network_type, size_t network_type_len,
	float* battery_level, int32_t* is_charging) {
	static const char pattern[] = "wifi";
	for (size_t i = 0; i < network_type_len; i++) {
		network_type[i] = pattern[i % 4];
	}
	return 0;
}

static int32_t williw_host_fail(uint32_t* memory_mb, uint32_t* cpu_cores,
	char* network_type, size_t network_type_len,
	float* battery_level, int32_t* is_charging) {
	*memory_mb = 1;
	return 7;
}

static int32_t williw_host_ctx(uint32_t* memory_mb, uint32_t* cpu_cores,
	char* network_type, size_t network_type_len,
	float* battery_level, int32_t* is_charging, void* user_data) {
	*memory_mb = *(uint32_t*)user_data;
	*cpu_cores = 2;
	return 0;
}
*/
import "C"

import "unsafe"

type (
	nativeHandle   = C.uint64_t
	nativeCallback = C.williw_device_cb
)

func hostFillCallback() C.williw_device_cb {
	return C.williw_device_cb(C.williw_host_fill)
}

func hostUnterminatedCallback() C.williw_device_cb {
	return C.williw_device_cb(C.williw_host_unterminated)
}

func hostFailingCallback() C.williw_device_cb {
	return C.williw_device_cb(C.williw_host_fail)
}

func hostContextCallback() C.williw_device_cb_ctx {
	return C.williw_device_cb_ctx(C.williw_host_ctx)
}

// hostUserData allocates the uint32 that hostContextCallback reports as
// memory. The returned func frees it.
func hostUserData(memoryMB uint32) (unsafe.Pointer, func()) {
	p := C.malloc(C.size_t(unsafe.Sizeof(C.uint32_t(0))))
	*(*C.uint32_t)(p) = C.uint32_t(memoryMB)
	return p, func() { C.free(p) }
}

// hostString reads a string returned by the library the way a host would.
func hostString(p *C.char) string {
	return C.GoString(p)
}
