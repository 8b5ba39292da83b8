package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
)

// JSON keys of the capability schema. Every key is always emitted.
const (
	KeyMaxMemoryMB             = "max_memory_mb"
	KeyCPUCores                = "cpu_cores"
	KeyCPUArchitecture         = "cpu_architecture"
	KeyHasGPU                  = "has_gpu"
	KeyGPUComputeAPIs          = "gpu_compute_apis"
	KeyHasTPU                  = "has_tpu"
	KeyNetworkType             = "network_type"
	KeyBatteryLevel            = "battery_level"
	KeyIsCharging              = "is_charging"
	KeyDeviceType              = "device_type"
	KeyDeviceBrand             = "device_brand"
	KeyDeviceModel             = "device_model"
	KeyRecommendedModelDim     = "recommended_model_dim"
	KeyRecommendedTickInterval = "recommended_tick_interval"
)

// EmptyJSON is returned across the boundary when no snapshot is available.
const EmptyJSON = "{}"

// ErrMalformed reports a document that is not a JSON object.
var ErrMalformed = errors.New("malformed capabilities document")

// FieldError reports a single key that could not be applied.
// The key falls back to its default value.
type FieldError struct {
	Key string
	Err error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Key, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

type wireCapabilities struct {
	MaxMemoryMB             uint64          `json:"max_memory_mb"`
	CPUCores                uint32          `json:"cpu_cores"`
	CPUArchitecture         string          `json:"cpu_architecture"`
	HasGPU                  bool            `json:"has_gpu"`
	GPUComputeAPIs          []GPUComputeAPI `json:"gpu_compute_apis"`
	HasTPU                  *bool           `json:"has_tpu"`
	NetworkType             NetworkType     `json:"network_type"`
	BatteryLevel            *float32        `json:"battery_level"`
	IsCharging              *bool           `json:"is_charging"`
	DeviceType              DeviceType      `json:"device_type"`
	DeviceBrand             string          `json:"device_brand"`
	DeviceModel             string          `json:"device_model"`
	RecommendedModelDim     uint32          `json:"recommended_model_dim"`
	RecommendedTickInterval uint64          `json:"recommended_tick_interval"`
}

// Marshal serializes c using the capability schema. Optional values are
// emitted as null and an empty API set as [].
func Marshal(c Capabilities) ([]byte, error) {
	apis := c.GPUComputeAPIs
	if apis == nil {
		apis = []GPUComputeAPI{}
	}
	w := wireCapabilities{
		MaxMemoryMB:             c.MaxMemoryMB,
		CPUCores:                c.CPUCores,
		CPUArchitecture:         c.CPUArchitecture,
		HasGPU:                  c.HasGPU,
		GPUComputeAPIs:          apis,
		HasTPU:                  c.HasTPU,
		NetworkType:             c.NetworkType,
		BatteryLevel:            c.BatteryLevel,
		IsCharging:              c.IsCharging,
		DeviceType:              c.DeviceType,
		DeviceBrand:             c.DeviceBrand,
		DeviceModel:             c.DeviceModel,
		RecommendedModelDim:     c.RecommendedModelDim,
		RecommendedTickInterval: c.RecommendedTickIntervalSecs,
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal capabilities: %w", err)
	}
	return data, nil
}

// Parse decodes a capability document with per-key defaulting.
//
// A missing key and an explicit null are treated the same: the key keeps its
// default. A key with the wrong type or an out-of-range value also keeps its
// default and is reported as a *FieldError; the other keys still apply.
// Derived keys are read back for consumers; the node core recomputes them
// whenever it stores a snapshot. The returned snapshot is always usable,
// even when err is non-nil.
func Parse(data []byte) (Capabilities, error) {
	caps := Default()

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return caps, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		return caps, fmt.Errorf("%w: document is null", ErrMalformed)
	}

	d := decoder{raw: raw}

	if v, ok := count[uint64](&d, KeyMaxMemoryMB); ok {
		if v == 0 {
			d.fail(KeyMaxMemoryMB, errors.New("must be greater than zero"))
		} else {
			caps.MaxMemoryMB = v
		}
	}
	if v, ok := count[uint32](&d, KeyCPUCores); ok {
		if v == 0 {
			d.fail(KeyCPUCores, errors.New("must be at least 1"))
		} else {
			caps.CPUCores = v
		}
	}
	if v, ok := field[string](&d, KeyCPUArchitecture); ok && v != "" {
		caps.CPUArchitecture = v
	}
	if v, ok := field[bool](&d, KeyHasGPU); ok {
		caps.HasGPU = v
	}
	if v, ok := field[[]string](&d, KeyGPUComputeAPIs); ok {
		for _, s := range v {
			api, known := ParseGPUComputeAPI(s)
			if !known {
				d.fail(KeyGPUComputeAPIs, fmt.Errorf("unknown api %q", s))
				continue
			}
			caps.GPUComputeAPIs = append(caps.GPUComputeAPIs, api)
		}
	}
	if v, ok := field[bool](&d, KeyHasTPU); ok {
		caps.HasTPU = Bool(v)
	}
	if v, ok := field[string](&d, KeyNetworkType); ok {
		caps.NetworkType = ParseNetworkType(v)
	}
	if v, ok := field[float64](&d, KeyBatteryLevel); ok {
		if level, err := batteryFraction(v); err != nil {
			d.fail(KeyBatteryLevel, err)
		} else {
			caps.BatteryLevel = Float32(level)
		}
	}
	if v, ok := field[bool](&d, KeyIsCharging); ok {
		caps.IsCharging = Bool(v)
	}
	if v, ok := field[string](&d, KeyDeviceType); ok {
		caps.DeviceType = ParseDeviceType(v)
	}
	if v, ok := field[string](&d, KeyDeviceBrand); ok && v != "" {
		caps.DeviceBrand = v
	}
	if v, ok := field[string](&d, KeyDeviceModel); ok && v != "" {
		caps.DeviceModel = v
	}
	if v, ok := count[uint32](&d, KeyRecommendedModelDim); ok && v > 0 {
		caps.RecommendedModelDim = v
	}
	if v, ok := count[uint64](&d, KeyRecommendedTickInterval); ok && v > 0 {
		caps.RecommendedTickIntervalSecs = v
	}

	return caps.Normalize(), errors.Join(d.errs...)
}

// ScaleBatteryLevel reads a host-reported level with the same scale as
// capability documents: a fraction in [0,1] or a percentage in (1,100].
// Larger values read as full; negative and non-finite values pass through.
func ScaleBatteryLevel(v float32) float32 {
	if v > 1 {
		return min(v/100, 1)
	}
	return v
}

// batteryFraction accepts a fraction in [0,1] or a percentage in (1,100].
func batteryFraction(v float64) (float32, error) {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return 0, errors.New("not a finite number")
	case v < 0:
		return 0, fmt.Errorf("%v is negative", v)
	case v <= 1:
		return float32(v), nil
	case v <= 100:
		return float32(v / 100), nil
	default:
		return 0, fmt.Errorf("%v is out of range", v)
	}
}

type decoder struct {
	raw  map[string]json.RawMessage
	errs []error
}

func (d *decoder) fail(key string, err error) {
	d.errs = append(d.errs, &FieldError{Key: key, Err: err})
}

// field decodes raw[key] into T. It returns false for missing keys, nulls
// and type mismatches; mismatches are recorded on d.
func field[T any](d *decoder, key string) (T, bool) {
	var v T
	msg, ok := d.raw[key]
	if !ok || bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
		return v, false
	}
	if err := json.Unmarshal(msg, &v); err != nil {
		d.fail(key, err)
		return v, false
	}
	return v, true
}

// count decodes raw[key] as a non-negative integer that fits T. Integral
// floats such as 8192.0 are accepted; strings and fractions are not.
func count[T uint32 | uint64](d *decoder, key string) (T, bool) {
	msg, ok := d.raw[key]
	if !ok || bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
		return 0, false
	}
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		d.fail(key, err)
		return 0, false
	}
	num, isNum := v.(json.Number)
	if !isNum {
		d.fail(key, fmt.Errorf("expected a number, got %s", bytes.TrimSpace(msg)))
		return 0, false
	}
	n, err := parseCount(num.String(), uint64(^T(0)))
	if err != nil {
		d.fail(key, err)
		return 0, false
	}
	return T(n), true
}

func parseCount(s string, limit uint64) (uint64, error) {
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		if n > limit {
			return 0, fmt.Errorf("%s is out of range", s)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s is out of range", s)
	}
	switch {
	case f < 0:
		return 0, fmt.Errorf("%s is negative", s)
	case f != math.Trunc(f):
		return 0, fmt.Errorf("%s is not an integer", s)
	case f >= math.Ldexp(1, bits.Len64(limit)):
		return 0, fmt.Errorf("%s is out of range", s)
	}
	return uint64(f), nil
}
