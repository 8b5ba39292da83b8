package device

import "strings"

// NetworkType is the host-reported network class.
// Cellular generations are a best-effort classification supplied by the host.
type NetworkType string

const (
	NetworkWiFi       NetworkType = "wifi"
	NetworkCellular5G NetworkType = "cellular_5g"
	NetworkCellular4G NetworkType = "cellular_4g"
	NetworkCellular3G NetworkType = "cellular_3g"
	NetworkCellular2G NetworkType = "cellular_2g"
	NetworkEthernet   NetworkType = "ethernet"
	NetworkNone       NetworkType = "none"
	NetworkUnknown    NetworkType = "unknown"
)

// networkAliases maps the strings platform wrappers send to canonical values.
var networkAliases = map[string]NetworkType{
	"wifi":        NetworkWiFi,
	"wi-fi":       NetworkWiFi,
	"wlan":        NetworkWiFi,
	"cellular_5g": NetworkCellular5G,
	"5g":          NetworkCellular5G,
	"nr":          NetworkCellular5G,
	"cellular_4g": NetworkCellular4G,
	"4g":          NetworkCellular4G,
	"lte":         NetworkCellular4G,
	"cellular_3g": NetworkCellular3G,
	"3g":          NetworkCellular3G,
	"cellular_2g": NetworkCellular2G,
	"2g":          NetworkCellular2G,
	"ethernet":    NetworkEthernet,
	"wired":       NetworkEthernet,
	"lan":         NetworkEthernet,
	"none":        NetworkNone,
	"offline":     NetworkNone,
	"unknown":     NetworkUnknown,
}

// ParseNetworkType converts a host string into a NetworkType.
// Matching is case-insensitive; unrecognized values map to NetworkUnknown.
func ParseNetworkType(s string) NetworkType {
	if nt, ok := networkAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return nt
	}
	return NetworkUnknown
}

// Valid reports whether n is one of the canonical values.
func (n NetworkType) Valid() bool {
	switch n {
	case NetworkWiFi, NetworkCellular5G, NetworkCellular4G, NetworkCellular3G,
		NetworkCellular2G, NetworkEthernet, NetworkNone, NetworkUnknown:
		return true
	}
	return false
}

// IsCellular reports whether n is any cellular generation.
func (n NetworkType) IsCellular() bool {
	switch n {
	case NetworkCellular5G, NetworkCellular4G, NetworkCellular3G, NetworkCellular2G:
		return true
	}
	return false
}

// AllowsDenseSnapshot reports whether the link is unmetered enough for
// full-size model snapshot transfers.
func (n NetworkType) AllowsDenseSnapshot() bool {
	return n == NetworkWiFi || n == NetworkEthernet
}

// BandwidthFactor scales a bandwidth budget for the link class.
func (n NetworkType) BandwidthFactor() float32 {
	switch n {
	case NetworkEthernet, NetworkWiFi:
		return 1.0
	case NetworkCellular5G:
		return 0.5
	case NetworkCellular4G:
		return 0.3
	case NetworkCellular3G:
		return 0.1
	case NetworkCellular2G:
		return 0.05
	case NetworkNone:
		return 0
	default:
		return 0.2
	}
}

// DeviceType is the form factor of the host device.
type DeviceType string

const (
	DevicePhone   DeviceType = "phone"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
	DeviceUnknown DeviceType = "unknown"
)

// ParseDeviceType converts a host string into a DeviceType.
func ParseDeviceType(s string) DeviceType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "phone", "mobile", "android", "iphone":
		return DevicePhone
	case "tablet", "ipad":
		return DeviceTablet
	case "desktop", "laptop", "server":
		return DeviceDesktop
	default:
		return DeviceUnknown
	}
}

// Valid reports whether d is one of the canonical values.
func (d DeviceType) Valid() bool {
	switch d {
	case DevicePhone, DeviceTablet, DeviceDesktop, DeviceUnknown:
		return true
	}
	return false
}

// BatteryConstrained reports whether the form factor runs on battery by design.
func (d DeviceType) BatteryConstrained() bool {
	return d == DevicePhone || d == DeviceTablet
}

// GPUComputeAPI identifies a GPU compute interface.
type GPUComputeAPI string

const (
	GPUCUDA     GPUComputeAPI = "cuda"
	GPUVulkan   GPUComputeAPI = "vulkan"
	GPUOpenCL   GPUComputeAPI = "opencl"
	GPUMetal    GPUComputeAPI = "metal"
	GPUDirectX  GPUComputeAPI = "directx"
	GPUOpenGLES GPUComputeAPI = "opengl_es"
)

// ParseGPUComputeAPI converts a host string into a GPUComputeAPI.
// The boolean is false when the value is not a known API.
func ParseGPUComputeAPI(s string) (GPUComputeAPI, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cuda":
		return GPUCUDA, true
	case "vulkan":
		return GPUVulkan, true
	case "opencl":
		return GPUOpenCL, true
	case "metal":
		return GPUMetal, true
	case "directx", "directx12", "dx12":
		return GPUDirectX, true
	case "opengl_es", "opengles", "gles":
		return GPUOpenGLES, true
	}
	return "", false
}
