package handle

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/williw/nodecore/pkg/callback"
	"github.com/williw/nodecore/pkg/device"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	_, n := NewArena().Create()
	return n
}

func TestNode_Defaults(t *testing.T) {
	n := newTestNode(t)
	c := n.Capabilities()
	if c.MaxMemoryMB != 2048 || c.CPUCores != 4 || c.RecommendedModelDim != 256 || c.RecommendedTickIntervalSecs != 10 {
		t.Errorf("default snapshot = %+v", c)
	}
}

func TestNode_UpdatesRecomputeDerivedFields(t *testing.T) {
	n := newTestNode(t)
	if err := n.UpdateHardware(8192, 8); err != nil {
		t.Fatal(err)
	}
	if err := n.UpdateDeviceInfo([]byte(`{"max_memory_mb":8192,"cpu_cores":8,"device_type":"phone","recommended_model_dim":64}`)); err != nil {
		t.Fatal(err)
	}
	if err := n.UpdateBattery(0.1, callback.ChargingFalse); err != nil {
		t.Fatal(err)
	}

	c := n.Capabilities()
	if c.RecommendedModelDim != 1024 {
		t.Errorf("RecommendedModelDim = %d, want 1024 (inputs never override the engine)", c.RecommendedModelDim)
	}
	if c.RecommendedTickIntervalSecs != 30 {
		t.Errorf("RecommendedTickIntervalSecs = %d, want 30", c.RecommendedTickIntervalSecs)
	}
	if !n.Decide().Pause {
		t.Error("Decide().Pause = false at 10% unplugged")
	}
}

func TestNode_UpdateBattery(t *testing.T) {
	n := newTestNode(t)

	if err := n.UpdateBattery(float32(math.NaN()), 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("NaN error = %v, want ErrInvalidInput", err)
	}

	if err := n.UpdateBattery(0.5, callback.ChargingUnknown); err != nil {
		t.Fatal(err)
	}
	c := n.Capabilities()
	if c.BatteryLevel == nil || c.IsCharging == nil || *c.IsCharging {
		t.Errorf("known level with unknown charging = %v/%v", c.BatteryLevel, c.IsCharging)
	}

	// Same scale as capability documents: 15 is 15%.
	if err := n.UpdateBattery(15, callback.ChargingFalse); err != nil {
		t.Fatal(err)
	}
	if c := n.Capabilities(); c.BatteryLevel == nil || *c.BatteryLevel != 0.15 {
		t.Errorf("percent level = %v, want 0.15", c.BatteryLevel)
	}
	if !n.Decide().Pause {
		t.Error("Decide().Pause = false at 15% unplugged")
	}
	if err := n.UpdateBattery(250, callback.ChargingFalse); err != nil {
		t.Fatal(err)
	}
	if c := n.Capabilities(); c.BatteryLevel == nil || *c.BatteryLevel != 1 {
		t.Errorf("level above 100 = %v, want 1", c.BatteryLevel)
	}

	if err := n.UpdateBattery(-1, callback.ChargingTrue); err != nil {
		t.Fatal(err)
	}
	if c := n.Capabilities(); c.BatteryLevel != nil || c.IsCharging != nil {
		t.Error("negative level should clear the battery")
	}
}

func TestNode_UpdateDeviceInfo(t *testing.T) {
	n := newTestNode(t)
	n.UpdateHardware(4096, 4)

	if err := n.UpdateDeviceInfo([]byte(`not json`)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("malformed error = %v, want ErrInvalidInput", err)
	}
	if got := n.Capabilities().MaxMemoryMB; got != 4096 {
		t.Errorf("malformed document changed snapshot: %d MB", got)
	}

	err := n.UpdateDeviceInfo([]byte(`{"cpu_cores":"eight","device_brand":"Acme"}`))
	var fe *device.FieldError
	if !errors.As(err, &fe) || fe.Key != device.KeyCPUCores {
		t.Errorf("field error = %v", err)
	}
	if errors.Is(err, ErrInvalidInput) {
		t.Error("field errors should not be ErrInvalidInput")
	}
	if c := n.Capabilities(); c.DeviceBrand != "Acme" || c.CPUCores != device.DefaultCPUCores {
		t.Errorf("snapshot = %+v", c)
	}

	if err := n.UpdateDeviceInfo([]byte(`{"max_memory_mb":8192.0,"cpu_cores":8.0}`)); err != nil {
		t.Fatalf("integral floats rejected: %v", err)
	}
	if c := n.Capabilities(); c.MaxMemoryMB != 8192 || c.RecommendedModelDim != 1024 {
		t.Errorf("snapshot after integral floats = %d MB / dim %d", c.MaxMemoryMB, c.RecommendedModelDim)
	}
}

func TestNode_CapabilitiesJSONCache(t *testing.T) {
	n := newTestNode(t)
	a, err := n.CapabilitiesJSON()
	if err != nil {
		t.Fatal(err)
	}
	cached := n.cache.Load()
	b, _ := n.CapabilitiesJSON()
	if n.cache.Load() != cached {
		t.Error("unchanged snapshot was re-encoded")
	}
	if &a[0] == &b[0] {
		t.Error("callers share the cached buffer")
	}

	n.UpdateHardware(8192, 8)
	c, _ := n.CapabilitiesJSON()
	if string(a) == string(c) {
		t.Error("cache not invalidated by update")
	}
}

func TestNode_CapabilitiesJSONCallerOwnsBuffer(t *testing.T) {
	n := newTestNode(t)
	first, err := n.CapabilitiesJSON()
	if err != nil {
		t.Fatal(err)
	}
	want := string(first)
	for i := range first {
		first[i] = 'x'
	}

	again, err := n.CapabilitiesJSON()
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(again) || string(again) != want {
		t.Errorf("cached encoding corrupted by caller: %q", again)
	}
}

func TestNode_Refresh(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	if err := n.Refresh(ctx); !errors.Is(err, ErrCallbackNotSet) {
		t.Errorf("Refresh() without callback = %v, want ErrCallbackNotSet", err)
	}

	n.UpdateHardware(4096, 4)
	n.SetCallback(callback.Static{MemoryMB: 1024, Status: 1}.Callback())
	if err := n.Refresh(ctx); !errors.Is(err, ErrCallbackFailed) {
		t.Errorf("Refresh() with failing callback = %v, want ErrCallbackFailed", err)
	}
	if got := n.Capabilities().MaxMemoryMB; got != 4096 {
		t.Errorf("failed refresh changed MaxMemoryMB to %d", got)
	}

	n.SetCallback(callback.Static{MemoryMB: 16384, CPUCores: 16, NetworkType: "ethernet", BatteryLevel: -1}.Callback())
	if err := n.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() = %v", err)
	}
	c := n.Capabilities()
	if c.MaxMemoryMB != 16384 || c.CPUCores != 16 || c.NetworkType != device.NetworkEthernet || c.RecommendedModelDim != 1024 {
		t.Errorf("snapshot after refresh = %+v", c)
	}
}

func TestNode_RefreshReentrant(t *testing.T) {
	n := newTestNode(t)
	var inner error
	n.SetCallback(func(s *callback.Slots) int32 {
		inner = n.Refresh(context.Background())
		return callback.StatusOK
	})
	if err := n.Refresh(context.Background()); err != nil {
		t.Fatalf("outer Refresh() = %v", err)
	}
	if !errors.Is(inner, ErrCallbackFailed) {
		t.Errorf("inner Refresh() = %v, want ErrCallbackFailed", inner)
	}
}

func TestNode_RefreshCancelled(t *testing.T) {
	n := newTestNode(t)
	n.SetCallback(callback.Static{}.Callback())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := n.Refresh(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Refresh() = %v, want context.Canceled", err)
	}
	if !errors.Is(err, ErrCallbackFailed) {
		t.Errorf("Refresh() = %v, want ErrCallbackFailed so hosts see a callback failure", err)
	}
}

func TestNode_ReadersNeverSeeTornSnapshots(t *testing.T) {
	n := newTestNode(t)
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				n.UpdateHardware(8192, 8)
			} else {
				n.UpdateHardware(1024, 2)
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		c := n.Capabilities()
		consistent := (c.MaxMemoryMB == 8192 && c.CPUCores == 8 && c.RecommendedModelDim == 1024) ||
			(c.MaxMemoryMB == 1024 && c.CPUCores == 2 && c.RecommendedModelDim == 128) ||
			(c.MaxMemoryMB == 2048 && c.CPUCores == 4 && c.RecommendedModelDim == 256)
		if !consistent {
			t.Fatalf("torn snapshot: %d MB / %d cores / dim %d", c.MaxMemoryMB, c.CPUCores, c.RecommendedModelDim)
		}
	}
	close(stop)
	wg.Wait()
}

func TestNode_CloseDropsCallback(t *testing.T) {
	a := NewArena()
	h, n := a.Create()
	n.SetCallback(callback.Static{}.Callback())
	a.Destroy(h)
	if n.HasCallback() {
		t.Error("released node still holds its callback")
	}
}
