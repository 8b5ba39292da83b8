package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/williw/nodecore/pkg/callback"
	"github.com/williw/nodecore/pkg/clock"
	"github.com/williw/nodecore/pkg/device"
	"github.com/williw/nodecore/pkg/handle"
	"github.com/williw/nodecore/pkg/policy"
)

type fakeRecorder struct {
	mu        sync.Mutex
	decisions map[string]int
	callbacks []bool
}

func (r *fakeRecorder) Call(op, code string) {}

func (r *fakeRecorder) CallbackDuration(d time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, ok)
}

func (r *fakeRecorder) Decision(action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decisions == nil {
		r.decisions = make(map[string]int)
	}
	r.decisions[action]++
}

func newNode(t *testing.T) *handle.Node {
	t.Helper()
	_, node := handle.NewArena().Create()
	return node
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustEvaluator(t *testing.T) *policy.Evaluator {
	t.Helper()
	eval, err := policy.NewEvaluator(policy.DefaultPolicy())
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return eval
}

func TestStep_DefaultsRun(t *testing.T) {
	node := newNode(t)
	var gotDim uint32
	work := WorkloadFunc(func(ctx context.Context, dim uint32) error {
		gotDim = dim
		return nil
	})
	rec := &fakeRecorder{}
	a := New(node, work, WithLogger(discard()), WithRecorder(rec), WithClock(clock.NewFake(time.Unix(0, 0))))

	tick := a.Step(context.Background())

	if tick.Action != policy.ActionRun {
		t.Errorf("Action = %q, want run", tick.Action)
	}
	if !tick.Ran {
		t.Error("workload did not run")
	}
	if gotDim != 256 {
		t.Errorf("workload dim = %d, want 256", gotDim)
	}
	if tick.Interval != 10*time.Second {
		t.Errorf("Interval = %v, want 10s", tick.Interval)
	}
	if tick.RefreshErr != nil {
		t.Errorf("RefreshErr = %v, want nil without a callback", tick.RefreshErr)
	}
	if rec.decisions["run"] != 1 {
		t.Errorf("run decisions = %d, want 1", rec.decisions["run"])
	}
	if len(rec.callbacks) != 0 {
		t.Errorf("callback observations = %d, want 0", len(rec.callbacks))
	}
}

func TestStep_EnginePausesOnLowBattery(t *testing.T) {
	node := newNode(t)
	if err := node.UpdateDeviceInfo([]byte(`{"device_type":"phone","battery_level":0.1,"is_charging":false}`)); err != nil {
		t.Fatalf("UpdateDeviceInfo: %v", err)
	}
	ran := false
	work := WorkloadFunc(func(context.Context, uint32) error {
		ran = true
		return nil
	})
	a := New(node, work, WithLogger(discard()), WithPolicy(mustEvaluator(t)))

	tick := a.Step(context.Background())

	if tick.Action != policy.ActionPause || tick.Rule != "engine" {
		t.Errorf("got %q by %q, want pause by engine", tick.Action, tick.Rule)
	}
	if ran || tick.Ran {
		t.Error("workload ran while paused")
	}
	if tick.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", tick.Interval)
	}
}

func TestStep_ChargingDoesNotPause(t *testing.T) {
	node := newNode(t)
	if err := node.UpdateBattery(0.1, callback.ChargingTrue); err != nil {
		t.Fatalf("UpdateBattery: %v", err)
	}
	a := New(node, nil, WithLogger(discard()), WithPolicy(mustEvaluator(t)))

	tick := a.Step(context.Background())
	if tick.Action != policy.ActionRun {
		t.Errorf("Action = %q, want run", tick.Action)
	}
	if tick.Ran {
		t.Error("Ran = true with no workload")
	}
}

func TestStep_Policy(t *testing.T) {
	tests := []struct {
		name     string
		network  string
		action   policy.Action
		rule     string
		interval time.Duration
	}{
		{"wifi runs", "wifi", policy.ActionRun, "default-run", 10 * time.Second},
		{"2g throttles", "cellular_2g", policy.ActionThrottle, "slow-cellular", 20 * time.Second},
		{"3g throttles", "3g", policy.ActionThrottle, "slow-cellular", 20 * time.Second},
		{"offline pauses", "none", policy.ActionPause, "offline", 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := newNode(t)
			if err := node.UpdateNetworkType(tt.network); err != nil {
				t.Fatalf("UpdateNetworkType: %v", err)
			}
			a := New(node, WorkloadFunc(func(context.Context, uint32) error { return nil }),
				WithLogger(discard()), WithPolicy(mustEvaluator(t)))

			tick := a.Step(context.Background())
			if tick.Action != tt.action {
				t.Errorf("Action = %q, want %q", tick.Action, tt.action)
			}
			if tick.Rule != tt.rule {
				t.Errorf("Rule = %q, want %q", tick.Rule, tt.rule)
			}
			if tick.Interval != tt.interval {
				t.Errorf("Interval = %v, want %v", tick.Interval, tt.interval)
			}
			if tick.Ran != (tt.action != policy.ActionPause) {
				t.Errorf("Ran = %v for action %q", tick.Ran, tt.action)
			}
		})
	}
}

func TestStep_IntervalBounds(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want time.Duration
	}{
		{"within bounds", Config{MinInterval: time.Second, MaxInterval: time.Minute}, 10 * time.Second},
		{"raised to min", Config{MinInterval: 20 * time.Second}, 20 * time.Second},
		{"lowered to max", Config{MaxInterval: 3 * time.Second}, 3 * time.Second},
		{"no bounds", Config{}, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(newNode(t), nil, WithLogger(discard()), WithConfig(tt.cfg))
			if got := a.Step(context.Background()).Interval; got != tt.want {
				t.Errorf("Interval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStep_WorkloadError(t *testing.T) {
	boom := errors.New("boom")
	a := New(newNode(t), WorkloadFunc(func(context.Context, uint32) error { return boom }), WithLogger(discard()))

	tick := a.Step(context.Background())
	if !errors.Is(tick.WorkErr, boom) {
		t.Errorf("WorkErr = %v, want %v", tick.WorkErr, boom)
	}
	if !tick.Ran {
		t.Error("Ran = false, want true")
	}
}

func TestStep_RefreshApplies(t *testing.T) {
	node := newNode(t)
	node.SetCallback(callback.Static{
		MemoryMB:     8192,
		CPUCores:     8,
		NetworkType:  "wifi",
		BatteryLevel: -1,
		IsCharging:   callback.ChargingUnknown,
	}.Callback())
	rec := &fakeRecorder{}
	a := New(node, nil, WithLogger(discard()), WithRecorder(rec))

	tick := a.Step(context.Background())
	if tick.RefreshErr != nil {
		t.Fatalf("RefreshErr = %v", tick.RefreshErr)
	}
	if tick.Caps.MaxMemoryMB != 8192 || tick.Caps.NetworkType != device.NetworkWiFi {
		t.Errorf("caps not refreshed: memory=%d network=%q", tick.Caps.MaxMemoryMB, tick.Caps.NetworkType)
	}
	if tick.Decision.ModelDim != 1024 {
		t.Errorf("ModelDim = %d, want 1024", tick.Decision.ModelDim)
	}
	if len(rec.callbacks) != 1 || !rec.callbacks[0] {
		t.Errorf("callback observations = %v, want [true]", rec.callbacks)
	}
}

func TestStep_RefreshRetriesThenKeepsSnapshot(t *testing.T) {
	node := newNode(t)
	var calls atomic.Int32
	node.SetCallback(func(s *callback.Slots) int32 {
		calls.Add(1)
		s.MemoryMB = 16384
		return 7
	})
	fake := clock.NewFake(time.Unix(0, 0))
	rec := &fakeRecorder{}
	a := New(node, nil,
		WithLogger(discard()),
		WithRecorder(rec),
		WithClock(fake),
		WithConfig(Config{RefreshAttempts: 3, RetryDelay: 100 * time.Millisecond}),
	)

	done := make(chan Tick, 1)
	go func() { done <- a.Step(context.Background()) }()

	// Retry delays carry up to 10% jitter.
	fake.BlockUntilWaiters(1)
	fake.Advance(110 * time.Millisecond)
	fake.BlockUntilWaiters(1)
	fake.Advance(220 * time.Millisecond)

	var tick Tick
	select {
	case tick = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Step did not return")
	}

	if got := calls.Load(); got != 3 {
		t.Errorf("callback calls = %d, want 3", got)
	}
	if !errors.Is(tick.RefreshErr, handle.ErrCallbackFailed) {
		t.Errorf("RefreshErr = %v, want ErrCallbackFailed", tick.RefreshErr)
	}
	if tick.Caps.MaxMemoryMB != device.DefaultMemoryMB {
		t.Errorf("memory = %d, want last known %d", tick.Caps.MaxMemoryMB, device.DefaultMemoryMB)
	}
	if tick.Action != policy.ActionRun {
		t.Errorf("Action = %q, want run on last known snapshot", tick.Action)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.callbacks) != 3 {
		t.Errorf("callback observations = %d, want 3", len(rec.callbacks))
	}
	for i, ok := range rec.callbacks {
		if ok {
			t.Errorf("callback observation %d succeeded, want failure", i)
		}
	}
}

func TestStep_RefreshDefaultsToRefreshPolicyDelay(t *testing.T) {
	node := newNode(t)
	var calls atomic.Int32
	node.SetCallback(func(*callback.Slots) int32 {
		calls.Add(1)
		return 1
	})
	fake := clock.NewFake(time.Unix(0, 0))
	a := New(node, nil,
		WithLogger(discard()),
		WithClock(fake),
		WithConfig(Config{RefreshAttempts: 2}),
	)

	done := make(chan Tick, 1)
	go func() { done <- a.Step(context.Background()) }()

	// 250ms initial delay with 10% jitter.
	fake.BlockUntilWaiters(1)
	fake.Advance(200 * time.Millisecond)
	if fake.Waiters() != 1 {
		t.Fatal("retry fired before the refresh policy delay")
	}
	fake.Advance(75 * time.Millisecond)

	select {
	case tick := <-done:
		if !errors.Is(tick.RefreshErr, handle.ErrCallbackFailed) {
			t.Errorf("RefreshErr = %v, want ErrCallbackFailed", tick.RefreshErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Step did not return")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("callback calls = %d, want 2", got)
	}
}

func TestStep_RefreshSingleAttempt(t *testing.T) {
	node := newNode(t)
	var calls atomic.Int32
	node.SetCallback(func(*callback.Slots) int32 {
		calls.Add(1)
		return 1
	})
	a := New(node, nil, WithLogger(discard()), WithConfig(Config{RefreshAttempts: 1}))

	tick := a.Step(context.Background())
	if tick.RefreshErr == nil {
		t.Fatal("RefreshErr = nil, want failure")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("callback calls = %d, want 1", got)
	}
}

func TestRun(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	ticks := make(chan Tick, 4)
	var steps atomic.Int32
	work := WorkloadFunc(func(context.Context, uint32) error {
		steps.Add(1)
		return nil
	})
	a := New(newNode(t), work,
		WithLogger(discard()),
		WithClock(fake),
		WithObserver(func(tick Tick) { ticks <- tick }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	first := receive(t, ticks)
	fake.BlockUntilWaiters(1)
	fake.Advance(first.Interval - time.Second)
	if fake.Waiters() != 1 {
		t.Fatalf("loop woke before its interval elapsed")
	}
	fake.Advance(time.Second)
	second := receive(t, ticks)

	if !second.At.Equal(first.At.Add(first.Interval)) {
		t.Errorf("second tick at %v, want %v", second.At, first.At.Add(first.Interval))
	}

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if got := steps.Load(); got < 2 {
		t.Errorf("workload steps = %d, want >= 2", got)
	}
}

func TestNew_SessionID(t *testing.T) {
	node := newNode(t)
	a := New(node, nil)
	b := New(node, nil)
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("session ids %q and %q should be unique and non-empty", a.ID(), b.ID())
	}
}

func TestConfigFromDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RefreshAttempts != 3 {
		t.Errorf("RefreshAttempts = %d, want 3", cfg.RefreshAttempts)
	}
	if cfg.MinInterval != time.Second || cfg.MaxInterval != 5*time.Minute {
		t.Errorf("interval bounds = [%v, %v], want [1s, 5m]", cfg.MinInterval, cfg.MaxInterval)
	}
	if cfg.ThrottleFactor != 2 {
		t.Errorf("ThrottleFactor = %v, want 2", cfg.ThrottleFactor)
	}
}

func receive(t *testing.T, ch <-chan Tick) Tick {
	t.Helper()
	select {
	case tick := <-ch:
		return tick
	case <-time.After(5 * time.Second):
		t.Fatal("no tick observed")
		return Tick{}
	}
}
