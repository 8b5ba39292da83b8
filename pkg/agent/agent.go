// Package agent drives a node's participation in background work: on each
// tick it refreshes device telemetry, decides whether to run, and sleeps for
// the recommended interval.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/williw/nodecore/pkg/clock"
	"github.com/williw/nodecore/pkg/config"
	"github.com/williw/nodecore/pkg/device"
	"github.com/williw/nodecore/pkg/engine"
	"github.com/williw/nodecore/pkg/handle"
	"github.com/williw/nodecore/pkg/metrics"
	"github.com/williw/nodecore/pkg/policy"
	"github.com/williw/nodecore/pkg/retry"
)

// Workload is the background compute the agent gates.
type Workload interface {
	// Step runs one unit of work using a model partition of modelDim.
	Step(ctx context.Context, modelDim uint32) error
}

// WorkloadFunc adapts a function to Workload.
type WorkloadFunc func(ctx context.Context, modelDim uint32) error

// Step implements Workload.
func (f WorkloadFunc) Step(ctx context.Context, modelDim uint32) error { return f(ctx, modelDim) }

// Config tunes the loop.
type Config struct {
	MinInterval     time.Duration
	MaxInterval     time.Duration
	RefreshAttempts int
	RetryDelay      time.Duration
	ThrottleFactor  float64
}

// ConfigFrom converts the file configuration.
func ConfigFrom(c config.AgentConfig) Config {
	return Config{
		MinInterval:     c.MinInterval,
		MaxInterval:     c.MaxInterval,
		RefreshAttempts: c.RefreshAttempts,
		RetryDelay:      c.RetryDelay,
		ThrottleFactor:  c.ThrottleFactor,
	}
}

// DefaultConfig mirrors the defaults of the configuration file.
func DefaultConfig() Config {
	return ConfigFrom(config.Default().Agent)
}

// Tick records the outcome of one iteration.
type Tick struct {
	At       time.Time
	Caps     device.Capabilities
	Decision engine.Decision
	Action   policy.Action
	// Rule names what decided Action: a policy rule, or "engine" when the
	// decision engine paused.
	Rule     string
	Interval time.Duration
	Ran      bool

	RefreshErr error
	WorkErr    error
}

// Agent runs the participation loop for one node.
type Agent struct {
	id       string
	node     *handle.Node
	workload Workload
	eval     *policy.Evaluator
	cfg      Config
	logger   *slog.Logger
	recorder metrics.Recorder
	clock    clock.Clock
	observe  func(Tick)
}

// Option configures an Agent.
type Option func(*Agent)

// WithPolicy consults eval whenever the engine does not pause.
func WithPolicy(eval *policy.Evaluator) Option {
	return func(a *Agent) { a.eval = eval }
}

// WithConfig sets loop tuning.
func WithConfig(cfg Config) Option {
	return func(a *Agent) { a.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(a *Agent) { a.recorder = r }
}

// WithClock sets the clock that paces ticks and retries.
func WithClock(c clock.Clock) Option {
	return func(a *Agent) { a.clock = c }
}

// WithObserver registers fn to receive every tick.
func WithObserver(fn func(Tick)) Option {
	return func(a *Agent) { a.observe = fn }
}

// New creates an agent for node. workload may be nil to only track decisions.
func New(node *handle.Node, workload Workload, opts ...Option) *Agent {
	a := &Agent{
		id:       uuid.NewString(),
		node:     node,
		workload: workload,
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		recorder: metrics.Nop{},
		clock:    clock.Real(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(slog.String("session_id", a.id), slog.String("node_id", node.ID()))
	return a
}

// ID returns the agent's session identifier.
func (a *Agent) ID() string { return a.id }

// Run ticks until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "agent started")
	defer a.logger.Info("agent stopped")

	for {
		tick := a.Step(ctx)
		if a.observe != nil {
			a.observe(tick)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.clock.After(tick.Interval):
		}
	}
}

// Step runs one iteration. A failed refresh keeps the last known snapshot.
func (a *Agent) Step(ctx context.Context) Tick {
	tick := Tick{At: a.clock.Now()}

	if a.node.HasCallback() {
		tick.RefreshErr = a.refresh(ctx)
		if tick.RefreshErr != nil {
			a.logger.WarnContext(ctx, "device refresh failed, using last known snapshot",
				slog.String("error", tick.RefreshErr.Error()),
			)
		}
	}

	tick.Caps = a.node.Capabilities()
	tick.Decision = engine.Decide(tick.Caps)

	switch {
	case tick.Decision.Pause:
		tick.Action, tick.Rule = policy.ActionPause, "engine"
	case a.eval != nil:
		res := a.eval.Evaluate(ctx, tick.Caps)
		tick.Action, tick.Rule = res.Action, res.MatchedRule
	default:
		tick.Action = policy.ActionRun
	}
	a.recorder.Decision(string(tick.Action))

	if tick.Action != policy.ActionPause && a.workload != nil {
		tick.Ran = true
		if err := a.workload.Step(ctx, tick.Decision.ModelDim); err != nil {
			tick.WorkErr = err
			a.logger.WarnContext(ctx, "workload step failed", slog.String("error", err.Error()))
		}
	}

	tick.Interval = a.interval(tick.Decision.TickIntervalSecs, tick.Action)
	a.logger.DebugContext(ctx, "tick",
		slog.String("action", string(tick.Action)),
		slog.String("rule", tick.Rule),
		slog.Uint64("model_dim", uint64(tick.Decision.ModelDim)),
		slog.Duration("interval", tick.Interval),
	)
	return tick
}

func (a *Agent) refresh(ctx context.Context) error {
	cfg := retry.RefreshConfig()
	cfg.MaxAttempts = max(a.cfg.RefreshAttempts, 1)
	if a.cfg.RetryDelay > 0 {
		cfg.InitialDelay = a.cfg.RetryDelay
		cfg.MaxDelay = max(cfg.MaxDelay, a.cfg.RetryDelay)
	}
	cfg.Clock = a.clock
	cfg.Retryable = func(err error) bool {
		return !errors.Is(err, handle.ErrCallbackNotSet) && ctx.Err() == nil
	}
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		a.logger.DebugContext(ctx, "retrying device refresh",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		start := a.clock.Now()
		err := a.node.Refresh(ctx)
		a.recorder.CallbackDuration(a.clock.Since(start), err == nil)
		return err
	})
}

// interval converts the recommended cadence to a sleep, stretched while
// throttled and clamped to the configured bounds.
func (a *Agent) interval(secs uint64, action policy.Action) time.Duration {
	d := time.Duration(secs) * time.Second
	if action == policy.ActionThrottle && a.cfg.ThrottleFactor > 1 {
		d = time.Duration(float64(d) * a.cfg.ThrottleFactor)
	}
	if a.cfg.MinInterval > 0 && d < a.cfg.MinInterval {
		d = a.cfg.MinInterval
	}
	if a.cfg.MaxInterval > 0 && d > a.cfg.MaxInterval {
		d = a.cfg.MaxInterval
	}
	return d
}
