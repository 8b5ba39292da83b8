package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/williw/nodecore/pkg/device"
	"github.com/williw/nodecore/pkg/engine"
)

// Evaluator evaluates capability snapshots against a policy using CEL.
type Evaluator struct {
	policy   *Policy
	env      *cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex
}

// Result is the outcome of one evaluation.
type Result struct {
	Action Action
	// MatchedRule is empty when no rule matched and the node runs by default.
	MatchedRule string
}

// NewEvaluator compiles every rule of policy.
func NewEvaluator(policy *Policy) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("caps", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	programs, err := compile(env, policy)
	if err != nil {
		return nil, err
	}

	return &Evaluator{
		policy:   policy,
		env:      env,
		programs: programs,
	}, nil
}

func compile(env *cel.Env, policy *Policy) (map[string]cel.Program, error) {
	programs := make(map[string]cel.Program, len(policy.Rules))
	for _, rule := range policy.Rules {
		ast, issues := env.Compile(rule.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile rule %q: %w", rule.Name, issues.Err())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("create program for rule %q: %w", rule.Name, err)
		}

		programs[rule.Name] = program
	}
	return programs, nil
}

// Evaluate returns the action of the highest-priority rule that matches c.
// A rule whose condition fails to evaluate is skipped.
func (e *Evaluator) Evaluate(ctx context.Context, c device.Capabilities) Result {
	e.mu.RLock()
	defer e.mu.RUnlock()

	vars := map[string]any{"caps": capsToMap(c)}
	for _, rule := range e.policy.SortedRules() {
		out, _, err := e.programs[rule.Name].ContextEval(ctx, vars)
		if err != nil {
			continue
		}
		if out.Type() == types.BoolType && out.Value().(bool) {
			return Result{Action: rule.Action, MatchedRule: rule.Name}
		}
	}
	return Result{Action: ActionRun}
}

// UpdatePolicy replaces the current policy with a new one.
func (e *Evaluator) UpdatePolicy(policy *Policy) error {
	programs, err := compile(e.env, policy)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.policy = policy
	e.programs = programs
	e.mu.Unlock()

	return nil
}

// Policy returns the current policy.
func (e *Evaluator) Policy() *Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// capsToMap converts a snapshot to the map rules see. Optional values that
// are unset are left out so conditions can test them with has().
func capsToMap(c device.Capabilities) map[string]any {
	apis := make([]string, len(c.GPUComputeAPIs))
	for i, api := range c.GPUComputeAPIs {
		apis[i] = string(api)
	}

	m := map[string]any{
		device.KeyMaxMemoryMB:             int64(c.MaxMemoryMB),
		device.KeyCPUCores:                int64(c.CPUCores),
		device.KeyCPUArchitecture:         c.CPUArchitecture,
		device.KeyHasGPU:                  c.HasGPU,
		device.KeyGPUComputeAPIs:          apis,
		device.KeyNetworkType:             string(c.NetworkType),
		device.KeyDeviceType:              string(c.DeviceType),
		device.KeyDeviceBrand:             c.DeviceBrand,
		device.KeyDeviceModel:             c.DeviceModel,
		device.KeyRecommendedModelDim:     int64(c.RecommendedModelDim),
		device.KeyRecommendedTickInterval: int64(c.RecommendedTickIntervalSecs),
		"low_battery":                     c.BatteryLevel != nil && *c.BatteryLevel < engine.LowBatteryThreshold,
		"performance_score":               c.PerformanceScore(),
	}
	if c.HasTPU != nil {
		m[device.KeyHasTPU] = *c.HasTPU
	}
	if c.BatteryLevel != nil {
		m[device.KeyBatteryLevel] = float64(*c.BatteryLevel)
	}
	if c.IsCharging != nil {
		m[device.KeyIsCharging] = *c.IsCharging
	}
	return m
}
