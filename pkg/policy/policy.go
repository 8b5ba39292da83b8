// Package policy decides whether a node should participate in background
// work, using CEL rules evaluated against its capability snapshot.
package policy

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Action is the outcome of a policy evaluation.
type Action string

const (
	ActionRun      Action = "run"
	ActionThrottle Action = "throttle"
	ActionPause    Action = "pause"
)

// Policy defines a set of participation rules.
type Policy struct {
	// Rules are evaluated in priority order (highest first).
	// The first matching rule determines the action.
	Rules []Rule `yaml:"rules"`
}

// Rule defines a single participation rule.
type Rule struct {
	// Name identifies the rule for logging and debugging.
	Name string `yaml:"name"`

	// Condition is a CEL expression evaluated against a 'caps' variable
	// holding the capability document keys (max_memory_mb, cpu_cores,
	// network_type, battery_level, is_charging, device_type, ...) plus
	// low_battery and performance_score. Unset optional keys are absent,
	// so guard them with has().
	Condition string `yaml:"condition"`

	// Action is taken when this rule matches.
	Action Action `yaml:"action"`

	// Priority determines evaluation order. Rules with the same priority
	// are evaluated in definition order.
	Priority int `yaml:"priority"`
}

// LoadPolicy loads a policy from a YAML file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	return ParsePolicy(data)
}

// ParsePolicy parses a policy from YAML data.
func ParsePolicy(data []byte) (*Policy, error) {
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("parse policy YAML: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}

	return &policy, nil
}

// Validate checks that the policy is well-formed.
func (p *Policy) Validate() error {
	if len(p.Rules) == 0 {
		return fmt.Errorf("policy must have at least one rule")
	}

	seen := make(map[string]bool, len(p.Rules))
	for i, rule := range p.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if seen[rule.Name] {
			return fmt.Errorf("rule %q: duplicate name", rule.Name)
		}
		seen[rule.Name] = true
		if rule.Condition == "" {
			return fmt.Errorf("rule %q: condition is required", rule.Name)
		}
		switch rule.Action {
		case ActionRun, ActionThrottle, ActionPause:
		default:
			return fmt.Errorf("rule %q: invalid action %q (must be run, throttle, or pause)", rule.Name, rule.Action)
		}
	}

	return nil
}

// SortedRules returns the rules sorted by priority (highest first),
// keeping definition order among equal priorities.
func (p *Policy) SortedRules() []Rule {
	sorted := slices.Clone(p.Rules)
	slices.SortStableFunc(sorted, func(a, b Rule) int {
		return b.Priority - a.Priority
	})
	return sorted
}
