package policy

// DefaultPolicy pauses on the same low-battery rule the decision engine
// uses and when the device is offline, throttles on slow cellular links,
// and otherwise runs.
func DefaultPolicy() *Policy {
	return &Policy{
		Rules: []Rule{
			{
				Name:      "offline",
				Condition: `caps.network_type == "none"`,
				Action:    ActionPause,
				Priority:  100,
			},
			{
				Name:      "low-battery",
				Condition: `caps.low_battery && !(has(caps.is_charging) && caps.is_charging)`,
				Action:    ActionPause,
				Priority:  100,
			},
			{
				Name:      "slow-cellular",
				Condition: `caps.network_type in ["cellular_2g", "cellular_3g"]`,
				Action:    ActionThrottle,
				Priority:  50,
			},
			{
				Name:      "low-memory",
				Condition: `caps.max_memory_mb < 1024`,
				Action:    ActionThrottle,
				Priority:  40,
			},
			{
				Name:      "default-run",
				Condition: `true`,
				Action:    ActionRun,
				Priority:  0,
			},
		},
	}
}
