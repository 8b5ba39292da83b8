package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParsePolicy(t *testing.T) {
	data := []byte(`
rules:
  - name: metered
    condition: caps.network_type.startsWith("cellular")
    action: throttle
    priority: 10
  - name: default
    condition: "true"
    action: run
`)
	p, err := ParsePolicy(data)
	if err != nil {
		t.Fatalf("ParsePolicy() error = %v", err)
	}
	if len(p.Rules) != 2 {
		t.Fatalf("len(Rules) = %d, want 2", len(p.Rules))
	}
	if p.Rules[0].Action != ActionThrottle || p.Rules[0].Priority != 10 {
		t.Errorf("Rules[0] = %+v", p.Rules[0])
	}
}

func TestParsePolicy_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"empty", `rules: []`, "at least one rule"},
		{"missing name", "rules:\n  - condition: \"true\"\n    action: run", "name is required"},
		{"missing condition", "rules:\n  - name: a\n    action: run", "condition is required"},
		{"bad action", "rules:\n  - name: a\n    condition: \"true\"\n    action: sprint", "invalid action"},
		{"duplicate", "rules:\n  - name: a\n    condition: \"true\"\n    action: run\n  - name: a\n    condition: \"false\"\n    action: pause", "duplicate"},
		{"bad yaml", "rules: [", "parse policy YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tt.yaml))
			if err == nil {
				t.Fatal("ParsePolicy() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("rules:\n  - name: always\n    condition: \"true\"\n    action: pause\n"), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if p.Rules[0].Action != ActionPause {
		t.Errorf("Action = %q, want pause", p.Rules[0].Action)
	}

	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadPolicy() should fail for a missing file")
	}
}

func TestSortedRules(t *testing.T) {
	p := &Policy{Rules: []Rule{
		{Name: "low", Priority: 1},
		{Name: "high-a", Priority: 10},
		{Name: "mid", Priority: 5},
		{Name: "high-b", Priority: 10},
	}}
	got := p.SortedRules()
	want := []string{"high-a", "high-b", "mid", "low"}
	for i, r := range got {
		if r.Name != want[i] {
			t.Errorf("SortedRules()[%d] = %q, want %q", i, r.Name, want[i])
		}
	}
	if p.Rules[0].Name != "low" {
		t.Error("SortedRules mutated the policy")
	}
}

func TestDefaultPolicy_Valid(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Errorf("DefaultPolicy().Validate() = %v", err)
	}
}
