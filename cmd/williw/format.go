package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/williw/nodecore/pkg/device"
	"github.com/williw/nodecore/pkg/engine"
	"github.com/williw/nodecore/pkg/policy"
)

func writeCapabilities(w io.Writer, format string, c device.Capabilities) error {
	switch format {
	case "json":
		data, err := device.Marshal(c)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return err
		}
		buf.WriteByte('\n')
		_, err = buf.WriteTo(w)
		return err
	case "table":
		return writeTable(w, []string{"Field", "Value"}, capabilityRows(c))
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func capabilityRows(c device.Capabilities) [][]string {
	return [][]string{
		{"Device", formatDevice(c)},
		{"Memory", fmt.Sprintf("%d MB", c.MaxMemoryMB)},
		{"CPU", fmt.Sprintf("%d cores (%s)", c.CPUCores, c.CPUArchitecture)},
		{"GPU", formatGPU(c)},
		{"TPU", formatOptionalBool(c.HasTPU)},
		{"Network", string(c.NetworkType)},
		{"Battery", c.BatteryStatus()},
		{"Performance", fmt.Sprintf("%.2f", c.PerformanceScore())},
		{"Model Dim", strconv.FormatUint(uint64(c.RecommendedModelDim), 10)},
		{"Tick Interval", fmt.Sprintf("%ds", c.RecommendedTickIntervalSecs)},
	}
}

// decisionView is the rendered result of the decision engine and policy.
type decisionView struct {
	Device           string        `json:"device"`
	ModelDim         uint32        `json:"recommended_model_dim"`
	TickIntervalSecs uint64        `json:"recommended_tick_interval"`
	Pause            bool          `json:"should_pause_training"`
	Action           policy.Action `json:"action"`
	Rule             string        `json:"rule,omitempty"`
}

func newDecisionView(c device.Capabilities, d engine.Decision, res policy.Result) decisionView {
	v := decisionView{
		Device:           c.Summary(),
		ModelDim:         d.ModelDim,
		TickIntervalSecs: d.TickIntervalSecs,
		Pause:            d.Pause,
		Action:           res.Action,
		Rule:             res.MatchedRule,
	}
	if d.Pause {
		v.Action, v.Rule = policy.ActionPause, "engine"
	}
	return v
}

func writeDecision(w io.Writer, format string, v decisionView) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "table":
		rule := v.Rule
		if rule == "" {
			rule = "-"
		}
		return writeTable(w, []string{"Decision", "Value"}, [][]string{
			{"Device", v.Device},
			{"Model Dim", strconv.FormatUint(uint64(v.ModelDim), 10)},
			{"Tick Interval", fmt.Sprintf("%ds", v.TickIntervalSecs)},
			{"Pause Training", strconv.FormatBool(v.Pause)},
			{"Action", string(v.Action)},
			{"Rule", rule},
		})
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func writeTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Append(header)
	for _, row := range rows {
		table.Append(row)
	}
	return table.Render()
}

func formatDevice(c device.Capabilities) string {
	parts := []string{string(c.DeviceType)}
	if c.DeviceBrand != device.DefaultBrand || c.DeviceModel != device.DefaultModel {
		parts = append(parts, strings.TrimSpace(c.DeviceBrand+" "+c.DeviceModel))
	}
	return strings.Join(parts, " / ")
}

func formatGPU(c device.Capabilities) string {
	if !c.HasGPU {
		return "none"
	}
	if len(c.GPUComputeAPIs) == 0 {
		return "yes"
	}
	apis := make([]string, len(c.GPUComputeAPIs))
	for i, api := range c.GPUComputeAPIs {
		apis[i] = string(api)
	}
	return strings.Join(apis, ", ")
}

func formatOptionalBool(b *bool) string {
	switch {
	case b == nil:
		return "unknown"
	case *b:
		return "yes"
	default:
		return "no"
	}
}
