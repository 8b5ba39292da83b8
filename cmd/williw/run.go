package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/williw/nodecore/pkg/agent"
	"github.com/williw/nodecore/pkg/handle"
	"github.com/williw/nodecore/pkg/metrics"
	"github.com/williw/nodecore/pkg/policy"
	"github.com/williw/nodecore/pkg/probe"
)

func runCmd() *cobra.Command {
	var (
		policyPath  string
		metricsAddr string
		ticks       int
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the participation loop on this device",
		Long: `Registers a device probe as the node's telemetry callback and runs the
participation loop: refresh, decide, step the workload, sleep for the
recommended interval. Stops on SIGINT/SIGTERM or after --ticks iterations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if policyPath == "" {
				policyPath = cfg.Policy
			}
			if metricsAddr == "" {
				metricsAddr = cfg.Metrics.Address
			}

			eval, err := newEvaluator(policyPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			arena := handle.NewArena(handle.WithReleaseHook(func(n *handle.Node) {
				logger.Debug("node released", slog.String("node_id", n.ID()))
			}))
			h, node := arena.Create()
			defer arena.Destroy(h)
			node.NetworkTypeCapacity = cfg.Callback.NetworkTypeCapacity

			p := probe.New(probe.WithLogger(logger))
			detectCtx, cancel := context.WithTimeout(ctx, detectTimeout)
			node.Replace(p.Detect(detectCtx))
			cancel()
			node.SetCallback(p.Callback())

			rec := metrics.NewPrometheus(arena.Live)
			if metricsAddr != "" {
				srv, err := metrics.NewServer(metricsAddr, cfg.Metrics.Token, rec, logger)
				if err != nil {
					return fmt.Errorf("failed to create metrics endpoint: %w", err)
				}
				srv.Start()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						logger.Error("error shutting down metrics endpoint", slog.String("error", err.Error()))
					}
				}()
			}

			ctx, cancelRun := context.WithCancel(ctx)
			defer cancelRun()

			seen := 0
			observe := func(t agent.Tick) {
				if !quiet {
					printTick(t)
				}
				seen++
				if ticks > 0 && seen >= ticks {
					cancelRun()
				}
			}

			a := agent.New(node, simulatedWorkload(logger),
				agent.WithPolicy(eval),
				agent.WithConfig(agent.ConfigFrom(cfg.Agent)),
				agent.WithLogger(logger),
				agent.WithRecorder(rec),
				agent.WithObserver(observe),
			)

			if !quiet {
				pterm.DefaultHeader.WithBackgroundStyle(pterm.NewStyle(pterm.BgDarkGray)).
					WithTextStyle(pterm.NewStyle(pterm.FgLightCyan, pterm.Bold)).
					Println("williw node " + node.ID())
				pterm.Info.Println(node.Capabilities().Summary())
			}

			if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "Participation policy file (defaults to config, then the built-in policy)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (defaults to config)")
	cmd.Flags().IntVar(&ticks, "ticks", 0, "Stop after this many ticks (0 runs until interrupted)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress per-tick console output")

	return cmd
}

// simulatedWorkload stands in for the training step a host would run.
func simulatedWorkload(logger *slog.Logger) agent.Workload {
	return agent.WorkloadFunc(func(ctx context.Context, modelDim uint32) error {
		logger.DebugContext(ctx, "training step", slog.Uint64("model_dim", uint64(modelDim)))
		return nil
	})
}

func printTick(t agent.Tick) {
	line := tickLine(t)
	switch {
	case t.RefreshErr != nil || t.WorkErr != nil:
		pterm.Warning.Println(line)
	case t.Action == policy.ActionPause:
		pterm.Info.Println(line)
	default:
		pterm.Success.Println(line)
	}
}

func tickLine(t agent.Tick) string {
	line := fmt.Sprintf("%s  %-8s dim=%-4d next=%-6s network=%s battery=%s",
		t.At.Format(time.TimeOnly),
		t.Action,
		t.Decision.ModelDim,
		t.Interval,
		t.Caps.NetworkType,
		t.Caps.BatteryStatus(),
	)
	if t.Rule != "" {
		line += "  rule=" + t.Rule
	}
	if t.RefreshErr != nil {
		line += "  refresh: " + t.RefreshErr.Error()
	}
	if t.WorkErr != nil {
		line += "  work: " + t.WorkErr.Error()
	}
	return line
}
