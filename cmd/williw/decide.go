package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/williw/nodecore/pkg/device"
	"github.com/williw/nodecore/pkg/engine"
	"github.com/williw/nodecore/pkg/policy"
	"github.com/williw/nodecore/pkg/probe"
)

func decideCmd() *cobra.Command {
	var (
		file       string
		policyPath string
	)

	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Show the decisions made for a capability snapshot",
		Long: `Evaluates the decision engine and participation policy against a
capability document (--file, "-" for stdin) or, by default, against this
device.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), detectTimeout)
			defer cancel()

			var caps device.Capabilities
			if file != "" {
				var err error
				if caps, err = readCapabilities(cmd.InOrStdin(), file); err != nil {
					return err
				}
			} else {
				caps = probe.New(probe.WithLogger(logger)).Detect(ctx)
			}

			if policyPath == "" {
				policyPath = cfg.Policy
			}
			eval, err := newEvaluator(policyPath)
			if err != nil {
				return err
			}

			d := engine.Decide(caps)
			res := eval.Evaluate(ctx, caps)
			return writeDecision(cmd.OutOrStdout(), outputFormat, newDecisionView(caps, d, res))
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", `Capability JSON document ("-" for stdin)`)
	cmd.Flags().StringVar(&policyPath, "policy", "", "Participation policy file (defaults to config, then the built-in policy)")

	return cmd
}

// readCapabilities parses a capability document. Keys that fail to decode
// are reported and replaced by their defaults.
func readCapabilities(stdin io.Reader, path string) (device.Capabilities, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return device.Capabilities{}, fmt.Errorf("failed to read capabilities: %w", err)
	}

	caps, err := device.Parse(data)
	if errors.Is(err, device.ErrMalformed) {
		return device.Capabilities{}, fmt.Errorf("failed to parse capabilities: %w", err)
	}
	if err != nil {
		logger.Warn("capability fields defaulted", slog.String("error", err.Error()))
	}
	return engine.Derive(caps), nil
}

func newEvaluator(path string) (*policy.Evaluator, error) {
	p := policy.DefaultPolicy()
	if path != "" {
		var err error
		if p, err = policy.LoadPolicy(path); err != nil {
			return nil, fmt.Errorf("failed to load policy: %w", err)
		}
		logger.Info("loaded policy", slog.String("path", path), slog.Int("rules", len(p.Rules)))
	}
	return policy.NewEvaluator(p)
}
