package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/williw/nodecore/pkg/probe"
)

const detectTimeout = 10 * time.Second

func capsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caps",
		Short: "Detect and print this device's capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), detectTimeout)
			defer cancel()

			caps := probe.New(probe.WithLogger(logger)).Detect(ctx)
			return writeCapabilities(cmd.OutOrStdout(), outputFormat, caps)
		},
	}

	return cmd
}
