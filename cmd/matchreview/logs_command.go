package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"matchreview/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var segment int64
	var component string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent matchreview log output",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, "matchreview.log")
			filter := logs.Filter{SegmentID: segment, Component: component}
			out := cmd.OutOrStdout()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result, err := logs.Tail(runCtx, path, logs.TailOptions{Offset: -1, Limit: lines, Filter: filter})
			if err != nil {
				return err
			}
			for _, line := range result.Lines {
				fmt.Fprintln(out, line)
			}
			offset := result.Offset
			for follow {
				result, err := logs.Tail(runCtx, path, logs.TailOptions{Offset: offset, Follow: true, Wait: 5 * time.Second, Filter: filter})
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				for _, line := range result.Lines {
					fmt.Fprintln(out, line)
				}
				offset = result.Offset
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().Int64Var(&segment, "segment", 0, "Only lines about this segment")
	cmd.Flags().StringVar(&component, "component", "", "Only lines from this component (session, buckets, player, ...)")
	return cmd
}
