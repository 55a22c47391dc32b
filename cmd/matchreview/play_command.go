package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"matchreview/internal/player"
	"matchreview/internal/session"
)

func newPlayCommand(ctx *commandContext) *cobra.Command {
	var loops int
	var policyFlag string
	var mirror bool
	var noProbe bool

	cmd := &cobra.Command{
		Use:   "play <segment>",
		Short: "Preview a segment against its effective match",
		Long: "Play the segment's clip range and its effective movie range side by side on\n" +
			"a simulated clock, printing every start, boundary, restart and stop. Media\n" +
			"files are resolved relative to the project root and validated with ffprobe.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			segID, err := parseSegmentID(args[0])
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			policy, err := player.ParsePolicy(firstNonEmpty(policyFlag, cfg.Player.SyncPolicy))
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("loops") {
				loops = cfg.Player.LoopCount
			}
			if !cmd.Flags().Changed("mirror") {
				mirror = cfg.Player.Mirror
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var sourceOpts []player.SimulatedOption
			if !noProbe && cfg.Player.FFprobeBinary != "" {
				sourceOpts = append(sourceOpts, player.WithProber(player.FFprobe(cfg.Player.FFprobeBinary)))
			}
			out := cmd.OutOrStdout()
			var outMu sync.Mutex
			controller := player.NewController(
				player.NewSimulatedSource(sourceOpts...),
				player.NewSimulatedSource(sourceOpts...),
				player.WithTickInterval(cfg.TickInterval()),
				player.WithLogger(ctx.ensureLogger()),
				player.WithObserver(func(ev player.Event) {
					outMu.Lock()
					defer outMu.Unlock()
					fmt.Fprintln(out, describeEvent(ev))
				}),
			)

			ws, err := ctx.openWorkspace(runCtx, session.WithPlayer(controller))
			if err != nil {
				return err
			}
			defer ws.Close()

			req, err := ws.session.Preview(runCtx, segID, session.PlayOptions{
				LoopCount: loops,
				Policy:    policy,
				Mirror:    mirror,
			})
			if err != nil {
				return err
			}
			outMu.Lock()
			fmt.Fprintf(out, "Playing segment %d: clip %s vs movie %s (%s, %d loops, mirror %s)\n",
				segID, formatRange(req.ClipRange), formatRange(req.MovieRange), req.Policy, req.LoopCount, yesNo(req.Mirror))
			outMu.Unlock()

			select {
			case <-controller.Done():
			case <-runCtx.Done():
				ws.session.StopPreview()
				return context.Cause(runCtx)
			}
			snap := controller.Snapshot()
			outMu.Lock()
			fmt.Fprintf(out, "Finished after %d restarts\n", snap.Restarts)
			outMu.Unlock()
			return nil
		},
	}
	cmd.Flags().IntVarP(&loops, "loops", "n", 1, "Number of times to play the pair")
	cmd.Flags().StringVar(&policyFlag, "policy", "", "Loop policy: joint or independent")
	cmd.Flags().BoolVar(&mirror, "mirror", false, "Flip the movie horizontally")
	cmd.Flags().BoolVar(&noProbe, "no-probe", false, "Skip ffprobe validation of media files")
	return cmd
}

func describeEvent(ev player.Event) string {
	switch ev.Kind {
	case player.EventLoadFailed:
		return fmt.Sprintf("  %-5s %s: %v", ev.Role, ev.Kind, ev.Err)
	default:
		return fmt.Sprintf("  %-5s %-9s at %.3f (loops left %d)", ev.Role, ev.Kind, ev.Position, ev.Budget)
	}
}
