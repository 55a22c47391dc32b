package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"matchreview/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var projectsOnly bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent projects and accepted changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := journal.Open(cfg.JournalPath())
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if projectsOnly {
				projects, err := store.RecentProjects(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, projects)
				}
				rows := make([][]string, 0, len(projects))
				for _, p := range projects {
					rows = append(rows, []string{
						p.Root,
						strconv.Itoa(p.SegmentCount),
						strconv.Itoa(p.OpenedCount),
						formatTimestamp(p.LastOpenedAt),
					})
				}
				fmt.Fprintln(out, renderTable(tableSpec{
					Headers: []string{"Root", "Segments", "Opens", "Last Opened"},
					Rows:    rows,
					Aligns:  []columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
				}))
				return nil
			}

			req, err := ctx.projectRequest(cmd.Context(), store)
			if err != nil {
				return err
			}
			actions, err := store.History(cmd.Context(), req.Root, limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, actions)
			}
			for _, line := range renderSectionHeader(req.Root, colorize) {
				fmt.Fprintln(out, line)
			}
			if len(actions) == 0 {
				fmt.Fprintln(out, "No changes recorded")
				return nil
			}
			rows := make([][]string, 0, len(actions))
			for _, a := range actions {
				detail := "-"
				switch a.Kind {
				case journal.KindApply:
					detail = formatID(a.CandidateID)
					if a.MovieRange != nil {
						detail += " " + formatRange(*a.MovieRange)
					}
				case journal.KindReview:
					detail = reviewCell(a.Review, false, colorize)
				}
				rows = append(rows, []string{
					formatTimestamp(a.CreatedAt),
					string(a.Kind),
					strconv.FormatInt(a.SegmentID, 10),
					detail,
				})
			}
			fmt.Fprintln(out, renderTable(tableSpec{
				Headers: []string{"When", "Action", "Segment", "Detail"},
				Rows:    rows,
				Aligns:  []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			}))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show")
	cmd.Flags().BoolVar(&projectsOnly, "projects", false, "List recently opened projects instead")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
