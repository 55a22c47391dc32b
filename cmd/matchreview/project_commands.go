package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"matchreview/internal/buckets"
	"matchreview/internal/control"
	"matchreview/internal/match"
	"matchreview/internal/reconcile"
	"matchreview/internal/session"
)

func newOpenCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "open <root|link>",
		Short: "Open a project and remember it for later commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx.project.root = args[0]
			ws, err := ctx.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			state := ws.session.Snapshot()
			scenes := map[int64]struct{}{}
			for _, seg := range state.Segments {
				if seg.SceneID != nil {
					scenes[*seg.SceneID] = struct{}{}
				}
			}
			islands, spikes := annotationCounts(state.Annotations)
			fmt.Fprintf(cmd.OutOrStdout(), "Opened %s: %d segments in %d scenes, %d islands, %d spikes\n",
				state.Project.Root, len(state.Segments), len(scenes), islands, spikes)
			return nil
		},
	}
}

func newSegmentsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var spikesOnly bool

	cmd := &cobra.Command{
		Use:   "segments",
		Short: "List segments with continuity and spike annotations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := ctx.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			state := ws.session.Snapshot()
			rows := control.Rows(state)
			if spikesOnly {
				filtered := rows[:0]
				for _, row := range rows {
					if row.Spike {
						filtered = append(filtered, row)
					}
				}
				rows = filtered
			}
			if jsonOut {
				return writeJSON(cmd, rows)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			table := make([][]string, 0, len(rows))
			for _, row := range rows {
				matchCell := "-"
				if row.Match != nil {
					matchCell = formatRange(*row.Match)
				}
				table = append(table, []string{
					strconv.FormatInt(row.ID, 10),
					formatID(row.SceneID),
					formatRange(row.Clip),
					matchCell,
					row.Source,
					markerCell(row.Contiguous, "=", ansiGreen, colorize),
					strconv.Itoa(row.Island),
					markerCell(row.Spike, "!", ansiRed, colorize),
					reviewCell(match.ReviewStatus(row.Review), row.ReviewStale, colorize),
				})
			}
			islands, spikes := annotationCounts(state.Annotations)
			fmt.Fprintln(out, renderTable(tableSpec{
				Headers: []string{"Segment", "Scene", "Clip", "Match", "Source", "Cont", "Island", "Spike", "Review"},
				Rows:    table,
				Aligns:  []columnAlignment{alignRight, alignRight, alignRight, alignRight, alignLeft, alignCenter, alignRight, alignCenter, alignLeft},
				Caption: fmt.Sprintf("%d segments, %d islands, %d spikes", len(state.Segments), islands, spikes),
			}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&spikesOnly, "spikes", false, "Only list segments flagged as spikes")
	return cmd
}

func newCandidatesCommand(ctx *commandContext) *cobra.Command {
	var bucketFlag string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "candidates <segment>",
		Short: "List candidate matches for a segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			segID, err := parseSegmentID(args[0])
			if err != nil {
				return err
			}
			bucket, err := parseBucketFlag(bucketFlag)
			if err != nil {
				return err
			}
			ws, err := ctx.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			if err := ws.session.Select(cmd.Context(), segID, bucket); err != nil {
				return err
			}
			state := ws.session.Snapshot()
			if jsonOut {
				return writeJSON(cmd, state.Candidates)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			var current *int64
			if seg, ok := ws.session.Segment(segID); ok {
				current = reconcile.EffectiveIdentity(seg, state.Overrides)
			}
			fmt.Fprintf(out, "Segment %d clip %s, previewing %s (%s)\n",
				segID, formatRange(segmentClip(state, segID)), formatRange(state.Preview), state.PreviewSource)
			fmt.Fprintln(out, renderTable(tableSpec{
				Headers: []string{"#", "ID", "Movie", "Score", "Scene", "Source", "Current"},
				Rows:    candidateRows(state.Candidates, current, colorize),
				Aligns:  []columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft, alignCenter},
				Caption: fmt.Sprintf("bucket %s", state.Selection.Bucket),
			}))
			return nil
		},
	}
	cmd.Flags().StringVarP(&bucketFlag, "bucket", "b", "", "Bucket: top, scene, corridor, all")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func newApplyCommand(ctx *commandContext) *cobra.Command {
	var bucketFlag string

	cmd := &cobra.Command{
		Use:   "apply <segment> <rank>",
		Short: "Bind a candidate from a bucket to a segment",
		Long: "Bind a candidate to a segment. <rank> is the 1-based row number shown by\n" +
			"`matchreview candidates` for the same bucket.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			segID, err := parseSegmentID(args[0])
			if err != nil {
				return err
			}
			rank, err := strconv.Atoi(strings.TrimSpace(args[1]))
			if err != nil || rank < 1 {
				return fmt.Errorf("invalid rank %q: must be a positive integer", args[1])
			}
			bucket, err := parseBucketFlag(bucketFlag)
			if err != nil {
				return err
			}
			ws, err := ctx.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			if err := ws.session.Select(cmd.Context(), segID, bucket); err != nil {
				return err
			}
			candidates := ws.session.Snapshot().Candidates
			if rank > len(candidates) {
				return fmt.Errorf("rank %d out of range (bucket has %d candidates)", rank, len(candidates))
			}
			chosen := candidates[rank-1]
			if err := ws.session.Apply(cmd.Context(), segID, chosen); err != nil {
				return err
			}
			seg, _ := ws.session.Segment(segID)
			fmt.Fprintf(cmd.OutOrStdout(), "Applied candidate %d (%s) to segment %d\n",
				chosen.Identity(), formatRange(chosen.Range()), segID)
			if seg != nil && seg.ReviewStale {
				fmt.Fprintf(cmd.OutOrStdout(), "Review %q is now stale; re-review segment %d\n", seg.Review.Label(), segID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&bucketFlag, "bucket", "b", "", "Bucket the rank refers to")
	return cmd
}

func newReviewCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "review <segment> <ok|needTrim|unsure|mismatch|unset>",
		Short: "Classify a segment's match",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			segID, err := parseSegmentID(args[0])
			if err != nil {
				return err
			}
			status, err := match.ParseReviewStatus(args[1])
			if err != nil {
				return err
			}
			ws, err := ctx.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			if err := ws.session.SetReview(cmd.Context(), segID, status); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Segment %d marked %s\n", segID, status.Label())
			return nil
		},
	}
}

func candidateRows(candidates []match.Candidate, current *int64, colorize bool) [][]string {
	rows := make([][]string, 0, len(candidates))
	for i, cand := range candidates {
		score := "-"
		if cand.Score != nil {
			score = strconv.FormatFloat(*cand.Score, 'f', 3, 64)
		}
		isCurrent := current != nil && cand.Identity() == *current
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.FormatInt(cand.Identity(), 10),
			formatRange(cand.Range()),
			score,
			formatID(cand.SceneID),
			firstNonEmpty(cand.Source, "-"),
			markerCell(isCurrent, "*", ansiGreen, colorize),
		})
	}
	return rows
}

func annotationCounts(annotations []reconcile.Annotation) (islands, spikes int) {
	if len(annotations) > 0 {
		islands = annotations[len(annotations)-1].Island + 1
	}
	for _, ann := range annotations {
		if ann.Spike {
			spikes++
		}
	}
	return islands, spikes
}

func segmentClip(state session.State, segID int64) match.TimeRange {
	for _, seg := range state.Segments {
		if seg.ID == segID {
			return seg.ClipRange()
		}
	}
	return match.TimeRange{}
}

func parseSegmentID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid segment id %q", raw)
	}
	return id, nil
}

func parseBucketFlag(raw string) (buckets.Bucket, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", nil
	}
	bucket, ok := buckets.ParseBucket(raw)
	if !ok {
		return "", fmt.Errorf("unknown bucket %q (want one of top, scene, corridor, all)", raw)
	}
	return bucket, nil
}
