package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"matchreview/internal/match"
)

// Kind classifies journal actions.
type Kind string

const (
	KindApply  Kind = "apply"
	KindReview Kind = "review"
)

// Action is one accepted operator change.
type Action struct {
	ID          int64
	ProjectRoot string
	Kind        Kind
	SegmentID   int64
	CandidateID *int64
	MovieRange  *match.TimeRange
	Review      match.ReviewStatus
	CreatedAt   time.Time
}

// RecordApply logs an accepted apply of cand to segID.
func (s *Store) RecordApply(ctx context.Context, root string, segID int64, cand match.Candidate) error {
	id := cand.Identity()
	return s.insertAction(ctx, Action{
		ProjectRoot: root,
		Kind:        KindApply,
		SegmentID:   segID,
		CandidateID: &id,
		MovieRange:  &match.TimeRange{Start: cand.Start, End: cand.End},
	})
}

// RecordReview logs an accepted review classification.
func (s *Store) RecordReview(ctx context.Context, root string, segID int64, status match.ReviewStatus) error {
	return s.insertAction(ctx, Action{
		ProjectRoot: root,
		Kind:        KindReview,
		SegmentID:   segID,
		Review:      status,
	})
}

func (s *Store) insertAction(ctx context.Context, a Action) error {
	var start, end any
	if a.MovieRange != nil {
		start, end = a.MovieRange.Start, a.MovieRange.End
	}
	var review any
	if a.Kind == KindReview {
		review = string(a.Review)
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO actions (project_root, kind, segment_id, candidate_id, movie_start, movie_end, review_status, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ProjectRoot,
		string(a.Kind),
		a.SegmentID,
		nullableInt64(a.CandidateID),
		start,
		end,
		review,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert %s action: %w", a.Kind, err)
	}
	return nil
}

// History returns the newest actions for root, newest first. An empty root
// lists every project.
func (s *Store) History(ctx context.Context, root string, limit int) ([]Action, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + actionColumns + ` FROM actions`
	args := []any{}
	if root != "" {
		query += ` WHERE project_root = ?`
		args = append(args, root)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return s.queryActions(ctx, query, args...)
}

// SegmentHistory returns every action for segID, oldest first.
func (s *Store) SegmentHistory(ctx context.Context, segID int64) ([]Action, error) {
	return s.queryActions(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE segment_id = ? ORDER BY id`, segID)
}

const actionColumns = `id, project_root, kind, segment_id, candidate_id, movie_start, movie_end, review_status, created_at`

func (s *Store) queryActions(ctx context.Context, query string, args ...any) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var (
			a          Action
			kind       string
			candidate  sql.NullInt64
			start, end sql.NullFloat64
			review     sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&a.ID, &a.ProjectRoot, &kind, &a.SegmentID, &candidate, &start, &end, &review, &createdAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Kind = Kind(kind)
		if candidate.Valid {
			v := candidate.Int64
			a.CandidateID = &v
		}
		if start.Valid && end.Valid {
			a.MovieRange = &match.TimeRange{Start: start.Float64, End: end.Float64}
		}
		a.Review = match.ReviewStatus(review.String)
		a.CreatedAt = parseTime(createdAt)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
