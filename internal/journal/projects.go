package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Project is a previously opened review project.
type Project struct {
	Root         string
	Movie        string
	Clip         string
	SegmentCount int
	OpenedCount  int
	LastOpenedAt time.Time
}

// RecordProject upserts root and bumps its open counter.
func (s *Store) RecordProject(ctx context.Context, p Project) error {
	if p.Root == "" {
		return errors.New("record project: empty root")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(ctx,
		`INSERT INTO projects (root, movie, clip, segment_count, opened_count, last_opened_at)
         VALUES (?, ?, ?, ?, 1, ?)
         ON CONFLICT(root) DO UPDATE SET
             movie = excluded.movie,
             clip = excluded.clip,
             segment_count = excluded.segment_count,
             opened_count = projects.opened_count + 1,
             last_opened_at = excluded.last_opened_at`,
		p.Root,
		nullableString(p.Movie),
		nullableString(p.Clip),
		p.SegmentCount,
		now,
	)
	if err != nil {
		return fmt.Errorf("record project: %w", err)
	}
	return nil
}

// RecentProjects lists projects, most recently opened first.
func (s *Store) RecentProjects(ctx context.Context, limit int) ([]Project, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT root, movie, clip, segment_count, opened_count, last_opened_at
         FROM projects ORDER BY last_opened_at DESC, root LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var (
			p            Project
			movie, clip  sql.NullString
			lastOpenedAt string
		)
		if err := rows.Scan(&p.Root, &movie, &clip, &p.SegmentCount, &p.OpenedCount, &lastOpenedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.Movie = movie.String
		p.Clip = clip.String
		p.LastOpenedAt = parseTime(lastOpenedAt)
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
