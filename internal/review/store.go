// Package review keeps per-segment review classifications in step with the
// backend and flags classifications made against a match that has since
// changed.
package review

import (
	"context"
	"log/slog"

	"matchreview/internal/logging"
	"matchreview/internal/match"
	"matchreview/internal/services"
)

// Backend is the slice of the gateway the store needs.
type Backend interface {
	UpdateReview(ctx context.Context, segID int64, status match.ReviewStatus) error
	ReviewState(ctx context.Context) (map[int64]match.ReviewStatus, error)
}

// Catalog gives the store guarded access to segments it does not own.
// identity is the segment's current effective match identity, or nil.
type Catalog interface {
	Update(segID int64, fn func(seg *match.Segment, identity *int64)) bool
	UpdateAll(fn func(seg *match.Segment, identity *int64))
}

// Store applies review classifications.
type Store struct {
	backend Backend
	catalog Catalog
	logger  *slog.Logger
}

// NewStore builds a Store.
func NewStore(backend Backend, catalog Catalog, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		catalog: catalog,
		logger:  logging.NewComponentLogger(logger, "review"),
	}
}

// SetStatus writes status to the backend and, on success only, records it on
// the segment along with the match identity it was made against.
func (s *Store) SetStatus(ctx context.Context, segID int64, status match.ReviewStatus) error {
	if err := s.backend.UpdateReview(ctx, segID, status); err != nil {
		logging.WarnWithContext(s.logger, "review update failed", "review_update_failed",
			logging.Int64(logging.FieldSegmentID, segID),
			logging.String("status", string(status)),
			logging.String(logging.FieldErrorHint, "check backend availability and retry"),
			logging.String(logging.FieldImpact, "classification unchanged"),
			logging.Error(err))
		return err
	}
	found := s.catalog.Update(segID, func(seg *match.Segment, identity *int64) {
		seg.RecordReview(status, identity)
	})
	if !found {
		return services.Wrap(services.ErrNotFound, "review", "set status",
			"segment not loaded", nil)
	}
	s.logger.Info("review recorded",
		logging.Int64(logging.FieldSegmentID, segID),
		logging.String("status", status.Label()))
	return nil
}

// BulkRefresh pulls the full review map and merges the status of every known
// segment. Segments absent from the map are left alone. On failure nothing
// changes.
func (s *Store) BulkRefresh(ctx context.Context) (int, error) {
	state, err := s.backend.ReviewState(ctx)
	if err != nil {
		logging.WarnWithContext(s.logger, "review refresh failed", "review_refresh_failed",
			logging.String(logging.FieldImpact, "existing classifications kept"),
			logging.Error(err))
		return 0, err
	}
	changed := 0
	s.catalog.UpdateAll(func(seg *match.Segment, identity *int64) {
		status, ok := state[seg.ID]
		if !ok || status == seg.Review {
			return
		}
		seg.RecordReview(status, identity)
		changed++
	})
	s.logger.Debug("review state merged",
		logging.Int("entries", len(state)),
		logging.Int("changed", changed))
	return changed, nil
}

// NoteMatchChange marks segID stale when it carries a classification recorded
// against a different match than identity.
func (s *Store) NoteMatchChange(segID int64, identity *int64) bool {
	stale := false
	s.catalog.Update(segID, func(seg *match.Segment, _ *int64) {
		stale = Stale(seg, identity)
		if stale {
			seg.ReviewStale = true
		}
	})
	if stale {
		s.logger.Info("review marked stale", logging.Int64(logging.FieldSegmentID, segID))
	}
	return stale
}

// Stale reports whether seg's classification no longer describes identity.
func Stale(seg *match.Segment, identity *int64) bool {
	if seg == nil || seg.Review == match.ReviewUnset {
		return false
	}
	recorded, ok := seg.ReviewedIdentity()
	switch {
	case !ok && identity == nil:
		return false
	case !ok || identity == nil:
		return true
	default:
		return recorded != *identity
	}
}
