package match

import (
	"fmt"
	"math"
)

// TimeRange is a half-open interval [Start, End) in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns End-Start, never negative.
func (r TimeRange) Duration() float64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Mid returns the midpoint of the range.
func (r TimeRange) Mid() float64 {
	return (r.Start + r.End) / 2
}

// Valid reports whether Start <= End and both are finite.
func (r TimeRange) Valid() bool {
	if math.IsNaN(r.Start) || math.IsNaN(r.End) || math.IsInf(r.Start, 0) || math.IsInf(r.End, 0) {
		return false
	}
	return r.Start <= r.End
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%.3f, %.3f)", r.Start, r.End)
}

// Scene groups segments. Scenes are listed once at project open.
type Scene struct {
	ID int64 `json:"clip_scene_id"`
}

// Segment is a clip interval under review ("SegmentRow" on the wire).
type Segment struct {
	ID           int64        `json:"seg_id"`
	Start        float64      `json:"start"`
	End          float64      `json:"end"`
	SceneID      *int64       `json:"clip_scene_id,omitempty"`
	SceneIndex   *int         `json:"scene_seg_idx,omitempty"`
	TopMatches   []Candidate  `json:"top_matches,omitempty"`
	Match        *Candidate   `json:"match,omitempty"`
	IsOverride   bool         `json:"is_override,omitempty"`
	Review       ReviewStatus `json:"review_status,omitempty"`
	ReviewStale  bool         `json:"review_stale,omitempty"`
	reviewedWith *int64
}

// ClipRange returns the segment's clip interval.
func (s *Segment) ClipRange() TimeRange {
	return TimeRange{Start: s.Start, End: s.End}
}

// ClipDuration is the length of the clip interval in seconds.
func (s *Segment) ClipDuration() float64 {
	return s.ClipRange().Duration()
}

// ReviewedIdentity returns the identity of the match the current review
// classification was recorded against.
func (s *Segment) ReviewedIdentity() (int64, bool) {
	if s.reviewedWith == nil {
		return 0, false
	}
	return *s.reviewedWith, true
}

// RecordReview stores the review classification together with the identity of
// the match it was made against and clears the stale flag.
func (s *Segment) RecordReview(status ReviewStatus, identity *int64) {
	s.Review = status
	s.ReviewStale = false
	if identity == nil {
		s.reviewedWith = nil
		return
	}
	id := *identity
	s.reviewedWith = &id
}

// Clone returns a deep copy of the segment.
func (s *Segment) Clone() *Segment {
	if s == nil {
		return nil
	}
	out := *s
	if s.SceneID != nil {
		v := *s.SceneID
		out.SceneID = &v
	}
	if s.SceneIndex != nil {
		v := *s.SceneIndex
		out.SceneIndex = &v
	}
	if s.TopMatches != nil {
		out.TopMatches = make([]Candidate, len(s.TopMatches))
		for i := range s.TopMatches {
			out.TopMatches[i] = s.TopMatches[i].Clone()
		}
	}
	if s.Match != nil {
		m := s.Match.Clone()
		out.Match = &m
	}
	if s.reviewedWith != nil {
		v := *s.reviewedWith
		out.reviewedWith = &v
	}
	return &out
}
