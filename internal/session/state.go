package session

import (
	"matchreview/internal/buckets"
	"matchreview/internal/gateway"
	"matchreview/internal/match"
	"matchreview/internal/reconcile"
)

// Selection is the segment the operator is looking at.
type Selection struct {
	SegmentID int64
	Bucket    buckets.Bucket
	Active    bool
	Loading   bool
}

// State is a point-in-time copy of the session.
type State struct {
	Project       gateway.OpenProjectRequest
	Loaded        bool
	Segments      []*match.Segment
	Overrides     reconcile.Overrides
	Annotations   []reconcile.Annotation
	Selection     Selection
	Candidates    []match.Candidate
	Preview       match.TimeRange
	PreviewSource reconcile.Source
}

// Clone returns a deep copy safe to hand to observers.
func (s State) Clone() State {
	out := s
	out.Segments = make([]*match.Segment, len(s.Segments))
	for i, seg := range s.Segments {
		out.Segments[i] = seg.Clone()
	}
	out.Overrides = make(reconcile.Overrides, len(s.Overrides))
	for id, cand := range s.Overrides {
		out.Overrides[id] = cand.Clone()
	}
	out.Annotations = append([]reconcile.Annotation(nil), s.Annotations...)
	out.Candidates = make([]match.Candidate, len(s.Candidates))
	for i, cand := range s.Candidates {
		out.Candidates[i] = cand.Clone()
	}
	return out
}

// ChangeKind names what a Change touched.
type ChangeKind string

const (
	ChangeProject     ChangeKind = "project"
	ChangeSelection   ChangeKind = "selection"
	ChangeCandidates  ChangeKind = "candidates"
	ChangeSegment     ChangeKind = "segment"
	ChangeOverrides   ChangeKind = "overrides"
	ChangeReview      ChangeKind = "review"
	ChangeAnnotations ChangeKind = "annotations"
)

// Change is delivered to observers after a mutation.
type Change struct {
	Kind      ChangeKind
	SegmentID int64
}
