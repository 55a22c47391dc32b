package reconcile

import "matchreview/internal/match"

// Source records where an effective match came from.
type Source string

const (
	SourceOverride Source = "override"
	SourceServer   Source = "server"
	SourceTop      Source = "top"
	SourceNone     Source = "none"
)

// Overrides maps segment ids to operator-chosen candidates.
type Overrides map[int64]match.Candidate

// EffectiveMatch resolves the candidate the player should preview for seg:
// override, then server match, then the first top match.
func EffectiveMatch(seg *match.Segment, overrides Overrides) (match.Candidate, Source) {
	if seg == nil {
		return match.Candidate{}, SourceNone
	}
	if cand, ok := overrides[seg.ID]; ok {
		return cand, SourceOverride
	}
	if seg.Match != nil {
		return *seg.Match, SourceServer
	}
	if len(seg.TopMatches) > 0 {
		return seg.TopMatches[0], SourceTop
	}
	return match.Candidate{}, SourceNone
}

// EffectiveIdentity returns the identity of the effective match, or nil.
func EffectiveIdentity(seg *match.Segment, overrides Overrides) *int64 {
	cand, src := EffectiveMatch(seg, overrides)
	if src == SourceNone {
		return nil
	}
	id := cand.Identity()
	return &id
}

// PreviewRange is the movie interval to preview for seg. Without any match it
// falls back to [0, clip duration).
func PreviewRange(seg *match.Segment, overrides Overrides) match.TimeRange {
	cand, src := EffectiveMatch(seg, overrides)
	if src == SourceNone {
		var d float64
		if seg != nil {
			d = seg.ClipDuration()
		}
		return match.TimeRange{Start: 0, End: d}
	}
	return cand.Range()
}
