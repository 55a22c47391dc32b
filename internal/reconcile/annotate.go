package reconcile

import (
	"math"

	"matchreview/internal/match"
)

const (
	contiguityGap = 0.001
	epsilon       = 1e-9
)

// SpikePolicy holds the spike detection thresholds.
type SpikePolicy struct {
	CrossLimit float64 // seconds between P.end and N.start still treated as adjacent
	RatioMin   float64
	MinGap     float64 // seconds
	Dominance  float64
}

// DefaultSpikePolicy returns the stock thresholds.
func DefaultSpikePolicy() SpikePolicy {
	return SpikePolicy{CrossLimit: 6, RatioMin: 20, MinGap: 1, Dominance: 5}
}

// Annotation is the display metadata for one segment.
type Annotation struct {
	SegmentID  int64  `json:"seg_id"`
	Source     Source `json:"source"`
	Contiguous bool   `json:"contiguous"`
	Island     int    `json:"island"`
	Spike      bool   `json:"spike"`
}

// Annotate computes continuity islands and spike flags over the ordered
// segment list in a single pass.
func Annotate(segments []*match.Segment, overrides Overrides, policy SpikePolicy) []Annotation {
	out := make([]Annotation, len(segments))
	matches := make([]*match.Candidate, len(segments))
	for i, seg := range segments {
		cand, src := EffectiveMatch(seg, overrides)
		out[i] = Annotation{Source: src}
		if seg != nil {
			out[i].SegmentID = seg.ID
		}
		if src != SourceNone {
			c := cand
			matches[i] = &c
		}
	}

	island := 0
	for i := range segments {
		if i > 0 {
			if Contiguous(matches[i-1], matches[i]) {
				out[i].Contiguous = true
			} else {
				island++
			}
		}
		out[i].Island = island
		if i > 0 && i < len(segments)-1 {
			out[i].Spike = Spike(matches[i-1], matches[i], matches[i+1], policy)
		}
	}
	return out
}

// Contiguous reports whether b directly continues a in the movie.
func Contiguous(a, b *match.Candidate) bool {
	if a == nil || b == nil {
		return false
	}
	if consecutiveIDs(a, b) {
		return true
	}
	if a.SceneID != nil && b.SceneID != nil && *a.SceneID == *b.SceneID &&
		a.SceneIndex != nil && b.SceneIndex != nil && *b.SceneIndex == *a.SceneIndex+1 {
		return true
	}
	return math.Abs(b.Start-a.End) <= contiguityGap+epsilon
}

func consecutiveIDs(a, b *match.Candidate) bool {
	return a.ID != nil && b.ID != nil && *b.ID == *a.ID+1
}

// Spike reports whether c is a lone outlier between two neighbors that are
// themselves adjacent-like. All three matches must be present.
func Spike(p, c, n *match.Candidate, policy SpikePolicy) bool {
	if p == nil || c == nil || n == nil {
		return false
	}
	mid := c.Range().Mid()
	dt1 := math.Abs(mid - p.End)
	dt2 := math.Abs(n.Start - mid)
	dtCross := math.Abs(n.Start - p.End)

	near := math.Min(dt1, dt2)
	adjacent := dtCross <= policy.CrossLimit ||
		near/math.Max(dtCross, contiguityGap) >= policy.RatioMin ||
		consecutiveIDs(p, n)
	if !adjacent {
		return false
	}
	return dt1 > policy.MinGap && dt2 > policy.MinGap && near > policy.Dominance*dtCross
}
