package reconcile_test

import (
	"testing"

	"matchreview/internal/match"
	"matchreview/internal/reconcile"
)

func ptr[T any](v T) *T { return &v }

func cand(id int64, start, end float64) match.Candidate {
	return match.Candidate{ID: ptr(id), Start: start, End: end}
}

func TestEffectiveMatchPrecedence(t *testing.T) {
	server := cand(2, 20, 21)
	seg := &match.Segment{
		ID:         1,
		Start:      0,
		End:        4,
		Match:      &server,
		TopMatches: []match.Candidate{cand(3, 30, 31), cand(4, 40, 41)},
	}
	overrides := reconcile.Overrides{1: cand(9, 90, 91)}

	got, src := reconcile.EffectiveMatch(seg, overrides)
	if src != reconcile.SourceOverride || *got.ID != 9 {
		t.Fatalf("expected override, got %v from %s", got, src)
	}

	got, src = reconcile.EffectiveMatch(seg, nil)
	if src != reconcile.SourceServer || *got.ID != 2 {
		t.Fatalf("expected server match, got %v from %s", got, src)
	}

	seg.Match = nil
	got, src = reconcile.EffectiveMatch(seg, nil)
	if src != reconcile.SourceTop || *got.ID != 3 {
		t.Fatalf("expected first top match, got %v from %s", got, src)
	}

	seg.TopMatches = nil
	if _, src = reconcile.EffectiveMatch(seg, nil); src != reconcile.SourceNone {
		t.Fatalf("expected none, got %s", src)
	}
	if r := reconcile.PreviewRange(seg, nil); r.Start != 0 || r.End != 4 {
		t.Fatalf("expected [0, clip duration), got %v", r)
	}
}

func TestOverrideForOtherSegmentIgnored(t *testing.T) {
	server := cand(2, 20, 21)
	seg := &match.Segment{ID: 1, Match: &server}
	_, src := reconcile.EffectiveMatch(seg, reconcile.Overrides{5: cand(9, 0, 1)})
	if src != reconcile.SourceServer {
		t.Fatalf("expected server, got %s", src)
	}
}

func TestContiguityGapBoundary(t *testing.T) {
	a := match.Candidate{Start: 5, End: 10}
	cases := []struct {
		name  string
		start float64
		want  bool
	}{
		{"touching", 10, true},
		{"one millisecond", 10.001, true},
		{"one point one milliseconds", 10.0011, false},
		{"overlap within a millisecond", 9.9995, true},
		{"far", 12, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := match.Candidate{Start: tc.start, End: tc.start + 3}
			if got := reconcile.Contiguous(&a, &b); got != tc.want {
				t.Fatalf("Contiguous = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestContiguityRules(t *testing.T) {
	idA, idB := cand(10, 0, 1), cand(11, 50, 51)
	if !reconcile.Contiguous(&idA, &idB) {
		t.Fatal("consecutive ids should be contiguous")
	}
	if reconcile.Contiguous(&idB, &idA) {
		t.Fatal("ids must increase by one")
	}

	sa := match.Candidate{SceneID: ptr[int64](3), SceneIndex: ptr(4), Start: 0, End: 1}
	sb := match.Candidate{SceneID: ptr[int64](3), SceneIndex: ptr(5), Start: 70, End: 71}
	if !reconcile.Contiguous(&sa, &sb) {
		t.Fatal("consecutive scene indices should be contiguous")
	}
	sb.SceneID = nil
	if reconcile.Contiguous(&sa, &sb) {
		t.Fatal("missing scene id disables the scene-index rule")
	}
	if reconcile.Contiguous(nil, &sb) || reconcile.Contiguous(&sa, nil) {
		t.Fatal("missing match is never contiguous")
	}
}

func TestAnnotateIslands(t *testing.T) {
	m := func(id int64, s, e float64) *match.Candidate { c := cand(id, s, e); return &c }
	segs := []*match.Segment{
		{ID: 1, End: 1, Match: m(100, 0, 1)},
		{ID: 2, End: 1, Match: m(101, 1, 2)},
		{ID: 3, End: 1, Match: m(500, 80, 81)},
		{ID: 4, End: 1},
		{ID: 5, End: 1, Match: m(501, 81, 82)},
	}
	got := reconcile.Annotate(segs, nil, reconcile.DefaultSpikePolicy())
	wantIslands := []int{0, 0, 1, 2, 3}
	wantContig := []bool{false, true, false, false, false}
	for i, a := range got {
		if a.Island != wantIslands[i] || a.Contiguous != wantContig[i] {
			t.Fatalf("segment %d: island=%d contiguous=%v, want %d/%v", i, a.Island, a.Contiguous, wantIslands[i], wantContig[i])
		}
		if a.SegmentID != segs[i].ID {
			t.Fatalf("annotation %d has segment %d", i, a.SegmentID)
		}
	}
	if got[3].Source != reconcile.SourceNone {
		t.Fatalf("expected no source for segment 4, got %s", got[3].Source)
	}
}

func TestSpikeWorkedExample(t *testing.T) {
	p := match.Candidate{Start: 5, End: 10}
	c := match.Candidate{Start: 11, End: 11.2}
	n := match.Candidate{Start: 30, End: 35}
	if reconcile.Spike(&p, &c, &n, reconcile.DefaultSpikePolicy()) {
		t.Fatal("neighbors are not adjacent-like, expected no spike")
	}
}

func TestSpikeLoneOutlier(t *testing.T) {
	p := match.Candidate{Start: 5, End: 10}
	c := match.Candidate{Start: 100, End: 100.2}
	n := match.Candidate{Start: 10.5, End: 12}
	policy := reconcile.DefaultSpikePolicy()
	if !reconcile.Spike(&p, &c, &n, policy) {
		t.Fatal("expected spike for outlier between adjacent neighbors")
	}
	if reconcile.Spike(&p, nil, &n, policy) {
		t.Fatal("missing match must not be flagged")
	}

	segs := []*match.Segment{{ID: 1, Match: &p}, {ID: 2, Match: &c}, {ID: 3, Match: &n}}
	ann := reconcile.Annotate(segs, nil, policy)
	if ann[0].Spike || !ann[1].Spike || ann[2].Spike {
		t.Fatalf("unexpected spike flags: %+v", ann)
	}
}

func TestSpikeConsecutiveNeighborIDs(t *testing.T) {
	p := cand(7, 0, 10)
	c := match.Candidate{Start: 99.9, End: 100.1}
	n := cand(8, 20, 30)
	policy := reconcile.DefaultSpikePolicy()
	if !reconcile.Spike(&p, &c, &n, policy) {
		t.Fatal("consecutive neighbor ids should count as adjacent-like")
	}
	n.ID = ptr[int64](42)
	if reconcile.Spike(&p, &c, &n, policy) {
		t.Fatal("without consecutive ids the neighbors are too far apart")
	}
}
