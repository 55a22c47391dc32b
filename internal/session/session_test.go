package session_test

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"matchreview/internal/buckets"
	"matchreview/internal/gateway"
	"matchreview/internal/journal"
	"matchreview/internal/match"
	"matchreview/internal/player"
	"matchreview/internal/reconcile"
	"matchreview/internal/session"
	"matchreview/internal/testsupport"
)

func ptr[T any](v T) *T { return &v }

func cand(id int64, start, end float64) match.Candidate {
	return match.Candidate{ID: ptr(id), Start: start, End: end}
}

type fixture struct {
	backend *testsupport.Backend
	journal *journal.Store
	session *session.Session
}

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()
	backend := testsupport.NewBackend(t)
	m10, m11, m20 := cand(100, 50, 52), cand(101, 52, 54), cand(300, 900, 902)
	backend.AddScene(1,
		match.Segment{ID: 10, Start: 0, End: 2, Match: &m10},
		match.Segment{ID: 11, Start: 2, End: 4, Match: &m11},
	)
	backend.AddScene(2, match.Segment{ID: 20, Start: 4, End: 6, Match: &m20})
	backend.SetSummary(10, gateway.Summary{
		Top:          []match.Candidate{cand(100, 50, 52), cand(7, 10, 12)},
		Neighborhood: []match.Candidate{cand(8, 30, 32)},
		Corridor: gateway.Corridor{
			Prev:    []match.Candidate{cand(99, 48, 50)},
			Current: []match.Candidate{cand(100, 50, 52), cand(99, 48, 50)},
			Next:    []match.Candidate{cand(101, 52, 54)},
		},
	})
	backend.SetSummary(11, gateway.Summary{Top: []match.Candidate{cand(101, 52, 54)}})
	backend.SetSummary(20, gateway.Summary{Top: []match.Candidate{cand(300, 900, 902), cand(102, 54, 56)}})

	client, err := gateway.New(backend.URL())
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(backend.URL()))
	store := testsupport.MustOpenJournal(t, cfg)
	opts = append([]session.Option{session.WithJournal(store)}, opts...)
	return &fixture{backend: backend, journal: store, session: session.New(client, opts...)}
}

func (f *fixture) open(t *testing.T) {
	t.Helper()
	if err := f.session.Open(context.Background(), gateway.OpenProjectRequest{Root: "/data/show", Movie: "movie.mkv", Clip: "clip.mp4"}); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
}

func TestOpenFlattensScenesInOrder(t *testing.T) {
	f := newFixture(t)
	f.backend.SetOverride(20, cand(102, 54, 56))
	f.backend.SetReview(11, match.ReviewOK)
	f.open(t)

	state := f.session.Snapshot()
	if !state.Loaded || state.Project.Root != "/data/show" {
		t.Fatalf("unexpected project state: %+v", state.Project)
	}
	var ids []int64
	for _, seg := range state.Segments {
		ids = append(ids, seg.ID)
	}
	if len(ids) != 3 || ids[0] != 10 || ids[1] != 11 || ids[2] != 20 {
		t.Fatalf("unexpected segment order %v", ids)
	}
	if state.Segments[2].SceneID == nil || *state.Segments[2].SceneID != 2 {
		t.Fatal("segments should inherit their scene id")
	}
	if !state.Segments[2].IsOverride {
		t.Fatal("segment with an override should be flagged")
	}
	if state.Segments[1].Review != match.ReviewOK {
		t.Fatalf("review state not merged: %q", state.Segments[1].Review)
	}

	ann := state.Annotations
	if len(ann) != 3 || ann[0].Island != 0 || !ann[1].Contiguous || ann[2].Source != reconcile.SourceOverride || !ann[2].Contiguous {
		t.Fatalf("unexpected annotations: %+v", ann)
	}

	projects, err := f.journal.RecentProjects(context.Background(), 5)
	if err != nil {
		t.Fatalf("RecentProjects: %v", err)
	}
	if len(projects) != 1 || projects[0].SegmentCount != 3 {
		t.Fatalf("project not journaled: %+v", projects)
	}
}

func TestOpenFailureKeepsPreviousProject(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	f.backend.Fail("GET /overrides", http.StatusInternalServerError)
	err := f.session.Open(context.Background(), gateway.OpenProjectRequest{Root: "/data/other"})
	if !errors.Is(err, gateway.ErrRequestFailed) {
		t.Fatalf("expected request failure, got %v", err)
	}
	state := f.session.Snapshot()
	if state.Project.Root != "/data/show" || len(state.Segments) != 3 {
		t.Fatalf("previous project should remain: %+v", state.Project)
	}
}

func TestSelectLoadsBucketAndPreview(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	if err := f.session.Select(context.Background(), 10, ""); err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	state := f.session.Snapshot()
	if state.Selection.SegmentID != 10 || state.Selection.Bucket != buckets.Top || state.Selection.Loading {
		t.Fatalf("unexpected selection: %+v", state.Selection)
	}
	if state.Preview.Start != 50 || state.Preview.End != 52 || state.PreviewSource != reconcile.SourceServer {
		t.Fatalf("unexpected preview: %v from %s", state.Preview, state.PreviewSource)
	}
	if len(state.Candidates) != 2 {
		t.Fatalf("unexpected candidates: %+v", state.Candidates)
	}

	if err := f.session.Select(context.Background(), 10, buckets.Corridor); err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if got := f.session.Snapshot().Candidates; len(got) != 3 {
		t.Fatalf("corridor should be de-duplicated to 3, got %d", len(got))
	}
	if err := f.session.Select(context.Background(), 10, buckets.Scene); err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if got := f.session.Snapshot().Candidates; len(got) != 1 || *got[0].ID != 8 {
		t.Fatalf("scene bucket should show the neighborhood, got %+v", got)
	}
	if hits := f.backend.Hits("GET /candidates/summary"); hits != 1 {
		t.Fatalf("expected one summary fetch, got %d", hits)
	}
}

func TestSelectUnknownSegment(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Select(context.Background(), 10, ""); !errors.Is(err, session.ErrNoProject) {
		t.Fatalf("expected ErrNoProject, got %v", err)
	}
	f.open(t)
	if err := f.session.Select(context.Background(), 999, ""); err == nil {
		t.Fatal("expected error for unknown segment")
	}
}

func TestSelectFailureEmptiesCandidates(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	if err := f.session.Select(context.Background(), 10, ""); err != nil {
		t.Fatalf("Select returned error: %v", err)
	}

	f.backend.Fail("GET /candidates/summary", http.StatusBadGateway)
	if err := f.session.Select(context.Background(), 11, ""); !errors.Is(err, gateway.ErrRequestFailed) {
		t.Fatalf("expected request failure, got %v", err)
	}
	state := f.session.Snapshot()
	if state.Candidates == nil || len(state.Candidates) != 0 {
		t.Fatalf("candidates should be empty after failure, got %+v", state.Candidates)
	}
	if state.Selection.SegmentID != 11 {
		t.Fatal("selection should still move to the requested segment")
	}
}

func TestLastSelectWins(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.backend.SetSummaryHook(func(segID int64) {
		if segID == 10 {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	})

	slow := make(chan error, 1)
	go func() {
		slow <- f.session.Select(context.Background(), 10, "")
	}()
	<-entered

	if err := f.session.Select(context.Background(), 20, ""); err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	close(release)

	select {
	case err := <-slow:
		if !errors.Is(err, session.ErrSuperseded) {
			t.Fatalf("expected ErrSuperseded, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("slow select did not return")
	}

	state := f.session.Snapshot()
	if state.Selection.SegmentID != 20 {
		t.Fatalf("expected selection 20, got %d", state.Selection.SegmentID)
	}
	if len(state.Candidates) != 2 || *state.Candidates[0].ID != 300 {
		t.Fatalf("stale candidates leaked into the view: %+v", state.Candidates)
	}
}

func TestApplyUpdatesMatchAndReselects(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	if err := f.session.SetReview(context.Background(), 11, match.ReviewOK); err != nil {
		t.Fatalf("SetReview returned error: %v", err)
	}
	if err := f.session.Select(context.Background(), 11, ""); err != nil {
		t.Fatalf("Select returned error: %v", err)
	}

	var changes []session.ChangeKind
	var mu sync.Mutex
	unsubscribe := f.session.Subscribe(func(c session.Change) {
		mu.Lock()
		changes = append(changes, c.Kind)
		mu.Unlock()
	})
	defer unsubscribe()

	chosen := cand(555, 70, 72)
	if err := f.session.Apply(context.Background(), 11, chosen); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}

	applied := f.backend.Applied()
	if len(applied) != 1 || applied[0].SegmentID != 11 || *applied[0].Chosen.ID != 555 {
		t.Fatalf("unexpected apply payload: %+v", applied)
	}
	seg, _ := f.session.Segment(11)
	if seg.Match == nil || *seg.Match.ID != 555 || !seg.IsOverride {
		t.Fatalf("segment not updated: %+v", seg)
	}
	if !seg.ReviewStale {
		t.Fatal("review made against the old match should be stale")
	}

	state := f.session.Snapshot()
	if _, ok := state.Overrides[11]; !ok {
		t.Fatal("override map should be refreshed from the backend")
	}
	if state.Preview.Start != 70 || state.Preview.End != 72 {
		t.Fatalf("preview should follow the applied match, got %v", state.Preview)
	}
	if hits := f.backend.Hits("GET /candidates/summary"); hits != 2 {
		t.Fatalf("expected re-select to refetch after invalidation, got %d fetches", hits)
	}
	if state.Annotations[1].Contiguous {
		t.Fatal("annotations should be recomputed")
	}

	history, err := f.journal.SegmentHistory(context.Background(), 11)
	if err != nil {
		t.Fatalf("SegmentHistory: %v", err)
	}
	if len(history) != 2 || history[1].Kind != journal.KindApply {
		t.Fatalf("unexpected journal: %+v", history)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) == 0 || changes[0] != session.ChangeSegment {
		t.Fatalf("unexpected notifications: %v", changes)
	}
}

func TestApplyFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	if err := f.session.Select(context.Background(), 10, ""); err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	before, _ := f.session.Segment(10)
	overridesBefore := len(f.session.Snapshot().Overrides)

	f.backend.Fail("POST /apply", http.StatusInternalServerError)
	err := f.session.Apply(context.Background(), 10, cand(777, 1, 2))
	if !errors.Is(err, gateway.ErrRequestFailed) {
		t.Fatalf("expected request failure, got %v", err)
	}

	after, _ := f.session.Segment(10)
	if after.Match == nil || *after.Match.ID != *before.Match.ID || after.IsOverride != before.IsOverride {
		t.Fatalf("segment changed after failed apply: %+v", after)
	}
	if len(f.session.Snapshot().Overrides) != overridesBefore {
		t.Fatal("override map changed after failed apply")
	}
	if !f.session.Cache().Cached(10) {
		t.Fatal("bucket cache should be untouched")
	}
	if f.backend.Hits("GET /overrides") != 1 {
		t.Fatal("no override refresh should follow a failed apply")
	}
	if err := f.session.Select(context.Background(), 10, buckets.All); err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if hits := f.backend.Hits("GET /candidates/summary"); hits != 1 {
		t.Fatalf("expected cached buckets to be reused, got %d fetches", hits)
	}
}

func TestApplyKeepsOptimisticStateWhenRefreshFails(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	f.backend.Fail("GET /overrides", http.StatusServiceUnavailable)

	if err := f.session.Apply(context.Background(), 20, cand(9, 1, 2)); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	state := f.session.Snapshot()
	if got, ok := state.Overrides[20]; !ok || *got.ID != 9 {
		t.Fatalf("optimistic override missing: %+v", state.Overrides)
	}
}

func TestReviewActions(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	if err := f.session.SetReview(context.Background(), 10, match.ReviewNeedTrim); err != nil {
		t.Fatalf("SetReview returned error: %v", err)
	}
	if f.backend.Review(10) != match.ReviewNeedTrim {
		t.Fatal("backend not updated")
	}

	f.backend.Fail("POST /review/update", http.StatusBadGateway)
	if err := f.session.SetReview(context.Background(), 10, match.ReviewOK); err == nil {
		t.Fatal("expected error")
	}
	seg, _ := f.session.Segment(10)
	if seg.Review != match.ReviewNeedTrim {
		t.Fatal("failed update must leave the classification")
	}

	f.backend.SetReview(20, match.ReviewMismatch)
	if err := f.session.RefreshReview(context.Background()); err != nil {
		t.Fatalf("RefreshReview returned error: %v", err)
	}
	seg, _ = f.session.Segment(20)
	if seg.Review != match.ReviewMismatch {
		t.Fatalf("refresh did not merge: %q", seg.Review)
	}
}

func TestRefreshOverridesMarksMovedSegments(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	if err := f.session.SetReview(context.Background(), 20, match.ReviewOK); err != nil {
		t.Fatalf("SetReview returned error: %v", err)
	}
	if err := f.session.Select(context.Background(), 20, ""); err != nil {
		t.Fatalf("Select returned error: %v", err)
	}

	f.backend.SetOverride(20, cand(102, 54, 56))
	if err := f.session.RefreshOverrides(context.Background()); err != nil {
		t.Fatalf("RefreshOverrides returned error: %v", err)
	}
	seg, _ := f.session.Segment(20)
	if !seg.IsOverride || !seg.ReviewStale {
		t.Fatalf("expected override flag and stale review: %+v", seg)
	}
	if f.session.Cache().Cached(20) {
		t.Fatal("moved segment should lose its cached buckets")
	}
}

type fakePlayer struct {
	requests []player.Request
	stopped  bool
}

func (p *fakePlayer) PlayPair(ctx context.Context, req player.Request) error {
	p.requests = append(p.requests, req)
	return nil
}

func (p *fakePlayer) Stop() { p.stopped = true }

func TestPreviewResolvesMediaAndPlaysRanges(t *testing.T) {
	fp := &fakePlayer{}
	f := newFixture(t, session.WithPlayer(fp))
	root := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(root, "clip.mp4"), 8)
	testsupport.WriteFile(t, filepath.Join(root, "movie.mkv"), 8)
	if err := f.session.Open(context.Background(), gateway.OpenProjectRequest{Root: root, Movie: "movie.mkv", Clip: "clip.mp4"}); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	req, err := f.session.Preview(context.Background(), 11, session.PlayOptions{LoopCount: 2, Policy: player.Independent, Mirror: true})
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	if len(fp.requests) != 1 {
		t.Fatalf("expected one PlayPair call, got %d", len(fp.requests))
	}
	if req.ClipRange.Start != 2 || req.ClipRange.End != 4 || req.MovieRange.Start != 52 || req.MovieRange.End != 54 {
		t.Fatalf("unexpected ranges: %+v", req)
	}
	if req.ClipURI != filepath.Join(root, "clip.mp4") || req.MovieURI != filepath.Join(root, "movie.mkv") {
		t.Fatalf("unexpected media: %s %s", req.ClipURI, req.MovieURI)
	}
	if !req.Mirror || req.LoopCount != 2 || req.Policy != player.Independent {
		t.Fatalf("options not forwarded: %+v", req)
	}

	if _, err := f.session.Preview(context.Background(), 11, session.PlayOptions{MovieGrant: "missing.mkv"}); err == nil {
		t.Fatal("expected error for unreadable media")
	}
	f.session.StopPreview()
	if !fp.stopped {
		t.Fatal("StopPreview should stop the player")
	}
}

func TestPreviewWithoutPlayer(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	if _, err := f.session.Preview(context.Background(), 10, session.PlayOptions{}); err == nil {
		t.Fatal("expected configuration error")
	}
}

func TestOverrideFlagFollowsOverrideMap(t *testing.T) {
	backend := testsupport.NewBackend(t)
	m1, m2 := cand(100, 50, 52), cand(101, 52, 54)
	backend.AddScene(1,
		match.Segment{ID: 1, Start: 0, End: 2, Match: &m1, IsOverride: true},
		match.Segment{ID: 2, Start: 2, End: 4, Match: &m2},
	)
	backend.SetOverride(2, cand(101, 52, 54))
	client, err := gateway.New(backend.URL())
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	sess := session.New(client)
	if err := sess.Open(context.Background(), gateway.OpenProjectRequest{Root: "/data/show"}); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	check := func(stage string) {
		t.Helper()
		first, _ := sess.Segment(1)
		second, _ := sess.Segment(2)
		if first.IsOverride || !second.IsOverride {
			t.Fatalf("%s: override flags = %v/%v, want false/true", stage, first.IsOverride, second.IsOverride)
		}
	}
	check("open")
	if err := sess.RefreshOverrides(context.Background()); err != nil {
		t.Fatalf("RefreshOverrides returned error: %v", err)
	}
	check("refresh")
}
