package player_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"matchreview/internal/match"
	"matchreview/internal/media/ffprobe"
	"matchreview/internal/player"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(seconds float64) {
	c.mu.Lock()
	c.now = c.now.Add(time.Duration(seconds * float64(time.Second)))
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []player.Event
	errs   []player.Role
}

func (r *recorder) observe(ev player.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) onError(role player.Role, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, role)
	r.mu.Unlock()
}

func (r *recorder) count(kind player.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func newPair(t *testing.T, clock *fakeClock, rec *recorder) (*player.Controller, *player.SimulatedSource, *player.SimulatedSource) {
	t.Helper()
	clip := player.NewSimulatedSource(player.WithClock(clock.Now))
	movie := player.NewSimulatedSource(player.WithClock(clock.Now))
	ctrl := player.NewController(clip, movie,
		player.WithManualTicks(),
		player.WithObserver(rec.observe),
		player.WithErrorHandler(rec.onError))
	return ctrl, clip, movie
}

func request(policy player.Policy, loops int) player.Request {
	return player.Request{
		ClipRange:  match.TimeRange{Start: 0, End: 2},
		MovieRange: match.TimeRange{Start: 10, End: 13},
		Policy:     policy,
		ClipURI:    "clip.mp4",
		MovieURI:   "movie.mkv",
		LoopCount:  loops,
	}
}

func TestJointBudgetExhaustion(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	ctrl, clip, movie := newPair(t, clock, rec)

	if err := ctrl.PlayPair(context.Background(), request(player.Joint, 2)); err != nil {
		t.Fatalf("PlayPair returned error: %v", err)
	}
	if clip.Position() != 0 || movie.Position() != 10 {
		t.Fatalf("sources not seeked to range start: %v %v", clip.Position(), movie.Position())
	}

	clock.Advance(2)
	ctrl.Tick()
	snap := ctrl.Snapshot()
	if snap.Sources[player.Clip].State != player.Paused || !snap.Sources[player.Clip].Finished {
		t.Fatalf("clip should wait paused at its boundary: %+v", snap.Sources[player.Clip])
	}
	if snap.Sources[player.Movie].State != player.Playing {
		t.Fatalf("movie should still play: %+v", snap.Sources[player.Movie])
	}
	if snap.Restarts != 0 {
		t.Fatal("joint policy must not restart before both finish")
	}

	clock.Advance(1)
	ctrl.Tick()
	snap = ctrl.Snapshot()
	if snap.Restarts != 1 || snap.Budget != 0 {
		t.Fatalf("expected one restart and empty budget, got %+v", snap)
	}
	if clip.Position() != 0 || movie.Position() != 10 {
		t.Fatalf("restart must seek both to range start: %v %v", clip.Position(), movie.Position())
	}

	clock.Advance(2)
	ctrl.Tick()
	clock.Advance(1)
	ctrl.Tick()
	snap = ctrl.Snapshot()
	if snap.Restarts != 1 {
		t.Fatalf("expected exactly one restart, got %d", snap.Restarts)
	}
	for _, src := range snap.Sources {
		if src.State != player.Stopped || !src.Finished {
			t.Fatalf("expected %s stopped at end of range, got %+v", src.Role, src)
		}
	}
	if clip.Position() != 2 || movie.Position() != 13 {
		t.Fatalf("sources should hold the last frame: %v %v", clip.Position(), movie.Position())
	}
	select {
	case <-ctrl.Done():
	default:
		t.Fatal("Done should be closed after playback ends")
	}
	if rec.count(player.EventRestarted) != 2 {
		t.Fatalf("expected one restart event per source, got %d", rec.count(player.EventRestarted))
	}
}

func TestLoopCountOnePlaysOnce(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	ctrl, _, _ := newPair(t, clock, rec)
	if err := ctrl.PlayPair(context.Background(), request(player.Joint, 1)); err != nil {
		t.Fatalf("PlayPair returned error: %v", err)
	}
	clock.Advance(5)
	ctrl.Tick()
	snap := ctrl.Snapshot()
	if snap.Restarts != 0 || !snap.Done() {
		t.Fatalf("expected single play, got %+v", snap)
	}
}

func TestIndependentSharesBudget(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	ctrl, clip, movie := newPair(t, clock, rec)
	if err := ctrl.PlayPair(context.Background(), request(player.Independent, 2)); err != nil {
		t.Fatalf("PlayPair returned error: %v", err)
	}

	clock.Advance(2)
	ctrl.Tick()
	snap := ctrl.Snapshot()
	if snap.Restarts != 1 || snap.Budget != 0 {
		t.Fatalf("clip should restart on its own: %+v", snap)
	}
	if snap.Sources[player.Clip].State != player.Playing || clip.Position() != 0 {
		t.Fatalf("clip should be playing from its start: %+v", snap.Sources[player.Clip])
	}

	clock.Advance(1)
	ctrl.Tick()
	snap = ctrl.Snapshot()
	if snap.Sources[player.Movie].State != player.Stopped {
		t.Fatalf("movie should stop with an empty budget: %+v", snap.Sources[player.Movie])
	}
	if movie.Position() != 13 {
		t.Fatalf("movie should hold its last frame, at %v", movie.Position())
	}
	if snap.Restarts != 1 {
		t.Fatalf("budget must be shared, got %d restarts", snap.Restarts)
	}
}

func TestLoadFailureKeepsSiblingPlaying(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	failing := func(ctx context.Context, path string) (ffprobe.Result, error) {
		return ffprobe.Result{}, errors.New("no such file")
	}
	clip := player.NewSimulatedSource(player.WithClock(clock.Now), player.WithProber(failing))
	movie := player.NewSimulatedSource(player.WithClock(clock.Now))
	ctrl := player.NewController(clip, movie,
		player.WithManualTicks(),
		player.WithObserver(rec.observe),
		player.WithErrorHandler(rec.onError))

	if err := ctrl.PlayPair(context.Background(), request(player.Joint, 2)); err != nil {
		t.Fatalf("load failures are reported out of band, got %v", err)
	}
	if len(rec.errs) != 1 || rec.errs[0] != player.Clip {
		t.Fatalf("expected clip load error reported, got %v", rec.errs)
	}
	snap := ctrl.Snapshot()
	if snap.Sources[player.Clip].State != player.Stopped || snap.Sources[player.Movie].State != player.Playing {
		t.Fatalf("unexpected states: %+v", snap.Sources)
	}

	clock.Advance(3)
	ctrl.Tick()
	if ctrl.Snapshot().Restarts != 1 || movie.Position() != 10 {
		t.Fatal("joint restart should consider only the live source")
	}
}

func TestReplayIgnoresStaleGeneration(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	ctrl, clip, _ := newPair(t, clock, rec)

	if err := ctrl.PlayPair(context.Background(), request(player.Joint, 3)); err != nil {
		t.Fatalf("PlayPair returned error: %v", err)
	}
	first := ctrl.Snapshot().Generation
	clock.Advance(1)

	second := request(player.Joint, 1)
	second.ClipRange = match.TimeRange{Start: 50, End: 60}
	second.MovieRange = match.TimeRange{Start: 100, End: 110}
	if err := ctrl.PlayPair(context.Background(), second); err != nil {
		t.Fatalf("PlayPair returned error: %v", err)
	}
	snap := ctrl.Snapshot()
	if snap.Generation == first {
		t.Fatal("expected a new generation")
	}
	if snap.Budget != 0 || clip.Position() != 50 {
		t.Fatalf("new session should own the budget and ranges: %+v", snap)
	}

	// Past the old ranges but inside the new ones: nothing fires.
	clock.Advance(3)
	ctrl.Tick()
	if ctrl.Snapshot().Sources[player.Clip].State != player.Playing {
		t.Fatal("old boundaries must not act on the new session")
	}
}

func TestInvalidRequestPlaysNothing(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	ctrl, clip, _ := newPair(t, clock, rec)

	bad := request(player.Joint, 0)
	if err := ctrl.PlayPair(context.Background(), bad); !errors.Is(err, player.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	bad = request(player.Joint, 1)
	bad.MovieRange = match.TimeRange{Start: 5, End: 4}
	if err := ctrl.PlayPair(context.Background(), bad); !errors.Is(err, player.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if ctrl.Snapshot().Sources[player.Clip].State != player.Idle || clip.Position() != 0 {
		t.Fatal("nothing should play for an invalid request")
	}
	if len(rec.errs) != 2 {
		t.Fatalf("expected errors reported, got %d", len(rec.errs))
	}
}

func TestMirrorAppliesToMovie(t *testing.T) {
	clock := newFakeClock()
	ctrl, clip, movie := newPair(t, clock, &recorder{})
	req := request(player.Joint, 1)
	req.Mirror = true
	if err := ctrl.PlayPair(context.Background(), req); err != nil {
		t.Fatalf("PlayPair returned error: %v", err)
	}
	if !movie.Mirrored() || clip.Mirrored() {
		t.Fatal("mirror flag should apply to the movie only")
	}
}

func TestStopPausesBoth(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	ctrl, clip, _ := newPair(t, clock, rec)
	if err := ctrl.PlayPair(context.Background(), request(player.Joint, 5)); err != nil {
		t.Fatalf("PlayPair returned error: %v", err)
	}
	clock.Advance(0.5)
	ctrl.Stop()
	clock.Advance(10)
	ctrl.Tick()
	if clip.Position() != 0.5 {
		t.Fatalf("clip should be paused at 0.5, got %v", clip.Position())
	}
	if !ctrl.Snapshot().Done() {
		t.Fatal("expected playback done after Stop")
	}
}

func TestBackgroundWatchFinishes(t *testing.T) {
	clip := player.NewSimulatedSource()
	movie := player.NewSimulatedSource()
	ctrl := player.NewController(clip, movie, player.WithTickInterval(time.Millisecond))
	req := player.Request{
		ClipRange:  match.TimeRange{Start: 1, End: 1},
		MovieRange: match.TimeRange{Start: 2, End: 2},
		Policy:     player.Joint,
		ClipURI:    "a",
		MovieURI:   "b",
		LoopCount:  2,
	}
	if err := ctrl.PlayPair(context.Background(), req); err != nil {
		t.Fatalf("PlayPair returned error: %v", err)
	}
	select {
	case <-ctrl.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not finish zero-length ranges")
	}
	if snap := ctrl.Snapshot(); snap.Restarts != 1 {
		t.Fatalf("expected one restart, got %d", snap.Restarts)
	}
}

func TestReplacingSessionReleasesPreviousDone(t *testing.T) {
	clock := newFakeClock()
	ctrl, _, _ := newPair(t, clock, &recorder{})
	if err := ctrl.PlayPair(context.Background(), request(player.Joint, 3)); err != nil {
		t.Fatalf("PlayPair returned error: %v", err)
	}
	first := ctrl.Done()
	if err := ctrl.PlayPair(context.Background(), request(player.Joint, 3)); err != nil {
		t.Fatalf("PlayPair returned error: %v", err)
	}
	select {
	case <-first:
	default:
		t.Fatal("replaced session should release its Done channel")
	}
	select {
	case <-ctrl.Done():
		t.Fatal("new session should still be playing")
	default:
	}
}

func TestRangePastMediaEndStillFinishes(t *testing.T) {
	clock := newFakeClock()
	probe := func(ctx context.Context, path string) (ffprobe.Result, error) {
		return ffprobe.Result{Format: ffprobe.Format{Duration: "10"}}, nil
	}
	clip := player.NewSimulatedSource(player.WithClock(clock.Now), player.WithProber(probe))
	movie := player.NewSimulatedSource(player.WithClock(clock.Now), player.WithProber(probe))
	ctrl := player.NewController(clip, movie, player.WithManualTicks())
	req := player.Request{
		ClipRange:  match.TimeRange{Start: 0, End: 1},
		MovieRange: match.TimeRange{Start: 9.5, End: 10.2},
		Policy:     player.Joint,
		ClipURI:    "clip.mp4",
		MovieURI:   "movie.mkv",
		LoopCount:  1,
	}
	if err := ctrl.PlayPair(context.Background(), req); err != nil {
		t.Fatalf("PlayPair returned error: %v", err)
	}
	for i := 0; i < 3; i++ {
		clock.Advance(1)
		ctrl.Tick()
	}
	snap := ctrl.Snapshot()
	if !snap.Done() {
		t.Fatalf("expected playback to end at the last frame, got %+v", snap)
	}
	if got := snap.Sources[player.Movie].Range.End; got != 10 {
		t.Fatalf("movie range end = %v, want 10", got)
	}
	if movie.Position() != 10 {
		t.Fatalf("movie should hold the last frame, got %v", movie.Position())
	}
	select {
	case <-ctrl.Done():
	default:
		t.Fatal("Done should be closed")
	}
}
