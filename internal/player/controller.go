package player

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"matchreview/internal/logging"
	"matchreview/internal/match"
)

// DefaultTickInterval is how often the boundary watch polls positions.
const DefaultTickInterval = 20 * time.Millisecond

// Source is one seekable media timeline.
type Source interface {
	Load(ctx context.Context, uri string) error
	// Seek moves to seconds exactly, without snapping to a keyframe.
	Seek(seconds float64) error
	Play()
	Pause()
	Position() float64
	SetMirrored(mirrored bool)
}

type lane struct {
	role     Role
	src      Source
	rng      match.TimeRange
	state    State
	finished bool
	live     bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithTickInterval sets the boundary poll interval.
func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithManualTicks disables the background watch; the caller drives Tick.
func WithManualTicks() Option {
	return func(c *Controller) { c.manual = true }
}

// WithObserver receives every event after the controller lock is released.
func WithObserver(fn func(Event)) Option {
	return func(c *Controller) { c.observer = fn }
}

// WithErrorHandler receives load and seek failures.
func WithErrorHandler(fn func(Role, error)) Option {
	return func(c *Controller) { c.onError = fn }
}

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// Controller plays a clip and a movie source as a pair.
type Controller struct {
	interval time.Duration
	manual   bool
	observer func(Event)
	onError  func(Role, error)
	logger   *slog.Logger

	mu       sync.Mutex
	lanes    [2]*lane
	gen      uint64
	policy   Policy
	budget   int
	restarts int
	cancel   context.CancelFunc
	done     *doneSignal
}

// NewController builds a controller over the clip and movie sources.
func NewController(clip, movie Source, opts ...Option) *Controller {
	c := &Controller{interval: DefaultTickInterval}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "player")
	c.lanes[Clip] = &lane{role: Clip, src: clip}
	c.lanes[Movie] = &lane{role: Movie, src: movie}
	c.done = newDoneSignal()
	c.done.close()
	return c
}

// PlayPair replaces any running session with req. Load failures are reported
// through the error handler and the observer; the sibling source still plays.
// The watch runs until ctx ends, Stop is called, or PlayPair is called again.
func (c *Controller) PlayPair(ctx context.Context, req Request) error {
	if req.Policy == "" {
		req.Policy = Joint
	}
	if err := req.Validate(); err != nil {
		c.reportError(Clip, err)
		return err
	}

	c.mu.Lock()
	c.deregisterLocked()
	c.gen++
	gen := c.gen
	c.policy = req.Policy
	c.budget = req.LoopCount - 1
	c.restarts = 0
	previous := c.done
	c.done = newDoneSignal()
	c.lanes[Clip].reset(req.ClipRange)
	c.lanes[Movie].reset(req.MovieRange)
	c.mu.Unlock()
	previous.close()

	c.logger.Debug("play pair",
		logging.String("clip_range", req.ClipRange.String()),
		logging.String("movie_range", req.MovieRange.String()),
		logging.String("policy", string(req.Policy)),
		logging.Int("loop_count", req.LoopCount),
		logging.Bool("mirror", req.Mirror))

	uris := [2]string{Clip: req.ClipURI, Movie: req.MovieURI}
	var loadErrs [2]error
	for _, role := range []Role{Clip, Movie} {
		loadErrs[role] = c.lanes[role].src.Load(ctx, uris[role])
	}

	var events []Event
	var failures []roleError

	c.mu.Lock()
	if gen != c.gen {
		// Superseded while loading.
		c.mu.Unlock()
		return nil
	}
	c.lanes[Movie].src.SetMirrored(req.Mirror)
	c.lanes[Clip].src.SetMirrored(false)
	for _, ln := range c.lanes {
		if err := loadErrs[ln.role]; err != nil {
			ln.state = Stopped
			failures = append(failures, roleError{ln.role, err})
			events = append(events, Event{Kind: EventLoadFailed, Role: ln.role, Generation: gen, Err: err})
			continue
		}
		ln.live = true
		ln.state = Seeking
		ln.clampToMedia()
	}
	for _, ln := range c.lanes {
		if !ln.live {
			continue
		}
		if err := ln.src.Seek(ln.rng.Start); err != nil {
			ln.live = false
			ln.state = Stopped
			failures = append(failures, roleError{ln.role, err})
			events = append(events, Event{Kind: EventLoadFailed, Role: ln.role, Generation: gen, Err: err})
		}
	}
	for _, ln := range c.lanes {
		if !ln.live {
			continue
		}
		ln.src.Play()
		ln.state = Playing
		events = append(events, Event{Kind: EventStarted, Role: ln.role, Generation: gen, Position: ln.rng.Start, Budget: c.budget})
	}
	finished := c.finishLocked()
	if !c.manual && finished == nil {
		runCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		go c.watch(runCtx, gen)
	}
	c.mu.Unlock()

	c.dispatch(events, failures)
	finished.close()
	return nil
}

// Tick checks every playing source against its boundary. The background
// watch calls it on each interval; tests call it directly.
func (c *Controller) Tick() {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.tick(gen)
}

// Stop deregisters the watch and pauses both sources.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.deregisterLocked()
	c.gen++
	var events []Event
	for _, ln := range c.lanes {
		if ln.state == Idle || ln.state == Stopped {
			continue
		}
		ln.src.Pause()
		ln.state = Stopped
		events = append(events, Event{Kind: EventStopped, Role: ln.role, Generation: c.gen, Position: ln.src.Position(), Budget: c.budget})
	}
	finished := c.finishLocked()
	c.mu.Unlock()
	c.dispatch(events, nil)
	finished.close()
}

// Done is closed once the current session has no source left to play.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done.ch
}

// Snapshot returns the current state of both sources.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{Generation: c.gen, Policy: c.policy, Budget: c.budget, Restarts: c.restarts}
	for i, ln := range c.lanes {
		snap.Sources[i] = SourceSnapshot{
			Role:     ln.role,
			State:    ln.state,
			Finished: ln.finished,
			Live:     ln.live,
			Range:    ln.rng,
		}
		if ln.live {
			snap.Sources[i].Position = ln.src.Position()
		}
	}
	return snap
}

func (c *Controller) watch(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.tick(gen) {
				return
			}
		}
	}
}

// tick runs one boundary check for gen and reports whether gen is still
// current and has anything left to watch.
func (c *Controller) tick(gen uint64) bool {
	var events []Event
	var failures []roleError

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	for _, ln := range c.lanes {
		if ln.state != Playing {
			continue
		}
		pos := ln.src.Position()
		if pos < ln.rng.End {
			continue
		}
		ln.src.Pause()
		ln.state = Paused
		ln.finished = true
		events = append(events, Event{Kind: EventBoundary, Role: ln.role, Generation: gen, Position: pos, Budget: c.budget})

		if c.policy == Independent {
			if c.budget > 0 {
				c.budget--
				c.restarts++
				events, failures = c.restartLocked(ln, gen, events, failures)
			} else {
				ln.state = Stopped
				events = append(events, Event{Kind: EventStopped, Role: ln.role, Generation: gen, Position: pos, Budget: c.budget})
			}
		}
	}
	if c.policy == Joint && c.allLiveFinishedLocked() {
		if c.budget > 0 {
			c.budget--
			c.restarts++
			for _, ln := range c.lanes {
				if ln.live {
					events, failures = c.restartLocked(ln, gen, events, failures)
				}
			}
		} else {
			for _, ln := range c.lanes {
				if ln.live && ln.state == Paused {
					ln.state = Stopped
					events = append(events, Event{Kind: EventStopped, Role: ln.role, Generation: gen, Position: ln.src.Position(), Budget: c.budget})
				}
			}
		}
	}
	finished := c.finishLocked()
	c.mu.Unlock()

	c.dispatch(events, failures)
	finished.close()
	return finished == nil
}

func (c *Controller) restartLocked(ln *lane, gen uint64, events []Event, failures []roleError) ([]Event, []roleError) {
	ln.state = Seeking
	if err := ln.src.Seek(ln.rng.Start); err != nil {
		ln.live = false
		ln.state = Stopped
		failures = append(failures, roleError{ln.role, err})
		return append(events, Event{Kind: EventLoadFailed, Role: ln.role, Generation: gen, Err: err}), failures
	}
	ln.src.Play()
	ln.state = Playing
	ln.finished = false
	return append(events, Event{Kind: EventRestarted, Role: ln.role, Generation: gen, Position: ln.rng.Start, Budget: c.budget}), failures
}

func (c *Controller) allLiveFinishedLocked() bool {
	live := 0
	for _, ln := range c.lanes {
		if !ln.live {
			continue
		}
		live++
		if ln.state != Paused || !ln.finished {
			return false
		}
	}
	return live > 0
}

func (c *Controller) finishedLocked() bool {
	for _, ln := range c.lanes {
		if ln.state != Stopped && ln.state != Idle {
			return false
		}
	}
	return true
}

// finishLocked returns the done signal to close once the session's events
// have been dispatched, or nil while a source is still active.
func (c *Controller) finishLocked() *doneSignal {
	if !c.finishedLocked() {
		return nil
	}
	return c.done
}

type doneSignal struct {
	ch   chan struct{}
	once sync.Once
}

func newDoneSignal() *doneSignal {
	return &doneSignal{ch: make(chan struct{})}
}

func (d *doneSignal) close() {
	if d == nil {
		return
	}
	d.once.Do(func() { close(d.ch) })
}

func (c *Controller) deregisterLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// durationer is implemented by sources that know their media length.
type durationer interface {
	Duration() float64
}

// clampToMedia pulls the range inside a known media duration so a range that
// runs past the last frame still reaches its boundary.
func (l *lane) clampToMedia() {
	d, ok := l.src.(durationer)
	if !ok {
		return
	}
	duration := d.Duration()
	if duration <= 0 {
		return
	}
	if l.rng.End > duration {
		l.rng.End = duration
	}
	if l.rng.Start > l.rng.End {
		l.rng.Start = l.rng.End
	}
}

func (l *lane) reset(rng match.TimeRange) {
	l.rng = rng
	l.state = Idle
	l.finished = false
	l.live = false
}

type roleError struct {
	role Role
	err  error
}

func (c *Controller) dispatch(events []Event, failures []roleError) {
	for _, f := range failures {
		c.reportError(f.role, f.err)
	}
	for _, ev := range events {
		if ev.Kind == EventRestarted || ev.Kind == EventStopped {
			c.logger.Debug("playback "+string(ev.Kind),
				logging.String("role", ev.Role.String()),
				logging.Float64("position", ev.Position),
				logging.Int("budget", ev.Budget))
		}
		if c.observer != nil {
			c.observer(ev)
		}
	}
}

func (c *Controller) reportError(role Role, err error) {
	logging.WarnWithContext(c.logger, "media source failed", "player_source_failed",
		logging.String("role", role.String()),
		logging.String(logging.FieldErrorHint, "check the media path and ffprobe output"),
		logging.String(logging.FieldImpact, "source will not play; its partner continues"),
		logging.Error(err))
	if c.onError != nil {
		c.onError(role, err)
	}
}
