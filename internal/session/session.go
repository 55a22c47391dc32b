package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"matchreview/internal/access"
	"matchreview/internal/buckets"
	"matchreview/internal/gateway"
	"matchreview/internal/journal"
	"matchreview/internal/logging"
	"matchreview/internal/match"
	"matchreview/internal/player"
	"matchreview/internal/reconcile"
	"matchreview/internal/review"
	"matchreview/internal/services"
)

// ErrSuperseded is returned by Select when a newer selection replaced it
// before its candidates arrived.
var ErrSuperseded = errors.New("selection superseded")

// ErrNoProject is returned by actions that need a loaded project.
var ErrNoProject = errors.New("no project loaded")

// Backend is the gateway surface the session drives. Both *gateway.Client
// and *gateway.Service satisfy it.
type Backend interface {
	OpenProject(ctx context.Context, req gateway.OpenProjectRequest) error
	Scenes(ctx context.Context) ([]match.Scene, error)
	Segments(ctx context.Context, sceneID int64) ([]match.Segment, error)
	Summary(ctx context.Context, segID int64, q gateway.SummaryQuery) (gateway.Summary, error)
	Apply(ctx context.Context, changes []gateway.Change) error
	Overrides(ctx context.Context) (map[int64]match.Candidate, error)
	UpdateReview(ctx context.Context, segID int64, status match.ReviewStatus) error
	ReviewState(ctx context.Context) (map[int64]match.ReviewStatus, error)
}

// Journal records accepted work locally.
type Journal interface {
	RecordProject(ctx context.Context, p journal.Project) error
	RecordApply(ctx context.Context, root string, segID int64, cand match.Candidate) error
	RecordReview(ctx context.Context, root string, segID int64, status match.ReviewStatus) error
}

// Player plays a clip/movie pair.
type Player interface {
	PlayPair(ctx context.Context, req player.Request) error
	Stop()
}

// Option configures a Session.
type Option func(*Session)

// WithJournal records projects and accepted changes.
func WithJournal(j Journal) Option {
	return func(s *Session) { s.journal = j }
}

// WithPlayer enables Preview.
func WithPlayer(p Player) Option {
	return func(s *Session) { s.player = p }
}

// WithResolver sets how media grants become readable paths. The default
// resolves paths relative to the project root.
func WithResolver(r access.Resolver) Option {
	return func(s *Session) { s.resolver = r }
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithSummaryQuery sets span, k and offset for candidate fetches.
func WithSummaryQuery(q gateway.SummaryQuery) Option {
	return func(s *Session) { s.query = q }
}

// WithDefaultBucket sets the bucket Select uses when none is given.
func WithDefaultBucket(b buckets.Bucket) Option {
	return func(s *Session) { s.defaultBucket = b }
}

// WithSpikePolicy sets the spike thresholds used for annotations.
func WithSpikePolicy(p reconcile.SpikePolicy) Option {
	return func(s *Session) { s.spike = p }
}

// Session orchestrates one review project.
type Session struct {
	backend       Backend
	journal       Journal
	player        Player
	resolver      access.Resolver
	logger        *slog.Logger
	query         gateway.SummaryQuery
	defaultBucket buckets.Bucket
	spike         reconcile.SpikePolicy

	cache   *buckets.Cache
	reviews *review.Store

	// opMu serializes mutating actions; mu guards state.
	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	index     map[int64]int
	token     uint64
	observers map[int]func(Change)
	nextObs   int
}

// New builds a Session over backend.
func New(backend Backend, opts ...Option) *Session {
	s := &Session{
		backend:       backend,
		defaultBucket: buckets.Top,
		spike:         reconcile.DefaultSpikePolicy(),
		query:         gateway.SummaryQuery{Span: 2, K: 50},
		index:         make(map[int64]int),
		observers:     make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "session")
	s.cache = buckets.New(backend, s.query, s.logger)
	s.reviews = review.NewStore(backend, catalog{s}, s.logger)
	s.state.Overrides = reconcile.Overrides{}
	return s
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Session) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Session) notify(changes ...Change) {
	s.mu.Lock()
	observers := make([]func(Change), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()
	for _, change := range changes {
		for _, fn := range observers {
			fn(change)
		}
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Segment returns a copy of segID.
func (s *Session) Segment(segID int64) (*match.Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segmentLocked(segID)
	if !ok {
		return nil, false
	}
	return seg.Clone(), true
}

// Cache exposes the candidate cache.
func (s *Session) Cache() *buckets.Cache {
	return s.cache
}

func (s *Session) segmentLocked(segID int64) (*match.Segment, bool) {
	i, ok := s.index[segID]
	if !ok {
		return nil, false
	}
	return s.state.Segments[i], true
}

// Open loads a project: scenes, every scene's segments, overrides and review
// state. On failure the previously loaded project stays in place.
func (s *Session) Open(ctx context.Context, req gateway.OpenProjectRequest) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	ctx = services.WithOperation(ctx, "open")
	logger := logging.WithContext(ctx, s.logger)

	if err := s.backend.OpenProject(ctx, req); err != nil {
		return s.warn(logger, "open project failed", "project_open_failed", err)
	}
	scenes, err := s.backend.Scenes(ctx)
	if err != nil {
		return s.warn(logger, "scene list failed", "scene_list_failed", err)
	}

	perScene := make([][]match.Segment, len(scenes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, scene := range scenes {
		g.Go(func() error {
			segs, err := s.backend.Segments(gctx, scene.ID)
			if err != nil {
				return fmt.Errorf("scene %d: %w", scene.ID, err)
			}
			for j := range segs {
				if segs[j].SceneID == nil {
					id := scene.ID
					segs[j].SceneID = &id
				}
			}
			perScene[i] = segs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return s.warn(logger, "segment list failed", "segment_list_failed", err)
	}

	overrides, err := s.backend.Overrides(ctx)
	if err != nil {
		return s.warn(logger, "override fetch failed", "override_fetch_failed", err)
	}
	reviewState, err := s.backend.ReviewState(ctx)
	if err != nil {
		logging.WarnWithContext(logger, "review state fetch failed", "review_state_failed",
			logging.String(logging.FieldImpact, "classifications shown as delivered with segments"),
			logging.Error(err))
		reviewState = nil
	}

	segments := make([]*match.Segment, 0)
	index := make(map[int64]int)
	for _, list := range perScene {
		for _, row := range list {
			if _, dup := index[row.ID]; dup {
				continue
			}
			seg := row
			index[seg.ID] = len(segments)
			segments = append(segments, &seg)
		}
	}
	ov := reconcile.Overrides(overrides)
	if ov == nil {
		ov = reconcile.Overrides{}
	}
	for _, seg := range segments {
		seg.IsOverride = hasKey(ov, seg.ID)
		status := seg.Review
		if remote, ok := reviewState[seg.ID]; ok {
			status = remote
		}
		if status != match.ReviewUnset {
			seg.RecordReview(status, reconcile.EffectiveIdentity(seg, ov))
		}
	}

	s.mu.Lock()
	s.state = State{
		Project:   req,
		Loaded:    true,
		Segments:  segments,
		Overrides: ov,
	}
	s.index = index
	s.token++
	s.annotateLocked()
	s.mu.Unlock()
	s.cache.Reset()

	logger.Info("project opened",
		logging.String("root", req.Root),
		logging.Int("scenes", len(scenes)),
		logging.Int("segments", len(segments)),
		logging.Int("overrides", len(ov)))

	if s.journal != nil {
		entry := journal.Project{Root: req.Root, Movie: req.Movie, Clip: req.Clip, SegmentCount: len(segments)}
		if err := s.journal.RecordProject(ctx, entry); err != nil {
			logging.WarnWithContext(logger, "journal write failed", "journal_write_failed",
				logging.String(logging.FieldImpact, "project missing from history"),
				logging.Error(err))
		}
	}
	s.notify(Change{Kind: ChangeProject})
	return nil
}

// Select makes segID the active selection, sets its preview range, and loads
// the requested candidate bucket. If another Select starts before this one's
// candidates arrive, they are dropped and ErrSuperseded is returned.
func (s *Session) Select(ctx context.Context, segID int64, bucket buckets.Bucket) error {
	if bucket == "" {
		bucket = s.defaultBucket
	}
	ctx = services.WithSegmentID(services.WithOperation(ctx, "select"), segID)
	logger := logging.WithContext(ctx, s.logger)

	s.mu.Lock()
	if !s.state.Loaded {
		s.mu.Unlock()
		return ErrNoProject
	}
	seg, ok := s.segmentLocked(segID)
	if !ok {
		s.mu.Unlock()
		return services.Wrap(services.ErrNotFound, "session", "select", fmt.Sprintf("segment %d", segID), nil)
	}
	s.token++
	token := s.token
	s.state.Selection = Selection{SegmentID: segID, Bucket: bucket, Active: true, Loading: true}
	_, src := reconcile.EffectiveMatch(seg, s.state.Overrides)
	s.state.Preview = reconcile.PreviewRange(seg, s.state.Overrides)
	s.state.PreviewSource = src
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeSelection, SegmentID: segID})

	list, err := s.cache.Get(ctx, segID, bucket)
	if err == nil && bucket == buckets.Corridor {
		list = match.Dedup(list)
	}

	s.mu.Lock()
	if token != s.token {
		s.mu.Unlock()
		logger.Debug("discarding superseded candidates", logging.String("bucket", string(bucket)))
		return ErrSuperseded
	}
	s.state.Selection.Loading = false
	if err != nil {
		s.state.Candidates = []match.Candidate{}
	} else {
		s.state.Candidates = list
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeCandidates, SegmentID: segID})

	if err != nil {
		logging.WarnWithContext(logger, "candidate load failed", "candidate_load_failed",
			logging.String("bucket", string(bucket)),
			logging.String(logging.FieldImpact, "candidate list is empty"),
			logging.Error(err))
		return err
	}
	return nil
}

// Apply commits cand as segID's match. The backend write happens first; if
// it fails nothing local changes. Afterwards overrides are refreshed, the
// segment's candidate cache is dropped, and the segment is re-selected.
func (s *Session) Apply(ctx context.Context, segID int64, cand match.Candidate) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	ctx = services.WithSegmentID(services.WithOperation(ctx, "apply"), segID)
	logger := logging.WithContext(ctx, s.logger)

	s.mu.Lock()
	_, ok := s.segmentLocked(segID)
	root := s.state.Project.Root
	s.mu.Unlock()
	if !ok {
		return services.Wrap(services.ErrNotFound, "session", "apply", fmt.Sprintf("segment %d", segID), nil)
	}

	chosen := cand.Clone()
	if err := s.backend.Apply(ctx, []gateway.Change{{SegmentID: segID, Chosen: chosen}}); err != nil {
		logging.WarnWithContext(logger, "apply failed", "apply_failed",
			logging.String(logging.FieldErrorHint, "retry the apply once the backend is reachable"),
			logging.String(logging.FieldImpact, "segment match unchanged"),
			logging.Error(err))
		return err
	}

	s.mu.Lock()
	if seg, ok := s.segmentLocked(segID); ok {
		bound := chosen.Clone()
		seg.Match = &bound
		seg.IsOverride = true
	}
	s.state.Overrides[segID] = chosen.Clone()
	s.mu.Unlock()

	if overrides, err := s.backend.Overrides(ctx); err != nil {
		logging.WarnWithContext(logger, "override refresh failed", "override_refresh_failed",
			logging.String(logging.FieldImpact, "showing the applied match until the next refresh"),
			logging.Error(err))
	} else {
		s.mu.Lock()
		s.state.Overrides = reconcile.Overrides(overrides)
		if s.state.Overrides == nil {
			s.state.Overrides = reconcile.Overrides{}
		}
		s.mu.Unlock()
	}

	s.cache.Invalidate(segID)
	s.reviews.NoteMatchChange(segID, s.effectiveIdentity(segID))

	s.mu.Lock()
	s.annotateLocked()
	bucket := s.state.Selection.Bucket
	s.mu.Unlock()

	logger.Info("match applied", logging.String("candidate", chosen.String()))
	if s.journal != nil {
		if err := s.journal.RecordApply(ctx, root, segID, chosen); err != nil {
			logging.WarnWithContext(logger, "journal write failed", "journal_write_failed",
				logging.String(logging.FieldImpact, "apply missing from history"),
				logging.Error(err))
		}
	}
	s.notify(
		Change{Kind: ChangeSegment, SegmentID: segID},
		Change{Kind: ChangeOverrides, SegmentID: segID},
		Change{Kind: ChangeAnnotations},
	)

	if err := s.Select(ctx, segID, bucket); err != nil && !errors.Is(err, ErrSuperseded) {
		logger.Debug("re-select after apply failed", logging.Error(err))
	}
	return nil
}

// SetReview classifies segID. The backend is written first.
func (s *Session) SetReview(ctx context.Context, segID int64, status match.ReviewStatus) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	ctx = services.WithSegmentID(services.WithOperation(ctx, "review"), segID)
	if _, ok := s.Segment(segID); !ok {
		return services.Wrap(services.ErrNotFound, "session", "review", fmt.Sprintf("segment %d", segID), nil)
	}
	if err := s.reviews.SetStatus(ctx, segID, status); err != nil {
		return err
	}
	if s.journal != nil {
		if err := s.journal.RecordReview(ctx, s.Snapshot().Project.Root, segID, status); err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, s.logger), "journal write failed", "journal_write_failed",
				logging.String(logging.FieldImpact, "review missing from history"),
				logging.Error(err))
		}
	}
	s.notify(Change{Kind: ChangeReview, SegmentID: segID})
	return nil
}

// RefreshReview merges the backend's review state into the loaded segments.
func (s *Session) RefreshReview(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	changed, err := s.reviews.BulkRefresh(services.WithOperation(ctx, "refresh_review"))
	if err != nil {
		return err
	}
	if changed > 0 {
		s.notify(Change{Kind: ChangeReview})
	}
	return nil
}

// RefreshOverrides reloads the override map. Segments whose effective match
// changed lose their cached candidates and have their review marked stale.
func (s *Session) RefreshOverrides(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	ctx = services.WithOperation(ctx, "refresh_overrides")
	overrides, err := s.backend.Overrides(ctx)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "override refresh failed", "override_refresh_failed",
			logging.String(logging.FieldImpact, "overrides unchanged"),
			logging.Error(err))
		return err
	}

	s.mu.Lock()
	before := make(map[int64]*int64, len(s.state.Segments))
	for _, seg := range s.state.Segments {
		before[seg.ID] = reconcile.EffectiveIdentity(seg, s.state.Overrides)
	}
	s.state.Overrides = reconcile.Overrides(overrides)
	if s.state.Overrides == nil {
		s.state.Overrides = reconcile.Overrides{}
	}
	var moved []int64
	for _, seg := range s.state.Segments {
		seg.IsOverride = hasKey(s.state.Overrides, seg.ID)
		after := reconcile.EffectiveIdentity(seg, s.state.Overrides)
		if !sameIdentity(before[seg.ID], after) {
			moved = append(moved, seg.ID)
		}
	}
	s.annotateLocked()
	s.mu.Unlock()

	for _, id := range moved {
		s.cache.Invalidate(id)
		s.reviews.NoteMatchChange(id, s.effectiveIdentity(id))
	}
	s.notify(Change{Kind: ChangeOverrides}, Change{Kind: ChangeAnnotations})
	return nil
}

// PlayOptions tunes Preview.
type PlayOptions struct {
	LoopCount  int
	Policy     player.Policy
	Mirror     bool
	ClipGrant  string
	MovieGrant string
}

// Preview plays segID's clip range against its effective match range.
// Media grants default to the project's clip and movie paths.
func (s *Session) Preview(ctx context.Context, segID int64, opts PlayOptions) (player.Request, error) {
	if s.player == nil {
		return player.Request{}, services.Wrap(services.ErrConfiguration, "session", "preview", "no player configured", nil)
	}
	s.mu.Lock()
	seg, ok := s.segmentLocked(segID)
	var req player.Request
	project := s.state.Project
	if ok {
		req = player.Request{
			ClipRange:  seg.ClipRange(),
			MovieRange: reconcile.PreviewRange(seg, s.state.Overrides),
		}
	}
	s.mu.Unlock()
	if !ok {
		return player.Request{}, services.Wrap(services.ErrNotFound, "session", "preview", fmt.Sprintf("segment %d", segID), nil)
	}

	resolver := s.resolver
	if resolver == nil {
		resolver = access.LocalResolver{Root: project.Root}
	}
	clipGrant := firstNonEmpty(opts.ClipGrant, project.Clip)
	movieGrant := firstNonEmpty(opts.MovieGrant, project.Movie)
	clip, err := resolver.Resolve(ctx, clipGrant)
	if err != nil {
		return player.Request{}, err
	}
	movie, err := resolver.Resolve(ctx, movieGrant)
	if err != nil {
		return player.Request{}, err
	}

	req.ClipURI = clip.URI()
	req.MovieURI = movie.URI()
	req.Policy = opts.Policy
	req.Mirror = opts.Mirror
	req.LoopCount = opts.LoopCount
	if req.LoopCount == 0 {
		req.LoopCount = 1
	}
	if err := s.player.PlayPair(ctx, req); err != nil {
		return req, err
	}
	return req, nil
}

// StopPreview stops any running preview.
func (s *Session) StopPreview() {
	if s.player != nil {
		s.player.Stop()
	}
}

func (s *Session) annotateLocked() {
	s.state.Annotations = reconcile.Annotate(s.state.Segments, s.state.Overrides, s.spike)
}

func (s *Session) effectiveIdentity(segID int64) *int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segmentLocked(segID)
	if !ok {
		return nil
	}
	return reconcile.EffectiveIdentity(seg, s.state.Overrides)
}

func (s *Session) warn(logger *slog.Logger, msg, eventType string, err error) error {
	logging.WarnWithContext(logger, msg, eventType,
		logging.String(logging.FieldImpact, "previous project left loaded"),
		logging.Error(err))
	return err
}

// catalog gives the review store locked access to session segments.
type catalog struct{ s *Session }

func (c catalog) Update(segID int64, fn func(*match.Segment, *int64)) bool {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	seg, ok := c.s.segmentLocked(segID)
	if !ok {
		return false
	}
	fn(seg, reconcile.EffectiveIdentity(seg, c.s.state.Overrides))
	return true
}

func (c catalog) UpdateAll(fn func(*match.Segment, *int64)) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	for _, seg := range c.s.state.Segments {
		fn(seg, reconcile.EffectiveIdentity(seg, c.s.state.Overrides))
	}
}

func hasKey(ov reconcile.Overrides, id int64) bool {
	_, ok := ov[id]
	return ok
}

func sameIdentity(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
