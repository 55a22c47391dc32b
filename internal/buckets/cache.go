package buckets

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"matchreview/internal/gateway"
	"matchreview/internal/logging"
	"matchreview/internal/match"
	"matchreview/internal/services"
)

// Bucket names a display list of candidates.
type Bucket string

const (
	Top      Bucket = "top"
	Scene    Bucket = "scene"
	Corridor Bucket = "corridor"
	All      Bucket = "all"
)

// Names lists the buckets in display order.
var Names = []Bucket{Top, Scene, Corridor, All}

// ParseBucket returns the bucket for name, or false if unrecognized.
func ParseBucket(name string) (Bucket, bool) {
	for _, b := range Names {
		if string(b) == name {
			return b, true
		}
	}
	return "", false
}

// SummaryFetcher fetches every bucket for a segment in one round trip.
type SummaryFetcher interface {
	Summary(ctx context.Context, segID int64, q gateway.SummaryQuery) (gateway.Summary, error)
}

// Set holds every bucket for one segment.
type Set map[Bucket][]match.Candidate

// FromSummary maps a backend summary onto display buckets. The "scene" bucket
// shows the wider neighborhood, not the same-scene list. The corridor bucket is
// the raw prev/current/next concatenation; display code de-duplicates it.
func FromSummary(s gateway.Summary) Set {
	return Set{
		Top:      nonNil(s.Top),
		Scene:    nonNil(s.Neighborhood),
		Corridor: s.Corridor.Flatten(),
		All:      nonNil(s.All),
	}
}

func nonNil(list []match.Candidate) []match.Candidate {
	if list == nil {
		return []match.Candidate{}
	}
	return list
}

// Cache memoizes per-segment bucket sets.
type Cache struct {
	fetcher SummaryFetcher
	query   gateway.SummaryQuery
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[int64]Set
	epochs  map[int64]uint64
	group   singleflight.Group
}

// New creates a cache backed by fetcher.
func New(fetcher SummaryFetcher, query gateway.SummaryQuery, logger *slog.Logger) *Cache {
	return &Cache{
		fetcher: fetcher,
		query:   query,
		logger:  logging.NewComponentLogger(logger, "buckets"),
		entries: make(map[int64]Set),
		epochs:  make(map[int64]uint64),
	}
}

// Get returns the named bucket for segID, fetching all buckets on a miss.
// Unknown bucket names yield an empty list.
func (c *Cache) Get(ctx context.Context, segID int64, bucket Bucket) ([]match.Candidate, error) {
	c.mu.Lock()
	set, ok := c.entries[segID]
	c.mu.Unlock()
	if ok {
		return lookup(set, bucket), nil
	}

	set, err := c.load(ctx, segID)
	if err != nil {
		return []match.Candidate{}, err
	}
	return lookup(set, bucket), nil
}

// Cached reports whether segID has a bucket set in memory.
func (c *Cache) Cached(segID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[segID]
	return ok
}

// Invalidate evicts segID. A fetch already in flight for segID is not stored.
func (c *Cache) Invalidate(segID int64) {
	c.mu.Lock()
	delete(c.entries, segID)
	c.epochs[segID]++
	c.mu.Unlock()
	c.group.Forget(strconv.FormatInt(segID, 10))
	c.logger.Debug("bucket cache invalidated", logging.Int64(logging.FieldSegmentID, segID))
}

// Reset drops every cached set, e.g. after opening another project.
func (c *Cache) Reset() {
	c.mu.Lock()
	for id := range c.entries {
		c.epochs[id]++
	}
	c.entries = make(map[int64]Set)
	c.mu.Unlock()
}

func (c *Cache) load(ctx context.Context, segID int64) (Set, error) {
	key := strconv.FormatInt(segID, 10)
	// The shared fetch outlives any one caller; each caller stops waiting on
	// its own context.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.Lock()
		if set, ok := c.entries[segID]; ok {
			c.mu.Unlock()
			return set, nil
		}
		epoch := c.epochs[segID]
		c.mu.Unlock()

		summary, err := c.fetcher.Summary(fetchCtx, segID, c.query)
		if err != nil {
			return nil, services.Wrap(services.ErrRequestFailed, "buckets", "load", "segment "+key, err)
		}
		set := FromSummary(summary)

		c.mu.Lock()
		if c.epochs[segID] == epoch {
			c.entries[segID] = set
		}
		c.mu.Unlock()
		c.logger.Debug("bucket set loaded",
			logging.Int64(logging.FieldSegmentID, segID),
			logging.Int("top", len(set[Top])),
			logging.Int("scene", len(set[Scene])),
			logging.Int("corridor", len(set[Corridor])),
			logging.Int("all", len(set[All])))
		return set, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Set), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func lookup(set Set, bucket Bucket) []match.Candidate {
	list, ok := set[bucket]
	if !ok {
		return []match.Candidate{}
	}
	out := make([]match.Candidate, len(list))
	copy(out, list)
	return out
}
