package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"matchreview/internal/gateway"
	"matchreview/internal/match"
)

// Backend is an in-memory stand-in for the matching service. It records how
// often each endpoint was hit and can be told to fail individual routes.
type Backend struct {
	Server *httptest.Server

	mu        sync.Mutex
	scenes    []match.Scene
	segments  map[int64][]match.Segment
	summaries map[int64]gateway.Summary
	overrides map[int64]match.Candidate
	reviews   map[int64]match.ReviewStatus
	failures  map[string]int
	hits      map[string]int
	applied   []gateway.Change
	opened    []gateway.OpenProjectRequest
	hook      func(segID int64)
}

// NewBackend starts a fake backend and registers cleanup.
func NewBackend(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		segments:  make(map[int64][]match.Segment),
		summaries: make(map[int64]gateway.Summary),
		overrides: make(map[int64]match.Candidate),
		reviews:   make(map[int64]match.ReviewStatus),
		failures:  make(map[string]int),
		hits:      make(map[string]int),
	}
	b.Server = httptest.NewServer(b.router())
	t.Cleanup(b.Server.Close)
	return b
}

// URL returns the backend base URL.
func (b *Backend) URL() string { return b.Server.URL }

// AddScene registers a scene and its segments.
func (b *Backend) AddScene(sceneID int64, segments ...match.Segment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scenes = append(b.scenes, match.Scene{ID: sceneID})
	b.segments[sceneID] = append(b.segments[sceneID], segments...)
}

// SetSummary sets the candidate summary served for a segment.
func (b *Backend) SetSummary(segID int64, summary gateway.Summary) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summaries[segID] = summary
}

// SetSummaryHook installs fn to run before each summary is served; tests use
// it to hold a response until another request has completed.
func (b *Backend) SetSummaryHook(fn func(segID int64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = fn
}

// SetOverride seeds the override map.
func (b *Backend) SetOverride(segID int64, cand match.Candidate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overrides[segID] = cand
}

// SetReview seeds the review state.
func (b *Backend) SetReview(segID int64, status match.ReviewStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reviews[segID] = status
}

// Fail makes the route (e.g. "POST /apply") answer with status until cleared
// with status 0.
func (b *Backend) Fail(route string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.failures, route)
		return
	}
	b.failures[route] = status
}

// Hits returns how many requests reached route.
func (b *Backend) Hits(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[route]
}

// Applied returns every change received through POST /apply.
func (b *Backend) Applied() []gateway.Change {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]gateway.Change(nil), b.applied...)
}

// Opened returns every project open request.
func (b *Backend) Opened() []gateway.OpenProjectRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]gateway.OpenProjectRequest(nil), b.opened...)
}

// Review returns the stored classification for a segment.
func (b *Backend) Review(segID int64) match.ReviewStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reviews[segID]
}

func (b *Backend) router() http.Handler {
	r := chi.NewRouter()
	r.Use(b.track)

	r.Post("/project/open", func(w http.ResponseWriter, req *http.Request) {
		var body gateway.OpenProjectRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.opened = append(b.opened, body)
		b.mu.Unlock()
		writeJSON(w, map[string]any{"ok": true})
	})
	r.Get("/scenes", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		scenes := append([]match.Scene{}, b.scenes...)
		b.mu.Unlock()
		writeJSON(w, map[string]any{"scenes": scenes})
	})
	r.Get("/segments", func(w http.ResponseWriter, req *http.Request) {
		sceneID, err := strconv.ParseInt(req.URL.Query().Get("clip_scene_id"), 10, 64)
		if err != nil {
			http.Error(w, "bad clip_scene_id", http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		segs := append([]match.Segment{}, b.segments[sceneID]...)
		b.mu.Unlock()
		writeJSON(w, segs)
	})
	r.Get("/candidates/summary", func(w http.ResponseWriter, req *http.Request) {
		segID, err := strconv.ParseInt(req.URL.Query().Get("seg_id"), 10, 64)
		if err != nil {
			http.Error(w, "bad seg_id", http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		hook := b.hook
		b.mu.Unlock()
		if hook != nil {
			hook(segID)
		}
		b.mu.Lock()
		summary := b.summaries[segID]
		b.mu.Unlock()
		writeJSON(w, summary)
	})
	r.Get("/candidates/corridor", func(w http.ResponseWriter, req *http.Request) {
		segID, _ := strconv.ParseInt(req.URL.Query().Get("seg_id"), 10, 64)
		b.mu.Lock()
		c := b.summaries[segID].Corridor
		b.mu.Unlock()
		writeJSON(w, map[string]any{"prev": c.Prev, "anchors": c.Current, "next": c.Next})
	})
	r.Get("/candidates/scene_neighborhood", func(w http.ResponseWriter, req *http.Request) {
		segID, _ := strconv.ParseInt(req.URL.Query().Get("seg_id"), 10, 64)
		b.mu.Lock()
		items := b.summaries[segID].Neighborhood
		b.mu.Unlock()
		writeJSON(w, map[string]any{"ok": true, "items": items})
	})
	r.Get("/candidates", func(w http.ResponseWriter, req *http.Request) {
		segID, _ := strconv.ParseInt(req.URL.Query().Get("seg_id"), 10, 64)
		b.mu.Lock()
		items := b.summaries[segID].Top
		b.mu.Unlock()
		writeJSON(w, map[string]any{"ok": true, "seg_id": segID, "items": items})
	})
	r.Post("/apply", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Changes []gateway.Change `json:"changes"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		for _, change := range body.Changes {
			b.applied = append(b.applied, change)
			b.overrides[change.SegmentID] = change.Chosen
		}
		b.mu.Unlock()
		writeJSON(w, map[string]any{"ok": true})
	})
	r.Get("/overrides", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		data := make(map[string]match.Candidate, len(b.overrides))
		for id, cand := range b.overrides {
			data[strconv.FormatInt(id, 10)] = cand
		}
		b.mu.Unlock()
		writeJSON(w, map[string]any{"data": data})
	})
	r.Post("/review/update", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			SegmentID int64  `json:"seg_id"`
			Status    string `json:"status"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		status, err := match.ParseReviewStatus(body.Status)
		if err != nil {
			writeJSON(w, map[string]any{"ok": false})
			return
		}
		b.mu.Lock()
		b.reviews[body.SegmentID] = status
		b.mu.Unlock()
		writeJSON(w, map[string]any{"ok": true})
	})
	r.Get("/review/state", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		segs := make(map[string]map[string]string, len(b.reviews))
		for id, status := range b.reviews {
			segs[strconv.FormatInt(id, 10)] = map[string]string{"status": string(status)}
		}
		b.mu.Unlock()
		writeJSON(w, map[string]any{"segs": segs})
	})
	return r
}

func (b *Backend) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		route := req.Method + " " + req.URL.Path
		b.mu.Lock()
		b.hits[route]++
		status := b.failures[route]
		b.mu.Unlock()
		if status != 0 {
			http.Error(w, "injected failure", status)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
