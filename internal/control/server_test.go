package control_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"matchreview/internal/control"
	"matchreview/internal/gateway"
	"matchreview/internal/match"
	"matchreview/internal/session"
	"matchreview/internal/testsupport"
)

func ptr[T any](v T) *T { return &v }

func newSession(t *testing.T) (*session.Session, *testsupport.Backend) {
	t.Helper()
	backend := testsupport.NewBackend(t)
	m1 := match.Candidate{ID: ptr[int64](100), Start: 50, End: 52}
	m2 := match.Candidate{ID: ptr[int64](500), Start: 400, End: 402}
	backend.AddScene(1,
		match.Segment{ID: 1, Start: 0, End: 2, Match: &m1},
		match.Segment{ID: 2, Start: 2, End: 4, Match: &m2},
	)
	backend.SetSummary(1, gateway.Summary{Top: []match.Candidate{m1}})
	client, err := gateway.New(backend.URL())
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	return session.New(client), backend
}

func newServer(t *testing.T, sess *session.Session) (*control.Server, *httptest.Server) {
	t.Helper()
	srv, err := control.NewServer(sess, filepath.Join(t.TempDir(), "matchreview.lock"), nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestActivateOpensProject(t *testing.T) {
	sess, backend := newSession(t)
	_, ts := newServer(t, sess)

	body, _ := json.Marshal(control.ActivateRequest{URL: "matchreview://open?root=/data/show&movie=movie.mkv"})
	resp, err := http.Post(ts.URL+"/activate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /activate: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	status := decode[control.StatusResponse](t, resp)
	if !status.Loaded || status.Root != "/data/show" || status.Movie != "movie.mkv" || status.Segments != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}
	opened := backend.Opened()
	if len(opened) != 1 || opened[0].Root != "/data/show" {
		t.Fatalf("backend not asked to open the project: %+v", opened)
	}
}

func TestOpenByRootQuery(t *testing.T) {
	sess, _ := newSession(t)
	_, ts := newServer(t, sess)

	resp, err := http.Get(ts.URL + "/open?root=" + url.QueryEscape("/data/other/"))
	if err != nil {
		t.Fatalf("GET /open: %v", err)
	}
	status := decode[control.StatusResponse](t, resp)
	if status.Root != "/data/other" {
		t.Fatalf("root should be cleaned, got %q", status.Root)
	}
}

func TestActivateRejectsBadLinks(t *testing.T) {
	sess, _ := newSession(t)
	_, ts := newServer(t, sess)

	for _, raw := range []string{"", "relative/path", "https://example.com/open"} {
		body, _ := json.Marshal(control.ActivateRequest{URL: raw})
		resp, err := http.Post(ts.URL+"/activate", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST /activate: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%q: expected 400, got %d", raw, resp.StatusCode)
		}
	}
	if sess.Snapshot().Loaded {
		t.Fatal("invalid links must not open a project")
	}
}

func TestActivateBackendFailure(t *testing.T) {
	sess, backend := newSession(t)
	_, ts := newServer(t, sess)
	backend.Fail("POST /project/open", http.StatusInternalServerError)

	resp, err := http.Get(ts.URL + "/open?root=/data/show")
	if err != nil {
		t.Fatalf("GET /open: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}

func TestSegmentsAndSelect(t *testing.T) {
	sess, _ := newSession(t)
	_, ts := newServer(t, sess)

	resp, err := http.Get(ts.URL + "/segments")
	if err != nil {
		t.Fatalf("GET /segments: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 before a project is open, got %d", resp.StatusCode)
	}

	if err := sess.Open(context.Background(), gateway.OpenProjectRequest{Root: "/data/show"}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	resp, err = http.Get(ts.URL + "/segments")
	if err != nil {
		t.Fatalf("GET /segments: %v", err)
	}
	rows := decode[[]control.SegmentRow](t, resp)
	if len(rows) != 2 || rows[0].Source != "server" || rows[0].Match == nil || rows[0].Match.Start != 50 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if rows[1].Contiguous || rows[1].Island != 1 {
		t.Fatalf("second segment should start a new island: %+v", rows[1])
	}

	resp, err = http.Post(ts.URL+"/select/1?bucket=top", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /select: %v", err)
	}
	status := decode[control.StatusResponse](t, resp)
	if status.Selection == nil || status.Selection.SegmentID != 1 || len(status.Selection.Candidates) != 1 {
		t.Fatalf("unexpected selection: %+v", status.Selection)
	}

	for path, want := range map[string]int{
		"/select/abc":            http.StatusBadRequest,
		"/select/1?bucket=bogus": http.StatusBadRequest,
		"/select/99":             http.StatusNotFound,
	} {
		resp, err := http.Post(ts.URL+path, "application/json", nil)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("%s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}
}

func TestStartHoldsInstanceLock(t *testing.T) {
	sess, _ := newSession(t)
	lockPath := filepath.Join(t.TempDir(), "matchreview.lock")

	first, err := control.NewServer(sess, lockPath, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ctx := context.Background()
	if err := first.Start(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + first.Addr() + "/ping")
	if err != nil {
		t.Fatalf("GET /ping: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ping returned %d", resp.StatusCode)
	}

	second, err := control.NewServer(sess, lockPath, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := second.Start(ctx, "127.0.0.1:0"); !errors.Is(err, control.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := first.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := second.Start(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("Start after release: %v", err)
	}
	if err := second.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
