package preflight_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"matchreview/internal/match"
	"matchreview/internal/preflight"
	"matchreview/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	result := preflight.CheckDirectoryAccess("test", t.TempDir())
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := preflight.CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := preflight.CheckDirectoryAccess("test", f); result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckBackend_OK(t *testing.T) {
	backend := testsupport.NewBackend(t)
	backend.SetReview(4, match.ReviewOK)

	result := preflight.CheckBackend(context.Background(), backend.URL())
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "1 reviewed") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckBackend_Failing(t *testing.T) {
	backend := testsupport.NewBackend(t)
	backend.Fail("GET /review/state", http.StatusServiceUnavailable)

	if result := preflight.CheckBackend(context.Background(), backend.URL()); result.Passed {
		t.Fatal("expected failure for 503")
	}
}

func TestCheckBackend_MissingURL(t *testing.T) {
	if result := preflight.CheckBackend(context.Background(), " "); result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestCheckFFprobe_MissingIsOptional(t *testing.T) {
	result := preflight.CheckFFprobe(context.Background(), "clearly-not-present-ffprobe")
	if result.Passed || !result.Optional {
		t.Fatalf("expected optional failure, got %+v", result)
	}
	if preflight.Failed([]preflight.Result{result}) {
		t.Fatal("optional failures must not fail the run")
	}
}

func TestCheckFFprobe_ReportsVersion(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs")
	}
	stub := filepath.Join(t.TempDir(), "ffprobe")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\necho 'ffprobe version 6.0'\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	result := preflight.CheckFFprobe(context.Background(), stub)
	if !result.Passed || result.Detail != "ffprobe version 6.0" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunAll(t *testing.T) {
	if results := preflight.RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}

	backend := testsupport.NewBackend(t)
	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(backend.URL()))
	cfg.Player.FFprobeBinary = "clearly-not-present-ffprobe"

	results := preflight.RunAll(context.Background(), cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if preflight.Failed(results) {
		for _, r := range results {
			t.Logf("%s passed=%v: %s", r.Name, r.Passed, r.Detail)
		}
		t.Fatal("required checks should pass")
	}
}
