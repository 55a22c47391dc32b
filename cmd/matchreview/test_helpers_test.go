package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"matchreview/internal/config"
	"matchreview/internal/gateway"
	"matchreview/internal/match"
	"matchreview/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	backend    *testsupport.Backend
	configPath string
	projectDir string
}

func ptr[T any](v T) *T { return &v }

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("MATCHREVIEW_BACKEND_URL", "")

	backend := testsupport.NewBackend(t)
	m1 := match.Candidate{ID: ptr[int64](100), Start: 50, End: 50.04}
	m2 := match.Candidate{ID: ptr[int64](101), Start: 50.04, End: 50.08}
	backend.AddScene(1,
		match.Segment{ID: 1, Start: 0, End: 0.04, Match: &m1},
		match.Segment{ID: 2, Start: 0.04, End: 0.08, Match: &m2},
	)
	backend.SetSummary(1, gateway.Summary{Top: []match.Candidate{
		m1,
		{ID: ptr[int64](900), Start: 700, End: 700.04, Score: ptr(0.42), Source: "faiss"},
	}})

	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(backend.URL()))
	cfg.Logging.Level = "error"
	cfg.Player.TickMillis = 5

	configPath := filepath.Join(homeDir, ".config", "matchreview", "config.toml")
	writeTestConfig(t, configPath, cfg)

	projectDir := filepath.Join(base, "project")
	testsupport.WriteFile(t, filepath.Join(projectDir, "movie.mkv"), 64)
	testsupport.WriteFile(t, filepath.Join(projectDir, "clip.mp4"), 64)

	return &cliTestEnv{cfg: cfg, backend: backend, configPath: configPath, projectDir: projectDir}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (e *cliTestEnv) run(t *testing.T, args ...string) string {
	t.Helper()
	out, _, err := runCLI(t, args, e.configPath)
	if err != nil {
		t.Fatalf("matchreview %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func (e *cliTestEnv) openProject(t *testing.T) {
	t.Helper()
	out := e.run(t, "open", e.projectDir, "--movie", "movie.mkv", "--clip", "clip.mp4")
	requireContains(t, out, "2 segments")
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
