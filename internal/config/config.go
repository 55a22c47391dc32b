package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Backend contains connection settings for the matching backend.
type Backend struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Paths contains local directories used for the journal, locks, and logs.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Candidates controls the batched candidate summary request.
type Candidates struct {
	// Span is the scene radius used for the neighborhood and corridor buckets.
	Span          int    `toml:"span"`
	K             int    `toml:"k"`
	Offset        int    `toml:"offset"`
	DefaultBucket string `toml:"default_bucket"`
}

// Player contains preview playback defaults.
type Player struct {
	LoopCount     int    `toml:"loop_count"`
	SyncPolicy    string `toml:"sync_policy"`
	Mirror        bool   `toml:"mirror"`
	TickMillis    int    `toml:"tick_ms"`
	FFprobeBinary string `toml:"ffprobe_binary"`
}

// Anomaly holds the spike detection thresholds. The defaults are empirical;
// change them only with a reason.
type Anomaly struct {
	CrossLimitSeconds float64 `toml:"cross_limit_seconds"`
	RatioMin          float64 `toml:"ratio_min"`
	MinGapSeconds     float64 `toml:"min_gap_seconds"`
	Dominance         float64 `toml:"dominance"`
}

// Control configures the local deep-link activation server.
type Control struct {
	Bind string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for matchreview.
//
// Configuration sections by subsystem:
//   - Backend: matching service base URL and request timeout
//   - Paths: state (journal, lock) and log directories
//   - Candidates: summary request parameters and default bucket
//   - Player: preview loop count, sync policy, mirror flag, tick interval
//   - Anomaly: spike detection thresholds
//   - Control: local activation server bind address
//   - Logging: log format and level
type Config struct {
	Backend    Backend    `toml:"backend"`
	Paths      Paths      `toml:"paths"`
	Candidates Candidates `toml:"candidates"`
	Player     Player     `toml:"player"`
	Anomaly    Anomaly    `toml:"anomaly"`
	Control    Control    `toml:"control"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/matchreview/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("matchreview.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// BackendTimeout returns the per-request timeout for backend calls.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// TickInterval returns the boundary polling interval of the preview player.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Player.TickMillis) * time.Millisecond
}

// JournalPath returns the SQLite journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// LockPath returns the single-instance lock file used by the control server.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "matchreview.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
