package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeBackend()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCandidates()
	c.normalizePlayer()
	c.normalizeAnomaly()
	c.Control.Bind = strings.TrimSpace(c.Control.Bind)
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeBackend() {
	if value, ok := os.LookupEnv("MATCHREVIEW_BACKEND_URL"); ok && strings.TrimSpace(value) != "" {
		c.Backend.BaseURL = value
	}
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = defaultBackendURL
	}
	if c.Backend.TimeoutSeconds == 0 {
		c.Backend.TimeoutSeconds = defaultBackendTimeout
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeCandidates() {
	c.Candidates.DefaultBucket = strings.ToLower(strings.TrimSpace(c.Candidates.DefaultBucket))
	if c.Candidates.DefaultBucket == "" {
		c.Candidates.DefaultBucket = defaultBucket
	}
	if c.Candidates.K == 0 {
		c.Candidates.K = defaultCandidateK
	}
}

func (c *Config) normalizePlayer() {
	c.Player.SyncPolicy = strings.ToLower(strings.TrimSpace(c.Player.SyncPolicy))
	if c.Player.SyncPolicy == "" {
		c.Player.SyncPolicy = defaultSyncPolicy
	}
	if c.Player.LoopCount == 0 {
		c.Player.LoopCount = defaultLoopCount
	}
	if c.Player.TickMillis == 0 {
		c.Player.TickMillis = defaultTickMillis
	}
	c.Player.FFprobeBinary = strings.TrimSpace(c.Player.FFprobeBinary)
}

func (c *Config) normalizeAnomaly() {
	if c.Anomaly.CrossLimitSeconds == 0 {
		c.Anomaly.CrossLimitSeconds = defaultCrossLimitSeconds
	}
	if c.Anomaly.RatioMin == 0 {
		c.Anomaly.RatioMin = defaultRatioMin
	}
	if c.Anomaly.MinGapSeconds == 0 {
		c.Anomaly.MinGapSeconds = defaultMinGapSeconds
	}
	if c.Anomaly.Dominance == 0 {
		c.Anomaly.Dominance = defaultDominance
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
