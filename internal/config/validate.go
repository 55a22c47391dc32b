package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateCandidates(); err != nil {
		return err
	}
	if err := c.validatePlayer(); err != nil {
		return err
	}
	if err := c.validateAnomaly(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateBackend() error {
	parsed, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("backend.base_url must use http or https, got %q", c.Backend.BaseURL)
	}
	if parsed.Host == "" {
		return errors.New("backend.base_url must include a host")
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return errors.New("backend.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateCandidates() error {
	switch c.Candidates.DefaultBucket {
	case "top", "scene", "corridor", "all":
	default:
		return fmt.Errorf("candidates.default_bucket must be one of top, scene, corridor, all (got %q)", c.Candidates.DefaultBucket)
	}
	if c.Candidates.Span < 0 {
		return errors.New("candidates.span must be >= 0")
	}
	if c.Candidates.K <= 0 {
		return errors.New("candidates.k must be positive")
	}
	if c.Candidates.Offset < 0 {
		return errors.New("candidates.offset must be >= 0")
	}
	return nil
}

func (c *Config) validatePlayer() error {
	if c.Player.LoopCount < 1 {
		return errors.New("player.loop_count must be >= 1")
	}
	switch c.Player.SyncPolicy {
	case "joint", "independent":
	default:
		return fmt.Errorf("player.sync_policy must be joint or independent (got %q)", c.Player.SyncPolicy)
	}
	if c.Player.TickMillis <= 0 {
		return errors.New("player.tick_ms must be positive")
	}
	return nil
}

func (c *Config) validateAnomaly() error {
	if err := ensurePositiveMap(map[string]float64{
		"anomaly.cross_limit_seconds": c.Anomaly.CrossLimitSeconds,
		"anomaly.ratio_min":           c.Anomaly.RatioMin,
		"anomaly.min_gap_seconds":     c.Anomaly.MinGapSeconds,
		"anomaly.dominance":           c.Anomaly.Dominance,
	}); err != nil {
		return err
	}
	return nil
}

func ensurePositiveMap(values map[string]float64) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
