// Package config loads, normalizes, and validates matchreview configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MATCHREVIEW_BACKEND_URL. The Config type centralizes every knob the CLI,
// the review session, and the preview player need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
