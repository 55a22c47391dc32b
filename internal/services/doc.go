// Package services defines shared utilities consumed by the review session,
// the backend gateway, and the preview player.
//
// Key responsibilities:
//   - Context helpers that stamp segment IDs and correlation identifiers for
//     logging.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures with errors.Is without parsing messages.
package services
