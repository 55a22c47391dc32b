// Package ffprobe runs ffprobe against a media file and exposes the timing
// facts the player needs: container duration, video frame rate and frame
// size.
//
// Inspect is the only entry point that touches the filesystem; the helper
// methods on Result are pure and safe to call on a zero Result.
package ffprobe
