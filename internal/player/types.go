package player

import (
	"errors"
	"fmt"
	"strings"

	"matchreview/internal/match"
)

// ErrInvalidRequest marks a PlayPair request that cannot be played.
var ErrInvalidRequest = errors.New("invalid play request")

// Policy selects how the two sources restart at their boundaries.
type Policy string

const (
	Joint       Policy = "joint"
	Independent Policy = "independent"
)

// ParsePolicy accepts "joint" or "independent" in any case.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case Joint, "":
		return Joint, nil
	case Independent:
		return Independent, nil
	default:
		return "", fmt.Errorf("unknown sync policy %q", value)
	}
}

// Role identifies one of the two sources.
type Role int

const (
	Clip Role = iota
	Movie
)

func (r Role) String() string {
	if r == Movie {
		return "movie"
	}
	return "clip"
}

// State is a source's playback state.
type State int

const (
	Idle State = iota
	Seeking
	Playing
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Seeking:
		return "seeking"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Request describes one paired playback session.
type Request struct {
	ClipRange  match.TimeRange
	MovieRange match.TimeRange
	Policy     Policy
	Mirror     bool
	ClipURI    string
	MovieURI   string
	LoopCount  int
}

// Validate checks ranges, policy and loop count.
func (r Request) Validate() error {
	if !r.ClipRange.Valid() {
		return fmt.Errorf("%w: clip range %s", ErrInvalidRequest, r.ClipRange)
	}
	if !r.MovieRange.Valid() {
		return fmt.Errorf("%w: movie range %s", ErrInvalidRequest, r.MovieRange)
	}
	if r.LoopCount < 1 {
		return fmt.Errorf("%w: loop count %d", ErrInvalidRequest, r.LoopCount)
	}
	if r.Policy != Joint && r.Policy != Independent {
		return fmt.Errorf("%w: policy %q", ErrInvalidRequest, r.Policy)
	}
	return nil
}

// EventKind classifies controller events.
type EventKind string

const (
	EventStarted    EventKind = "started"
	EventBoundary   EventKind = "boundary"
	EventRestarted  EventKind = "restarted"
	EventStopped    EventKind = "stopped"
	EventLoadFailed EventKind = "load_failed"
)

// Event reports a state transition of one source.
type Event struct {
	Kind       EventKind
	Role       Role
	Generation uint64
	Position   float64
	Budget     int
	Err        error
}

// SourceSnapshot is the observable state of one source.
type SourceSnapshot struct {
	Role     Role
	State    State
	Finished bool
	Live     bool
	Range    match.TimeRange
	Position float64
}

// Snapshot is the observable state of the controller.
type Snapshot struct {
	Generation uint64
	Policy     Policy
	Budget     int
	Restarts   int
	Sources    [2]SourceSnapshot
}

// Done reports whether no source will play again without a new PlayPair.
func (s Snapshot) Done() bool {
	for _, src := range s.Sources {
		if src.State != Stopped && src.State != Idle {
			return false
		}
	}
	return true
}
