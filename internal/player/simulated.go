package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"matchreview/internal/media/ffprobe"
)

// Prober inspects a media file before it is played.
type Prober func(ctx context.Context, path string) (ffprobe.Result, error)

// FFprobe returns a Prober that runs the given ffprobe binary.
func FFprobe(binary string) Prober {
	return func(ctx context.Context, path string) (ffprobe.Result, error) {
		return ffprobe.Inspect(ctx, binary, path)
	}
}

// SimulatedSource is a clock-driven virtual player running at rate 1.0. It
// stands in for a real decoder when previewing from the terminal.
type SimulatedSource struct {
	now    func() time.Time
	prober Prober

	mu        sync.Mutex
	uri       string
	duration  float64
	frame     float64
	base      float64
	startedAt time.Time
	playing   bool
	mirrored  bool
}

// SimulatedOption configures a SimulatedSource.
type SimulatedOption func(*SimulatedSource)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SimulatedOption {
	return func(s *SimulatedSource) { s.now = now }
}

// WithProber validates files on Load and bounds seeks by the probed duration.
func WithProber(p Prober) SimulatedOption {
	return func(s *SimulatedSource) { s.prober = p }
}

// NewSimulatedSource builds an idle source.
func NewSimulatedSource(opts ...SimulatedOption) *SimulatedSource {
	s := &SimulatedSource{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load resets the source to position 0 and, when a prober is configured,
// checks the file is readable media.
func (s *SimulatedSource) Load(ctx context.Context, uri string) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return errors.New("load: empty media uri")
	}
	var duration, frame float64
	if s.prober != nil {
		result, err := s.prober(ctx, uri)
		if err != nil {
			return fmt.Errorf("load %s: %w", uri, err)
		}
		duration = result.DurationSeconds()
		if math.IsNaN(duration) || duration < 0 {
			return fmt.Errorf("load %s: unreadable duration", uri)
		}
		frame = result.FrameDuration()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uri = uri
	s.duration = duration
	s.frame = frame
	s.base = 0
	s.playing = false
	return nil
}

// Seek moves to seconds exactly. Seeks past a known duration land on the end.
func (s *SimulatedSource) Seek(seconds float64) error {
	if math.IsNaN(seconds) || seconds < 0 {
		return fmt.Errorf("seek: invalid position %v", seconds)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uri == "" {
		return errors.New("seek: nothing loaded")
	}
	if s.duration > 0 && seconds > s.duration {
		seconds = s.duration
	}
	s.base = seconds
	if s.playing {
		s.startedAt = s.now()
	}
	return nil
}

// Play starts the clock from the current position.
func (s *SimulatedSource) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return
	}
	s.playing = true
	s.startedAt = s.now()
}

// Pause freezes the current position.
func (s *SimulatedSource) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return
	}
	s.base = s.positionLocked()
	s.playing = false
}

// Position returns the current playback position in seconds.
func (s *SimulatedSource) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

// SetMirrored records whether the picture is flipped horizontally.
func (s *SimulatedSource) SetMirrored(mirrored bool) {
	s.mu.Lock()
	s.mirrored = mirrored
	s.mu.Unlock()
}

// Mirrored reports the mirror flag.
func (s *SimulatedSource) Mirrored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirrored
}

// Duration is the probed media duration, or 0 when unknown.
func (s *SimulatedSource) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// FrameDuration is the probed frame length, or 0 when unknown.
func (s *SimulatedSource) FrameDuration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *SimulatedSource) positionLocked() float64 {
	pos := s.base
	if s.playing {
		pos += s.now().Sub(s.startedAt).Seconds()
	}
	if s.duration > 0 && pos > s.duration {
		pos = s.duration
	}
	return pos
}
