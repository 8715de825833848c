// Package mock provides an in-memory test double for the [audio.Source]
// interface.
//
// Tests push frames into the Source via Emit and close it with Close. Frame
// timestamps come from a synthetic clock advancing by the configured frame
// duration, so segmenter tests are deterministic.
package mock

import (
	"sync"
	"time"

	"github.com/oasis-home/earshot/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Rate is returned by SampleRate. Defaults to 16000 when zero.
	Rate int

	// FrameDur is returned by FrameDuration. Defaults to 30 ms when zero.
	FrameDur time.Duration

	// CallCountClose records how many times Close was called.
	CallCountClose int

	frames chan audio.Frame
	clock  time.Time
	once   sync.Once
}

// NewSource creates a Source with a buffered frame channel and a synthetic
// clock starting at start.
func NewSource(start time.Time, buffer int) *Source {
	return &Source{
		frames: make(chan audio.Frame, buffer),
		clock:  start,
	}
}

// Emit pushes one frame of PCM onto the channel, stamping it with the
// synthetic clock and advancing the clock by the frame duration.
func (s *Source) Emit(pcm []byte) {
	s.mu.Lock()
	ts := s.clock
	s.clock = s.clock.Add(s.frameDuration())
	s.mu.Unlock()
	s.frames <- audio.Frame{Data: pcm, Timestamp: ts}
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// SampleRate implements [audio.Source].
func (s *Source) SampleRate() int {
	if s.Rate == 0 {
		return 16000
	}
	return s.Rate
}

// FrameDuration implements [audio.Source].
func (s *Source) FrameDuration() time.Duration { return s.frameDuration() }

func (s *Source) frameDuration() time.Duration {
	if s.FrameDur == 0 {
		return 30 * time.Millisecond
	}
	return s.FrameDur
}

// Close implements [audio.Source]. It closes the frame channel exactly once.
func (s *Source) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	s.mu.Unlock()
	s.once.Do(func() { close(s.frames) })
	return nil
}
