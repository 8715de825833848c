// Package energy implements a dependency-free energy-based VAD engine.
//
// Frames are classified by RMS amplitude against a threshold derived from
// Config.SpeechThreshold, with a short hangover window so brief intra-word
// dips do not flicker the verdict. It is a reasonable default for close-mic
// home deployments; swap in a model-backed engine for far-field audio.
package energy

import (
	"errors"
	"fmt"

	"github.com/oasis-home/earshot/pkg/audio"
	"github.com/oasis-home/earshot/pkg/provider/vad"
)

// fullScale is the maximum RMS value of 16-bit PCM. SpeechThreshold is
// expressed as a fraction of this.
const fullScale = 32767.0

// defaultHangoverFrames is how many frames the session keeps reporting speech
// after energy drops below threshold.
const defaultHangoverFrames = 3

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithHangoverFrames sets the number of post-speech frames still classified
// as speech. Defaults to 3.
func WithHangoverFrames(n int) Option {
	return func(e *Engine) { e.hangover = n }
}

// Engine implements vad.Engine with an RMS amplitude detector.
type Engine struct {
	hangover int
}

// New creates an energy Engine.
func New(opts ...Option) *Engine {
	e := &Engine{hangover: defaultHangoverFrames}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy vad: speech threshold %.2f out of range [0,1]", cfg.SpeechThreshold)
	}
	threshold := cfg.SpeechThreshold
	if threshold == 0 {
		threshold = 0.02 // ≈ 650 RMS, comfortably above electrical noise
	}
	frameBytes := 0
	if cfg.FrameSizeMs > 0 {
		frameBytes = cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2
	}
	return &session{
		rmsFloor:   threshold * fullScale,
		frameBytes: frameBytes,
		hangover:   e.hangover,
	}, nil
}

type session struct {
	rmsFloor   float64
	frameBytes int
	hangover   int

	remaining int // hangover frames left
	closed    bool
}

// Classify implements [vad.Session].
func (s *session) Classify(frame []byte) (bool, error) {
	if s.closed {
		return false, errors.New("energy vad: session is closed")
	}
	if s.frameBytes > 0 && len(frame) != s.frameBytes {
		return false, fmt.Errorf("energy vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}
	if audio.RMS(frame) >= s.rmsFloor {
		s.remaining = s.hangover
		return true, nil
	}
	if s.remaining > 0 {
		s.remaining--
		return true, nil
	}
	return false, nil
}

// Reset implements [vad.Session].
func (s *session) Reset() { s.remaining = 0 }

// Close implements [vad.Session].
func (s *session) Close() error {
	s.closed = true
	return nil
}
