// Package segmenter turns a continuous PCM frame stream into bounded speech
// segments using voice-activity detection with adaptive silence timing, an
// RMS noise gate, and an optional listening window.
package segmenter

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/oasis-home/earshot/pkg/audio"
	"github.com/oasis-home/earshot/pkg/provider/vad"
)

// fullScale is the maximum RMS value of 16-bit PCM; NoiseFloorRMS is
// expressed as a fraction of it.
const fullScale = 32767.0

// Config tunes segmentation behavior. Zero-value fields are replaced with
// the documented defaults.
type Config struct {
	// MinSpeechDuration is the shortest segment worth emitting; anything
	// shorter is discarded silently on flush. Default: 1.5s.
	MinSpeechDuration time.Duration

	// MaxSegmentDuration is the hard cap. A recording is split exactly at
	// this duration regardless of speech activity. Default: 30m.
	MaxSegmentDuration time.Duration

	// BaseSilenceTimeout is the silence run that ends a short recording.
	// Default: 4s.
	BaseSilenceTimeout time.Duration

	// AdaptAfter is the recording duration past which the silence timeout
	// starts growing, tolerating natural pauses in long monologues.
	// Default: 30s.
	AdaptAfter time.Duration

	// SilenceGrowthRate is the extra timeout per second of recording beyond
	// AdaptAfter, in seconds per second. Default: 0.02.
	SilenceGrowthRate float64

	// MinSilenceTimeout and MaxSilenceTimeout clamp the adaptive timeout.
	// Defaults: 3s and 8s.
	MinSilenceTimeout time.Duration
	MaxSilenceTimeout time.Duration

	// NoiseFloorRMS is a normalized [0,1] amplitude gate applied on top of
	// the VAD verdict. Frames below the floor are never speech. Default: 0.005.
	NoiseFloorRMS float64

	// Listening restricts emission to a wall-clock window. Nil means
	// always listening.
	Listening *ListenWindow
}

// ListenWindow is a daily window of permitted hours. StartHour == EndHour
// means the window covers the whole day; StartHour > EndHour wraps midnight
// (e.g. 22 to 6 listens overnight).
type ListenWindow struct {
	StartHour int
	EndHour   int
}

// Contains reports whether t falls inside the window.
func (w *ListenWindow) Contains(t time.Time) bool {
	h := t.Hour()
	switch {
	case w.StartHour == w.EndHour:
		return true
	case w.StartHour < w.EndHour:
		return h >= w.StartHour && h < w.EndHour
	default:
		return h >= w.StartHour || h < w.EndHour
	}
}

func (c *Config) applyDefaults() {
	if c.MinSpeechDuration <= 0 {
		c.MinSpeechDuration = 1500 * time.Millisecond
	}
	if c.MaxSegmentDuration <= 0 {
		c.MaxSegmentDuration = 30 * time.Minute
	}
	if c.BaseSilenceTimeout <= 0 {
		c.BaseSilenceTimeout = 4 * time.Second
	}
	if c.AdaptAfter <= 0 {
		c.AdaptAfter = 30 * time.Second
	}
	if c.SilenceGrowthRate <= 0 {
		c.SilenceGrowthRate = 0.02
	}
	if c.MinSilenceTimeout <= 0 {
		c.MinSilenceTimeout = 3 * time.Second
	}
	if c.MaxSilenceTimeout <= 0 {
		c.MaxSilenceTimeout = 8 * time.Second
	}
	if c.NoiseFloorRMS <= 0 {
		c.NoiseFloorRMS = 0.005
	}
}

func (c *Config) validate() error {
	if c.MinSilenceTimeout > c.MaxSilenceTimeout {
		return fmt.Errorf("min silence timeout %s exceeds max %s", c.MinSilenceTimeout, c.MaxSilenceTimeout)
	}
	if c.MinSpeechDuration >= c.MaxSegmentDuration {
		return fmt.Errorf("min speech duration %s must be below the segment cap %s", c.MinSpeechDuration, c.MaxSegmentDuration)
	}
	if w := c.Listening; w != nil {
		if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
			return fmt.Errorf("listening window hours must be in [0,23], got %d-%d", w.StartHour, w.EndHour)
		}
	}
	return nil
}

type state int

const (
	stateIdle state = iota
	stateRecording
)

// Segmenter is the frame consumer. It is single-threaded by design: the
// capture loop is its only caller, and it never blocks on network I/O.
type Segmenter struct {
	cfg        Config
	vad        vad.Session
	sampleRate int
	frameDur   time.Duration
	rmsFloor   float64 // NoiseFloorRMS scaled to raw 16-bit sample units
	log        *slog.Logger

	state    state
	buf      []byte
	startAt  time.Time // timestamp of the first frame in buf
	recorded time.Duration
	silence  time.Duration
}

// New builds a Segmenter around an open VAD session. The session's frame
// geometry must match sampleRate and frameDur.
func New(cfg Config, session vad.Session, sampleRate int, frameDur time.Duration, log *slog.Logger) (*Segmenter, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("segmenter config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Segmenter{
		cfg:        cfg,
		vad:        session,
		sampleRate: sampleRate,
		frameDur:   frameDur,
		rmsFloor:   cfg.NoiseFloorRMS * fullScale,
		log:        log,
	}, nil
}

// ProcessFrame feeds one fixed-size frame through the state machine and
// returns a finished segment when one flushes, or nil. Classifier errors
// are logged and the frame is treated as silence; they are never fatal.
func (s *Segmenter) ProcessFrame(f audio.Frame) *audio.Segment {
	speech := s.classify(f)

	switch s.state {
	case stateIdle:
		if !speech {
			return nil
		}
		if !s.listening(f.Timestamp) {
			// Keep draining the device; drop the would-be recording.
			return nil
		}
		s.state = stateRecording
		s.startAt = f.Timestamp
		s.buf = append(s.buf[:0], f.Data...)
		s.recorded = s.frameDur
		s.silence = 0
		return nil

	case stateRecording:
		s.buf = append(s.buf, f.Data...)
		s.recorded += s.frameDur
		if speech {
			s.silence = 0
		} else {
			s.silence += s.frameDur
		}

		if s.recorded >= s.cfg.MaxSegmentDuration {
			return s.splitAtCap()
		}
		if s.silence >= s.silenceTimeout(s.recorded) {
			return s.flush()
		}
		return nil
	}
	return nil
}

// Flush force-ends any in-progress recording, e.g. at end of a replayed
// file or on shutdown. The minimum-duration discard still applies.
func (s *Segmenter) Flush() *audio.Segment {
	if s.state != stateRecording {
		return nil
	}
	return s.flush()
}

// Reset drops any in-progress recording and resets the classifier.
func (s *Segmenter) Reset() {
	s.state = stateIdle
	s.buf = s.buf[:0]
	s.recorded = 0
	s.silence = 0
	s.vad.Reset()
}

// classify ANDs the VAD verdict with the amplitude noise gate. RMS is in raw
// sample units, so the normalized floor is scaled to full scale once in New.
func (s *Segmenter) classify(f audio.Frame) bool {
	if audio.RMS(f.Data) < s.rmsFloor {
		return false
	}
	speech, err := s.vad.Classify(f.Data)
	if err != nil {
		s.log.Warn("vad classify failed, treating frame as silence", "error", err)
		return false
	}
	return speech
}

// silenceTimeout returns the adaptive timeout for a recording of the given
// elapsed duration. Monotonically non-decreasing in elapsed, clamped to
// [MinSilenceTimeout, MaxSilenceTimeout].
func (s *Segmenter) silenceTimeout(elapsed time.Duration) time.Duration {
	d := s.cfg.BaseSilenceTimeout
	if elapsed > s.cfg.AdaptAfter {
		d += time.Duration(float64(elapsed-s.cfg.AdaptAfter) * s.cfg.SilenceGrowthRate)
	}
	if d < s.cfg.MinSilenceTimeout {
		d = s.cfg.MinSilenceTimeout
	}
	if d > s.cfg.MaxSilenceTimeout {
		d = s.cfg.MaxSilenceTimeout
	}
	return d
}

// splitAtCap emits exactly MaxSegmentDuration of audio and carries the
// overshoot into a fresh recording so ongoing speech is not lost.
func (s *Segmenter) splitAtCap() *audio.Segment {
	capBytes := int(s.cfg.MaxSegmentDuration.Seconds() * float64(s.sampleRate) * 2)
	if capBytes > len(s.buf) {
		capBytes = len(s.buf)
	}
	capBytes -= capBytes % 2

	head := make([]byte, capBytes)
	copy(head, s.buf[:capBytes])
	tail := s.buf[capBytes:]

	end := s.startAt.Add(s.cfg.MaxSegmentDuration)
	seg := audio.NewSegment(s.startAt, end, s.sampleRate, head)

	// Resume recording with the overshoot.
	s.buf = append(s.buf[:0], tail...)
	s.startAt = end
	s.recorded -= s.cfg.MaxSegmentDuration
	if s.recorded < 0 {
		s.recorded = 0
	}

	s.log.Info("segment split at hard cap",
		"segment_id", seg.ID,
		"duration", seg.Duration(),
	)
	return s.emit(seg)
}

func (s *Segmenter) flush() *audio.Segment {
	duration := s.recorded
	buf := s.buf
	start := s.startAt
	s.state = stateIdle
	s.buf = nil
	s.recorded = 0
	s.silence = 0
	s.vad.Reset()

	if duration < s.cfg.MinSpeechDuration {
		s.log.Debug("discarding short recording", "duration", duration)
		return nil
	}
	seg := audio.NewSegment(start, start.Add(duration), s.sampleRate, buf)
	return s.emit(seg)
}

func (s *Segmenter) emit(seg *audio.Segment) *audio.Segment {
	if !s.listening(seg.End) {
		s.log.Debug("dropping segment outside listening window", "segment_id", seg.ID)
		return nil
	}
	s.log.Info("segment emitted",
		"segment_id", seg.ID,
		"duration", seg.Duration(),
		"bytes", len(seg.PCM),
	)
	return seg
}

func (s *Segmenter) listening(t time.Time) bool {
	return s.cfg.Listening == nil || s.cfg.Listening.Contains(t)
}
