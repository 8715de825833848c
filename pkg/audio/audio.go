// Package audio defines the frame and segment types shared by the capture
// pipeline, plus small PCM helpers (RMS energy, WAV encoding).
//
// All audio in Earshot is 16-bit signed little-endian PCM, mono. Frames are
// fixed-size slices produced by a [Source] at a constant rate (typically
// 30 ms); segments are bounded runs of frames produced by the segmenter.
//
// Source implementations must be safe to Close concurrently with a reader
// draining Frames.
package audio

import (
	"time"
)

// Frame is a single fixed-duration chunk of PCM audio as read from a capture
// device or an uploaded file.
type Frame struct {
	// Data is raw 16-bit little-endian signed PCM, mono.
	Data []byte

	// Timestamp marks when the first sample of the frame was captured.
	Timestamp time.Time
}

// Source is an abstraction over anything that yields a continuous stream of
// audio frames: a live microphone device or a batch-uploaded recording played
// back frame by frame.
type Source interface {
	// Frames returns the channel of captured frames. The channel is closed
	// when the source is exhausted (file sources) or closed.
	Frames() <-chan Frame

	// SampleRate returns the PCM sample rate in Hz.
	SampleRate() int

	// FrameDuration returns the fixed duration of each frame.
	FrameDuration() time.Duration

	// Close releases the underlying device or file. Safe to call more than
	// once.
	Close() error
}
