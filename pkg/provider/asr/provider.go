// Package asr defines the Provider interface for speech-to-text +
// diarization backends.
//
// An ASR provider accepts the PCM of one bounded speech segment and returns a
// diarized transcript: an ordered list of utterances tagged with provisional,
// session-local speaker labels ("SPEAKER_00", "SPEAKER_01", …). The backend
// is treated as an opaque, possibly slow (seconds to minutes), possibly
// failing dependency; callers bound each request with a context deadline.
//
// Implementations must be safe for concurrent use across distinct segments.
package asr

import (
	"context"
	"time"
)

// Hints carries optional recognition hints forwarded to the backend.
type Hints struct {
	// MaxSpeakers caps the number of distinct speakers the diarizer will
	// produce. Zero lets the backend decide.
	MaxSpeakers int

	// Language is a BCP-47 language code. Empty enables auto-detection where
	// the backend supports it.
	Language string
}

// Utterance is one speaker turn within a diarized transcript. Offsets are
// relative to the start of the submitted segment.
type Utterance struct {
	// Speaker is the provisional diarization label, unique only within this
	// result (e.g. "SPEAKER_00").
	Speaker string

	// Text is the transcribed speech.
	Text string

	// Start and End bound the utterance within the segment.
	Start time.Duration
	End   time.Duration

	// Confidence is the backend's confidence score (0.0–1.0), zero when not
	// reported.
	Confidence float64
}

// Result is the diarized transcript of one segment.
type Result struct {
	// Utterances is ordered by start offset.
	Utterances []Utterance

	// Language is the detected or requested language code.
	Language string

	// Cost is the billed cost of the request in USD, zero when the backend
	// does not report it.
	Cost float64
}

// Provider is the abstraction over any batch transcription + diarization
// backend.
type Provider interface {
	// Transcribe submits the segment audio and blocks until the backend
	// returns a terminal result or ctx expires. pcm is 16-bit little-endian
	// mono PCM at sampleRate Hz.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, hints Hints) (*Result, error)
}
