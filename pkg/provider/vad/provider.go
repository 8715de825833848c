// Package vad defines the Engine interface for voice-activity-detection
// backends.
//
// A VAD engine wraps a frame-level speech detector (a Silero-style model
// served locally, WebRTC VAD, or a plain energy detector) and surfaces it as
// a stateful per-stream session. Each session maintains its own smoothing
// history so that multiple concurrent audio streams can be classified
// independently.
//
// Classification is synchronous by design: Classify returns immediately with
// a boolean verdict, making it suitable for the capture loop which must never
// block on network I/O.
//
// Engine implementations must be safe for concurrent use. A single Session
// must not be shared across goroutines unless the implementation documents
// otherwise.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to Classify.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds. Most
	// detectors operate on fixed frame sizes (10, 20, or 30 ms).
	FrameSizeMs int

	// SpeechThreshold is the probability above which a frame is classified as
	// speech. Range: [0.0, 1.0]. Typical: 0.5.
	SpeechThreshold float64
}

// Session is an active VAD session for a single audio stream. Reset clears
// accumulated smoothing state without closing the session; use it when the
// stream is interrupted so stale history does not bleed into the next
// segment.
type Session interface {
	// Classify analyses one PCM frame and reports whether it contains speech.
	// The frame must match the SampleRate and FrameSizeMs agreed at session
	// creation. It must not block.
	Classify(frame []byte) (bool, error)

	// Reset clears all accumulated detection state.
	Reset()

	// Close releases session resources. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions, implemented by each backend.
type Engine interface {
	// NewSession creates a session ready to accept frames. Returns an error
	// if the configuration is invalid or resources cannot be allocated.
	NewSession(cfg Config) (Session, error)
}
