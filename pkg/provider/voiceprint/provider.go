// Package voiceprint defines the Provider interface for speaker-embedding
// backends.
//
// A voiceprint provider maps a short audio clip to a fixed-length float32
// vector characterising the speaker's voice. All vectors from a single
// Provider instance share the same dimensionality (returned by Dimensions);
// vectors from different models must never be mixed in one distance
// computation.
//
// The backend is synchronous-or-async and retryable: callers may wrap Embed
// in a retry/circuit-breaker layer.
//
// Implementations must be safe for concurrent use.
package voiceprint

import "context"

// Provider is the abstraction over any speaker-embedding backend.
type Provider interface {
	// Embed computes the embedding vector for one audio clip. pcm is 16-bit
	// little-endian mono PCM at sampleRate Hz. The returned slice has length
	// Dimensions().
	Embed(ctx context.Context, pcm []byte, sampleRate int) ([]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider (192 for ECAPA-TDNN-style models).
	Dimensions() int

	// ModelID returns the backend-specific model identifier, for logging.
	ModelID() string
}
