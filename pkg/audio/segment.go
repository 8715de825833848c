package audio

import (
	"time"

	"github.com/google/uuid"
)

// Segment is a bounded run of speech emitted by the segmenter. It is
// immutable once emitted: the segmenter owns the PCM buffer until the segment
// is handed to the transcription gateway, after which the gateway (and its
// workers) own it exclusively.
type Segment struct {
	// ID uniquely identifies the segment across the pipeline.
	ID string

	// Start and End bound the wall-clock span of the captured speech.
	Start time.Time
	End   time.Time

	// SampleRate is the PCM sample rate in Hz.
	SampleRate int

	// PCM is the accumulated 16-bit little-endian mono audio.
	PCM []byte
}

// NewSegment allocates a segment with a fresh UUID.
func NewSegment(start, end time.Time, sampleRate int, pcm []byte) *Segment {
	return &Segment{
		ID:         uuid.NewString(),
		Start:      start,
		End:        end,
		SampleRate: sampleRate,
		PCM:        pcm,
	}
}

// Duration returns the wall-clock length of the segment.
func (s *Segment) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Clip returns the PCM bytes covering [from, to) relative to the segment
// start. Offsets are clamped to the buffer; an inverted or empty range yields
// nil. The returned slice aliases the segment buffer and must not be mutated.
func (s *Segment) Clip(from, to time.Duration) []byte {
	if s.SampleRate <= 0 || to <= from {
		return nil
	}
	bytesPerSec := s.SampleRate * bytesPerSample
	lo := int(from.Seconds() * float64(bytesPerSec))
	hi := int(to.Seconds() * float64(bytesPerSec))
	// Align to sample boundaries.
	lo -= lo % bytesPerSample
	hi -= hi % bytesPerSample
	if lo < 0 {
		lo = 0
	}
	if hi > len(s.PCM) {
		hi = len(s.PCM)
	}
	if lo >= hi {
		return nil
	}
	return s.PCM[lo:hi]
}
