package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// FileSource replays a 16-bit mono WAV recording as a frame stream, making
// batch-uploaded audio interchangeable with a live device in the pipeline.
// Frames carry synthetic timestamps derived from the recording start so that
// segment boundaries land where they would have during live capture.
type FileSource struct {
	sampleRate int
	frameDur   time.Duration
	frames     chan Frame

	once sync.Once
	stop chan struct{}
}

// NewFileSource opens the WAV file at path and starts a goroutine that slices
// it into frames of frameDur each. start is the wall-clock time assigned to
// the first frame; for archival uploads pass the recording's original start
// time so transcripts are dated correctly.
func NewFileSource(path string, frameDur time.Duration, start time.Time) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audio: read wav %q: %w", path, err)
	}
	rate, pcm, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode wav %q: %w", path, err)
	}

	fs := &FileSource{
		sampleRate: rate,
		frameDur:   frameDur,
		frames:     make(chan Frame, 64),
		stop:       make(chan struct{}),
	}

	frameBytes := int(frameDur.Seconds() * float64(rate) * bytesPerSample)
	frameBytes -= frameBytes % bytesPerSample
	if frameBytes <= 0 {
		return nil, fmt.Errorf("audio: frame duration %v too short for %d Hz", frameDur, rate)
	}

	go func() {
		defer close(fs.frames)
		ts := start
		for off := 0; off < len(pcm); off += frameBytes {
			end := off + frameBytes
			if end > len(pcm) {
				end = len(pcm)
			}
			select {
			case fs.frames <- Frame{Data: pcm[off:end], Timestamp: ts}:
			case <-fs.stop:
				return
			}
			ts = ts.Add(frameDur)
		}
	}()

	return fs, nil
}

// Frames implements [Source].
func (fs *FileSource) Frames() <-chan Frame { return fs.frames }

// SampleRate implements [Source].
func (fs *FileSource) SampleRate() int { return fs.sampleRate }

// FrameDuration implements [Source].
func (fs *FileSource) FrameDuration() time.Duration { return fs.frameDur }

// Close implements [Source]. It stops the replay goroutine.
func (fs *FileSource) Close() error {
	fs.once.Do(func() { close(fs.stop) })
	return nil
}

// DecodeWAV extracts the sample rate and raw PCM payload from a 16-bit mono
// RIFF/WAV buffer. Returns an error for non-PCM, multi-channel, or truncated
// input.
func DecodeWAV(data []byte) (sampleRate int, pcm []byte, err error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, nil, errors.New("not a RIFF/WAVE file")
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return 0, nil, fmt.Errorf("unsupported audio format %d (want PCM)", format)
	}
	if ch := binary.LittleEndian.Uint16(data[22:24]); ch != 1 {
		return 0, nil, fmt.Errorf("unsupported channel count %d (want mono)", ch)
	}
	if bps := binary.LittleEndian.Uint16(data[34:36]); bps != 16 {
		return 0, nil, fmt.Errorf("unsupported bit depth %d (want 16)", bps)
	}
	sampleRate = int(binary.LittleEndian.Uint32(data[24:28]))

	// Walk sub-chunks from offset 12 to find "data"; the fmt chunk is not
	// guaranteed to be the only one before it.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		if id == "data" {
			end := off + 8 + size
			if end > len(data) {
				end = len(data)
			}
			return sampleRate, data[off+8 : end], nil
		}
		off += 8 + size
		if size%2 == 1 {
			off++ // chunks are word-aligned
		}
	}
	return 0, nil, errors.New("wav data chunk not found")
}
