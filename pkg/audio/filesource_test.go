package audio

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeWAV(t *testing.T, pcm []byte, rate int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, EncodeWAV(pcm, rate), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestFileSourceReplaysAllFrames(t *testing.T) {
	t.Parallel()

	// 90 ms of audio at 16 kHz sliced into 30 ms frames: exactly 3 frames
	// of 960 bytes each.
	pcm := make([]byte, 3*960)
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	path := writeWAV(t, pcm, 16000)

	src, err := NewFileSource(path, 30*time.Millisecond, start)
	if err != nil {
		t.Fatalf("NewFileSource() error = %v", err)
	}
	defer src.Close()

	if src.SampleRate() != 16000 {
		t.Errorf("SampleRate() = %d, want 16000", src.SampleRate())
	}
	if src.FrameDuration() != 30*time.Millisecond {
		t.Errorf("FrameDuration() = %v, want 30ms", src.FrameDuration())
	}

	var frames []Frame
	for f := range src.Frames() {
		frames = append(frames, f)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		if len(f.Data) != 960 {
			t.Errorf("frame %d length = %d, want 960", i, len(f.Data))
		}
		wantTS := start.Add(time.Duration(i) * 30 * time.Millisecond)
		if !f.Timestamp.Equal(wantTS) {
			t.Errorf("frame %d timestamp = %v, want %v", i, f.Timestamp, wantTS)
		}
	}
}

func TestFileSourceShortTail(t *testing.T) {
	t.Parallel()

	// 45 ms of audio yields one full frame plus a 15 ms remainder.
	pcm := make([]byte, 960+480)
	path := writeWAV(t, pcm, 16000)

	src, err := NewFileSource(path, 30*time.Millisecond, time.Now())
	if err != nil {
		t.Fatalf("NewFileSource() error = %v", err)
	}
	defer src.Close()

	var lens []int
	for f := range src.Frames() {
		lens = append(lens, len(f.Data))
	}
	if len(lens) != 2 || lens[0] != 960 || lens[1] != 480 {
		t.Errorf("frame lengths = %v, want [960 480]", lens)
	}
}

func TestFileSourceErrors(t *testing.T) {
	t.Parallel()

	if _, err := NewFileSource(filepath.Join(t.TempDir(), "missing.wav"), 30*time.Millisecond, time.Now()); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeWAV(t, make([]byte, 960), 16000)
	if _, err := NewFileSource(path, 0, time.Now()); err == nil {
		t.Error("expected error for zero frame duration")
	}
}

func TestFileSourceCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, make([]byte, 10*960), 16000)
	src, err := NewFileSource(path, 30*time.Millisecond, time.Now())
	if err != nil {
		t.Fatalf("NewFileSource() error = %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
