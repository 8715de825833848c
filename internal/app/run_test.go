package app

import (
	"context"
	"testing"
	"time"

	"github.com/oasis-home/earshot/internal/config"
	"github.com/oasis-home/earshot/internal/pipeline"
	audiomock "github.com/oasis-home/earshot/pkg/audio/mock"
	vadmock "github.com/oasis-home/earshot/pkg/provider/vad/mock"
)

func TestCaptureLoopEmitsSegmentFromSource(t *testing.T) {
	t.Parallel()

	source := audiomock.NewSource(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC), 64)
	env := newTestApp(t, func(cfg *config.Config, p *Providers) {
		cfg.Segmenter.MinSpeechDuration = config.Duration(100 * time.Millisecond)
		p.VAD = &vadmock.Engine{Session: &vadmock.Session{Default: true}}
		p.Source = source
	})
	a := env.app
	if a.seg == nil {
		t.Fatal("segmenter not initialised")
	}

	// 10 loud 30 ms frames, then the source ends; the capture loop flushes
	// the tail into a segment.
	frame := block(6000, 30*time.Millisecond)
	for range 10 {
		source.Emit(frame)
	}
	source.Close()

	if err := a.captureLoop(context.Background()); err != nil {
		t.Fatalf("captureLoop() = %v", err)
	}

	select {
	case seg := <-a.segCh:
		if seg.Duration() != 300*time.Millisecond {
			t.Errorf("segment duration = %v, want 300ms", seg.Duration())
		}
		entry, ok := a.tracker.Entry(seg.ID)
		if !ok || entry.Status != pipeline.StatusRecorded {
			t.Errorf("tracker entry = %+v, want recorded", entry)
		}
		if _, cached := a.cachedSegment(seg.ID); !cached {
			t.Error("segment PCM not cached")
		}
	default:
		t.Fatal("no segment queued")
	}
}

func TestCaptureLoopStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	source := audiomock.NewSource(time.Now(), 1)
	env := newTestApp(t, func(cfg *config.Config, p *Providers) {
		p.VAD = &vadmock.Engine{Session: &vadmock.Session{Default: true}}
		p.Source = source
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.app.captureLoop(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("captureLoop() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("captureLoop did not stop")
	}
}
