package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oasis-home/earshot/internal/events"
	"github.com/oasis-home/earshot/internal/observe"
	"github.com/oasis-home/earshot/internal/pipeline"
)

// archiveCap bounds the in-memory export archive served over HTTP. Oldest
// entries are evicted first; the export event stream is the durable record.
const archiveCap = 512

// ExportedTranscript is one released transcript as served by the HTTP API.
type ExportedTranscript struct {
	SegmentID  string               `json:"segmentId"`
	Status     pipeline.Status      `json:"status"`
	ReleasedAt time.Time            `json:"releasedAt"`
	Transcript *pipeline.Transcript `json:"transcript,omitempty"`
}

// exporter applies the export gate: it sweeps the tracker for segments whose
// status (and grace period, where one applies) permits release, publishes an
// event per release, and keeps a bounded archive for the HTTP API.
type exporter struct {
	tracker   *pipeline.Tracker
	publisher *events.Publisher
	logger    *slog.Logger
	metrics   *observe.Metrics

	mu      sync.RWMutex
	archive []ExportedTranscript
}

func newExporter(tracker *pipeline.Tracker, publisher *events.Publisher, logger *slog.Logger, metrics *observe.Metrics) *exporter {
	return &exporter{
		tracker:   tracker,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// drain releases every export-ready segment: publish, archive, and remove
// from the tracker. Returns the released segment IDs so the caller can free
// cached audio.
func (x *exporter) drain(ctx context.Context) []string {
	released := x.tracker.Sweep()
	if len(released) == 0 {
		return nil
	}

	ids := make([]string, 0, len(released))
	for i := range released {
		e := &released[i]

		exported := ExportedTranscript{
			SegmentID:  e.SegmentID,
			Status:     e.Status,
			ReleasedAt: time.Now(),
		}
		// Segments skipped for the billing floor export with no content.
		if e.Status != pipeline.StatusSkippedTooShort {
			exported.Transcript = e.Transcript
		}

		if err := x.publisher.PublishExportReady(ctx, e); err != nil {
			// Leave the entry in the tracker; the next sweep retries.
			x.logger.Error("export event publish failed", "segment", e.SegmentID, "err", err)
			continue
		}

		x.append(exported)
		x.tracker.Remove(e.SegmentID)
		x.metrics.RecordSegmentOutcome(ctx, string(e.Status))
		x.metrics.SegmentsInFlight.Add(ctx, -1)
		ids = append(ids, e.SegmentID)
	}

	if len(ids) > 0 {
		x.logger.Info("transcripts exported", "count", len(ids))
	}
	return ids
}

func (x *exporter) append(e ExportedTranscript) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.archive = append(x.archive, e)
	if len(x.archive) > archiveCap {
		x.archive = x.archive[len(x.archive)-archiveCap:]
	}
}

// exported returns a snapshot of the archive, newest last.
func (x *exporter) exported() []ExportedTranscript {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]ExportedTranscript, len(x.archive))
	copy(out, x.archive)
	return out
}
