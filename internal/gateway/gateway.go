// Package gateway wraps the external transcription/diarization collaborator
// for one segment at a time: it enforces the billing floor, bounds the
// provider's polling with a hard ceiling, and surfaces a definitive terminal
// status through the pipeline state tracker instead of blocking forever.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oasis-home/earshot/internal/observe"
	"github.com/oasis-home/earshot/internal/pipeline"
	"github.com/oasis-home/earshot/pkg/audio"
	"github.com/oasis-home/earshot/pkg/provider/asr"
)

// Config tunes the gateway. Zero-value fields are replaced with the
// documented defaults.
type Config struct {
	// PollCeiling bounds the total wall-clock time per transcription,
	// including the provider's job polling. Default: 30m.
	PollCeiling time.Duration

	// MinBillable is the provider's billing floor. Default: 10s.
	MinBillable time.Duration

	// EnforceFloor, when true, marks segments shorter than MinBillable as
	// skipped_too_short. They are still transcribed for inspection but are
	// exported with no content.
	EnforceFloor bool

	// MaxSpeakers is the diarization hint. Default: 4.
	MaxSpeakers int

	// Language is an optional language hint; empty means auto-detect.
	Language string

	// ProviderName labels metrics and logs. Default: "asr".
	ProviderName string
}

func (c *Config) applyDefaults() {
	if c.PollCeiling <= 0 {
		c.PollCeiling = 30 * time.Minute
	}
	if c.MinBillable <= 0 {
		c.MinBillable = 10 * time.Second
	}
	if c.MaxSpeakers <= 0 {
		c.MaxSpeakers = 4
	}
	if c.ProviderName == "" {
		c.ProviderName = "asr"
	}
}

// Gateway runs one transcription per call; calls for distinct segments may
// run concurrently.
type Gateway struct {
	cfg     Config
	asr     asr.Provider
	tracker *pipeline.Tracker
	metrics *observe.Metrics
	log     *slog.Logger
}

// New builds a Gateway. metrics may be nil when telemetry is not wanted.
func New(cfg Config, provider asr.Provider, tracker *pipeline.Tracker, metrics *observe.Metrics, log *slog.Logger) *Gateway {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{cfg: cfg, asr: provider, tracker: tracker, metrics: metrics, log: log}
}

// Transcribe submits the segment to the collaborator and returns the
// transcript. On failure the segment is moved to transcription_failed with
// the error recorded; retries are the tracker's decision, never the
// gateway's.
func (g *Gateway) Transcribe(ctx context.Context, seg *audio.Segment) (*pipeline.Transcript, error) {
	log := g.log.With("segment_id", seg.ID, "duration", seg.Duration())

	flagged := g.cfg.EnforceFloor && seg.Duration() < g.cfg.MinBillable
	if flagged {
		log.Info("segment below billing floor, will be exported with no content")
	}

	if err := g.tracker.Set(seg.ID, pipeline.StatusTranscribing); err != nil {
		return nil, fmt.Errorf("gateway: segment %s: %w", seg.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.PollCeiling)
	defer cancel()

	start := time.Now()
	res, err := g.asr.Transcribe(ctx, seg.PCM, seg.SampleRate, asr.Hints{
		MaxSpeakers: g.cfg.MaxSpeakers,
		Language:    g.cfg.Language,
	})
	elapsed := time.Since(start)

	if g.metrics != nil {
		g.metrics.TranscriptionDuration.Record(ctx, elapsed.Seconds())
	}

	if err != nil {
		tr := &pipeline.Transcript{SegmentID: seg.ID, Error: err.Error()}
		g.tracker.Attach(seg.ID, tr)
		if serr := g.tracker.Set(seg.ID, pipeline.StatusTranscriptionFailed); serr != nil {
			log.Error("status update failed", "error", serr)
		}
		if g.metrics != nil {
			g.metrics.RecordProviderError(ctx, g.cfg.ProviderName, "transcription")
			g.metrics.RecordProviderRequest(ctx, g.cfg.ProviderName, "transcription", "error")
		}
		log.Error("transcription failed", "error", err, "elapsed", elapsed)
		return nil, fmt.Errorf("gateway: transcribe segment %s: %w", seg.ID, err)
	}

	tr := &pipeline.Transcript{
		SegmentID:    seg.ID,
		Language:     res.Language,
		CostEstimate: res.Cost,
		Utterances:   make([]pipeline.Utterance, 0, len(res.Utterances)),
	}
	for _, u := range res.Utterances {
		tr.Utterances = append(tr.Utterances, pipeline.Utterance{
			SpeakerTag:  u.Speaker,
			Text:        u.Text,
			StartOffset: u.Start,
			EndOffset:   u.End,
			Confidence:  u.Confidence,
		})
	}
	g.tracker.Attach(seg.ID, tr)

	next := pipeline.StatusTranscribed
	if flagged {
		next = pipeline.StatusSkippedTooShort
	}
	if err := g.tracker.Set(seg.ID, next); err != nil {
		return nil, fmt.Errorf("gateway: segment %s: %w", seg.ID, err)
	}
	if !flagged && len(tr.Utterances) == 0 {
		// Nothing was said, so there is nobody to identify. Short-circuit
		// to the terminal status instead of holding an empty transcript
		// through the identification grace window.
		log.Info("transcript empty, skipping identification")
		if err := g.tracker.Set(seg.ID, pipeline.StatusCompleteNoSpeakerID); err != nil {
			return nil, fmt.Errorf("gateway: segment %s: %w", seg.ID, err)
		}
	}

	if g.metrics != nil {
		g.metrics.RecordProviderRequest(ctx, g.cfg.ProviderName, "transcription", "ok")
		g.metrics.TranscriptionCost.Add(ctx, res.Cost)
	}
	log.Info("segment transcribed",
		"utterances", len(tr.Utterances),
		"language", tr.Language,
		"cost", tr.CostEstimate,
		"elapsed", elapsed,
	)
	return tr, nil
}
