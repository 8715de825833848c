package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oasis-home/earshot/internal/pipeline"
	"github.com/oasis-home/earshot/pkg/audio"
)

// Background maintenance cadences. The export gate computes readiness
// lazily, so sweep latency affects only how promptly releases are noticed.
const (
	exportSweepInterval     = time.Minute
	reidentifySweepInterval = 10 * time.Minute
	candidateSweepInterval  = time.Hour
)

// Run starts the capture loop, the segment worker pool, the background
// sweeps, and the HTTP server. It blocks until ctx is cancelled or a
// subsystem fails fatally.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.providers.Source != nil {
		g.Go(func() error { return a.captureLoop(ctx) })
	}

	for range defaultWorkers {
		g.Go(func() error {
			a.workerLoop(ctx)
			return nil
		})
	}

	g.Go(func() error {
		a.retryLoop(ctx)
		return nil
	})
	g.Go(func() error {
		a.sweepLoop(ctx)
		return nil
	})

	srv, err := a.newServer()
	if err != nil {
		return err
	}
	g.Go(func() error {
		a.logger.Info("http server listening", "addr", srv.Addr)
		var serveErr error
		if tls := a.cfg.Server.TLS; tls != nil {
			serveErr = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			serveErr = srv.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	a.logger.Info("pipeline running",
		"asr", a.cfg.Providers.ASR.Name,
		"identification", a.engine != nil,
		"commands", a.router.Load() != nil,
	)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// captureLoop drains the audio source through the segmenter and hands
// emitted segments to the worker pool.
func (a *App) captureLoop(ctx context.Context) error {
	frames := a.providers.Source.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				// Source exhausted (file playback). Flush the tail and
				// keep serving; HTTP ingest stays available.
				if seg := a.seg.Flush(); seg != nil {
					a.enqueue(ctx, seg)
				}
				a.logger.Info("audio source exhausted")
				return nil
			}
			if seg := a.seg.ProcessFrame(frame); seg != nil {
				a.enqueue(ctx, seg)
			}
		}
	}
}

// enqueue registers a segment with the tracker and queues it for the
// workers. Blocks when the queue is full, back-pressuring the caller.
func (a *App) enqueue(ctx context.Context, seg *audio.Segment) {
	a.tracker.Track(seg.ID)
	a.cacheSegment(seg)
	a.metrics.SegmentDuration.Record(ctx, seg.Duration().Seconds())
	a.metrics.SegmentsInFlight.Add(ctx, 1)

	select {
	case <-ctx.Done():
	case a.segCh <- seg:
	}
}

func (a *App) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case seg := <-a.segCh:
			a.process(ctx, seg)
		}
	}
}

// process runs one segment through transcription, identification, and
// command routing. Failures leave the segment in the tracker; the retry and
// export sweeps decide what happens next.
func (a *App) process(ctx context.Context, seg *audio.Segment) {
	tr, err := a.gateway.Transcribe(ctx, seg)
	if err != nil {
		// Status is transcription_failed; retryLoop re-submits while the
		// retry budget lasts, so the PCM stays cached.
		return
	}

	entry, ok := a.tracker.Entry(seg.ID)
	if !ok || entry.Status == pipeline.StatusSkippedTooShort || entry.Status == pipeline.StatusCompleteNoSpeakerID {
		a.dropSegment(seg.ID)
		return
	}

	if a.engine == nil {
		if err := a.tracker.Set(seg.ID, pipeline.StatusCompleteNoSpeakerID); err != nil {
			a.logger.Error("status update failed", "segment", seg.ID, "err", err)
		}
		a.dropSegment(seg.ID)
		return
	}

	if err := a.engine.Identify(ctx, seg, tr); err != nil {
		// speaker_id_failed: the segment stays cached so the
		// re-identification sweep can re-clip the audio.
		a.logger.Warn("identification failed", "segment", seg.ID, "err", err)
		return
	}

	if r := a.router.Load(); r != nil {
		r.Process(ctx, tr, seg.Start)
	}
	if len(tr.Utterances) > 0 && tr.AllUnidentified() {
		// Everybody came back unknown. The audio stays cached so a later
		// pass can re-match it once the profile set grows; the export
		// grace window bounds how long that can take.
		return
	}
	a.dropSegment(seg.ID)
}

// reidentify re-runs speaker matching on transcripts that resolved nobody.
// Failed transcripts get a fresh pass under the retry budget; completed
// all-unknown transcripts are re-matched in place. Commands are never
// dispatched from a re-pass — acting on stale speech is worse than not
// acting at all.
func (a *App) reidentify(ctx context.Context) {
	if a.engine == nil {
		return
	}
	a.reidentifyMu.Lock()
	defer a.reidentifyMu.Unlock()
	for _, entry := range a.tracker.ReidentifiableEntries() {
		if entry.Transcript == nil {
			continue
		}
		seg, ok := a.cachedSegment(entry.SegmentID)
		if !ok {
			a.logger.Warn("reidentifiable segment has no cached audio", "segment", entry.SegmentID)
			continue
		}
		if err := a.engine.Reidentify(ctx, seg, entry.Transcript); err != nil {
			a.logger.Warn("re-identification failed", "segment", entry.SegmentID, "err", err)
			continue
		}
		if !entry.Transcript.AllUnidentified() {
			a.dropSegment(entry.SegmentID)
		}
	}
}

// retryLoop re-submits failed transcriptions whose backoff has elapsed.
func (a *App) retryLoop(ctx context.Context) {
	interval := a.cfg.Tracker.RetryBackoff.Std()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range a.tracker.RetryableTranscriptions() {
				seg, ok := a.cachedSegment(id)
				if !ok {
					a.logger.Warn("retryable segment has no cached audio", "segment", id)
					continue
				}
				a.logger.Info("re-submitting failed transcription", "segment", id)
				select {
				case <-ctx.Done():
					return
				case a.segCh <- seg:
				}
			}
		}
	}
}

// sweepLoop periodically releases export-ready segments, re-runs speaker
// matching on unresolved transcripts, and prunes stale speaker candidates.
func (a *App) sweepLoop(ctx context.Context) {
	exportTicker := time.NewTicker(exportSweepInterval)
	defer exportTicker.Stop()
	reidentifyTicker := time.NewTicker(reidentifySweepInterval)
	defer reidentifyTicker.Stop()
	candidateTicker := time.NewTicker(candidateSweepInterval)
	defer candidateTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-exportTicker.C:
			for _, id := range a.exporter.drain(ctx) {
				a.dropSegment(id)
			}
		case <-reidentifyTicker.C:
			a.reidentify(ctx)
		case <-candidateTicker.C:
			if a.engine == nil {
				continue
			}
			pruned, err := a.engine.SweepCandidates(ctx)
			if err != nil {
				a.logger.Warn("candidate sweep failed", "err", err)
			} else if pruned > 0 {
				a.logger.Info("pruned stale speaker candidates", "count", pruned)
			}
		}
	}
}
