package pipeline

import (
	"log/slog"
	"sync"
	"time"
)

// TrackerConfig holds the grace-period and retry knobs for the [Tracker].
// Zero-value fields are replaced with the documented defaults.
type TrackerConfig struct {
	// UnidentifiedGrace is how long a complete transcript with zero
	// identified speakers is held back, giving a just-enrolled profile or a
	// re-identification pass a chance to resolve names. Default: 2h.
	UnidentifiedGrace time.Duration

	// IDFailedGrace is how long a speaker_id_failed transcript is held back
	// before being exported without names. Default: 7 days.
	IDFailedGrace time.Duration

	// MaxTranscriptionRetries bounds how many times a transcription_failed
	// segment may be re-submitted. Default: 3.
	MaxTranscriptionRetries int

	// MaxIdentifyRetries bounds how many re-identification passes a
	// speaker_id_failed segment may get. Each failed pass re-enters
	// speaker_id_failed and restarts its grace clock, so the budget keeps
	// the total hold time bounded. Default: 3.
	MaxIdentifyRetries int

	// RetryBackoff is the minimum wait between transcription retries and
	// between re-identification passes of a failed segment.
	// Default: 5 minutes.
	RetryBackoff time.Duration
}

func (c *TrackerConfig) applyDefaults() {
	if c.UnidentifiedGrace <= 0 {
		c.UnidentifiedGrace = 2 * time.Hour
	}
	if c.IDFailedGrace <= 0 {
		c.IDFailedGrace = 7 * 24 * time.Hour
	}
	if c.MaxTranscriptionRetries <= 0 {
		c.MaxTranscriptionRetries = 3
	}
	if c.MaxIdentifyRetries <= 0 {
		c.MaxIdentifyRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Minute
	}
}

// Entry is the tracker's record for one segment. Snapshots returned by the
// Tracker are copies; mutating them has no effect on tracker state.
type Entry struct {
	SegmentID  string
	Status     Status
	EnteredAt  time.Time // when the current status was set
	Retries    int       // transcription re-submissions so far
	IDRetries  int       // re-identification passes after a failure
	Transcript *Transcript
}

// Tracker is the per-segment pipeline state machine. All methods are safe
// for concurrent use.
type Tracker struct {
	cfg TrackerConfig
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]*Entry
}

// TrackerOption is a functional option for NewTracker.
type TrackerOption func(*Tracker)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a Tracker with the given configuration.
func NewTracker(cfg TrackerConfig, opts ...TrackerOption) *Tracker {
	cfg.applyDefaults()
	t := &Tracker{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]*Entry),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Track registers a freshly emitted segment in the recorded state. Tracking
// an already-known segment is a no-op.
func (t *Tracker) Track(segmentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[segmentID]; ok {
		return
	}
	t.entries[segmentID] = &Entry{
		SegmentID: segmentID,
		Status:    StatusRecorded,
		EnteredAt: t.now(),
	}
}

// Set moves the segment to status, enforcing legal transitions. Moving from
// transcription_failed back to transcribing counts a retry; the move is
// rejected once the retry budget is spent.
func (t *Tracker) Set(segmentID string, status Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[segmentID]
	if !ok {
		return &ErrIllegalTransition{SegmentID: segmentID, From: "", To: status}
	}
	if !canTransition(e.Status, status) {
		return &ErrIllegalTransition{SegmentID: segmentID, From: e.Status, To: status}
	}
	if e.Status == StatusTranscriptionFailed && status == StatusTranscribing {
		if e.Retries >= t.cfg.MaxTranscriptionRetries {
			return &ErrIllegalTransition{SegmentID: segmentID, From: e.Status, To: status}
		}
		e.Retries++
	}
	if e.Status == StatusSpeakerIDFailed && status == StatusIdentifying {
		if e.IDRetries >= t.cfg.MaxIdentifyRetries {
			return &ErrIllegalTransition{SegmentID: segmentID, From: e.Status, To: status}
		}
		e.IDRetries++
	}
	e.Status = status
	e.EnteredAt = t.now()
	if e.Transcript != nil {
		e.Transcript.Status = status
	}
	return nil
}

// Attach stores the transcript for a segment. The transcript's Status field
// is kept in sync with the tracker from then on.
func (t *Tracker) Attach(segmentID string, tr *Transcript) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[segmentID]; ok {
		e.Transcript = tr
		tr.Status = e.Status
	}
}

// Entry returns a snapshot of the segment's record.
func (t *Tracker) Entry(segmentID string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[segmentID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Ready reports whether the segment's transcript may be surfaced to the
// export collaborator.
func (t *Tracker) Ready(segmentID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[segmentID]
	if !ok {
		return false
	}
	return t.ready(e)
}

// ready implements the two-tier grace-period gate. Must be called with the
// lock held.
func (t *Tracker) ready(e *Entry) bool {
	now := t.now()
	switch e.Status {
	case StatusSkippedTooShort:
		// Exported immediately, with no content.
		return true

	case StatusCompleteNoSpeakerID:
		return true

	case StatusComplete:
		if e.Transcript == nil {
			return false
		}
		if !e.Transcript.AllUnidentified() {
			return true
		}
		return now.After(e.EnteredAt.Add(t.cfg.UnidentifiedGrace))

	case StatusSpeakerIDFailed:
		return now.After(e.EnteredAt.Add(t.cfg.IDFailedGrace))

	case StatusTranscriptionFailed:
		// Retry budget spent and backoff irrelevant: export the error record.
		return e.Retries >= t.cfg.MaxTranscriptionRetries

	default:
		// recorded / transcribing / transcribed / identifying: still in flight.
		return false
	}
}

// ReadyEntries returns snapshots of every entry that currently passes the
// readiness gate, for the export poll.
func (t *Tracker) ReadyEntries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Entry
	for _, e := range t.entries {
		if t.ready(e) {
			out = append(out, *e)
		}
	}
	return out
}

// RetryableTranscriptions returns the IDs of segments in
// transcription_failed whose backoff has elapsed and whose retry budget is
// not spent. The caller re-submits them and moves them back to transcribing
// via Set.
func (t *Tracker) RetryableTranscriptions() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := t.now()
	var out []string
	for _, e := range t.entries {
		if e.Status != StatusTranscriptionFailed {
			continue
		}
		if e.Retries >= t.cfg.MaxTranscriptionRetries {
			continue
		}
		if now.Sub(e.EnteredAt) >= t.cfg.RetryBackoff {
			out = append(out, e.SegmentID)
		}
	}
	return out
}

// ReidentifiableEntries returns snapshots of entries worth another
// identification pass: complete transcripts whose speakers all came back
// unknown (re-matched in place, no status change) and speaker_id_failed
// transcripts with backoff elapsed and retry budget left. The caller's sweep
// cadence rate-limits the in-place passes.
func (t *Tracker) ReidentifiableEntries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := t.now()
	var out []Entry
	for _, e := range t.entries {
		switch e.Status {
		case StatusComplete:
			if e.Transcript != nil && len(e.Transcript.Utterances) > 0 && e.Transcript.AllUnidentified() {
				out = append(out, *e)
			}
		case StatusSpeakerIDFailed:
			if e.IDRetries < t.cfg.MaxIdentifyRetries && now.Sub(e.EnteredAt) >= t.cfg.RetryBackoff {
				out = append(out, *e)
			}
		}
	}
	return out
}

// Entries returns snapshots of every tracked segment, for the status API.
func (t *Tracker) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	return out
}

// Remove forgets a segment after export; ownership of the transcript has
// passed to the sync collaborator.
func (t *Tracker) Remove(segmentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, segmentID)
}

// Len returns the number of tracked segments.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Sweep logs entries that newly crossed a grace-period boundary. It exists
// so operators can see transcripts being released by the grace gate; the
// gate itself is evaluated lazily on every Ready call, so a skipped or
// delayed sweep never affects correctness.
func (t *Tracker) Sweep() []Entry {
	released := t.ReadyEntries()
	for i := range released {
		e := &released[i]
		if e.Status == StatusSpeakerIDFailed || (e.Status == StatusComplete && e.Transcript != nil && e.Transcript.AllUnidentified()) {
			slog.Info("grace period elapsed, transcript released for export",
				"segment_id", e.SegmentID,
				"status", string(e.Status),
			)
		}
	}
	return released
}
