package pipeline

import (
	"errors"
	"testing"
	"time"
)

// fakeClock is a settable clock for grace-period tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(cfg TrackerConfig) (*Tracker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewTracker(cfg, WithClock(clk.now)), clk
}

func transcriptWith(segID string, resolved bool) *Transcript {
	u := Utterance{SpeakerTag: "SPEAKER_00", Text: "hello"}
	if resolved {
		u.Resolved = &ResolvedSpeaker{Name: "ada", Distance: 0.12, Method: "multi-segment-avg"}
	}
	return &Transcript{SegmentID: segID, Utterances: []Utterance{u}}
}

func TestTrackerHappyPath(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(TrackerConfig{})
	tr.Track("seg-1")

	for _, s := range []Status{StatusTranscribing, StatusTranscribed, StatusIdentifying, StatusComplete} {
		if err := tr.Set("seg-1", s); err != nil {
			t.Fatalf("Set(%s): %v", s, err)
		}
	}
	tr.Attach("seg-1", transcriptWith("seg-1", true))

	if !tr.Ready("seg-1") {
		t.Error("complete transcript with an identified speaker should be ready immediately")
	}
	tr.Remove("seg-1")
	if tr.Len() != 0 {
		t.Errorf("Len() = %d after Remove, want 0", tr.Len())
	}
}

func TestTrackerIllegalTransition(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(TrackerConfig{})
	tr.Track("seg-1")

	err := tr.Set("seg-1", StatusComplete)
	var ite *ErrIllegalTransition
	if !errors.As(err, &ite) {
		t.Fatalf("Set(recorded -> complete) = %v, want *ErrIllegalTransition", err)
	}
	if err := tr.Set("unknown", StatusTranscribing); err == nil {
		t.Error("Set on untracked segment should fail")
	}
}

func TestTrackerUnidentifiedGrace(t *testing.T) {
	t.Parallel()
	tr, clk := newTestTracker(TrackerConfig{UnidentifiedGrace: 2 * time.Hour})
	tr.Track("seg-1")
	mustSet(t, tr, "seg-1", StatusTranscribing, StatusTranscribed, StatusIdentifying)
	tr.Attach("seg-1", transcriptWith("seg-1", false))
	mustSet(t, tr, "seg-1", StatusComplete)

	if tr.Ready("seg-1") {
		t.Error("all-unidentified transcript ready before grace period")
	}
	clk.advance(2 * time.Hour)
	if tr.Ready("seg-1") {
		t.Error("ready exactly at the boundary; gate must be strictly after")
	}
	clk.advance(time.Second)
	if !tr.Ready("seg-1") {
		t.Error("not ready after grace period elapsed")
	}
}

func TestTrackerSpeakerIDFailedGrace(t *testing.T) {
	t.Parallel()
	tr, clk := newTestTracker(TrackerConfig{IDFailedGrace: 7 * 24 * time.Hour})
	tr.Track("seg-1")
	mustSet(t, tr, "seg-1", StatusTranscribing, StatusTranscribed, StatusIdentifying, StatusSpeakerIDFailed)
	tr.Attach("seg-1", transcriptWith("seg-1", false))

	if tr.Ready("seg-1") {
		t.Error("speaker_id_failed ready before 7d grace")
	}
	clk.advance(7*24*time.Hour + time.Second)
	if !tr.Ready("seg-1") {
		t.Error("speaker_id_failed not ready after 7d grace")
	}

	// Re-identification succeeding before export resets the clock under the
	// complete rules instead.
	tr2, clk2 := newTestTracker(TrackerConfig{})
	tr2.Track("seg-2")
	mustSet(t, tr2, "seg-2", StatusTranscribing, StatusTranscribed, StatusIdentifying, StatusSpeakerIDFailed)
	tr2.Attach("seg-2", transcriptWith("seg-2", true))
	mustSet(t, tr2, "seg-2", StatusIdentifying, StatusComplete)
	clk2.advance(time.Minute)
	if !tr2.Ready("seg-2") {
		t.Error("re-identified transcript with a resolved speaker should be ready")
	}
}

func TestTrackerSkippedTooShortImmediate(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(TrackerConfig{})
	tr.Track("seg-1")
	mustSet(t, tr, "seg-1", StatusSkippedTooShort)
	if !tr.Ready("seg-1") {
		t.Error("skipped_too_short should be exportable immediately")
	}
}

func TestTrackerRetryBudget(t *testing.T) {
	t.Parallel()
	tr, clk := newTestTracker(TrackerConfig{MaxTranscriptionRetries: 2, RetryBackoff: 5 * time.Minute})
	tr.Track("seg-1")
	mustSet(t, tr, "seg-1", StatusTranscribing, StatusTranscriptionFailed)

	if ids := tr.RetryableTranscriptions(); len(ids) != 0 {
		t.Errorf("retryable before backoff: %v", ids)
	}
	clk.advance(5 * time.Minute)
	if ids := tr.RetryableTranscriptions(); len(ids) != 1 || ids[0] != "seg-1" {
		t.Fatalf("RetryableTranscriptions() = %v, want [seg-1]", ids)
	}

	// Burn the budget.
	for i := 0; i < 2; i++ {
		mustSet(t, tr, "seg-1", StatusTranscribing, StatusTranscriptionFailed)
		clk.advance(5 * time.Minute)
	}
	if ids := tr.RetryableTranscriptions(); len(ids) != 0 {
		t.Errorf("retryable after budget spent: %v", ids)
	}
	if err := tr.Set("seg-1", StatusTranscribing); err == nil {
		t.Error("Set should reject a retry beyond the budget")
	}
	if !tr.Ready("seg-1") {
		t.Error("exhausted transcription_failed should export the error record")
	}

	e, ok := tr.Entry("seg-1")
	if !ok || e.Retries != 2 {
		t.Errorf("Entry retries = %d, want 2", e.Retries)
	}
}

func TestTrackerReadyEntries(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(TrackerConfig{})

	tr.Track("done")
	mustSet(t, tr, "done", StatusTranscribing, StatusTranscribed, StatusIdentifying)
	tr.Attach("done", transcriptWith("done", true))
	mustSet(t, tr, "done", StatusComplete)

	tr.Track("inflight")
	mustSet(t, tr, "inflight", StatusTranscribing)

	got := tr.ReadyEntries()
	if len(got) != 1 || got[0].SegmentID != "done" {
		t.Errorf("ReadyEntries() = %+v, want only seg done", got)
	}
}

func TestTrackerReidentifyBudget(t *testing.T) {
	t.Parallel()
	tr, clk := newTestTracker(TrackerConfig{MaxIdentifyRetries: 2, RetryBackoff: 5 * time.Minute})
	tr.Track("seg-1")
	mustSet(t, tr, "seg-1", StatusTranscribing, StatusTranscribed, StatusIdentifying, StatusSpeakerIDFailed)
	tr.Attach("seg-1", transcriptWith("seg-1", false))

	if got := tr.ReidentifiableEntries(); len(got) != 0 {
		t.Errorf("reidentifiable before backoff: %+v", got)
	}
	clk.advance(5 * time.Minute)
	if got := tr.ReidentifiableEntries(); len(got) != 1 || got[0].SegmentID != "seg-1" {
		t.Fatalf("ReidentifiableEntries() = %+v, want seg-1", got)
	}

	// Burn the budget: each pass fails and re-enters speaker_id_failed.
	for i := 0; i < 2; i++ {
		mustSet(t, tr, "seg-1", StatusIdentifying, StatusSpeakerIDFailed)
		clk.advance(5 * time.Minute)
	}
	if got := tr.ReidentifiableEntries(); len(got) != 0 {
		t.Errorf("reidentifiable after budget spent: %+v", got)
	}
	if err := tr.Set("seg-1", StatusIdentifying); err == nil {
		t.Error("Set should reject an identification pass beyond the budget")
	}

	e, ok := tr.Entry("seg-1")
	if !ok || e.IDRetries != 2 {
		t.Errorf("Entry IDRetries = %d, want 2", e.IDRetries)
	}
}

func TestTrackerReidentifiableEntries(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(TrackerConfig{})

	// Complete with every speaker unknown: re-matchable in place.
	tr.Track("unknowns")
	mustSet(t, tr, "unknowns", StatusTranscribing, StatusTranscribed, StatusIdentifying)
	tr.Attach("unknowns", transcriptWith("unknowns", false))
	mustSet(t, tr, "unknowns", StatusComplete)

	// Complete with a resolved speaker: nothing left to do.
	tr.Track("resolved")
	mustSet(t, tr, "resolved", StatusTranscribing, StatusTranscribed, StatusIdentifying)
	tr.Attach("resolved", transcriptWith("resolved", true))
	mustSet(t, tr, "resolved", StatusComplete)

	// Complete with no utterances: nobody spoke, nothing to match.
	tr.Track("empty")
	mustSet(t, tr, "empty", StatusTranscribing, StatusTranscribed, StatusIdentifying)
	tr.Attach("empty", &Transcript{SegmentID: "empty"})
	mustSet(t, tr, "empty", StatusComplete)

	tr.Track("inflight")
	mustSet(t, tr, "inflight", StatusTranscribing)

	got := tr.ReidentifiableEntries()
	if len(got) != 1 || got[0].SegmentID != "unknowns" {
		t.Errorf("ReidentifiableEntries() = %+v, want only seg unknowns", got)
	}
}

func mustSet(t *testing.T, tr *Tracker, segID string, statuses ...Status) {
	t.Helper()
	for _, s := range statuses {
		if err := tr.Set(segID, s); err != nil {
			t.Fatalf("Set(%s, %s): %v", segID, s, err)
		}
	}
}
