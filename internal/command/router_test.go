package command

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/oasis-home/earshot/internal/pipeline"
	"github.com/oasis-home/earshot/pkg/provider/dispatch"
	dispmock "github.com/oasis-home/earshot/pkg/provider/dispatch/mock"
)

var testTriggers = []Trigger{
	{Phrase: "oasis", AgentID: "home-assistant", AllowedSpeakers: []string{"ada"}},
	{Phrase: "hey oasis", AgentID: "home-assistant", AllowedSpeakers: []string{"ada", "brook"}},
	{Phrase: "hey butler", AgentID: "butler", AllowedSpeakers: []string{"ada"}},
}

func utterance(speaker, text string) pipeline.Utterance {
	u := pipeline.Utterance{
		SpeakerTag: "SPEAKER_00",
		Text:       text,
		EndOffset:  3 * time.Second,
	}
	if speaker != "" {
		u.Resolved = &pipeline.ResolvedSpeaker{Name: speaker, Distance: 0.1, Method: "multi-segment-avg"}
	}
	return u
}

func newRouter(d *dispmock.Dispatcher) *Router {
	return New(Config{}, testTriggers, d, nil, slog.New(slog.DiscardHandler))
}

func process(r *Router, u pipeline.Utterance) []Outcome {
	tr := &pipeline.Transcript{SegmentID: "seg-1", Utterances: []pipeline.Utterance{u}}
	return r.Process(context.Background(), tr, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestDispatchesAuthorizedCommand(t *testing.T) {
	t.Parallel()
	d := &dispmock.Dispatcher{}
	r := newRouter(d)

	out := process(r, utterance("ada", "hey oasis turn on the lights"))
	if len(out) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(out))
	}
	if out[0].Disposition != "dispatched" {
		t.Fatalf("disposition = %q, want dispatched", out[0].Disposition)
	}
	if out[0].Trigger != "hey oasis" || out[0].Text != "turn on the lights" {
		t.Errorf("trigger/text = %q/%q", out[0].Trigger, out[0].Text)
	}

	if d.CallCount() != 1 {
		t.Fatal("dispatcher not called")
	}
	cmd := d.Calls[0]
	if cmd.Speaker != "ada" || cmd.Text != "turn on the lights" || cmd.SourceAgent != "home-assistant" {
		t.Errorf("command = %+v", cmd)
	}
}

func TestLongestPhraseWins(t *testing.T) {
	t.Parallel()
	d := &dispmock.Dispatcher{}
	r := newRouter(d)

	// "hey oasis" must match before the looser "oasis", so brook (allowed on
	// "hey oasis" only) is authorized.
	out := process(r, utterance("brook", "hey oasis open the door"))
	if len(out) != 1 || out[0].Disposition != "dispatched" {
		t.Fatalf("outcomes = %+v", out)
	}
	if out[0].Trigger != "hey oasis" {
		t.Errorf("trigger = %q, want the longer phrase", out[0].Trigger)
	}
}

func TestUnauthorizedSpeakerNeverDispatches(t *testing.T) {
	t.Parallel()
	d := &dispmock.Dispatcher{}
	r := newRouter(d)

	// Exact phrase match, unauthorized speaker: audit only, no delivery.
	out := process(r, utterance("mallory", "hey oasis turn on the lights"))
	if len(out) != 1 || out[0].Disposition != "unauthorized" {
		t.Fatalf("outcomes = %+v", out)
	}
	if d.CallCount() != 0 {
		t.Fatal("dispatcher called for an unauthorized speaker")
	}

	// Empty allow-list means nobody.
	r2 := New(Config{}, []Trigger{{Phrase: "hey oasis", AgentID: "x"}}, d, nil, slog.New(slog.DiscardHandler))
	out = process(r2, utterance("ada", "hey oasis do the thing"))
	if len(out) != 1 || out[0].Disposition != "unauthorized" {
		t.Fatalf("empty allow-list outcomes = %+v", out)
	}
	if d.CallCount() != 0 {
		t.Fatal("dispatcher called despite empty allow-list")
	}
}

func TestUnresolvedUtterancesIgnored(t *testing.T) {
	t.Parallel()
	d := &dispmock.Dispatcher{}
	r := newRouter(d)

	out := process(r, utterance("", "hey oasis turn on the lights"))
	if len(out) != 0 || d.CallCount() != 0 {
		t.Error("router acted on an unidentified utterance")
	}
}

func TestBareWakeWordNotDispatched(t *testing.T) {
	t.Parallel()
	d := &dispmock.Dispatcher{}
	r := newRouter(d)

	out := process(r, utterance("ada", "hey oasis"))
	if len(out) != 1 || out[0].Disposition != "empty" {
		t.Fatalf("outcomes = %+v", out)
	}
	if d.CallCount() != 0 {
		t.Error("dispatcher called with an empty command")
	}
}

func TestTriggerOutsideScanWindowIgnored(t *testing.T) {
	t.Parallel()
	d := &dispmock.Dispatcher{}
	r := newRouter(d)

	out := process(r, utterance("ada", "i was telling casey that hey oasis is the wake phrase"))
	if len(out) != 0 {
		t.Errorf("mid-sentence trigger fired: %+v", out)
	}
}

func TestFuzzyMatchTranscriptionError(t *testing.T) {
	t.Parallel()
	d := &dispmock.Dispatcher{}
	r := newRouter(d)

	// One substitution away from "hey oasis".
	out := process(r, utterance("ada", "hey oasys turn on the lights"))
	if len(out) != 1 || out[0].Disposition != "dispatched" {
		t.Fatalf("outcomes = %+v", out)
	}
	if d.Calls[0].Text != "turn on the lights" {
		t.Errorf("command text = %q", d.Calls[0].Text)
	}

	// Far-off words stay unmatched.
	out = process(r, utterance("ada", "hey moisture turn on the lights"))
	if len(out) != 0 {
		t.Errorf("far-off phrase matched: %+v", out)
	}
}

func TestDispatchFailureLoggedNotRetried(t *testing.T) {
	t.Parallel()
	d := &dispmock.Dispatcher{Err: errors.New("agent offline")}
	r := newRouter(d)

	out := process(r, utterance("ada", "hey oasis turn on the lights"))
	if len(out) != 1 || out[0].Disposition != "failed" {
		t.Fatalf("outcomes = %+v", out)
	}
	if d.CallCount() != 1 {
		t.Errorf("dispatch attempts = %d, want exactly 1 (no retries)", d.CallCount())
	}
}

func TestDispatchTimeoutBounded(t *testing.T) {
	t.Parallel()
	d := &dispmock.Dispatcher{Block: make(chan struct{})} // never released
	r := New(Config{DispatchTimeout: 30 * time.Millisecond}, testTriggers, d, nil, slog.New(slog.DiscardHandler))

	start := time.Now()
	out := process(r, utterance("ada", "hey oasis turn on the lights"))
	if time.Since(start) > 5*time.Second {
		t.Fatal("dispatch was not bounded by the timeout")
	}
	if len(out) != 1 || out[0].Disposition != "failed" {
		t.Fatalf("outcomes = %+v", out)
	}
}

func TestRejectedReceipt(t *testing.T) {
	t.Parallel()
	d := &dispmock.Dispatcher{Receipt: &dispatch.Receipt{Accepted: false, Response: "cannot comply"}}
	r := newRouter(d)

	out := process(r, utterance("ada", "hey oasis fly me to the moon"))
	if len(out) != 1 || out[0].Disposition != "rejected" {
		t.Fatalf("outcomes = %+v", out)
	}
	if out[0].Response != "cannot comply" {
		t.Errorf("response = %q", out[0].Response)
	}
}
