// Package command scans identified utterances for trigger phrases, enforces
// per-agent speaker authorization, and dispatches the extracted commands
// downstream.
package command

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/oasis-home/earshot/internal/observe"
	"github.com/oasis-home/earshot/internal/pipeline"
	"github.com/oasis-home/earshot/pkg/provider/dispatch"
)

// Trigger binds a wake phrase to a target agent and its speaker allow-list.
type Trigger struct {
	// Phrase is matched case-insensitively near the start of an utterance.
	Phrase string

	// AgentID identifies the downstream agent addressed by the phrase.
	AgentID string

	// AllowedSpeakers is the authorization allow-list. An empty list means
	// nobody may command this agent.
	AllowedSpeakers []string
}

// Config tunes the router. Zero-value fields are replaced with the
// documented defaults.
type Config struct {
	// ScanWindow is how many leading characters of each utterance are
	// searched for a trigger phrase. Default: 20.
	ScanWindow int

	// DispatchTimeout bounds each delivery. Default: 5s.
	DispatchTimeout time.Duration

	// FuzzyMaxDistance is the Damerau-Levenshtein budget for catching
	// near-miss transcriptions of a trigger phrase ("hey oasys"). Zero
	// disables fuzzy matching; the default is 1.
	FuzzyMaxDistance int
}

func (c *Config) applyDefaults() {
	if c.ScanWindow <= 0 {
		c.ScanWindow = 20
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 5 * time.Second
	}
	if c.FuzzyMaxDistance == 0 {
		c.FuzzyMaxDistance = 1
	}
}

// Outcome records what the router did with one detected trigger.
type Outcome struct {
	AgentID     string
	Trigger     string
	Speaker     string
	Text        string
	Disposition string // "dispatched", "rejected", "unauthorized", "failed", "empty"
	Response    string
}

// Router is the trigger detector and dispatcher. It only ever reads
// transcripts; identification must already have run.
type Router struct {
	cfg        Config
	triggers   []Trigger // sorted longest phrase first
	dispatcher dispatch.Dispatcher
	metrics    *observe.Metrics
	log        *slog.Logger
}

// New builds a Router. Trigger phrases are normalized to lowercase and
// ordered longest first, so "hey oasis" wins over a looser "oasis" that
// would otherwise fire inside longer words.
func New(cfg Config, triggers []Trigger, dispatcher dispatch.Dispatcher, metrics *observe.Metrics, log *slog.Logger) *Router {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}

	sorted := make([]Trigger, len(triggers))
	copy(sorted, triggers)
	for i := range sorted {
		sorted[i].Phrase = strings.ToLower(strings.TrimSpace(sorted[i].Phrase))
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Phrase) > len(sorted[j].Phrase)
	})

	return &Router{
		cfg:        cfg,
		triggers:   sorted,
		dispatcher: dispatcher,
		metrics:    metrics,
		log:        log,
	}
}

// Process scans every identified utterance of the transcript. base anchors
// utterance offsets to wall-clock time for the command timestamp. Failures
// are logged, never retried: a stale retry after the user has moved on is
// worse than silence.
func (r *Router) Process(ctx context.Context, tr *pipeline.Transcript, base time.Time) []Outcome {
	var outcomes []Outcome
	for i := range tr.Utterances {
		u := &tr.Utterances[i]
		if u.Resolved == nil {
			continue
		}
		trigger, remainder, ok := r.detect(u.Text)
		if !ok {
			continue
		}
		outcomes = append(outcomes, r.handle(ctx, trigger, remainder, u, base))
	}
	return outcomes
}

func (r *Router) handle(ctx context.Context, trigger *Trigger, remainder string, u *pipeline.Utterance, base time.Time) Outcome {
	out := Outcome{
		AgentID: trigger.AgentID,
		Trigger: trigger.Phrase,
		Speaker: u.Resolved.Name,
		Text:    remainder,
	}

	// Hard authorization boundary: never bypassed, even on an exact phrase
	// match.
	if !authorized(trigger, u.Resolved.Name) {
		out.Disposition = "unauthorized"
		r.log.Warn("unauthorized command attempt",
			"speaker", u.Resolved.Name,
			"agent", trigger.AgentID,
			"trigger", trigger.Phrase,
		)
		r.count(ctx, trigger.AgentID, "unauthorized")
		return out
	}

	if remainder == "" {
		// Wake word with nothing behind it.
		out.Disposition = "empty"
		r.count(ctx, trigger.AgentID, "empty")
		return out
	}

	dctx, cancel := context.WithTimeout(ctx, r.cfg.DispatchTimeout)
	defer cancel()

	receipt, err := r.dispatcher.Dispatch(dctx, dispatch.Command{
		Speaker:     u.Resolved.Name,
		Text:        remainder,
		Timestamp:   base.Add(u.StartOffset),
		SourceAgent: trigger.AgentID,
	})
	switch {
	case err != nil:
		out.Disposition = "failed"
		r.log.Error("command dispatch failed",
			"agent", trigger.AgentID,
			"speaker", u.Resolved.Name,
			"error", err,
		)
	case !receipt.Accepted:
		out.Disposition = "rejected"
		out.Response = receipt.Response
	default:
		out.Disposition = "dispatched"
		out.Response = receipt.Response
		r.log.Info("command dispatched",
			"agent", trigger.AgentID,
			"speaker", u.Resolved.Name,
			"text", remainder,
		)
	}
	r.count(ctx, trigger.AgentID, out.Disposition)
	return out
}

func (r *Router) count(ctx context.Context, agent, result string) {
	if r.metrics != nil {
		r.metrics.RecordCommand(ctx, agent, result)
	}
}

func authorized(t *Trigger, speaker string) bool {
	for _, s := range t.AllowedSpeakers {
		if s == speaker {
			return true
		}
	}
	return false
}

// detect finds the first trigger phrase near the start of text, longest
// phrase first. Returns the trigger, the command remainder, and whether a
// match was found.
func (r *Router) detect(text string) (*Trigger, string, bool) {
	lower := strings.ToLower(text)
	window := lower
	if len(window) > r.cfg.ScanWindow {
		window = window[:r.cfg.ScanWindow]
	}

	for i := range r.triggers {
		t := &r.triggers[i]
		if t.Phrase == "" {
			continue
		}
		if idx := strings.Index(window, t.Phrase); idx >= 0 {
			return t, remainderAfter(text, idx+len(t.Phrase)), true
		}
	}

	if r.cfg.FuzzyMaxDistance > 0 {
		return r.detectFuzzy(text, lower)
	}
	return nil, "", false
}

// detectFuzzy tolerates small transcription misspellings of a trigger
// phrase by comparing word windows with Damerau-Levenshtein distance.
func (r *Router) detectFuzzy(text, lower string) (*Trigger, string, bool) {
	words, offsets := splitWords(lower)

	for i := range r.triggers {
		t := &r.triggers[i]
		phraseWords := strings.Fields(t.Phrase)
		if len(phraseWords) == 0 {
			continue
		}
		for start := 0; start+len(phraseWords) <= len(words); start++ {
			if offsets[start] >= r.cfg.ScanWindow {
				break
			}
			span := strings.Join(words[start:start+len(phraseWords)], " ")
			if matchr.DamerauLevenshtein(span, t.Phrase) <= r.cfg.FuzzyMaxDistance {
				last := start + len(phraseWords) - 1
				end := offsets[last] + len(words[last])
				return t, remainderAfter(text, end), true
			}
		}
	}
	return nil, "", false
}

// splitWords returns the lowercase words of s and each word's byte offset.
func splitWords(s string) ([]string, []int) {
	var (
		words   []string
		offsets []int
	)
	inWord := false
	start := 0
	for i, c := range s {
		if c == ' ' || c == '\t' {
			if inWord {
				words = append(words, s[start:i])
				offsets = append(offsets, start)
				inWord = false
			}
			continue
		}
		if !inWord {
			start = i
			inWord = true
		}
	}
	if inWord {
		words = append(words, s[start:])
		offsets = append(offsets, start)
	}
	return words, offsets
}

// remainderAfter trims separators between the trigger and the command text.
func remainderAfter(text string, idx int) string {
	if idx >= len(text) {
		return ""
	}
	return strings.TrimSpace(strings.TrimLeft(text[idx:], " ,.:;!?"))
}
