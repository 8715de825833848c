package pipeline

import "time"

// ResolvedSpeaker records the outcome of identifying one provisional speaker
// tag. It is set at most once per utterance unless a re-identification pass
// is explicitly triggered.
type ResolvedSpeaker struct {
	// Name is the enrolled profile name.
	Name string `json:"name"`

	// Distance is the cosine distance at which the match was made.
	Distance float64 `json:"distance"`

	// Method names the identification strategy (e.g. "multi-segment-avg").
	Method string `json:"method"`
}

// Utterance is one diarized speaker turn within a transcript.
type Utterance struct {
	// SpeakerTag is the provisional session-local label ("SPEAKER_00").
	SpeakerTag string `json:"speakerTag"`

	// Text is the transcribed speech.
	Text string `json:"text"`

	// StartOffset and EndOffset bound the utterance within the segment.
	StartOffset time.Duration `json:"startOffset"`
	EndOffset   time.Duration `json:"endOffset"`

	// Confidence is the ASR confidence score (0.0–1.0).
	Confidence float64 `json:"confidence"`

	// Resolved is nil until the identity engine attributes the utterance to
	// an enrolled profile.
	Resolved *ResolvedSpeaker `json:"resolvedSpeaker,omitempty"`
}

// Duration returns the utterance length.
func (u *Utterance) Duration() time.Duration {
	return u.EndOffset - u.StartOffset
}

// Transcript is the diarized, speaker-attributed transcript of one segment.
// It is written by the transcription gateway, enriched by the identity
// engine, and read (never mutated) by the command router.
type Transcript struct {
	// SegmentID ties the transcript to its audio segment.
	SegmentID string `json:"segmentId"`

	// Utterances is ordered by start offset.
	Utterances []Utterance `json:"utterances"`

	// Language is the detected or requested language code.
	Language string `json:"language"`

	// Status is the pipeline status; authoritative copy lives in the Tracker.
	Status Status `json:"pipelineStatus"`

	// CostEstimate is the ASR cost of the segment in USD.
	CostEstimate float64 `json:"costEstimate"`

	// Error holds the terminal failure message, empty on success.
	Error string `json:"error,omitempty"`
}

// IdentifiedSpeakers returns the distinct resolved speaker names in the
// transcript.
func (t *Transcript) IdentifiedSpeakers() []string {
	seen := make(map[string]bool)
	var names []string
	for i := range t.Utterances {
		r := t.Utterances[i].Resolved
		if r == nil || seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		names = append(names, r.Name)
	}
	return names
}

// AllUnidentified reports whether no utterance in the transcript carries a
// resolved speaker.
func (t *Transcript) AllUnidentified() bool {
	for i := range t.Utterances {
		if t.Utterances[i].Resolved != nil {
			return false
		}
	}
	return true
}
