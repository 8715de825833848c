// Package pipeline defines the per-segment processing state machine and the
// export readiness gate.
//
// Every audio segment moves through a linear pipeline:
//
//	recorded → transcribing → transcribed → identifying →
//	    complete | complete_no_speaker_id | speaker_id_failed
//
// with two failure exits (transcription_failed, skipped_too_short). The
// [Tracker] records the current status of every in-flight segment and
// answers the one question the external sync collaborator polls for: is this
// transcript ready to export?
//
// Readiness is deliberately not the same as "terminal". Transcripts whose
// speakers all came back unknown wait out a short grace period so that a
// just-enrolled profile or an async re-identification pass can still resolve
// names; transcripts whose identification path failed outright wait out a
// much longer one before being exported nameless. Both waits are bounded —
// nothing is held hostage forever.
package pipeline

import "fmt"

// Status is the pipeline state of one segment's transcript.
type Status string

const (
	// StatusRecorded is the initial state: the segmenter has emitted the
	// segment and it is queued for transcription.
	StatusRecorded Status = "recorded"

	// StatusTranscribing marks a segment whose ASR job is in flight.
	StatusTranscribing Status = "transcribing"

	// StatusTranscribed marks a diarized transcript awaiting identification.
	StatusTranscribed Status = "transcribed"

	// StatusIdentifying marks a transcript whose speaker identification is
	// in flight.
	StatusIdentifying Status = "identifying"

	// StatusComplete is terminal: identification ran to the end (speakers may
	// still be unresolved).
	StatusComplete Status = "complete"

	// StatusCompleteNoSpeakerID is terminal: identification was intentionally
	// skipped, either because it is disabled for this deployment or because
	// the transcript carries no utterances to identify.
	StatusCompleteNoSpeakerID Status = "complete_no_speaker_id"

	// StatusSpeakerIDFailed marks a transcript whose embedding extraction
	// failed. Terminal once its grace period elapses.
	StatusSpeakerIDFailed Status = "speaker_id_failed"

	// StatusTranscriptionFailed marks a segment whose ASR call failed.
	// The tracker owns the retry policy for this state.
	StatusTranscriptionFailed Status = "transcription_failed"

	// StatusSkippedTooShort is terminal: the segment was below the billable
	// floor and is exported with no content.
	StatusSkippedTooShort Status = "skipped_too_short"
)

// Terminal reports whether s is a state the pipeline never leaves.
// StatusSpeakerIDFailed is terminal only after its grace period, which the
// Tracker accounts for separately.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusCompleteNoSpeakerID, StatusSkippedTooShort:
		return true
	}
	return false
}

// legalTransitions maps each status to the set of statuses it may move to.
var legalTransitions = map[Status][]Status{
	StatusRecorded:            {StatusTranscribing, StatusSkippedTooShort},
	StatusTranscribing:        {StatusTranscribed, StatusTranscriptionFailed, StatusSkippedTooShort},
	StatusTranscribed:         {StatusIdentifying, StatusCompleteNoSpeakerID},
	StatusIdentifying:         {StatusComplete, StatusSpeakerIDFailed},
	StatusSpeakerIDFailed:     {StatusIdentifying}, // re-identification pass
	StatusTranscriptionFailed: {StatusTranscribing},
}

// canTransition reports whether from → to is a legal move.
func canTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrIllegalTransition is wrapped in errors returned for out-of-order status
// updates.
type ErrIllegalTransition struct {
	SegmentID string
	From, To  Status
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("pipeline: segment %s: illegal transition %s → %s", e.SegmentID, e.From, e.To)
}
