// Package dispatch defines the client interface for the downstream voice
// command dispatcher.
//
// The dispatcher is an external agent-routing service: it receives an
// authorized command extracted from an utterance and either accepts or
// rejects it. Delivery is fire-and-forget from the pipeline's point of view:
// a failed or timed-out dispatch is logged, never retried (a stale retry
// after the user has moved on is worse than silence).
//
// Implementations must be safe for concurrent use.
package dispatch

import (
	"context"
	"time"
)

// Command is the payload delivered to the dispatcher.
type Command struct {
	// Speaker is the resolved speaker name authorizing the command.
	Speaker string `json:"speaker"`

	// Text is the command remainder after the trigger phrase.
	Text string `json:"text"`

	// Timestamp marks when the utterance was spoken.
	Timestamp time.Time `json:"timestamp"`

	// SourceAgent is the agent identifier the trigger phrase addressed.
	SourceAgent string `json:"sourceAgent"`
}

// Receipt is the dispatcher's verdict.
type Receipt struct {
	// Accepted reports whether the dispatcher took the command.
	Accepted bool `json:"accepted"`

	// Response is optional response text from the agent.
	Response string `json:"response,omitempty"`
}

// Dispatcher delivers commands to the downstream agent service.
type Dispatcher interface {
	// Dispatch delivers cmd and returns the dispatcher's receipt. A
	// cancelled or timed-out delivery is "not delivered", never ambiguous;
	// callers bound each call with a short context deadline.
	Dispatch(ctx context.Context, cmd Command) (*Receipt, error)
}
