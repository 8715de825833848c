// Package mock provides a test double for the asr.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/oasis-home/earshot/pkg/provider/asr"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	PCM        []byte
	SampleRate int
	Hints      asr.Hints
}

// Provider is a mock implementation of asr.Provider.
// Set Result or Err before use; inspect Calls after.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil.
	Result *asr.Result

	// Err, if non-nil, is returned from every Transcribe call.
	Err error

	// Delay, when non-nil, is closed by the test to release a blocked
	// Transcribe call; useful for deadline tests.
	Delay chan struct{}

	// Calls records every Transcribe invocation in order.
	Calls []TranscribeCall
}

// Transcribe implements asr.Provider.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate int, hints asr.Hints) (*asr.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{PCM: pcm, SampleRate: sampleRate, Hints: hints})
	delay := p.Delay
	p.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result != nil {
		return p.Result, nil
	}
	return &asr.Result{}, nil
}
