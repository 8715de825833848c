package resilience

import (
	"context"

	"github.com/oasis-home/earshot/pkg/provider/asr"
)

// ASRFallback implements [asr.Provider] with automatic failover across
// multiple transcription backends. Each backend has its own circuit breaker,
// so a provider outage stops costing a full poll ceiling per segment once
// its breaker opens.
type ASRFallback struct {
	group *FallbackGroup[asr.Provider]
}

// Compile-time interface assertion.
var _ asr.Provider = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred
// backend.
func NewASRFallback(primary asr.Provider, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional transcription backend.
func (f *ASRFallback) AddFallback(name string, provider asr.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the segment against the first healthy backend.
func (f *ASRFallback) Transcribe(ctx context.Context, pcm []byte, sampleRate int, hints asr.Hints) (*asr.Result, error) {
	return ExecuteWithResult(f.group, func(p asr.Provider) (*asr.Result, error) {
		return p.Transcribe(ctx, pcm, sampleRate, hints)
	})
}
