// Package mock provides a test double for the voiceprint.Provider interface.
//
// Vectors returns fixed embeddings keyed by clip content, letting identity
// tests script exactly which voice each utterance carries:
//
//	vp := &mock.Provider{Dims: 4, ByClip: map[string][]float32{
//	    "alice": {1, 0, 0, 0},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/oasis-home/earshot/pkg/provider/voiceprint"
)

// Compile-time assertion that Provider implements voiceprint.Provider.
var _ voiceprint.Provider = (*Provider)(nil)

// EmbedCall records a single invocation of Provider.Embed.
type EmbedCall struct {
	PCM        []byte
	SampleRate int
}

// Provider is a mock implementation of voiceprint.Provider.
type Provider struct {
	mu sync.Mutex

	// Dims is returned by Dimensions. Defaults to 192 when zero.
	Dims int

	// ByClip maps string(pcm) to the embedding returned for that clip. When
	// a clip is absent, Default is returned instead.
	ByClip map[string][]float32

	// Default is returned for clips not present in ByClip. When nil, a zero
	// vector of Dims length is returned.
	Default []float32

	// Err, if non-nil, is returned from every Embed call.
	Err error

	// Calls records every Embed invocation in order.
	Calls []EmbedCall
}

// Embed implements voiceprint.Provider.
func (p *Provider) Embed(_ context.Context, pcm []byte, sampleRate int) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, EmbedCall{PCM: pcm, SampleRate: sampleRate})
	if p.Err != nil {
		return nil, p.Err
	}
	if v, ok := p.ByClip[string(pcm)]; ok {
		return v, nil
	}
	if p.Default != nil {
		return p.Default, nil
	}
	return make([]float32, p.Dimensions()), nil
}

// Dimensions implements voiceprint.Provider.
func (p *Provider) Dimensions() int {
	if p.Dims == 0 {
		return 192
	}
	return p.Dims
}

// ModelID implements voiceprint.Provider.
func (p *Provider) ModelID() string { return "mock" }
