package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/oasis-home/earshot/pkg/provider/asr"
	"github.com/oasis-home/earshot/pkg/provider/dispatch"
	"github.com/oasis-home/earshot/pkg/provider/vad"
	"github.com/oasis-home/earshot/pkg/provider/voiceprint"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	asr        map[string]func(ProviderEntry) (asr.Provider, error)
	vad        map[string]func(ProviderEntry) (vad.Engine, error)
	voiceprint map[string]func(ProviderEntry) (voiceprint.Provider, error)
	dispatch   map[string]func(ProviderEntry) (dispatch.Dispatcher, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		asr:        make(map[string]func(ProviderEntry) (asr.Provider, error)),
		vad:        make(map[string]func(ProviderEntry) (vad.Engine, error)),
		voiceprint: make(map[string]func(ProviderEntry) (voiceprint.Provider, error)),
		dispatch:   make(map[string]func(ProviderEntry) (dispatch.Dispatcher, error)),
	}
}

// RegisterASR registers a transcription provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterASR(name string, factory func(ProviderEntry) (asr.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterVoiceprint registers a speaker-embedding provider factory under name.
func (r *Registry) RegisterVoiceprint(name string, factory func(ProviderEntry) (voiceprint.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voiceprint[name] = factory
}

// RegisterDispatch registers a command dispatcher factory under name.
func (r *Registry) RegisterDispatch(name string, factory func(ProviderEntry) (dispatch.Dispatcher, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatch[name] = factory
}

// CreateASR instantiates a transcription provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateASR(entry ProviderEntry) (asr.Provider, error) {
	r.mu.RLock()
	factory, ok := r.asr[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVoiceprint instantiates an embedding provider using the factory
// registered under entry.Name.
func (r *Registry) CreateVoiceprint(entry ProviderEntry) (voiceprint.Provider, error) {
	r.mu.RLock()
	factory, ok := r.voiceprint[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: voiceprint/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateDispatch instantiates a command dispatcher using the factory
// registered under entry.Name.
func (r *Registry) CreateDispatch(entry ProviderEntry) (dispatch.Dispatcher, error) {
	r.mu.RLock()
	factory, ok := r.dispatch[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: dispatch/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
