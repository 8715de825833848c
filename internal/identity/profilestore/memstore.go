package profilestore

import (
	"context"
	"fmt"
	"sync"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store. Values are deep-copied on the way in and
// out so callers can never alias stored state.
type MemStore struct {
	mu         sync.RWMutex
	profiles   map[string]*Profile
	candidates map[string]*Candidate
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		profiles:   make(map[string]*Profile),
		candidates: make(map[string]*Candidate),
	}
}

// GetProfile implements Store.
func (s *MemStore) GetProfile(_ context.Context, name string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile %q: %w", name, ErrNotFound)
	}
	return copyProfile(p), nil
}

// ListProfiles implements Store.
func (s *MemStore) ListProfiles(_ context.Context) ([]*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, copyProfile(p))
	}
	return out, nil
}

// PutProfile implements Store.
func (s *MemStore) PutProfile(_ context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.Name] = copyProfile(p)
	return nil
}

// GetCandidate implements Store.
func (s *MemStore) GetCandidate(_ context.Context, clusterID string) (*Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[clusterID]
	if !ok {
		return nil, fmt.Errorf("candidate %q: %w", clusterID, ErrNotFound)
	}
	return copyCandidate(c), nil
}

// ListCandidates implements Store.
func (s *MemStore) ListCandidates(_ context.Context) ([]*Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		out = append(out, copyCandidate(c))
	}
	return out, nil
}

// PutCandidate implements Store.
func (s *MemStore) PutCandidate(_ context.Context, c *Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[c.ClusterID] = copyCandidate(c)
	return nil
}

// DeleteCandidate implements Store.
func (s *MemStore) DeleteCandidate(_ context.Context, clusterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.candidates, clusterID)
	return nil
}

func copyProfile(p *Profile) *Profile {
	cp := *p
	cp.Embeddings = copyEmbeddings(p.Embeddings)
	return &cp
}

func copyCandidate(c *Candidate) *Candidate {
	cp := *c
	cp.Embeddings = copyEmbeddings(c.Embeddings)
	cp.SampleTranscriptRefs = append([]string(nil), c.SampleTranscriptRefs...)
	return &cp
}

func copyEmbeddings(in [][]float32) [][]float32 {
	if in == nil {
		return nil
	}
	out := make([][]float32, len(in))
	for i, e := range in {
		out[i] = append([]float32(nil), e...)
	}
	return out
}
