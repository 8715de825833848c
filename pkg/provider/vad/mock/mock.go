// Package mock provides test doubles for the vad package interfaces.
//
// Use Session with a scripted verdict sequence to drive segmenter tests:
//
//	sess := &mock.Session{Script: []bool{true, true, false}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/oasis-home/earshot/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, a fresh default Session is
	// returned.
	Session vad.Session

	// NewSessionErr, if non-nil, is returned from NewSession.
	NewSessionErr error

	// NewSessionCalls records the Config of every NewSession call in order.
	NewSessionCalls []vad.Config
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	e.mu.Lock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	e.mu.Unlock()
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Session is a mock implementation of vad.Session.
type Session struct {
	mu sync.Mutex

	// Script is consumed one verdict per Classify call. When exhausted,
	// Default is returned.
	Script []bool

	// Default is the verdict returned once Script is exhausted.
	Default bool

	// ClassifyErr, if non-nil, is returned from every Classify call.
	ClassifyErr error

	// Frames records every frame passed to Classify.
	Frames [][]byte

	// CallCountReset and CallCountClose record lifecycle calls.
	CallCountReset int
	CallCountClose int

	next int
}

// Classify implements vad.Session.
func (s *Session) Classify(frame []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, frame)
	if s.ClassifyErr != nil {
		return false, s.ClassifyErr
	}
	if s.next < len(s.Script) {
		v := s.Script[s.next]
		s.next++
		return v, nil
	}
	return s.Default, nil
}

// Reset implements vad.Session.
func (s *Session) Reset() {
	s.mu.Lock()
	s.CallCountReset++
	s.mu.Unlock()
}

// Close implements vad.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	s.mu.Unlock()
	return nil
}
