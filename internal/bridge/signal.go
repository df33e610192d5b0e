package bridge

import (
	"context"
	"sync"
)

// Signal is a level-triggered flag: once set it stays set until cleared, and
// every waiter observes it. The playback-done handshake uses one.
type Signal struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// NewSignal returns an unset signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Set marks the signal and wakes every waiter. Idempotent.
func (s *Signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		s.set = true
		close(s.ch)
	}
}

// Clear resets the signal. A waiter that starts after Clear is only released
// by a later Set. Idempotent.
func (s *Signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		s.set = false
		s.ch = make(chan struct{})
	}
}

// IsSet reports the current state.
func (s *Signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Wait returns nil once the signal is set, or ctx.Err() if ctx ends first.
func (s *Signal) Wait(ctx context.Context) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
