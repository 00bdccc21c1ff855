package core

import "sync"

// Sequencer hands out monotonically increasing request numbers per view and
// remembers the latest one issued, so that responses to superseded requests
// can be recognized and dropped.
//
// A view key is whatever identifies one on-screen table instance, typically
// "user:table".
type Sequencer struct {
	mu     sync.Mutex
	latest map[string]uint64
}

// NewSequencer returns an empty Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{latest: make(map[string]uint64)}
}

// Next issues the next sequence number for view.
func (s *Sequencer) Next(view string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[view]++
	return s.latest[view]
}

// Observe records a sequence number supplied by a client. It returns false
// when seq is older than one already seen, meaning the request is stale.
func (s *Sequencer) Observe(view string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.latest[view] {
		return false
	}
	s.latest[view] = seq
	return true
}

// IsCurrent reports whether seq is the most recent number for view.
func (s *Sequencer) IsCurrent(view string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[view] == seq
}

// Latest returns the most recent number for view, zero if none.
func (s *Sequencer) Latest(view string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[view]
}

// Forget drops the state for view.
func (s *Sequencer) Forget(view string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.latest, view)
}
