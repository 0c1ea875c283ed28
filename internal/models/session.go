package models

import "sync"

// Session tracks the state of a single scrape run: which offer ids were seen
// in the current collection pass, plus the run counters reported at the end.
// It replaces the process-wide mutable sets the old pipeline variants shared;
// every component gets the session injected and it dies with the run.
type Session struct {
	mu      sync.Mutex
	seenIDs map[string]struct{}

	New          int
	Removed      int
	PriceChanges int
}

// NewSession creates an empty run session.
func NewSession() *Session {
	return &Session{seenIDs: make(map[string]struct{})}
}

// MarkSeen records an offer id for this run. Returns false if it was already
// seen (a duplicate card on a later page).
func (s *Session) MarkSeen(offerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seenIDs[offerID]; ok {
		return false
	}
	s.seenIDs[offerID] = struct{}{}
	return true
}

// Seen reports whether the id appeared in this run's collection pass.
func (s *Session) Seen(offerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seenIDs[offerID]
	return ok
}

// SeenCount returns the number of unique ids collected this run.
func (s *Session) SeenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seenIDs)
}

// Stats is the summary persisted alongside the dataset.
type Stats struct {
	New          int `json:"new"`
	Removed      int `json:"removed"`
	PriceChanges int `json:"price_changes"`
}

// Stats snapshots the run counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{New: s.New, Removed: s.Removed, PriceChanges: s.PriceChanges}
}
