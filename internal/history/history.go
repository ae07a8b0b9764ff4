// Package history keeps a time-windowed position trail per vehicle.
package history

import (
	"sync"
	"time"

	"github.com/transitlive/livemap/pkg/core"
)

// DefaultWindow is how far back a trail reaches.
const DefaultWindow = 5 * time.Minute

// Entry is one recorded position.
type Entry struct {
	Position  core.Position `json:"position"`
	Timestamp time.Time     `json:"timestamp"`
	Bearing   float64       `json:"bearing"`
}

// Clock returns the current time.
type Clock func() time.Time

// Store holds the position history of every tracked identity.
// Entries are kept in arrival order; out-of-order timestamps are not re-sorted.
type Store struct {
	mu      sync.RWMutex
	window  time.Duration
	clock   Clock
	entries map[string][]Entry
}

// NewStore creates a Store pruning to window. A nil clock uses time.Now.
func NewStore(window time.Duration, clock Clock) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		window:  window,
		clock:   clock,
		entries: make(map[string][]Entry),
	}
}

// Window returns the retention window.
func (s *Store) Window() time.Duration { return s.window }

// Record appends a position for identity and prunes entries outside the window.
// A zero timestamp is replaced by the store clock.
func (s *Store) Record(identity string, pos core.Position, ts time.Time, bearing float64) {
	if ts.IsZero() {
		ts = s.clock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[identity] = s.prune(append(s.entries[identity], Entry{
		Position:  pos,
		Timestamp: ts,
		Bearing:   bearing,
	}))
}

// Prune drops expired entries of every identity and forgets identities left empty.
func (s *Store) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		kept := s.prune(e)
		if len(kept) == 0 {
			delete(s.entries, id)
			continue
		}
		s.entries[id] = kept
	}
}

// prune keeps entries not older than window, measured from the later of the
// clock and the newest entry so replayed feeds stay bounded too.
func (s *Store) prune(e []Entry) []Entry {
	if len(e) == 0 {
		return e
	}
	ref := s.clock()
	for _, x := range e {
		if x.Timestamp.After(ref) {
			ref = x.Timestamp
		}
	}
	cutoff := ref.Add(-s.window)

	i := 0
	for _, x := range e {
		if !x.Timestamp.Before(cutoff) {
			e[i] = x
			i++
		}
	}
	clear(e[i:])
	return e[:i]
}

// Get returns a copy of the current window for identity, empty if unknown.
func (s *Store) Get(identity string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entries[identity]
	out := make([]Entry, len(e))
	copy(out, e)
	return out
}

// Last returns the newest recorded entry for identity.
func (s *Store) Last(identity string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entries[identity]
	if len(e) == 0 {
		return Entry{}, false
	}
	return e[len(e)-1], true
}

// Clear forgets all history for identity.
func (s *Store) Clear(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, identity)
}

// RenderableTrail returns the ordered positions of identity, or nil when
// fewer than 2 points are held.
func (s *Store) RenderableTrail(identity string) []core.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entries[identity]
	if len(e) < 2 {
		return nil
	}
	out := make([]core.Position, len(e))
	for i, x := range e {
		out[i] = x.Position
	}
	return out
}

// Len returns the number of entries held for identity.
func (s *Store) Len(identity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[identity])
}
