package history

import (
	"sync"

	"github.com/example/accident-check/internal/detection"
)

// DefaultCapacity is the number of recent decisions retained.
const DefaultCapacity = 50

// Store is a bounded FIFO of recent decisions, safe for concurrent use.
// Entries are copied on the way in and out so callers never share state
// with the store.
type Store struct {
	mu    sync.Mutex
	buf   []detection.Decision
	start int
	size  int
}

// New creates a store holding at most capacity decisions. Non-positive
// capacities fall back to DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{buf: make([]detection.Decision, capacity)}
}

// Append adds a decision as the newest entry, evicting the oldest when full.
func (s *Store) Append(decision detection.Decision) {
	decision = decision.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size < len(s.buf) {
		s.buf[(s.start+s.size)%len(s.buf)] = decision
		s.size++
		return
	}
	s.buf[s.start] = decision
	s.start = (s.start + 1) % len(s.buf)
}

// Snapshot returns an independent copy of the entries, oldest first.
func (s *Store) Snapshot() []detection.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]detection.Decision, s.size)
	for i := range out {
		out[i] = s.buf[(s.start+i)%len(s.buf)].Clone()
	}
	return out
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.buf)
	s.start = 0
	s.size = 0
}

// Find returns the retained decision with the given ID.
func (s *Store) Find(id string) (detection.Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := s.size - 1; i >= 0; i-- {
		d := s.buf[(s.start+i)%len(s.buf)]
		if d.ID == id {
			return d.Clone(), true
		}
	}
	return detection.Decision{}, false
}

// Len returns the current number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Capacity returns the maximum number of entries.
func (s *Store) Capacity() int {
	return len(s.buf)
}
