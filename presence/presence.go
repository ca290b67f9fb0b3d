// Package presence tracks which users are online, as reported by the push transport.
package presence

import (
	"sync/atomic"
)

// Set is an immutable snapshot of online user ids.
type Set struct {
	ids map[string]struct{}
}

func newSet(ids []string) *Set {
	s := &Set{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is online. A nil set contains nothing.
func (s *Set) Contains(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.ids[id]
	return ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// OthersOnline counts online users other than selfID.
func (s *Set) OthersOnline(selfID string) int {
	n := s.Len()
	if s.Contains(selfID) {
		n--
	}
	return n
}

// Tracker holds the current presence set. Every snapshot replaces the
// previous set wholesale; readers never see a partially applied update.
type Tracker struct {
	current atomic.Pointer[Set]
	changed chan struct{}
}

func NewTracker() *Tracker {
	t := &Tracker{changed: make(chan struct{}, 1)}
	t.current.Store(newSet(nil))
	return t
}

// Replace installs ids as the new online set.
func (t *Tracker) Replace(ids []string) {
	t.current.Store(newSet(ids))
	t.signal()
}

// Clear empties the set, e.g. after logout.
func (t *Tracker) Clear() {
	t.Replace(nil)
}

// Snapshot returns the current set. The result is never mutated.
func (t *Tracker) Snapshot() *Set {
	return t.current.Load()
}

// Updates signals after every replacement. Signals coalesce.
func (t *Tracker) Updates() <-chan struct{} {
	return t.changed
}

func (t *Tracker) signal() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}
