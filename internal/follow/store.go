// Package follow keeps one shared "following" indicator per user so every
// view rendering the same author agrees, and applies toggles optimistically.
package follow

import (
	"sync"

	"github.com/skillsync/skillsync-bff/internal/domain"
	"github.com/skillsync/skillsync-bff/internal/shared"
)

// Change describes a mutation of the follow map delivered to listeners.
type Change struct {
	Entries []domain.FollowEntry `json:"entries,omitempty"`
	Removed []int64              `json:"removed,omitempty"`
	Cleared bool                 `json:"cleared,omitempty"`
}

type entry struct {
	domain.FollowEntry
	// toggle is the version stamped by the in-flight toggle, 0 when idle.
	toggle uint64
}

// Store is the FollowState map. It holds state only; debouncing of
// overlapping toggles is the Synchronizer's job.
type Store struct {
	mu      sync.RWMutex
	entries map[int64]*entry
	refs    map[int64]int
	version uint64
	// epoch counts Clears; view references taken before a Clear are void.
	epoch uint64

	seq       shared.Sequencer
	lmu       sync.RWMutex
	listeners []func(Change)
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[int64]*entry),
		refs:    make(map[int64]int),
	}
}

// OnChange registers fn to receive every change. Changes are delivered in the
// order they were applied; fn must not write to the store.
func (s *Store) OnChange(fn func(Change)) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Initialize overwrites the entry of every author in posts with the server's
// is_following value. Posts without an author id or a boolean flag are skipped.
func (s *Store) Initialize(posts []domain.Post) {
	s.mu.Lock()
	var changed []domain.FollowEntry
	for i := range posts {
		id := posts[i].AuthorID()
		flag := posts[i].IsFollowing
		if id == 0 || !flag.Valid {
			continue
		}
		e := s.getOrCreateLocked(id)
		s.version++
		e.IsFollowing = flag.Value
		e.Version = s.version
		changed = append(changed, e.FollowEntry)
	}
	if len(changed) == 0 {
		s.mu.Unlock()
		return
	}
	ticket := s.seq.Ticket()
	s.mu.Unlock()

	s.emit(ticket, Change{Entries: changed})
}

// ForceSync is Initialize under the name used for explicit re-syncs.
func (s *Store) ForceSync(posts []domain.Post) {
	s.Initialize(posts)
}

// IsFollowing reports the follow state for id, false if unknown.
func (s *Store) IsFollowing(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		return e.IsFollowing
	}
	return false
}

// IsLoading reports whether a toggle for id is in flight.
func (s *Store) IsLoading(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		return e.Loading
	}
	return false
}

// Entry returns the entry for id, or a zero entry carrying only the id.
func (s *Store) Entry(id int64) domain.FollowEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		return e.FollowEntry
	}
	return domain.FollowEntry{UserID: id}
}

// All returns a copy of every entry.
func (s *Store) All() map[int64]domain.FollowEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]domain.FollowEntry, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.FollowEntry
	}
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// SetFollowState stores an authoritative value for id and clears loading.
func (s *Store) SetFollowState(id int64, following bool) {
	s.mu.Lock()
	e := s.getOrCreateLocked(id)
	s.version++
	e.IsFollowing = following
	e.Loading = false
	e.toggle = 0
	e.Version = s.version
	snap := e.FollowEntry
	ticket := s.seq.Ticket()
	s.mu.Unlock()

	s.emit(ticket, Change{Entries: []domain.FollowEntry{snap}})
}

// SetLoading sets the loading flag for id without touching the value.
func (s *Store) SetLoading(id int64, loading bool) {
	s.mu.Lock()
	e := s.getOrCreateLocked(id)
	e.Loading = loading
	if !loading {
		e.toggle = 0
	}
	snap := e.FollowEntry
	ticket := s.seq.Ticket()
	s.mu.Unlock()

	s.emit(ticket, Change{Entries: []domain.FollowEntry{snap}})
}

// Remove deletes the entry for id.
func (s *Store) Remove(id int64) {
	s.mu.Lock()
	_, existed := s.entries[id]
	delete(s.entries, id)
	delete(s.refs, id)
	if !existed {
		s.mu.Unlock()
		return
	}
	ticket := s.seq.Ticket()
	s.mu.Unlock()

	s.emit(ticket, Change{Removed: []int64{id}})
}

// Clear wipes the map and voids every view reference taken so far.
func (s *Store) Clear() {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[int64]*entry)
	s.refs = make(map[int64]int)
	s.epoch++
	if n == 0 {
		s.mu.Unlock()
		return
	}
	ticket := s.seq.Ticket()
	s.mu.Unlock()

	s.emit(ticket, Change{Cleared: true})
}

// Retain records that one more view renders id. It returns the epoch the
// reference belongs to; pass it back to ReleaseAt.
func (s *Store) Retain(id int64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[id]++
	return s.epoch
}

// Release drops one view reference to id taken in the current epoch.
func (s *Store) Release(id int64) {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()
	s.ReleaseAt(epoch, id)
}

// ReleaseAt drops one view reference to id taken in epoch. References from
// before the last Clear are ignored. The entry is removed when the last
// reference goes away.
func (s *Store) ReleaseAt(epoch uint64, id int64) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	n, ok := s.refs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if n > 1 {
		s.refs[id] = n - 1
		s.mu.Unlock()
		return
	}
	delete(s.refs, id)
	_, existed := s.entries[id]
	delete(s.entries, id)
	if !existed {
		s.mu.Unlock()
		return
	}
	ticket := s.seq.Ticket()
	s.mu.Unlock()

	s.emit(ticket, Change{Removed: []int64{id}})
}

// SessionChanged clears the map when the session is no longer authenticated.
func (s *Store) SessionChanged(sess domain.Session) {
	if !sess.IsAuthenticated {
		s.Clear()
	}
}

// beginToggle flips id optimistically and marks it loading. It returns the
// new entry, the previous value and the toggle's version stamp.
func (s *Store) beginToggle(id int64) (domain.FollowEntry, bool, uint64, error) {
	s.mu.Lock()
	e := s.getOrCreateLocked(id)
	if e.Loading {
		snap := e.FollowEntry
		s.mu.Unlock()
		return snap, snap.IsFollowing, 0, ErrInFlight
	}
	prev := e.IsFollowing
	s.version++
	e.IsFollowing = !prev
	e.Loading = true
	e.Version = s.version
	e.toggle = s.version
	snap := e.FollowEntry
	ticket := s.seq.Ticket()
	s.mu.Unlock()

	s.emit(ticket, Change{Entries: []domain.FollowEntry{snap}})
	return snap, prev, snap.Version, nil
}

// settleToggle applies the outcome of the toggle stamped stamp. Loading is
// cleared if the entry still belongs to that toggle; a failed toggle is only
// reverted if nothing wrote the entry since the flip. It reports whether the
// entry was still owned by the toggle.
func (s *Store) settleToggle(id int64, stamp uint64, ok, prev bool) (domain.FollowEntry, bool) {
	s.mu.Lock()
	e, exists := s.entries[id]
	if !exists || e.toggle != stamp {
		var snap domain.FollowEntry
		if exists {
			snap = e.FollowEntry
		} else {
			snap = domain.FollowEntry{UserID: id}
		}
		s.mu.Unlock()
		return snap, false
	}

	untouched := e.Version == stamp
	s.version++
	e.Loading = false
	e.toggle = 0
	e.Version = s.version
	if !ok && untouched {
		e.IsFollowing = prev
	}
	snap := e.FollowEntry
	ticket := s.seq.Ticket()
	s.mu.Unlock()

	s.emit(ticket, Change{Entries: []domain.FollowEntry{snap}})
	return snap, true
}

func (s *Store) getOrCreateLocked(id int64) *entry {
	e, ok := s.entries[id]
	if !ok {
		e = &entry{FollowEntry: domain.FollowEntry{UserID: id}}
		s.entries[id] = e
	}
	return e
}

// emit delivers c under ticket, which must have been taken while s.mu was
// held for the write c describes.
func (s *Store) emit(ticket uint64, c Change) {
	s.lmu.RLock()
	listeners := make([]func(Change), len(s.listeners))
	copy(listeners, s.listeners)
	s.lmu.RUnlock()

	s.seq.Deliver(ticket, func() {
		for _, fn := range listeners {
			fn(c)
		}
	})
}
