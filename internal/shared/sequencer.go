package shared

import "sync"

// Sequencer delivers notifications in the order their tickets were taken.
// Take the ticket while holding the lock that guards the state being
// announced, release that lock, then Deliver. A delivery waits for every
// earlier ticket, so callbacks must not take a new ticket on the same
// Sequencer. The zero value is ready to use.
type Sequencer struct {
	mu   sync.Mutex
	cond *sync.Cond
	next uint64
	done uint64
}

// Ticket reserves the next delivery slot. Every ticket must be delivered.
func (s *Sequencer) Ticket() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next
}

// Deliver runs fn once every earlier ticket has been delivered.
func (s *Sequencer) Deliver(ticket uint64, fn func()) {
	s.mu.Lock()
	if s.cond == nil {
		s.cond = sync.NewCond(&s.mu)
	}
	for s.done != ticket-1 {
		s.cond.Wait()
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.done = ticket
		s.cond.Broadcast()
		s.mu.Unlock()
	}()
	fn()
}
