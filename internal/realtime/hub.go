// Package realtime pushes BFF state changes to views over WebSocket and SSE.
package realtime

import (
	"container/list"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skillsync/skillsync-bff/internal/domain"
	"github.com/skillsync/skillsync-bff/internal/follow"
)

// Event types published by the hub.
const (
	EventSession = "session"
	EventFollow  = "follow"
)

const (
	defaultReplaySize = 100
	subscriberBuffer  = 64
)

// Event is one published state change.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	Time time.Time       `json:"time"`
}

// Hub numbers events, keeps the most recent ones for replay and fans them out
// to subscribers.
type Hub struct {
	mu      sync.Mutex
	eventID int64
	queue   *list.List
	maxSize int
	subs    map[int64]*Subscription
	nextSub int64
	logger  *slog.Logger
}

// Subscription receives events published after it was created. C is closed
// when the subscriber falls behind or the hub shuts down; the view is
// expected to reconnect with its last event id.
type Subscription struct {
	ID int64
	C  <-chan Event

	ch  chan Event
	hub *Hub
}

// NewHub creates a hub keeping the last replaySize events.
func NewHub(replaySize int, logger *slog.Logger) *Hub {
	if replaySize <= 0 {
		replaySize = defaultReplaySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		queue:   list.New(),
		maxSize: replaySize,
		subs:    make(map[int64]*Subscription),
		logger:  logger,
	}
}

// Publish stamps payload with the next event id and delivers it.
func (h *Hub) Publish(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.eventID++
	ev := Event{ID: h.eventID, Type: eventType, Data: data, Time: time.Now().UTC()}
	h.queue.PushBack(ev)
	for h.queue.Len() > h.maxSize {
		h.queue.Remove(h.queue.Front())
	}

	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("Dropping lagging subscriber", "subscription_id", id, "event_id", ev.ID)
			delete(h.subs, id)
			close(sub.ch)
		}
	}
	return ev, nil
}

// Subscribe registers a subscriber and returns the retained events newer
// than lastEventID. Replay and registration happen atomically so no event is
// missed or delivered twice.
func (h *Hub) Subscribe(lastEventID int64) (*Subscription, []Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var missed []Event
	if lastEventID > 0 {
		for e := h.queue.Front(); e != nil; e = e.Next() {
			ev := e.Value.(Event)
			if ev.ID > lastEventID {
				missed = append(missed, ev)
			}
		}
	}

	h.nextSub++
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{ID: h.nextSub, C: ch, ch: ch, hub: h}
	h.subs[sub.ID] = sub
	return sub, missed
}

// LastEventID returns the id of the most recent event.
func (h *Hub) LastEventID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eventID
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Close stops the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if _, ok := s.hub.subs[s.ID]; ok {
		delete(s.hub.subs, s.ID)
		close(s.ch)
	}
}

// SessionChanged publishes the new session state. It lets the hub observe
// the session manager.
func (h *Hub) SessionChanged(s domain.Session) {
	if _, err := h.Publish(EventSession, s); err != nil {
		h.logger.Error("Failed to publish session event", "error", err)
	}
}

// FollowChanged publishes a follow map change.
func (h *Hub) FollowChanged(c follow.Change) {
	if _, err := h.Publish(EventFollow, c); err != nil {
		h.logger.Error("Failed to publish follow event", "error", err)
	}
}
