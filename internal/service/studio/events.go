package studio

import (
	"sync"
	"time"
)

// EventType classifies messages pushed to session subscribers.
type EventType string

const (
	EventState     EventType = "state"
	EventNotice    EventType = "notice"
	EventResult    EventType = "result"
	EventRecording EventType = "recording"
)

// Event is a sequenced payload delivered to subscribers of one session.
type Event struct {
	Seq       int64     `json:"seq"`
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Subscriber receives events from a hub until it is unsubscribed.
type Subscriber struct {
	C    chan Event
	done chan struct{}
}

// Done is closed when the subscriber is removed from the hub.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// EventHub fans out session events to any number of subscribers.
type EventHub struct {
	sessionID string

	mu     sync.RWMutex
	seq    int64
	subs   map[*Subscriber]struct{}
	closed bool
}

func newEventHub(sessionID string) *EventHub {
	return &EventHub{
		sessionID: sessionID,
		subs:      make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new subscriber. Subscribing to a closed hub returns a
// subscriber that is already done.
func (h *EventHub) Subscribe() *Subscriber {
	sub := &Subscriber{
		C:    make(chan Event, 32),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.done)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscriber. It is safe to call more than once.
func (h *EventHub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.done)
}

// Count returns the number of active subscribers.
func (h *EventHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish stamps and delivers one event. Slow subscribers miss events rather
// than block the session.
func (h *EventHub) Publish(typ EventType, data any) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	event := Event{
		Seq:       h.seq,
		Type:      typ,
		SessionID: h.sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if h.closed {
		return event
	}

	for sub := range h.subs {
		select {
		case sub.C <- event:
		default:
		}
	}
	return event
}

// Close removes every subscriber; later publishes are dropped.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.done)
	}
}
