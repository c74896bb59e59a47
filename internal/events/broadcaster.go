// Package events fans notification state transitions out to in-process
// subscribers (the websocket debug stream, tests). Delivery is
// best-effort: a slow subscriber drops events rather than blocking the
// store's write path.
package events

import (
	"sync"

	"github.com/beaconops/missionctl/internal/notify"
)

// TransitionEvent describes one successful state transition.
type TransitionEvent struct {
	NotificationID string       `json:"notification_id"`
	TaskID         string       `json:"task_id"`
	From           notify.State `json:"from"`
	To             notify.State `json:"to"`
	Actor          string       `json:"actor,omitempty"`
	At             int64        `json:"at"`
}

// Broadcaster distributes transition events to subscribers.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan TransitionEvent
	nextID int
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan TransitionEvent)}
}

// Subscribe registers a subscriber with the given channel buffer and
// returns its event channel plus a cancel function. The channel is closed
// on cancel or when the broadcaster shuts down.
func (b *Broadcaster) Subscribe(buffer int) (<-chan TransitionEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan TransitionEvent, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish sends an event to every subscriber. Subscribers with full
// buffers miss the event; the store must never block on observers.
func (b *Broadcaster) Publish(ev TransitionEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close shuts the broadcaster down and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
