// Package state provides the event bus that fans poll-cycle and control
// events out to the MQTT publisher and WebSocket subscribers.
package state

import (
	"log/slog"
	"sync"
	"time"
)

// EventType identifies event categories.
type EventType string

const (
	// EventSnapshotUpdate fires after a poll cycle replaces the cached
	// snapshot. Data is the new model.Snapshot.
	EventSnapshotUpdate EventType = "snapshot_update"
	// EventRefreshFailed fires when a poll cycle fails; the previous
	// snapshot stays in place. Data is the error string.
	EventRefreshFailed EventType = "refresh_failed"
	// EventControlApplied fires after a settings mutation or capture
	// request succeeds. Data is a ControlResult.
	EventControlApplied EventType = "control_applied"
)

// ControlResult describes one applied control action.
type ControlResult struct {
	CameraID string `json:"camera_id"`
	Command  string `json:"command"`
}

// Event is one bus message.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a simple publish/subscribe event bus.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	log         *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(log *slog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[int]chan Event),
		log:         log,
	}
}

// Publish sends an event to all subscribers. Slow subscribers drop events
// rather than blocking the publisher.
func (b *EventBus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.log.Warn("event bus: subscriber buffer full, dropping event", "subscriber_id", id, "event_type", evt.Type)
		}
	}
}

// Subscribe returns a channel of events and an unsubscribe function.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
		// drain anything buffered so publishers finish promptly
		for {
			select {
			case <-ch:
			default:
				return
			}
		}
	}
	return ch, unsub
}
