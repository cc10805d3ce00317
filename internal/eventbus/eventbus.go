// Package eventbus provides the in-process pub/sub bus connecting the
// watcher, schedulers, and registry to live consumers such as the event
// feed bridge and `cos events tail -f`.
package eventbus

import (
	"encoding/json"
	"sync"
	"time"
)

// Dotted event names published by the runtime. Consumers key on these.
const (
	EventSessionStarted = "session.started"
	EventSessionState   = "session.state"
	EventSessionEnded   = "session.ended"

	EventFileCreated  = "file.created"
	EventFileModified = "file.modified"
	EventFileDeleted  = "file.deleted"
	EventFileMoved    = "file.moved"

	EventDutyCompleted    = "duty.completed"
	EventTriggerFired     = "trigger.fired"
	EventMissionStarted   = "mission.started"
	EventMissionCompleted = "mission.completed"

	EventHandoffRequested = "handoff.requested"
	EventHandoffCompleted = "handoff.completed"
	EventHandoffFailed    = "handoff.failed"

	EventReplyInjected  = "reply.injected"
	EventIndexRefreshed = "index.refreshed"
)

// SystemEvent is a single bus event. Data is an opaque payload map; the
// dotted Type is the routing key.
type SystemEvent struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// MarshalJSON emits the timestamp in RFC3339 so SSE-shaped consumers get
// ISO-8601 regardless of the Timestamp's monotonic clock reading.
func (e SystemEvent) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type      string                 `json:"type"`
		Data      map[string]interface{} `json:"data,omitempty"`
		Timestamp string                 `json:"timestamp"`
	}
	return json.Marshal(wire{
		Type:      e.Type,
		Data:      e.Data,
		Timestamp: e.Timestamp.Format(time.RFC3339),
	})
}

// queueSize bounds each subscriber's channel. A full queue drops events for
// that subscriber only.
const queueSize = 100

// Bus is an in-process broadcast bus. All subscribers receive all events.
// Thread-safe for concurrent publish/subscribe operations.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan SystemEvent
	nextID      int
	closed      bool
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[int]chan SystemEvent),
	}
}

// Subscribe creates a new subscription and returns a channel for receiving
// events. The returned unsubscribe function must be called to clean up.
func (b *Bus) Subscribe() (events <-chan SystemEvent, unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan SystemEvent)
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	id := b.nextID
	ch := make(chan SystemEvent, queueSize)
	b.subscribers[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subscribers[id]; ok {
			close(ch)
			delete(b.subscribers, id)
		}
	}
}

// Publish constructs a SystemEvent and sends it to all subscribers.
// Non-blocking: if a subscriber's channel is full, the event is dropped for
// that subscriber so slow consumers never stall the runtime loops.
func (b *Bus) Publish(eventType string, data map[string]interface{}) {
	b.publish(SystemEvent{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	})
}

func (b *Bus) publish(event SystemEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, drop for this subscriber.
		}
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
