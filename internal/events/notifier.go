// Package events provides the sync lifecycle event bus.
//
// Delivery is best-effort, synchronous, and in registration order. A
// panicking listener is isolated so later listeners and the publisher
// keep running.
package events

import (
	"sync"
	"time"

	"github.com/jjperez22/the-ERP-sub000/internal/logging"
)

// Event types emitted by the sync engine.
const (
	EventSyncSuccess   = "sync.success"
	EventSyncFailed    = "sync.failed"
	EventSyncDeferred  = "sync.deferred"
	EventSyncCompleted = "sync.completed"
	EventStoreDegraded = "store.degraded"
)

// Event is one lifecycle notification.
type Event struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"` // unix millis
}

// Listener receives published events.
type Listener func(Event)

// Notifier fans lifecycle events out to registered listeners.
type Notifier struct {
	mu        sync.RWMutex
	listeners []subscription
}

type subscription struct {
	eventType string // empty subscribes to all types
	fn        Listener
}

// NewNotifier creates an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers a listener for all event types.
func (n *Notifier) Subscribe(fn Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, subscription{fn: fn})
}

// SubscribeTo registers a listener for a single event type.
func (n *Notifier) SubscribeTo(eventType string, fn Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, subscription{eventType: eventType, fn: fn})
}

// Publish delivers an event to every matching listener, in
// registration order, on the caller's goroutine.
func (n *Notifier) Publish(eventType string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	n.mu.RLock()
	listeners := make([]subscription, len(n.listeners))
	copy(listeners, n.listeners)
	n.mu.RUnlock()

	for _, sub := range listeners {
		if sub.eventType != "" && sub.eventType != eventType {
			continue
		}
		n.deliver(sub.fn, event)
	}
}

// deliver calls one listener, recovering from panics so a broken
// listener cannot abort dispatch to the rest.
func (n *Notifier) deliver(fn Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("event listener panicked",
				map[string]interface{}{"event_type": event.Type, "panic": r})
		}
	}()
	fn(event)
}

// ListenerCount returns the number of registered listeners.
func (n *Notifier) ListenerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}
