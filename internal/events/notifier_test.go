// Package events tests for synchronous, ordered, panic-isolated
// event delivery.
package events

import (
	"testing"
)

// TestPublishDeliversToAll verifies broad subscriptions see every event.
func TestPublishDeliversToAll(t *testing.T) {
	n := NewNotifier()

	var got []Event
	n.Subscribe(func(e Event) { got = append(got, e) })

	n.Publish(EventSyncSuccess, map[string]interface{}{"record_id": "p-1"})
	n.Publish(EventSyncCompleted, map[string]interface{}{"successful": 1})

	if len(got) != 2 {
		t.Fatalf("delivered %d events, want 2", len(got))
	}
	if got[0].Type != EventSyncSuccess || got[1].Type != EventSyncCompleted {
		t.Errorf("event order = %s, %s", got[0].Type, got[1].Type)
	}
	if got[0].Data["record_id"] != "p-1" {
		t.Errorf("event data = %+v", got[0].Data)
	}
	if got[0].Timestamp == 0 {
		t.Error("event timestamp not set")
	}
}

// TestSubscribeToFilters verifies typed subscriptions only see their type.
func TestSubscribeToFilters(t *testing.T) {
	n := NewNotifier()

	var failures int
	n.SubscribeTo(EventSyncFailed, func(e Event) { failures++ })

	n.Publish(EventSyncSuccess, nil)
	n.Publish(EventSyncFailed, nil)
	n.Publish(EventSyncDeferred, nil)
	n.Publish(EventSyncFailed, nil)

	if failures != 2 {
		t.Errorf("typed listener saw %d events, want 2", failures)
	}
}

// TestDeliveryOrder verifies listeners run synchronously in
// registration order.
func TestDeliveryOrder(t *testing.T) {
	n := NewNotifier()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		n.Subscribe(func(Event) { order = append(order, i) })
	}

	n.Publish(EventSyncCompleted, nil)

	if len(order) != 5 {
		t.Fatalf("delivered to %d listeners, want 5", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("delivery order = %v, want registration order", order)
		}
	}
}

// TestPanicIsolation verifies a panicking listener does not break
// delivery to later listeners or the publisher.
func TestPanicIsolation(t *testing.T) {
	n := NewNotifier()

	var before, after bool
	n.Subscribe(func(Event) { before = true })
	n.Subscribe(func(Event) { panic("listener bug") })
	n.Subscribe(func(Event) { after = true })

	n.Publish(EventSyncFailed, nil) // must not panic the publisher

	if !before {
		t.Error("listener before the panicking one was not called")
	}
	if !after {
		t.Error("listener after the panicking one was not called")
	}
}

// TestListenerCount verifies registration bookkeeping.
func TestListenerCount(t *testing.T) {
	n := NewNotifier()
	if n.ListenerCount() != 0 {
		t.Errorf("ListenerCount = %d, want 0", n.ListenerCount())
	}
	n.Subscribe(func(Event) {})
	n.SubscribeTo(EventSyncSuccess, func(Event) {})
	if n.ListenerCount() != 2 {
		t.Errorf("ListenerCount = %d, want 2", n.ListenerCount())
	}
}

// TestPublishNoListeners verifies publishing into an empty notifier is
// a no-op.
func TestPublishNoListeners(t *testing.T) {
	n := NewNotifier()
	n.Publish(EventSyncCompleted, map[string]interface{}{"successful": 0})
}
