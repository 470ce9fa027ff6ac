package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventConnectivityChanged, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	err := bus.PublishJSON(EventConnectivityChanged, ConnectivityPayload{Online: true, At: time.Now()})
	if err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}

	if received.Type != EventConnectivityChanged {
		t.Errorf("expected type %s, got %s", EventConnectivityChanged, received.Type)
	}

	var decoded ConnectivityPayload
	if err := json.Unmarshal(received.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}

	if !decoded.Online {
		t.Errorf("expected online transition, got %+v", decoded)
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe(EventSyncCompleted, func(_ *Event) error { count1++; return nil })
	bus.Subscribe(EventSyncCompleted, func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: EventSyncCompleted})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	var first, second, third int

	bus.Subscribe("event", func(_ *Event) error { first++; return nil })
	unsub := bus.Subscribe("event", func(_ *Event) error { second++; return nil })
	bus.Subscribe("event", func(_ *Event) error { third++; return nil })

	bus.Publish(&Event{Type: "event"})
	if first != 1 || second != 1 || third != 1 {
		t.Fatalf("expected all handlers called, got %d %d %d", first, second, third)
	}

	unsub()
	bus.Publish(&Event{Type: "event"})
	if first != 2 || second != 1 || third != 2 {
		t.Errorf("expected middle handler removed, got %d %d %d", first, second, third)
	}

	// Calling unsubscribe again must not remove anyone else.
	unsub()
	bus.Publish(&Event{Type: "event"})
	if first != 3 || second != 1 || third != 3 {
		t.Errorf("expected repeat unsubscribe to be a no-op, got %d %d %d", first, second, third)
	}
}

func TestEventBusUnsubscribeDuringLifetime(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	var unsub func()
	unsub = bus.Subscribe("event", func(_ *Event) error {
		calls++
		unsub()
		return nil
	})

	bus.Publish(&Event{Type: "event"})
	bus.Publish(&Event{Type: "event"})

	if calls != 1 {
		t.Errorf("expected handler to run once after self-unsubscribe, got %d", calls)
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Should not panic
	bus.Publish(&Event{Type: "unknown"})
	err := bus.PublishJSON("unknown", nil)
	if err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}
}

func TestNewJSONEvent(t *testing.T) {
	payload := SyncCompletedPayload{OK: true, Attempted: 3, Succeeded: 3}
	event, err := NewJSONEvent(EventSyncCompleted, payload)
	if err != nil {
		t.Fatalf("NewJSONEvent failed: %v", err)
	}

	if event.Type != EventSyncCompleted {
		t.Errorf("expected %s, got %s", EventSyncCompleted, event.Type)
	}

	if event.CreatedAt.IsZero() {
		t.Errorf("expected CreatedAt to be set")
	}

	var decoded SyncCompletedPayload
	if err := json.Unmarshal(event.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	if !decoded.OK || decoded.Attempted != 3 {
		t.Errorf("unexpected payload: %+v", decoded)
	}
}
