package events

import (
	"testing"
	"time"
)

// TestPublishReachesSubscriber tests typed subscription delivery
func TestPublishReachesSubscriber(t *testing.T) {
	bus := NewEventBus()
	received := make(chan Event, 1)

	bus.Subscribe(EventExecutionCreated, func(e Event) {
		received <- e
	})

	bus.PublishExecutionCreated(7, 3, "BTCUSDT", "paper", "key-1")

	select {
	case e := <-received:
		if e.Type != EventExecutionCreated {
			t.Errorf("unexpected type %s", e.Type)
		}
		if e.Data["idempotency_key"] != "key-1" {
			t.Errorf("unexpected payload: %v", e.Data)
		}
		if e.Timestamp.IsZero() {
			t.Error("timestamp should be set on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

// TestSubscribeAllSeesEveryType tests the catch-all subscription
func TestSubscribeAllSeesEveryType(t *testing.T) {
	bus := NewEventBus()
	received := make(chan EventType, 2)

	bus.SubscribeAll(func(e Event) {
		received <- e.Type
	})

	bus.PublishRiskRejected("BTCUSDT", []string{"max_daily_loss"})
	bus.PublishError("test", "boom", nil)

	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case et := <-received:
			seen[et] = true
		case <-time.After(time.Second):
			t.Fatal("missing events")
		}
	}
	if !seen[EventRiskRejected] || !seen[EventError] {
		t.Errorf("expected both event types, saw %v", seen)
	}
}

// TestUnsubscribedTypeNotDelivered tests type filtering
func TestUnsubscribedTypeNotDelivered(t *testing.T) {
	bus := NewEventBus()
	received := make(chan Event, 1)

	bus.Subscribe(EventKillSwitchArmed, func(e Event) {
		received <- e
	})

	bus.PublishError("test", "boom", nil)

	select {
	case e := <-received:
		t.Fatalf("unexpected delivery: %v", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}
