package event

import (
	"testing"
)

func TestBus_SubscribePublish(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.Subscribe("stage.completed", func(ev Event) {
		got = append(got, ev.EventType())
	})

	bus.Publish(NewStageCompletedEvent("gs-a", "score", "route", 3))
	bus.Publish(NewSessionCompletedEvent("gs-a", 2, 1, 2)) // not subscribed

	if len(got) != 1 || got[0] != "stage.completed" {
		t.Errorf("handled events = %v", got)
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()

	count := 0
	bus.SubscribeAll(func(ev Event) { count++ })

	bus.Publish(NewSessionStartedEvent("gs-a", "planning"))
	bus.Publish(NewInterruptRaisedEvent("gs-a", "approval", []string{"WI-001"}, "decision needed"))

	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	id := bus.Subscribe("session.failed", func(ev Event) { count++ })

	bus.Publish(NewSessionFailedEvent("gs-a", "detect", "empty transcript"))
	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe returned false for a live subscription")
	}
	bus.Publish(NewSessionFailedEvent("gs-a", "detect", "empty transcript"))

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if bus.Unsubscribe(id) {
		t.Error("Unsubscribe returned true twice for the same id")
	}
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()

	delivered := false
	bus.SubscribeAll(func(ev Event) { panic("handler bug") })
	bus.SubscribeAll(func(ev Event) { delivered = true })

	bus.Publish(NewSessionResumedEvent("gs-a", "approval"))

	if !delivered {
		t.Error("panic in one handler suppressed delivery to the next")
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("stage.completed", func(ev Event) {})
	bus.SubscribeAll(func(ev Event) {})

	if bus.SubscriptionCount() != 2 {
		t.Fatalf("count = %d, want 2", bus.SubscriptionCount())
	}
	bus.Clear()
	if bus.SubscriptionCount() != 0 {
		t.Errorf("count after Clear = %d", bus.SubscriptionCount())
	}
}
