package events

import "testing"

func TestPublishDeliversToSubscribedHandler(t *testing.T) {
	b := NewBus()
	var got Event
	b.Subscribe(KindTaskCompleted, func(e Event) { got = e })

	b.Publish(Event{Kind: KindTaskCompleted, TaskID: "t1"})

	if got.TaskID != "t1" {
		t.Fatalf("expected handler to receive event for t1, got %+v", got)
	}
}

func TestPublishDoesNotDeliverToOtherKinds(t *testing.T) {
	b := NewBus()
	called := false
	b.Subscribe(KindTaskFailed, func(e Event) { called = true })

	b.Publish(Event{Kind: KindTaskCompleted, TaskID: "t1"})

	if called {
		t.Fatal("expected handler subscribed to a different kind not to be called")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	count := 0
	sub := b.Subscribe(KindTaskCompleted, func(e Event) { count++ })

	b.Publish(Event{Kind: KindTaskCompleted})
	sub.Unsubscribe()
	b.Publish(Event{Kind: KindTaskCompleted})

	if count != 1 {
		t.Fatalf("expected exactly 1 delivery before unsubscribe, got %d", count)
	}
}

func TestPublishSetsTimestampIfZero(t *testing.T) {
	b := NewBus()
	var got Event
	b.Subscribe(KindHealth, func(e Event) { got = e })

	b.Publish(Event{Kind: KindHealth})

	if got.Timestamp.IsZero() {
		t.Fatal("expected Publish to stamp a zero Timestamp")
	}
}
