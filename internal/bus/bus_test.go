package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: "sync.status_changed", Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != "sync.status_changed" {
			t.Errorf("got kind %q, want sync.status_changed", evt.Kind)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("net.", 10)
	defer unsub()

	b.Publish(Event{Kind: "queue.enqueued"})
	b.Publish(Event{Kind: "net.connected"})

	select {
	case evt := <-ch:
		if evt.Kind != "net.connected" {
			t.Errorf("got kind %q, want net.connected", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The queue event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("net.", 10)
	unsub()

	b.Publish(Event{Kind: "net.connected"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	// Buffer is full; this one is dropped rather than blocking.
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}
