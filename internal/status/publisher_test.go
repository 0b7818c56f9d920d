package status

import (
	"testing"
	"time"

	"github.com/mdliss/messageai/internal/bus"
)

func TestInitialSnapshot(t *testing.T) {
	p := NewPublisher(nil)
	s := p.Snapshot()
	if s.PendingCount != 0 || s.IsSyncing || s.LastError != "" {
		t.Errorf("initial snapshot = %+v, want zero", s)
	}
}

func TestUpdatesAndClamps(t *testing.T) {
	p := NewPublisher(nil)

	p.SetPending(3)
	p.SetSyncing(true)
	p.RecordError("send rejected")

	s := p.Snapshot()
	if s.PendingCount != 3 || !s.IsSyncing || s.LastError != "send rejected" {
		t.Errorf("snapshot = %+v", s)
	}

	p.SetPending(-1)
	if got := p.Snapshot().PendingCount; got != 0 {
		t.Errorf("pending = %d, want clamped to 0", got)
	}

	p.ClearError()
	if got := p.Snapshot().LastError; got != "" {
		t.Errorf("lastError = %q, want cleared", got)
	}
}

func TestChangeEmitsBusEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	p := NewPublisher(b)
	p.SetPending(1)

	select {
	case evt := <-ch:
		if evt.Kind != "sync.status_changed" {
			t.Errorf("kind = %q", evt.Kind)
		}
		snap, ok := evt.Payload.(Snapshot)
		if !ok || snap.PendingCount != 1 {
			t.Errorf("payload = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}

func TestNoEventWhenUnchanged(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	p := NewPublisher(b)
	p.SetPending(0) // already 0

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
