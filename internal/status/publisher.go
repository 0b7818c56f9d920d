package status

import (
	"sync"

	"github.com/mdliss/messageai/internal/bus"
)

// Snapshot is the process-wide sync status consumed by UI banners.
type Snapshot struct {
	PendingCount int
	IsSyncing    bool
	LastError    string
}

// Publisher holds the observable sync status. It is written only from the
// sync engine's single worker loop; everything else just reads. Each change
// is published on the bus as sync.status_changed with the new Snapshot.
type Publisher struct {
	mu   sync.RWMutex
	snap Snapshot
	bus  *bus.Bus
}

// NewPublisher creates a publisher starting at {0, false, none}.
func NewPublisher(b *bus.Bus) *Publisher {
	return &Publisher{bus: b}
}

// Snapshot returns the current status.
func (p *Publisher) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// SetSyncing flips the syncing indicator.
func (p *Publisher) SetSyncing(on bool) {
	p.update(func(s *Snapshot) { s.IsSyncing = on })
}

// SetPending records the current queue depth.
func (p *Publisher) SetPending(n int) {
	if n < 0 {
		n = 0
	}
	p.update(func(s *Snapshot) { s.PendingCount = n })
}

// RecordError surfaces the most recent permanent failure.
func (p *Publisher) RecordError(msg string) {
	p.update(func(s *Snapshot) { s.LastError = msg })
}

// ClearError resets the error; only the explicit retry-all-failed user
// action calls this.
func (p *Publisher) ClearError() {
	p.update(func(s *Snapshot) { s.LastError = "" })
}

func (p *Publisher) update(fn func(*Snapshot)) {
	p.mu.Lock()
	before := p.snap
	fn(&p.snap)
	after := p.snap
	p.mu.Unlock()

	if after == before {
		return
	}
	if p.bus != nil {
		p.bus.Publish(bus.Event{
			Kind:    "sync.status_changed",
			Payload: after,
		})
	}
}
