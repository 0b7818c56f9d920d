package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/mdliss/messageai/internal/bus"
	"go.uber.org/zap"
)

// Event is the payload of net.connected / net.disconnected bus events.
type Event struct {
	Connected bool
	Interface string
}

// Prober checks whether the network is reachable right now and reports the
// interface kind it used. Probes may run at high frequency; the Monitor is
// responsible for turning them into edge-triggered events.
type Prober interface {
	Probe(ctx context.Context) (ok bool, iface string)
}

// DialProber probes reachability by opening a TCP connection.
type DialProber struct {
	Addr    string
	Timeout time.Duration
}

func (p *DialProber) Probe(ctx context.Context) (bool, string) {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false, ""
	}
	_ = conn.Close()
	return true, "tcp"
}

// Monitor polls a Prober and publishes an event only when the boolean
// reachability value changes, never on every probe. Consumers subscribe to
// the "net." namespace on the bus; the subscription is the infinite,
// subscribe-once transition sequence.
type Monitor struct {
	prober   Prober
	bus      *bus.Bus
	interval time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	connected bool
	iface     string

	cancel context.CancelFunc
}

// NewMonitor creates a monitor. It starts in the disconnected state until
// the first probe says otherwise.
func NewMonitor(prober Prober, b *bus.Bus, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		prober:   prober,
		bus:      b,
		interval: interval,
		logger:   logger,
	}
}

// Start begins probing in the background. The first probe runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
}

// Stop stops the monitor.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Connected returns the current reachability value.
func (m *Monitor) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// InterfaceType returns the interface kind of the last successful probe.
func (m *Monitor) InterfaceType() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.iface
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ticker.C:
			m.probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	ok, iface := m.prober.Probe(ctx)

	m.mu.Lock()
	changed := ok != m.connected
	m.connected = ok
	if ok {
		m.iface = iface
	}
	m.mu.Unlock()

	if !changed {
		return
	}

	kind := "net.disconnected"
	if ok {
		kind = "net.connected"
	}
	if m.logger != nil {
		m.logger.Info("connectivity changed", zap.Bool("connected", ok), zap.String("interface", iface))
	}
	m.bus.Publish(bus.Event{
		Kind:    kind,
		Payload: Event{Connected: ok, Interface: iface},
	})
}
