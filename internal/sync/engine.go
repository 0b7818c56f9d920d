package sync

import (
	"context"
	"math/rand"
	"time"

	"github.com/mdliss/messageai/internal/bus"
	"github.com/mdliss/messageai/internal/config"
	"github.com/mdliss/messageai/internal/remote"
	"github.com/mdliss/messageai/internal/status"
	"github.com/mdliss/messageai/internal/store"
	"go.uber.org/zap"
)

// Writer pushes queued payload snapshots to the remote store.
type Writer interface {
	WriteMessage(ctx context.Context, m *store.Message, opKind string) (string, error)
}

// Connectivity reports current reachability. Edge events arrive separately
// via the bus "net." namespace.
type Connectivity interface {
	Connected() bool
}

type engineState int

const (
	stateIdle engineState = iota
	stateSyncing
	statePaused
	stateBackoff
)

// Engine drains the durable sync queue against the remote store. It is the
// single writer of the queue and the status publisher: one worker loop per
// process, so per-conversation FIFO ordering needs no further locking.
//
// The loop is a four-state machine. Idle waits for work, Syncing drains
// ready entries, Paused (disconnected) attempts nothing regardless of
// timers, and Backoff sleeps out a retry delay; a fresh connected edge
// short-circuits it, since the failure may have been connectivity-caused.
type Engine struct {
	db     *store.DB
	writer Writer
	net    Connectivity
	status *status.Publisher
	bus    *bus.Bus
	logger *zap.Logger
	cfg    config.SyncConfig

	cancel context.CancelFunc
}

// NewEngine creates a sync engine.
func NewEngine(db *store.DB, w Writer, net Connectivity, st *status.Publisher,
	b *bus.Bus, cfg config.SyncConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		writer: w,
		net:    net,
		status: st,
		bus:    b,
		logger: logger,
		cfg:    cfg,
	}
}

// Start launches the worker loop. It subscribes to connectivity edges and
// enqueue notifications on the bus; a periodic wake timer covers any
// dropped signals.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	netCh, unsubNet := e.bus.Subscribe("net.", 16)
	queueCh, unsubQueue := e.bus.Subscribe("queue.", 64)

	go func() {
		defer unsubNet()
		defer unsubQueue()
		e.loop(ctx, netCh, queueCh)
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) loop(ctx context.Context, netCh, queueCh <-chan bus.Event) {
	e.reconcile()
	e.refreshPending()

	state := statePaused
	if e.net.Connected() {
		// Drain whatever survived the last shutdown.
		state = stateSyncing
	}

	wake := time.NewTimer(e.cfg.WakeInterval.Duration)
	defer wake.Stop()

	var backoffUntil time.Time

	for {
		switch state {
		case statePaused:
			e.status.SetSyncing(false)
			select {
			case <-ctx.Done():
				return
			case evt := <-netCh:
				if evt.Kind == "net.connected" {
					state = stateSyncing
				}
			case <-queueCh:
				// Track depth for the UI, but attempt nothing.
				e.refreshPending()
			}

		case stateIdle:
			e.status.SetSyncing(false)
			select {
			case <-ctx.Done():
				return
			case evt := <-netCh:
				if evt.Kind == "net.disconnected" {
					state = statePaused
				} else {
					state = stateSyncing
				}
			case <-queueCh:
				e.refreshPending()
				if e.net.Connected() {
					state = stateSyncing
				} else {
					state = statePaused
				}
			case <-wake.C:
				wake.Reset(e.cfg.WakeInterval.Duration)
				if e.net.Connected() {
					state = stateSyncing
				}
			}

		case stateBackoff:
			select {
			case <-ctx.Done():
				return
			case evt := <-netCh:
				if evt.Kind == "net.disconnected" {
					state = statePaused
				} else {
					state = stateSyncing
				}
			case <-queueCh:
				e.refreshPending()
			case <-time.After(time.Until(backoffUntil)):
				state = stateSyncing
			}

		case stateSyncing:
			backoffUntil, state = e.drain(ctx)
		}
	}
}

// drain processes ready entries until the queue is exhausted, connectivity
// drops, or an entry enters backoff. Returns the next state and, for
// Backoff, when to resume.
func (e *Engine) drain(ctx context.Context) (time.Time, engineState) {
	e.status.SetSyncing(true)
	defer e.status.SetSyncing(false)

	for {
		if ctx.Err() != nil {
			return time.Time{}, stateIdle
		}
		if !e.net.Connected() {
			return time.Time{}, statePaused
		}

		entry, err := e.db.DequeueReady(time.Now())
		if err != nil {
			// Local I/O; retry at the next scheduled pass.
			e.logger.Error("dequeue failed", zap.Error(err))
			return time.Now().Add(e.cfg.BaseDelay.Duration), stateBackoff
		}
		if entry == nil {
			at, ok, err := e.db.NextAttemptAt()
			if err != nil {
				e.logger.Error("next attempt lookup failed", zap.Error(err))
				return time.Time{}, stateIdle
			}
			if !ok {
				return time.Time{}, stateIdle
			}
			if at.After(time.Now()) {
				return at, stateBackoff
			}
			continue
		}

		if until, next := e.process(ctx, entry); next != stateSyncing {
			return until, next
		}
	}
}

// process attempts one queue entry against the remote store.
func (e *Engine) process(ctx context.Context, entry *store.QueueEntry) (time.Time, engineState) {
	msg, err := e.db.GetMessage(entry.LocalID)
	if err != nil {
		e.logger.Error("load message failed", zap.Error(err), zap.String("local_id", entry.LocalID))
		return time.Now().Add(e.cfg.BaseDelay.Duration), stateBackoff
	}
	if msg == nil {
		// The referenced message no longer exists: already resolved.
		_ = e.db.Ack(entry.LocalID)
		e.refreshPending()
		return time.Time{}, stateSyncing
	}

	snapshot := entry.Payload
	remoteID, err := e.writer.WriteMessage(ctx, &snapshot, entry.OpKind)
	if err == nil {
		if serr := e.db.MarkSynced(entry.LocalID, remoteID); serr != nil {
			// Remote write landed but the local confirmation did not.
			// Keep the entry and try again shortly; the echo merge keyed
			// on local_id keeps the local side deduplicated.
			e.logger.Error("mark synced failed", zap.Error(serr), zap.String("local_id", entry.LocalID))
			return time.Now().Add(e.cfg.BaseDelay.Duration), stateBackoff
		}
		_ = e.db.Ack(entry.LocalID)
		e.refreshPending()
		e.logger.Info("message synced",
			zap.String("local_id", entry.LocalID), zap.String("remote_id", remoteID))
		e.bus.Publish(bus.Event{Kind: "message.send_ack", Payload: map[string]string{
			"local_id":  entry.LocalID,
			"remote_id": remoteID,
		}})
		e.bus.Publish(bus.Event{Kind: "message.upserted", Payload: map[string]string{
			"conversation_id": entry.ConversationID,
			"local_id":        entry.LocalID,
		}})
		return time.Time{}, stateSyncing
	}

	if remote.IsRetryable(err) && entry.AttemptCount+1 < e.cfg.MaxAttempts {
		delay := backoffDelay(e.cfg, entry.AttemptCount)
		_ = e.db.Requeue(entry.LocalID, delay)
		e.logger.Warn("send failed, backing off",
			zap.Error(err), zap.String("local_id", entry.LocalID),
			zap.Int("attempt", entry.AttemptCount+1), zap.Duration("delay", delay))
		return time.Now().Add(delay), stateBackoff
	}

	// Permanent failure, or the retry budget is spent. Surface it and move
	// on so one poisoned entry never blocks the queue.
	_ = e.db.MarkSendFailed(entry.LocalID)
	_ = e.db.Ack(entry.LocalID)
	e.refreshPending()
	e.status.RecordError(err.Error())
	e.logger.Error("send failed permanently",
		zap.Error(err), zap.String("local_id", entry.LocalID),
		zap.Int("attempts", entry.AttemptCount+1))
	e.bus.Publish(bus.Event{Kind: "message.send_failed", Payload: map[string]string{
		"conversation_id": entry.ConversationID,
		"local_id":        entry.LocalID,
		"error":           err.Error(),
	}})
	return time.Time{}, stateSyncing
}

// RetryAllFailed re-enqueues every permanently failed message and clears
// the published error. Returns how many messages were re-enqueued.
func (e *Engine) RetryAllFailed() (int, error) {
	failed, err := e.db.ListFailedMessages()
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range failed {
		m := failed[i]
		if err := e.db.MarkRetrying(m.LocalID); err != nil {
			return n, err
		}
		m.Status = store.StatusPending
		opKind := store.OpCreate
		if m.RemoteID != "" {
			opKind = store.OpUpdate
		}
		if err := e.db.Enqueue(&m, opKind); err != nil {
			return n, err
		}
		n++
	}
	e.status.ClearError()
	e.refreshPending()
	if n > 0 {
		e.bus.Publish(bus.Event{Kind: "queue.enqueued", Payload: map[string]int{"count": n}})
	}
	return n, nil
}

// reconcile restores the unsynced-implies-queued invariant after a crash
// that landed between the message upsert and its enqueue.
func (e *Engine) reconcile() {
	unsynced, err := e.db.ListUnsyncedMessages()
	if err != nil {
		e.logger.Error("reconcile: list unsynced failed", zap.Error(err))
		return
	}
	queued, err := e.db.QueuedLocalIDs()
	if err != nil {
		e.logger.Error("reconcile: list queue failed", zap.Error(err))
		return
	}
	for i := range unsynced {
		m := unsynced[i]
		if m.Status == store.StatusFailed || queued[m.LocalID] {
			continue
		}
		e.logger.Warn("re-enqueueing orphaned unsynced message", zap.String("local_id", m.LocalID))
		if err := e.db.Enqueue(&m, store.OpCreate); err != nil {
			e.logger.Error("reconcile: enqueue failed", zap.Error(err))
		}
	}
}

func (e *Engine) refreshPending() {
	depth, err := e.db.QueueDepth()
	if err != nil {
		e.logger.Error("queue depth failed", zap.Error(err))
		return
	}
	e.status.SetPending(depth)
}

// backoffDelay computes base * 2^min(attempt, cap), jittered by
// ±cfg.JitterFraction.
func backoffDelay(cfg config.SyncConfig, attempt int) time.Duration {
	shift := attempt
	if shift > cfg.ExponentCap {
		shift = cfg.ExponentCap
	}
	d := cfg.BaseDelay.Duration << uint(shift)
	if cfg.JitterFraction > 0 {
		factor := 1 + (rand.Float64()*2-1)*cfg.JitterFraction
		d = time.Duration(float64(d) * factor)
	}
	return d
}
