package sync

import (
	"context"
	"sync"
	"time"

	"github.com/mdliss/messageai/internal/bus"
	"github.com/mdliss/messageai/internal/config"
	"github.com/mdliss/messageai/internal/remote"
	"github.com/mdliss/messageai/internal/store"
	"go.uber.org/zap"
)

// Subscriber opens a live remote change stream for one conversation.
type Subscriber interface {
	Subscribe(ctx context.Context, conversationID string) (<-chan remote.ChangeEvent, func(), error)
}

// Ingestor consumes remote-origin change streams for watched conversations
// and applies them to the local store. One goroutine per watched
// conversation; a dropped stream is reopened with the same backoff policy
// the engine uses for writes.
type Ingestor struct {
	db     *store.DB
	sub    Subscriber
	bus    *bus.Bus
	logger *zap.Logger
	cfg    config.SyncConfig

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	watches map[string]*watch
	wg      sync.WaitGroup
}

// watch is one conversation's live stream handle.
type watch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewIngestor creates an ingestor.
func NewIngestor(db *store.DB, sub Subscriber, b *bus.Bus, cfg config.SyncConfig, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		db:      db,
		sub:     sub,
		bus:     b,
		logger:  logger,
		cfg:     cfg,
		watches: make(map[string]*watch),
	}
}

// Start arms the ingestor; watches added before Start are not supported.
func (in *Ingestor) Start(ctx context.Context) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.ctx, in.cancel = context.WithCancel(ctx)
}

// Stop tears down every watch and waits for their goroutines to exit.
func (in *Ingestor) Stop() {
	in.mu.Lock()
	if in.cancel != nil {
		in.cancel()
	}
	in.watches = make(map[string]*watch)
	in.mu.Unlock()
	in.wg.Wait()
}

// Watch starts consuming remote changes for a conversation. Watching an
// already-watched conversation is a no-op.
func (in *Ingestor) Watch(conversationID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.ctx == nil || in.ctx.Err() != nil {
		return
	}
	if _, ok := in.watches[conversationID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(in.ctx)
	w := &watch{cancel: cancel, done: make(chan struct{})}
	in.watches[conversationID] = w
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		defer close(w.done)
		in.run(ctx, conversationID)
	}()
}

// Unwatch stops the conversation's stream and waits for its goroutine to
// exit. Once it returns, no further events for the conversation are
// applied, including ones already buffered in the stream.
func (in *Ingestor) Unwatch(conversationID string) {
	in.mu.Lock()
	w, ok := in.watches[conversationID]
	if ok {
		delete(in.watches, conversationID)
	}
	in.mu.Unlock()
	if ok {
		w.cancel()
		<-w.done
	}
}

// Watched reports whether a conversation currently has a live watch.
func (in *Ingestor) Watched(conversationID string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	_, ok := in.watches[conversationID]
	return ok
}

func (in *Ingestor) run(ctx context.Context, conversationID string) {
	attempt := 0
	for ctx.Err() == nil {
		ch, cancel, err := in.sub.Subscribe(ctx, conversationID)
		if err != nil {
			delay := backoffDelay(in.cfg, attempt)
			attempt++
			in.logger.Warn("subscribe failed",
				zap.String("conversation_id", conversationID),
				zap.Error(err), zap.Duration("retry_in", delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		attempt = 0
		in.logger.Info("watching conversation", zap.String("conversation_id", conversationID))

		open := true
		for open {
			select {
			case <-ctx.Done():
				// Tear the stream down through its own cancel so events
				// still buffered in it are never applied.
				cancel()
				return
			case evt, ok := <-ch:
				if !ok {
					open = false
					break
				}
				in.apply(conversationID, evt)
			}
		}
		cancel()

		if ctx.Err() == nil {
			// The stream dropped out from under us; reopen it.
			delay := backoffDelay(in.cfg, attempt)
			attempt++
			in.logger.Warn("stream closed, resubscribing",
				zap.String("conversation_id", conversationID), zap.Duration("retry_in", delay))
			if !sleep(ctx, delay) {
				return
			}
		}
	}
}

func (in *Ingestor) apply(conversationID string, evt remote.ChangeEvent) {
	if evt.Message == nil {
		return
	}
	m := evt.Message

	if evt.Kind == remote.ChangeRemoved {
		if err := in.db.RemoveMessageByRemoteID(m.RemoteID); err != nil {
			in.logger.Error("remove remote message failed",
				zap.Error(err), zap.String("remote_id", m.RemoteID))
		}
		return
	}

	existing, err := in.db.GetMessage(m.LocalID)
	if err != nil {
		in.logger.Error("lookup before merge failed", zap.Error(err), zap.String("local_id", m.LocalID))
		return
	}
	if err := in.db.ApplyRemoteMessage(m); err != nil {
		in.logger.Error("apply remote message failed", zap.Error(err), zap.String("local_id", m.LocalID))
		return
	}

	// Only a genuinely new remote-authored message counts as unread; echoes
	// of our own writes and modifications do not.
	fresh := existing == nil && evt.Kind == remote.ChangeAdded
	if err := in.db.ApplyMessageToConversation(m, fresh); err != nil {
		in.logger.Error("conversation summary update failed",
			zap.Error(err), zap.String("conversation_id", conversationID))
	}

	in.bus.Publish(bus.Event{Kind: "message.upserted", Payload: map[string]string{
		"conversation_id": conversationID,
		"local_id":        m.LocalID,
	}})
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
