package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/mdliss/messageai/internal/store"
	"go.uber.org/zap"
)

const messagesCollection = "messages"

// ChangeEvent is an entity-level change derived from the document stream.
type ChangeEvent struct {
	Kind    ChangeKind
	Message *store.Message
}

// Adapter translates sync engine operations into remote document-store
// calls and adapts the live document stream into entity-level change
// events.
type Adapter struct {
	store     DocumentStore
	chunkSize int
	logger    *zap.Logger
}

// NewAdapter creates an adapter. chunkSize is the remote store's
// per-request item limit for batched deletes.
func NewAdapter(ds DocumentStore, chunkSize int, logger *zap.Logger) *Adapter {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &Adapter{store: ds, chunkSize: chunkSize, logger: logger}
}

// WriteMessage pushes one queued payload snapshot to the remote store and
// returns the authoritative remote id. Creates add a fresh document;
// updates patch the already-assigned document in place. The local id
// round-trips inside the document so every client can recognize its own
// echo on the subscription stream.
func (a *Adapter) WriteMessage(ctx context.Context, m *store.Message, opKind string) (string, error) {
	if opKind == store.OpUpdate && m.RemoteID != "" {
		err := a.store.Update(ctx, messagesCollection, m.RemoteID, map[string]any{
			"body":      m.Body,
			"media_url": m.MediaURL,
			"status":    m.Status,
		})
		if err != nil {
			return "", fmt.Errorf("update message %s: %w", m.RemoteID, err)
		}
		return m.RemoteID, nil
	}

	id, err := a.store.Add(ctx, messagesCollection, docFromMessage(m))
	if err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}
	return id, nil
}

// Subscribe opens a live change stream for one conversation. The returned
// cancel function blocks until the stream is torn down; after it returns,
// no further events are delivered and the channel is closed.
func (a *Adapter) Subscribe(ctx context.Context, conversationID string) (<-chan ChangeEvent, func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	raw, err := a.store.Listen(subCtx, messagesCollection, Query{
		Filters: []Filter{{Field: "conversation_id", Op: OpEqual, Value: conversationID}},
		OrderBy: "created_at",
	})
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("listen %s: %w", conversationID, err)
	}

	out := make(chan ChangeEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		for {
			select {
			case <-subCtx.Done():
				return
			case dc, ok := <-raw:
				if !ok {
					return
				}
				msg := messageFromDoc(dc.Doc)
				select {
				case out <- ChangeEvent{Kind: dc.Kind, Message: msg}:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return out, func() {
		cancel()
		<-done
	}, nil
}

// DeleteMessages removes documents in chunks of the remote per-request
// limit. Each chunk commits independently: a failed chunk does not roll
// back chunks already committed, and remaining chunks are still attempted.
// Returns how many items were actually deleted.
func (a *Adapter) DeleteMessages(ctx context.Context, remoteIDs []string) (int, error) {
	deleted := 0
	var errs []error
	for start := 0; start < len(remoteIDs); start += a.chunkSize {
		end := min(start+a.chunkSize, len(remoteIDs))
		chunk := remoteIDs[start:end]
		if err := a.store.DeleteBatch(ctx, messagesCollection, chunk); err != nil {
			if a.logger != nil {
				a.logger.Warn("delete chunk failed",
					zap.Int("offset", start), zap.Int("size", len(chunk)), zap.Error(err))
			}
			errs = append(errs, err)
			continue
		}
		deleted += len(chunk)
	}
	return deleted, errors.Join(errs...)
}

// docFromMessage flattens a message into remote document fields.
func docFromMessage(m *store.Message) map[string]any {
	return map[string]any{
		"local_id":        m.LocalID,
		"conversation_id": m.ConversationID,
		"sender_id":       m.SenderID,
		"sender_name":     m.SenderName,
		"type":            m.Type,
		"body":            m.Body,
		"media_url":       m.MediaURL,
		"created_at":      m.CreatedAt,
		"status":          m.Status,
		"delivered_to":    m.DeliveredTo,
		"read_by":         m.ReadBy,
	}
}

// messageFromDoc rebuilds a message from remote document fields. Missing
// or oddly-typed fields degrade to zero values rather than failing; the
// remote schema is not under this client's control.
func messageFromDoc(doc Document) *store.Message {
	m := &store.Message{
		RemoteID:       doc.ID,
		LocalID:        docString(doc.Data, "local_id"),
		ConversationID: docString(doc.Data, "conversation_id"),
		SenderID:       docString(doc.Data, "sender_id"),
		SenderName:     docString(doc.Data, "sender_name"),
		Type:           docString(doc.Data, "type"),
		Body:           docString(doc.Data, "body"),
		MediaURL:       docString(doc.Data, "media_url"),
		CreatedAt:      docInt(doc.Data, "created_at"),
		Status:         docString(doc.Data, "status"),
		DeliveredTo:    docStrings(doc.Data, "delivered_to"),
		ReadBy:         docStrings(doc.Data, "read_by"),
		IsSynced:       true,
	}
	if m.LocalID == "" {
		// A document written by a client that predates local ids; key it
		// by the remote id so upserts stay idempotent.
		m.LocalID = doc.ID
	}
	return m
}

func docString(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func docInt(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func docStrings(data map[string]any, key string) []string {
	switch v := data[key].(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
