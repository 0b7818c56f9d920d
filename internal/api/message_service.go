package api

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mdliss/messageai/internal/bus"
	"github.com/mdliss/messageai/internal/push"
	"github.com/mdliss/messageai/internal/store"
	"go.uber.org/zap"
)

// Syncer is the engine surface the API needs.
type Syncer interface {
	RetryAllFailed() (int, error)
}

// Deleter removes messages from the remote store.
type Deleter interface {
	DeleteMessages(ctx context.Context, remoteIDs []string) (int, error)
}

// Pusher dispatches notifications without blocking the caller.
type Pusher interface {
	NotifyAsync(ctx context.Context, note push.Notification)
}

// SendRequest is a new-message intent from presentation code.
type SendRequest struct {
	ConversationID string
	SenderID       string
	SenderName     string
	Type           string
	Body           string
	MediaURL       string
}

// MessageService handles message intents. Sends land locally first and are
// pushed out by the sync engine; callers get an immediately usable pending
// row regardless of connectivity.
type MessageService struct {
	db       *store.DB
	bus      *bus.Bus
	engine   Syncer
	deleter  Deleter
	notifier Pusher
	logger   *zap.Logger
}

// NewMessageService creates the service. notifier may be nil when push is
// not configured.
func NewMessageService(db *store.DB, b *bus.Bus, engine Syncer, deleter Deleter,
	notifier Pusher, logger *zap.Logger) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageService{db: db, bus: b, engine: engine, deleter: deleter,
		notifier: notifier, logger: logger}
}

// Send creates a pending local message and enqueues it for sync.
func (s *MessageService) Send(ctx context.Context, req SendRequest) (*store.Message, error) {
	if req.ConversationID == "" || req.SenderID == "" {
		return nil, fmt.Errorf("conversation and sender are required")
	}
	if req.Body == "" && req.MediaURL == "" {
		return nil, fmt.Errorf("message has no content")
	}
	msgType := req.Type
	if msgType == "" {
		msgType = store.TypeText
	}

	m := &store.Message{
		LocalID:        uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		SenderName:     req.SenderName,
		Type:           msgType,
		Body:           req.Body,
		MediaURL:       req.MediaURL,
		CreatedAt:      time.Now().UnixMilli(),
		Status:         store.StatusPending,
	}
	if err := s.db.UpsertMessage(m); err != nil {
		return nil, err
	}
	if err := s.db.ApplyMessageToConversation(m, false); err != nil {
		return nil, err
	}
	if err := s.db.Enqueue(m, store.OpCreate); err != nil {
		return nil, err
	}
	s.bus.Publish(bus.Event{Kind: "queue.enqueued", Payload: map[string]string{
		"local_id": m.LocalID,
	}})
	s.notifyRecipients(ctx, m)
	return m, nil
}

// Edit replaces the body of an existing message and re-enqueues it. Edits
// to a not-yet-sent message coalesce into its existing queue entry, so
// rapid edits still produce a single network write.
func (s *MessageService) Edit(localID, body string) (*store.Message, error) {
	m, err := s.db.GetMessage(localID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("message %s not found", localID)
	}
	m.Body = body
	if err := s.db.UpsertMessage(m); err != nil {
		return nil, err
	}
	opKind := store.OpCreate
	if m.RemoteID != "" {
		opKind = store.OpUpdate
	}
	if err := s.db.Enqueue(m, opKind); err != nil {
		return nil, err
	}
	s.bus.Publish(bus.Event{Kind: "queue.enqueued", Payload: map[string]string{
		"local_id": m.LocalID,
	}})
	return m, nil
}

// List returns a page of a conversation's messages, newest first.
func (s *MessageService) List(conversationID string, beforeTs int64, limit int) ([]store.Message, error) {
	return s.db.ListMessages(conversationID, beforeTs, limit)
}

// Retry re-enqueues one failed message.
func (s *MessageService) Retry(localID string) error {
	m, err := s.db.GetMessage(localID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("message %s not found", localID)
	}
	if m.Status != store.StatusFailed {
		return fmt.Errorf("message %s is not failed", localID)
	}
	if err := s.db.MarkRetrying(localID); err != nil {
		return err
	}
	m.Status = store.StatusPending
	opKind := store.OpCreate
	if m.RemoteID != "" {
		opKind = store.OpUpdate
	}
	if err := s.db.Enqueue(m, opKind); err != nil {
		return err
	}
	s.bus.Publish(bus.Event{Kind: "queue.enqueued", Payload: map[string]string{
		"local_id": localID,
	}})
	return nil
}

// RetryAllFailed re-enqueues every failed message.
func (s *MessageService) RetryAllFailed() (int, error) {
	return s.engine.RetryAllFailed()
}

// DeleteConversation removes a conversation's messages remotely and, once
// the remote side is fully cleared, locally. Returns how many remote items
// were deleted; on partial remote failure the local copy is kept so the
// operation can be retried. Queue entries referencing deleted messages are
// resolved by the engine as it encounters them.
func (s *MessageService) DeleteConversation(ctx context.Context, conversationID string) (int, error) {
	ids, err := s.db.RemoteMessageIDs(conversationID)
	if err != nil {
		return 0, err
	}
	deleted, err := s.deleter.DeleteMessages(ctx, ids)
	if err != nil {
		return deleted, err
	}
	if err := s.db.DeleteConversationMessages(conversationID); err != nil {
		return deleted, err
	}
	s.logger.Info("conversation deleted",
		zap.String("conversation_id", conversationID), zap.Int("remote_deleted", deleted))
	return deleted, nil
}

// notifyRecipients fires a push to every other participant's devices. Never
// blocks or fails the send.
func (s *MessageService) notifyRecipients(ctx context.Context, m *store.Message) {
	if s.notifier == nil {
		return
	}
	c, err := s.db.GetConversation(m.ConversationID)
	if err != nil || c == nil {
		return
	}
	var tokens []string
	for id, p := range c.ParticipantDetails {
		if id == m.SenderID {
			continue
		}
		tokens = append(tokens, p.DeviceTokens...)
	}
	if len(tokens) == 0 {
		return
	}
	body := m.Body
	if body == "" {
		body = "Sent an attachment"
	}
	s.notifier.NotifyAsync(ctx, push.Notification{
		Tokens: tokens,
		Title:  m.SenderName,
		Body:   body,
		Data:   map[string]string{"conversation_id": m.ConversationID},
	})
}
