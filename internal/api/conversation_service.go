package api

import (
	"github.com/mdliss/messageai/internal/store"
)

// Watcher manages live remote subscriptions per conversation.
type Watcher interface {
	Watch(conversationID string)
	Unwatch(conversationID string)
}

// ConversationService handles conversation-level intents.
type ConversationService struct {
	db      *store.DB
	watcher Watcher
}

// NewConversationService creates the service.
func NewConversationService(db *store.DB, watcher Watcher) *ConversationService {
	return &ConversationService{db: db, watcher: watcher}
}

// List returns conversations ordered by most recent activity.
func (s *ConversationService) List(limit, offset int) ([]store.Conversation, error) {
	return s.db.ListConversations(limit, offset)
}

// Get returns one conversation, or nil if unknown.
func (s *ConversationService) Get(id string) (*store.Conversation, error) {
	return s.db.GetConversation(id)
}

// Upsert creates or updates a conversation's metadata.
func (s *ConversationService) Upsert(c *store.Conversation) error {
	return s.db.UpsertConversation(c)
}

// MarkRead zeroes the unread count for one participant.
func (s *ConversationService) MarkRead(conversationID, participantID string) error {
	return s.db.MarkConversationRead(conversationID, participantID)
}

// Watch opens the conversation's live remote stream. Called when the UI
// starts observing a conversation.
func (s *ConversationService) Watch(conversationID string) {
	s.watcher.Watch(conversationID)
}

// Unwatch cancels the stream once the UI stops observing.
func (s *ConversationService) Unwatch(conversationID string) {
	s.watcher.Unwatch(conversationID)
}
