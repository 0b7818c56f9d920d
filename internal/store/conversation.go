package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, conv_type, participant_ids, participant_details,
			last_message_body, last_message_sender, last_message_at, unread_counts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conv_type = excluded.conv_type,
			participant_ids = excluded.participant_ids,
			participant_details = excluded.participant_details,
			last_message_body = excluded.last_message_body,
			last_message_sender = excluded.last_message_sender,
			last_message_at = excluded.last_message_at,
			unread_counts = excluded.unread_counts,
			updated_at = excluded.updated_at`,
		c.ID, c.Type, encodeJSON(c.ParticipantIDs), encodeJSON(c.ParticipantDetails),
		c.LastMessageBody, c.LastMessageSender, c.LastMessageAt,
		encodeJSON(c.UnreadCounts), now)
	return fault("upsert conversation", err)
}

// GetConversation returns a single conversation by id, or nil if absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	var participantIDs, participantDetails, unreadCounts string
	err := db.QueryRow(`
		SELECT id, conv_type, participant_ids, participant_details,
			last_message_body, last_message_sender, last_message_at, unread_counts, updated_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Type, &participantIDs, &participantDetails,
			&c.LastMessageBody, &c.LastMessageSender, &c.LastMessageAt, &unreadCounts, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fault("get conversation", err)
	}
	c.ParticipantIDs = decodeStrings(participantIDs)
	c.ParticipantDetails = decodeParticipants(participantDetails)
	c.UnreadCounts = decodeCounts(unreadCounts)
	return &c, nil
}

// ListConversations returns conversations sorted by last message timestamp
// descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, conv_type, participant_ids, participant_details,
			last_message_body, last_message_sender, last_message_at, unread_counts, updated_at
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fault("list conversations", err)
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var participantIDs, participantDetails, unreadCounts string
		if err := rows.Scan(&c.ID, &c.Type, &participantIDs, &participantDetails,
			&c.LastMessageBody, &c.LastMessageSender, &c.LastMessageAt, &unreadCounts, &c.UpdatedAt); err != nil {
			return nil, fault("scan conversation", err)
		}
		c.ParticipantIDs = decodeStrings(participantIDs)
		c.ParticipantDetails = decodeParticipants(participantDetails)
		c.UnreadCounts = decodeCounts(unreadCounts)
		convs = append(convs, c)
	}
	return convs, fault("list conversations", rows.Err())
}

// ApplyMessageToConversation refreshes the denormalized last-message summary
// and, for remote-origin messages, bumps the unread count of every
// participant except the sender. The summary only moves forward in time, so
// an out-of-order history batch cannot regress it. Creates the conversation
// row if this is the first message seen for it.
func (db *DB) ApplyMessageToConversation(m *Message, countUnread bool) error {
	c, err := db.GetConversation(m.ConversationID)
	if err != nil {
		return err
	}
	if c == nil {
		c = &Conversation{
			ID:           m.ConversationID,
			Type:         ConvDirect,
			UnreadCounts: make(map[string]int),
		}
	}
	if m.CreatedAt >= c.LastMessageAt {
		c.LastMessageBody = m.Body
		c.LastMessageSender = m.SenderID
		c.LastMessageAt = m.CreatedAt
	}
	if countUnread {
		if c.UnreadCounts == nil {
			c.UnreadCounts = make(map[string]int)
		}
		for _, pid := range c.ParticipantIDs {
			if pid != m.SenderID {
				c.UnreadCounts[pid]++
			}
		}
	}
	return db.UpsertConversation(c)
}

// MarkConversationRead zeroes the unread count for one participant.
func (db *DB) MarkConversationRead(conversationID, participantID string) error {
	c, err := db.GetConversation(conversationID)
	if err != nil || c == nil {
		return err
	}
	if c.UnreadCounts == nil || c.UnreadCounts[participantID] == 0 {
		return nil
	}
	c.UnreadCounts[participantID] = 0
	return db.UpsertConversation(c)
}
