package store

import (
	"database/sql"
	"time"
)

const messageCols = `local_id, remote_id, conversation_id, sender_id, sender_name,
	msg_type, body, media_url, created_at, status, delivered_to, read_by, is_synced`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (*Message, error) {
	var m Message
	var remoteID sql.NullString
	var deliveredTo, readBy string
	if err := r.Scan(&m.LocalID, &remoteID, &m.ConversationID, &m.SenderID, &m.SenderName,
		&m.Type, &m.Body, &m.MediaURL, &m.CreatedAt, &m.Status, &deliveredTo, &readBy, &m.IsSynced); err != nil {
		return nil, err
	}
	m.RemoteID = remoteID.String
	m.DeliveredTo = decodeStrings(deliveredTo)
	m.ReadBy = decodeStrings(readBy)
	return &m, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpsertMessage inserts or updates a message, idempotent on local_id.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (local_id, remote_id, conversation_id, sender_id, sender_name,
			msg_type, body, media_url, created_at, status, delivered_to, read_by, is_synced, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			remote_id = COALESCE(excluded.remote_id, messages.remote_id),
			sender_name = excluded.sender_name,
			body = excluded.body,
			media_url = excluded.media_url,
			status = excluded.status,
			delivered_to = excluded.delivered_to,
			read_by = excluded.read_by,
			is_synced = excluded.is_synced,
			updated_at = excluded.updated_at`,
		m.LocalID, nullable(m.RemoteID), m.ConversationID, m.SenderID, m.SenderName,
		m.Type, m.Body, m.MediaURL, m.CreatedAt, m.Status,
		encodeJSON(m.DeliveredTo), encodeJSON(m.ReadBy), m.IsSynced, now)
	return fault("upsert message", err)
}

// GetMessage returns a message by local id, or nil if absent.
func (db *DB) GetMessage(localID string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(
		`SELECT `+messageCols+` FROM messages WHERE local_id = ?`, localID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fault("get message", err)
	}
	return m, nil
}

// ListMessages returns messages for a conversation using keyset pagination
// by created_at descending.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageCols+`
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, fault("list messages", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fault("scan message", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, fault("list messages", rows.Err())
}

// ListUnsyncedMessages returns all messages not yet confirmed remotely,
// ordered by created_at ascending. The query is restartable, not a stream.
func (db *DB) ListUnsyncedMessages() ([]Message, error) {
	rows, err := db.Query(`
		SELECT ` + messageCols + `
		FROM messages
		WHERE is_synced = 0
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fault("list unsynced", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fault("scan message", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, fault("list unsynced", rows.Err())
}

// ListFailedMessages returns messages whose send failed permanently.
func (db *DB) ListFailedMessages() ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageCols+`
		FROM messages
		WHERE status = ?
		ORDER BY created_at ASC`, StatusFailed)
	if err != nil {
		return nil, fault("list failed", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fault("scan message", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, fault("list failed", rows.Err())
}

// MarkSynced atomically assigns the authoritative remote id and flips the
// message to synced. Calling it twice with the same arguments leaves state
// identical to calling it once.
func (db *DB) MarkSynced(localID, remoteID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE messages
		SET remote_id = ?, is_synced = 1,
			status = CASE WHEN status = ? THEN ? ELSE status END,
			updated_at = ?
		WHERE local_id = ?`,
		remoteID, StatusPending, StatusSent, now, localID)
	return fault("mark synced", err)
}

// MarkSendFailed marks a message as permanently failed to send.
func (db *DB) MarkSendFailed(localID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE messages SET status = ?, updated_at = ? WHERE local_id = ?`,
		StatusFailed, now, localID)
	return fault("mark send failed", err)
}

// MarkRetrying flips a failed message back to pending ahead of re-enqueueing.
func (db *DB) MarkRetrying(localID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE messages SET status = ?, updated_at = ? WHERE local_id = ? AND status = ?`,
		StatusPending, now, localID, StatusFailed)
	return fault("mark retrying", err)
}

// ApplyRemoteMessage merges a remote-origin change into the local store.
//
// Merge rule: if the event's local id matches a currently unsynced local
// row, this is our own echo coming back: confirm the row in place, keeping
// the in-flight local payload and taking only the server-authoritative
// fields (remote id, delivery status, receipts). Otherwise it is someone
// else's message (or an update to an already-synced one) and the remote copy
// wins wholesale.
func (db *DB) ApplyRemoteMessage(rm *Message) error {
	existing, err := db.GetMessage(rm.LocalID)
	if err != nil {
		return err
	}

	if existing != nil && !existing.IsSynced {
		now := time.Now().UnixMilli()
		_, err := db.Exec(`
			UPDATE messages
			SET remote_id = ?, is_synced = 1, status = ?,
				delivered_to = ?, read_by = ?, updated_at = ?
			WHERE local_id = ?`,
			rm.RemoteID,
			maxStatus(maxStatus(existing.Status, StatusSent), rm.Status),
			encodeJSON(unionStrings(existing.DeliveredTo, rm.DeliveredTo)),
			encodeJSON(unionStrings(existing.ReadBy, rm.ReadBy)),
			now, rm.LocalID)
		return fault("confirm message", err)
	}

	merged := *rm
	merged.IsSynced = true
	if existing != nil {
		merged.Status = maxStatus(existing.Status, rm.Status)
		merged.DeliveredTo = unionStrings(existing.DeliveredTo, rm.DeliveredTo)
		merged.ReadBy = unionStrings(existing.ReadBy, rm.ReadBy)
	}
	return db.UpsertMessage(&merged)
}

// RemoveMessageByRemoteID deletes a message removed at the remote store.
func (db *DB) RemoveMessageByRemoteID(remoteID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE remote_id = ?`, remoteID)
	return fault("remove message", err)
}

// RemoteMessageIDs returns the remote ids of all synced messages in a
// conversation, for bulk-delete flows.
func (db *DB) RemoteMessageIDs(conversationID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT remote_id FROM messages
		WHERE conversation_id = ? AND remote_id IS NOT NULL
		ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, fault("remote ids", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fault("remote ids", err)
		}
		ids = append(ids, id)
	}
	return ids, fault("remote ids", rows.Err())
}

// DeleteConversationMessages hard-deletes all local message rows of a
// conversation. Used only by explicit cleanup flows.
func (db *DB) DeleteConversationMessages(conversationID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	return fault("delete conversation messages", err)
}
