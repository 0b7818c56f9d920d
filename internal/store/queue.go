package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Enqueue appends a pending write for the given message. If an entry for
// the same local id already exists, its payload snapshot and operation kind
// are replaced instead, coalescing rapid edits to one unsent message into a
// single network write. Queue position and attempt counters are preserved
// on coalesce.
func (db *DB) Enqueue(m *Message, opKind string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_queue (local_id, conversation_id, op_kind, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			payload = excluded.payload,
			op_kind = excluded.op_kind,
			updated_at = excluded.updated_at`,
		m.LocalID, m.ConversationID, opKind, encodeJSON(m), now, now)
	return fault("enqueue", err)
}

// DequeueReady returns the oldest entry whose next_attempt_at has passed,
// or nil if none is ready. Only the head entry of each conversation's
// sub-queue is eligible, so a backed-off write never lets a later write to
// the same conversation overtake it. Heads of different conversations may
// interleave freely.
func (db *DB) DequeueReady(now time.Time) (*QueueEntry, error) {
	row := db.QueryRow(`
		SELECT id, local_id, conversation_id, op_kind, attempt_count, next_attempt_at, payload, created_at
		FROM sync_queue q
		WHERE q.next_attempt_at <= ?
		AND NOT EXISTS (
			SELECT 1 FROM sync_queue h
			WHERE h.conversation_id = q.conversation_id AND h.id < q.id
		)
		ORDER BY q.id ASC
		LIMIT 1`, now.UnixMilli())

	var e QueueEntry
	var payload string
	err := row.Scan(&e.ID, &e.LocalID, &e.ConversationID, &e.OpKind,
		&e.AttemptCount, &e.NextAttemptAt, &payload, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fault("dequeue", err)
	}
	if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
		return nil, fault("dequeue", fmt.Errorf("decode payload snapshot: %w", err))
	}
	return &e, nil
}

// Ack removes a queue entry after its write was confirmed or abandoned.
// Acking an absent entry is a no-op.
func (db *DB) Ack(localID string) error {
	_, err := db.Exec(`DELETE FROM sync_queue WHERE local_id = ?`, localID)
	return fault("ack", err)
}

// Requeue increments an entry's attempt count and schedules its next
// attempt after the given delay.
func (db *DB) Requeue(localID string, delay time.Duration) error {
	now := time.Now()
	_, err := db.Exec(`
		UPDATE sync_queue
		SET attempt_count = attempt_count + 1, next_attempt_at = ?, updated_at = ?
		WHERE local_id = ?`,
		now.Add(delay).UnixMilli(), now.UnixMilli(), localID)
	return fault("requeue", err)
}

// QueueDepth returns the number of pending entries.
func (db *DB) QueueDepth() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&n)
	return n, fault("queue depth", err)
}

// QueuedLocalIDs returns the set of local ids currently in the queue.
func (db *DB) QueuedLocalIDs() (map[string]bool, error) {
	rows, err := db.Query(`SELECT local_id FROM sync_queue`)
	if err != nil {
		return nil, fault("queued ids", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fault("queued ids", err)
		}
		out[id] = true
	}
	return out, fault("queued ids", rows.Err())
}

// NextAttemptAt returns the earliest next_attempt_at among eligible head
// entries, or false if the queue is empty. The engine uses it to sleep
// precisely until the next entry becomes ready.
func (db *DB) NextAttemptAt() (time.Time, bool, error) {
	var at sql.NullInt64
	err := db.QueryRow(`
		SELECT MIN(next_attempt_at) FROM sync_queue q
		WHERE NOT EXISTS (
			SELECT 1 FROM sync_queue h
			WHERE h.conversation_id = q.conversation_id AND h.id < q.id
		)`).Scan(&at)
	if err != nil {
		return time.Time{}, false, fault("next attempt", err)
	}
	if !at.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(at.Int64), true, nil
}
