package store

import (
	"path/filepath"
	"reflect"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &Message{LocalID: "l1", ConversationID: "c1", Type: TypeText, Body: "hello",
		CreatedAt: 1000, Status: StatusPending}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Body = "hello updated"
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Body != "hello updated" {
		t.Errorf("body = %q, want hello updated", msgs[0].Body)
	}
}

func TestListUnsyncedOrdering(t *testing.T) {
	db := testDB(t)

	for _, m := range []*Message{
		{LocalID: "l2", ConversationID: "c1", Type: TypeText, CreatedAt: 2000, Status: StatusPending},
		{LocalID: "l1", ConversationID: "c1", Type: TypeText, CreatedAt: 1000, Status: StatusPending},
		{LocalID: "l3", ConversationID: "c1", Type: TypeText, CreatedAt: 3000, Status: StatusSent, IsSynced: true},
	} {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	unsynced, err := db.ListUnsyncedMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(unsynced) != 2 {
		t.Fatalf("got %d unsynced, want 2", len(unsynced))
	}
	if unsynced[0].LocalID != "l1" || unsynced[1].LocalID != "l2" {
		t.Errorf("order = %s,%s, want l1,l2 (created_at ascending)", unsynced[0].LocalID, unsynced[1].LocalID)
	}
}

func TestMarkSyncedIdempotent(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{LocalID: "l1", ConversationID: "c1",
		Type: TypeText, Body: "hi", CreatedAt: 1000, Status: StatusPending}); err != nil {
		t.Fatal(err)
	}

	if err := db.MarkSynced("l1", "r1"); err != nil {
		t.Fatal(err)
	}
	first, err := db.GetMessage("l1")
	if err != nil {
		t.Fatal(err)
	}

	// Second call with the same arguments must leave state identical.
	if err := db.MarkSynced("l1", "r1"); err != nil {
		t.Fatal(err)
	}
	second, err := db.GetMessage("l1")
	if err != nil {
		t.Fatal(err)
	}

	if first.RemoteID != "r1" || !first.IsSynced || first.Status != StatusSent {
		t.Errorf("after first call: %+v", first)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("second MarkSynced changed state: %+v vs %+v", first, second)
	}
}

func TestMarkSyncedKeepsLaterStatus(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{LocalID: "l1", ConversationID: "c1",
		Type: TypeText, CreatedAt: 1000, Status: StatusDelivered, IsSynced: true}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkSynced("l1", "r1"); err != nil {
		t.Fatal(err)
	}
	m, _ := db.GetMessage("l1")
	if m.Status != StatusDelivered {
		t.Errorf("status = %q, want delivered (must not regress)", m.Status)
	}
}

func TestApplyRemoteMessageEcho(t *testing.T) {
	db := testDB(t)

	// Local unsent message.
	if err := db.UpsertMessage(&Message{LocalID: "l1", ConversationID: "c1",
		SenderID: "me", Type: TypeText, Body: "local body", CreatedAt: 1000,
		Status: StatusPending}); err != nil {
		t.Fatal(err)
	}

	// Remote echo referencing the same local id.
	if err := db.ApplyRemoteMessage(&Message{LocalID: "l1", RemoteID: "r1",
		ConversationID: "c1", SenderID: "me", Type: TypeText, Body: "server copy",
		CreatedAt: 1000, Status: StatusDelivered, DeliveredTo: []string{"u2"}}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d rows, want 1 (echo must not duplicate)", len(msgs))
	}
	m := msgs[0]
	if m.Body != "local body" {
		t.Errorf("body = %q, want local body (in-flight payload wins)", m.Body)
	}
	if m.RemoteID != "r1" || !m.IsSynced {
		t.Errorf("remote fields not applied: %+v", m)
	}
	if m.Status != StatusDelivered {
		t.Errorf("status = %q, want delivered (server authoritative)", m.Status)
	}
	if len(m.DeliveredTo) != 1 || m.DeliveredTo[0] != "u2" {
		t.Errorf("deliveredTo = %v, want [u2]", m.DeliveredTo)
	}
}

func TestApplyRemoteMessageNewRow(t *testing.T) {
	db := testDB(t)

	if err := db.ApplyRemoteMessage(&Message{LocalID: "other-l9", RemoteID: "r9",
		ConversationID: "c1", SenderID: "them", Type: TypeText, Body: "hey",
		CreatedAt: 2000, Status: StatusSent}); err != nil {
		t.Fatal(err)
	}

	m, err := db.GetMessage("other-l9")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || !m.IsSynced || m.Body != "hey" {
		t.Errorf("remote message not inserted as synced row: %+v", m)
	}
}

func TestApplyRemoteMessageReceiptUnion(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{LocalID: "l1", RemoteID: "r1", ConversationID: "c1",
		Type: TypeText, CreatedAt: 1000, Status: StatusDelivered, IsSynced: true,
		DeliveredTo: []string{"u1"}, ReadBy: []string{"u1"}}); err != nil {
		t.Fatal(err)
	}

	if err := db.ApplyRemoteMessage(&Message{LocalID: "l1", RemoteID: "r1", ConversationID: "c1",
		Type: TypeText, CreatedAt: 1000, Status: StatusRead,
		DeliveredTo: []string{"u2"}, ReadBy: []string{"u2"}}); err != nil {
		t.Fatal(err)
	}

	m, _ := db.GetMessage("l1")
	if len(m.DeliveredTo) != 2 || len(m.ReadBy) != 2 {
		t.Errorf("receipts not unioned: deliveredTo=%v readBy=%v", m.DeliveredTo, m.ReadBy)
	}
	if m.Status != StatusRead {
		t.Errorf("status = %q, want read", m.Status)
	}
}

func TestConversationUpsertAndRead(t *testing.T) {
	db := testDB(t)

	conv := &Conversation{
		ID:             "c1",
		Type:           ConvGroup,
		ParticipantIDs: []string{"u1", "u2", "u3"},
		ParticipantDetails: map[string]Participant{
			"u1": {DisplayName: "Alice"},
		},
		UnreadCounts: map[string]int{"u2": 3},
	}
	if err := db.UpsertConversation(conv); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Type != ConvGroup || len(got.ParticipantIDs) != 3 {
		t.Fatalf("got %+v", got)
	}
	if got.ParticipantDetails["u1"].DisplayName != "Alice" {
		t.Errorf("participant details lost: %+v", got.ParticipantDetails)
	}
	if got.UnreadCounts["u2"] != 3 {
		t.Errorf("unread = %d, want 3", got.UnreadCounts["u2"])
	}

	if err := db.MarkConversationRead("c1", "u2"); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetConversation("c1")
	if got.UnreadCounts["u2"] != 0 {
		t.Errorf("unread after read = %d, want 0", got.UnreadCounts["u2"])
	}
}

func TestApplyMessageToConversation(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{
		ID: "c1", Type: ConvDirect,
		ParticipantIDs: []string{"me", "them"},
	}); err != nil {
		t.Fatal(err)
	}

	msg := &Message{LocalID: "l1", ConversationID: "c1", SenderID: "them",
		Type: TypeText, Body: "newest", CreatedAt: 5000}
	if err := db.ApplyMessageToConversation(msg, true); err != nil {
		t.Fatal(err)
	}

	c, _ := db.GetConversation("c1")
	if c.LastMessageBody != "newest" || c.LastMessageAt != 5000 {
		t.Errorf("last message summary = %q@%d", c.LastMessageBody, c.LastMessageAt)
	}
	if c.UnreadCounts["me"] != 1 || c.UnreadCounts["them"] != 0 {
		t.Errorf("unread counts = %v", c.UnreadCounts)
	}

	// An older message must not regress the summary.
	older := &Message{LocalID: "l0", ConversationID: "c1", SenderID: "them",
		Type: TypeText, Body: "older", CreatedAt: 1000}
	if err := db.ApplyMessageToConversation(older, false); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetConversation("c1")
	if c.LastMessageBody != "newest" {
		t.Errorf("summary regressed to %q", c.LastMessageBody)
	}
}

func TestApplyMessageCreatesConversation(t *testing.T) {
	db := testDB(t)

	msg := &Message{LocalID: "l1", ConversationID: "fresh", SenderID: "them",
		Type: TypeText, Body: "hi", CreatedAt: 1000}
	if err := db.ApplyMessageToConversation(msg, true); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetConversation("fresh")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.LastMessageBody != "hi" {
		t.Errorf("conversation not auto-created: %+v", c)
	}
}
