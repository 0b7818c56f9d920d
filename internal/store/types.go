package store

import "encoding/json"

// Message types.
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeVoice = "voice"
)

// Message statuses, in lifecycle order. Failed sits outside the ladder: it
// is only ever set by the sync engine after a permanent send failure.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Conversation types.
const (
	ConvDirect = "direct"
	ConvGroup  = "group"
)

// Queue operation kinds.
const (
	OpCreate = "create"
	OpUpdate = "update"
)

// Message is a chat message row. LocalID is client-generated on send intent
// and stable across retries; RemoteID is assigned by the remote store once
// the write is confirmed. A message with IsSynced=false always has a
// non-empty LocalID and exactly one sync queue entry.
type Message struct {
	LocalID        string   `json:"local_id"`
	RemoteID       string   `json:"remote_id,omitempty"`
	ConversationID string   `json:"conversation_id"`
	SenderID       string   `json:"sender_id"`
	SenderName     string   `json:"sender_name"`
	Type           string   `json:"type"`
	Body           string   `json:"body,omitempty"`
	MediaURL       string   `json:"media_url,omitempty"`
	CreatedAt      int64    `json:"created_at"`
	Status         string   `json:"status"`
	DeliveredTo    []string `json:"delivered_to,omitempty"`
	ReadBy         []string `json:"read_by,omitempty"`
	IsSynced       bool     `json:"is_synced"`
}

// Participant holds the display metadata of a conversation member.
type Participant struct {
	DisplayName  string   `json:"display_name"`
	AvatarURL    string   `json:"avatar_url,omitempty"`
	DeviceTokens []string `json:"device_tokens,omitempty"`
}

// Conversation is a chat thread. LastMessage* fields are a denormalized
// summary that may lag behind the newest message while offline; they are
// refreshed opportunistically as messages are applied.
type Conversation struct {
	ID                 string
	Type               string
	ParticipantIDs     []string
	ParticipantDetails map[string]Participant
	LastMessageBody    string
	LastMessageSender  string
	LastMessageAt      int64
	UnreadCounts       map[string]int
	UpdatedAt          int64
}

// QueueEntry is a durable pending write. Payload is an immutable snapshot of
// the message at enqueue (or last coalesce) time; the live row may have
// moved on.
type QueueEntry struct {
	ID             int64
	LocalID        string
	ConversationID string
	OpKind         string
	AttemptCount   int
	NextAttemptAt  int64
	Payload        Message
	CreatedAt      int64
}

// statusRank orders the delivery ladder so receipt merges never regress a
// message from read back to delivered or sent.
func statusRank(s string) int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

// maxStatus returns the further-along of two delivery statuses.
func maxStatus(a, b string) string {
	if statusRank(b) > statusRank(a) {
		return b
	}
	return a
}

// unionStrings merges two id sets preserving first-seen order.
func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func encodeJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

func decodeStrings(s string) []string {
	var out []string
	if s == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func decodeCounts(s string) map[string]int {
	out := make(map[string]int)
	if s != "" {
		_ = json.Unmarshal([]byte(s), &out)
	}
	return out
}

func decodeParticipants(s string) map[string]Participant {
	out := make(map[string]Participant)
	if s != "" {
		_ = json.Unmarshal([]byte(s), &out)
	}
	return out
}
