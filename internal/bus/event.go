package bus

import "time"

// Event is a domain event published on the bus.
//
// Kinds are dot-namespaced so subscribers can filter by prefix:
//
//	net.connected / net.disconnected  connectivity edges
//	queue.enqueued                    a write entered the sync queue
//	message.upserted                  a message row changed locally
//	message.send_ack                  a queued write was confirmed remotely
//	message.send_failed               a queued write failed permanently
//	sync.status_changed               status publisher snapshot changed
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
