// Package outbox relays events written in the same transaction as a state
// change to the message broker.
package outbox

import (
	"encoding/json"
	"time"
)

// Event is one row of the outbox table.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	Topic         string
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Attempts      int
	LastError     *string
}

// Message is what goes on the wire: the event name and its payload.
type Message struct {
	EventID int64           `json:"event_id"`
	Event   string          `json:"event"`
	Key     string          `json:"-"`
	Payload json.RawMessage `json:"payload"`
}
