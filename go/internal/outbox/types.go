package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrEventNotFound is returned for an outbox id with no row.
var ErrEventNotFound = errors.New("outbox event not found")

// OutboxEvent represents a queued relay notification
type OutboxEvent struct {
	ID        uuid.UUID       `json:"id"`
	RoomID    string          `json:"room_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// Publisher pushes an outbox event to the real-time transport.
type Publisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}

// Sink receives relay events on the consuming side.
type Sink interface {
	DispatchRelayEvent(ctx context.Context, roomID, eventType string, payload json.RawMessage)
}
