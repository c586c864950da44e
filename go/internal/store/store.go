package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a room has no snapshot yet.
	ErrNotFound = errors.New("snapshot not found")
	// ErrRevisionConflict is returned when the stored revision differs from the
	// caller's expected previous revision. Callers re-read and retry.
	ErrRevisionConflict = errors.New("snapshot revision conflict")
	// ErrUnsupportedSchema is returned when a stored envelope carries a schema
	// version this build does not understand.
	ErrUnsupportedSchema = errors.New("unsupported snapshot schema version")
	// ErrCorruptSnapshot is returned when a stored envelope disagrees with the
	// row it was read from.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
)

// Snapshot is the last persisted state of a room.
type Snapshot struct {
	RoomID    string
	Revision  int64
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// Store is the durable, row-versioned room snapshot table plus its append-only
// audit log.
type Store interface {
	Read(ctx context.Context, roomID string) (Snapshot, error)
	// WriteIfRevision stores payload as revision expectedPrev+1 only if the
	// current revision is expectedPrev. An expectedPrev of 0 creates the row.
	WriteIfRevision(ctx context.Context, roomID string, payload json.RawMessage, expectedPrev int64) (int64, error)
	LogEvent(ctx context.Context, roomID, playerID, eventType string, payload json.RawMessage) error
}

// Audit event types written by room sessions.
const (
	EventJoin       = "JOIN"
	EventReconnect  = "RECONNECT"
	EventDisconnect = "DISCONNECT"
	EventMove       = "PLAYER_MOVE"
	EventReady      = "PLAYER_READY_TOGGLE"
)
