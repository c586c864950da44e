package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	RoomID    string
	PlayerID  string
	EventType string
	Payload   json.RawMessage
	CreatedAt time.Time
}

type memoryRow struct {
	revision  int64
	blob      []byte
	updatedAt time.Time
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	rows   map[string]memoryRow
	events []AuditEntry
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock: clock,
		rows:  make(map[string]memoryRow),
	}
}

func (m *MemoryStore) Read(ctx context.Context, roomID string) (Snapshot, error) {
	m.mu.Lock()
	row, ok := m.rows[roomID]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return decodeRow(roomID, row.revision, row.blob, row.updatedAt)
}

func (m *MemoryStore) WriteIfRevision(ctx context.Context, roomID string, payload json.RawMessage, expectedPrev int64) (int64, error) {
	next := expectedPrev + 1
	blob, err := EncodeEnvelope(next, payload)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[roomID]
	switch {
	case !ok && expectedPrev != 0:
		return 0, ErrRevisionConflict
	case ok && row.revision != expectedPrev:
		return 0, ErrRevisionConflict
	}
	m.rows[roomID] = memoryRow{revision: next, blob: blob, updatedAt: m.clock.Now()}
	return next, nil
}

func (m *MemoryStore) LogEvent(ctx context.Context, roomID, playerID, eventType string, payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, AuditEntry{
		RoomID:    roomID,
		PlayerID:  playerID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: m.clock.Now(),
	})
	return nil
}

// Events returns a copy of the audit log for a room.
func (m *MemoryStore) Events(roomID string) []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditEntry
	for _, e := range m.events {
		if e.RoomID == roomID {
			out = append(out, e)
		}
	}
	return out
}

func decodeRow(roomID string, revision int64, blob []byte, updatedAt time.Time) (Snapshot, error) {
	env, err := DecodeEnvelope(blob)
	if err != nil {
		return Snapshot{}, err
	}
	if env.Revision != revision {
		return Snapshot{}, fmt.Errorf("%w: room %s envelope revision %d, row revision %d",
			ErrCorruptSnapshot, roomID, env.Revision, revision)
	}
	return Snapshot{
		RoomID:    roomID,
		Revision:  revision,
		Payload:   env.Payload,
		UpdatedAt: updatedAt,
	}, nil
}
