package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const PostgresSchema = `
CREATE TABLE IF NOT EXISTS room_snapshots (
    room_id    TEXT PRIMARY KEY,
    revision   BIGINT NOT NULL,
    snapshot   JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS room_events (
    id         BIGSERIAL PRIMARY KEY,
    room_id    TEXT NOT NULL,
    player_id  TEXT NOT NULL DEFAULT '',
    event_type TEXT NOT NULL,
    payload    JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_room_events_room ON room_events (room_id, created_at);
`

// PostgresStore persists snapshots in Postgres through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the snapshot and audit tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("failed to migrate snapshot tables: %w", err)
	}
	return nil
}

func (s *PostgresStore) Read(ctx context.Context, roomID string) (Snapshot, error) {
	var (
		revision  int64
		blob      []byte
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT revision, snapshot, updated_at FROM room_snapshots WHERE room_id = $1`,
		roomID,
	).Scan(&revision, &blob, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return decodeRow(roomID, revision, blob, updatedAt)
}

func (s *PostgresStore) WriteIfRevision(ctx context.Context, roomID string, payload json.RawMessage, expectedPrev int64) (int64, error) {
	next := expectedPrev + 1
	blob, err := EncodeEnvelope(next, payload)
	if err != nil {
		return 0, err
	}

	var query string
	var args []any
	if expectedPrev == 0 {
		query = `INSERT INTO room_snapshots (room_id, revision, snapshot, updated_at)
                 VALUES ($1, $2, $3, now())
                 ON CONFLICT (room_id) DO NOTHING`
		args = []any{roomID, next, string(blob)}
	} else {
		query = `UPDATE room_snapshots
                 SET revision = $2, snapshot = $3, updated_at = now()
                 WHERE room_id = $1 AND revision = $4`
		args = []any{roomID, next, string(blob), expectedPrev}
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to write snapshot: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return 0, ErrRevisionConflict
	}
	return next, nil
}

func (s *PostgresStore) LogEvent(ctx context.Context, roomID, playerID, eventType string, payload json.RawMessage) error {
	var p any
	if len(payload) > 0 {
		p = string(payload)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO room_events (room_id, player_id, event_type, payload) VALUES ($1, $2, $3, $4)`,
		roomID, playerID, eventType, p,
	)
	if err != nil {
		return fmt.Errorf("failed to log room event: %w", err)
	}
	return nil
}
