package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS room_snapshots (
    room_id       TEXT PRIMARY KEY,
    revision      INTEGER NOT NULL,
    snapshot      TEXT NOT NULL,
    updated_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS room_events (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    room_id       TEXT NOT NULL,
    player_id     TEXT NOT NULL DEFAULT '',
    event_type    TEXT NOT NULL,
    payload       TEXT,
    created_at_ms INTEGER NOT NULL
);
`

// SQLiteStore persists snapshots in a local SQLite file. Used for single-node
// development and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" for
// an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// a single connection serializes writers and keeps :memory: databases alive
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Read(ctx context.Context, roomID string) (Snapshot, error) {
	var (
		revision int64
		blob     string
		updated  int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT revision, snapshot, updated_at_ms FROM room_snapshots WHERE room_id = ?",
		roomID,
	).Scan(&revision, &blob, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return decodeRow(roomID, revision, []byte(blob), time.UnixMilli(updated).UTC())
}

func (s *SQLiteStore) WriteIfRevision(ctx context.Context, roomID string, payload json.RawMessage, expectedPrev int64) (int64, error) {
	next := expectedPrev + 1
	blob, err := EncodeEnvelope(next, payload)
	if err != nil {
		return 0, err
	}
	now := time.Now().UnixMilli()

	var result sql.Result
	if expectedPrev == 0 {
		result, err = s.db.ExecContext(ctx,
			`INSERT INTO room_snapshots (room_id, revision, snapshot, updated_at_ms)
             VALUES (?, ?, ?, ?)
             ON CONFLICT (room_id) DO NOTHING`,
			roomID, next, string(blob), now,
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE room_snapshots SET revision = ?, snapshot = ?, updated_at_ms = ?
             WHERE room_id = ? AND revision = ?`,
			next, string(blob), now, roomID, expectedPrev,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write snapshot: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected != 1 {
		return 0, ErrRevisionConflict
	}
	return next, nil
}

func (s *SQLiteStore) LogEvent(ctx context.Context, roomID, playerID, eventType string, payload json.RawMessage) error {
	var p sql.NullString
	if len(payload) > 0 {
		p = sql.NullString{String: string(payload), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO room_events (room_id, player_id, event_type, payload, created_at_ms) VALUES (?, ?, ?, ?, ?)",
		roomID, playerID, eventType, p, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to log room event: %w", err)
	}
	return nil
}

// CountEvents returns the number of audit rows of a type for a room.
func (s *SQLiteStore) CountEvents(ctx context.Context, roomID, eventType string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM room_events WHERE room_id = ? AND event_type = ?",
		roomID, eventType,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count room events: %w", err)
	}
	return n, nil
}
