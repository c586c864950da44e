package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotifyChannel is the Postgres channel the outbox trigger notifies on.
const NotifyChannel = "round_outbox_events"

const Schema = `
CREATE TABLE IF NOT EXISTS round_outbox (
    id         UUID PRIMARY KEY,
    room_id    TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload    JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    sent_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_round_outbox_unsent ON round_outbox (created_at) WHERE sent_at IS NULL;

CREATE OR REPLACE FUNCTION notify_round_outbox() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('` + NotifyChannel + `', NEW.id::text);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS round_outbox_notify ON round_outbox;
CREATE TRIGGER round_outbox_notify AFTER INSERT ON round_outbox
    FOR EACH ROW EXECUTE FUNCTION notify_round_outbox();
`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db: db,
	}
}

// Migrate creates the outbox table and its notify trigger.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate outbox: %w", err)
	}
	return nil
}

func (r *Repository) InsertOutbox(ctx context.Context, roomID, eventType string, payload []byte) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO round_outbox (id, room_id, event_type, payload) VALUES ($1, $2, $3, $4)`,
		id, roomID, eventType, string(payload),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	return id, nil
}

func (r *Repository) FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, room_id, event_type, payload, created_at
         FROM round_outbox
         WHERE sent_at IS NULL
         ORDER BY created_at
         LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var (
			e       OutboxEvent
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.RoomID, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		e.Payload = payload
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox events: %w", err)
	}

	return events, nil
}

func (r *Repository) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE round_outbox SET sent_at = $2 WHERE id = $1 AND sent_at IS NULL`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}

func (r *Repository) FetchOutboxByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	var (
		e       OutboxEvent
		payload []byte
		sentAt  sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, room_id, event_type, payload, created_at, sent_at
         FROM round_outbox
         WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.RoomID, &e.EventType, &payload, &e.CreatedAt, &sentAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrEventNotFound, id)
		}
		return nil, fmt.Errorf("failed to fetch outbox event by ID: %w", err)
	}
	e.Payload = payload
	if sentAt.Valid {
		t := sentAt.Time
		e.SentAt = &t
	}
	return &e, nil
}

func (r *Repository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM round_outbox WHERE sent_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return count, nil
}
