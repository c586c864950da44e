package round

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/roundsync/go/internal/models"
	"github.com/mcdev12/roundsync/go/internal/round/db"
	"github.com/mcdev12/roundsync/go/internal/sqlutil"
)

// Schema creates the round tables. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS rounds (
    room_id           TEXT        NOT NULL,
    round_index       INT         NOT NULL,
    started_at        TIMESTAMPTZ NOT NULL,
    duration_sec      INT         NOT NULL DEFAULT 0,
    seed              TEXT        NOT NULL,
    host_player_id    TEXT,
    content_ids       TEXT[]      NOT NULL DEFAULT '{}',
    finalized_payload JSONB,
    finalized_at      TIMESTAMPTZ,
    PRIMARY KEY (room_id, round_index)
);

CREATE TABLE IF NOT EXISTS round_submissions (
    room_id        TEXT        NOT NULL,
    round_index    INT         NOT NULL,
    player_id      TEXT        NOT NULL,
    display_name   TEXT,
    submission_ref TEXT        NOT NULL,
    score          JSONB       NOT NULL,
    submitted_at   TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (room_id, round_index, player_id)
);

CREATE TABLE IF NOT EXISTS room_participants (
    room_id      TEXT        NOT NULL,
    player_id    TEXT        NOT NULL,
    display_name TEXT,
    joined_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (room_id, player_id)
);

CREATE TABLE IF NOT EXISTS content_items (
    id         TEXT    PRIMARY KEY,
    category   TEXT    NOT NULL,
    difficulty INT     NOT NULL DEFAULT 1,
    active     BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_content_items_category ON content_items (category) WHERE active;
`

// Migrate applies Schema.
func Migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate round schema: %w", err)
	}
	return nil
}

// SQLRepository is the Postgres-backed round repository.
type SQLRepository struct {
	conn    *sql.DB
	queries *db.Queries
}

func NewSQLRepository(conn *sql.DB) *SQLRepository {
	return &SQLRepository{
		conn:    conn,
		queries: db.New(conn),
	}
}

func (r *SQLRepository) withTx(tx *sql.Tx) *db.Queries {
	return r.queries.WithTx(tx)
}

func (r *SQLRepository) UpsertRoundStart(ctx context.Context, round models.Round) (*models.Round, error) {
	var saved db.Round
	err := sqlutil.Run(ctx, r.conn, nil, r.withTx, func(q *db.Queries) error {
		finalized, err := q.LockRound(ctx, db.LockRoundParams{
			RoomID:     round.RoomID,
			RoundIndex: int32(round.Index),
		})
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to lock round: %w", err)
		}
		if finalized {
			return ErrRoundFinalized
		}

		saved, err = q.UpsertRoundStart(ctx, db.UpsertRoundStartParams{
			RoomID:       round.RoomID,
			RoundIndex:   int32(round.Index),
			StartedAt:    round.StartedAt,
			DurationSec:  int32(round.DurationSec),
			Seed:         round.Seed,
			HostPlayerID: sqlutil.ToSqlString(round.HostPlayerID),
			ContentIds:   round.ContentIDs,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert round: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dbRoundToModel(saved), nil
}

func (r *SQLRepository) GetRound(ctx context.Context, roomID string, index int) (*models.Round, error) {
	row, err := r.queries.GetRound(ctx, db.GetRoundParams{RoomID: roomID, RoundIndex: int32(index)})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return dbRoundToModel(row), nil
}

func (r *SQLRepository) SetFinalizedPayload(ctx context.Context, roomID string, index int, payload json.RawMessage, at time.Time) (json.RawMessage, error) {
	stored, err := r.queries.FinalizeRound(ctx, db.FinalizeRoundParams{
		RoomID:           roomID,
		RoundIndex:       int32(index),
		FinalizedPayload: sqlutil.ToNullRawMessage(payload),
		FinalizedAt:      sqlutil.ToSqlTime(&at),
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finalize round: %w", err)
	}
	return sqlutil.FromNullRawMessage(stored), nil
}

func (r *SQLRepository) UpsertSubmission(ctx context.Context, sub models.RoundSubmission) error {
	score, err := json.Marshal(sub.Score)
	if err != nil {
		return fmt.Errorf("failed to marshal score: %w", err)
	}
	err = r.queries.UpsertSubmission(ctx, db.UpsertSubmissionParams{
		RoomID:        sub.RoomID,
		RoundIndex:    int32(sub.RoundIndex),
		PlayerID:      sub.PlayerID,
		DisplayName:   sqlutil.ToSqlString(sub.DisplayName),
		SubmissionRef: sub.SubmissionRef,
		Score:         score,
		SubmittedAt:   sub.SubmittedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert submission: %w", err)
	}
	return nil
}

func (r *SQLRepository) ListSubmissions(ctx context.Context, roomID string, index int) ([]models.RoundSubmission, error) {
	rows, err := r.queries.ListSubmissions(ctx, db.ListSubmissionsParams{RoomID: roomID, RoundIndex: int32(index)})
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}

	subs := make([]models.RoundSubmission, 0, len(rows))
	for _, row := range rows {
		var score models.SubmissionScore
		if err := json.Unmarshal(row.Score, &score); err != nil {
			return nil, fmt.Errorf("failed to decode score for %s: %w", row.PlayerID, err)
		}
		subs = append(subs, models.RoundSubmission{
			RoomID:        row.RoomID,
			RoundIndex:    int(row.RoundIndex),
			PlayerID:      row.PlayerID,
			DisplayName:   sqlutil.FromSqlString(row.DisplayName, ""),
			SubmissionRef: row.SubmissionRef,
			Score:         score,
			SubmittedAt:   row.SubmittedAt,
		})
	}
	return subs, nil
}

func (r *SQLRepository) UpsertParticipant(ctx context.Context, p models.Participant) error {
	joined := p.JoinedAt
	if joined.IsZero() {
		joined = time.Now().UTC()
	}
	err := r.queries.UpsertParticipant(ctx, db.UpsertParticipantParams{
		RoomID:      p.RoomID,
		PlayerID:    p.PlayerID,
		DisplayName: sqlutil.ToSqlString(p.DisplayName),
		JoinedAt:    joined,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	return nil
}

func (r *SQLRepository) ListParticipants(ctx context.Context, roomID string) ([]models.Participant, error) {
	rows, err := r.queries.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	out := make([]models.Participant, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.Participant{
			RoomID:      row.RoomID,
			PlayerID:    row.PlayerID,
			DisplayName: sqlutil.FromSqlString(row.DisplayName, ""),
			JoinedAt:    row.JoinedAt,
		})
	}
	return out, nil
}

func dbRoundToModel(row db.Round) *models.Round {
	ids := row.ContentIds
	if ids == nil {
		ids = []string{}
	}
	return &models.Round{
		RoomID:           row.RoomID,
		Index:            int(row.RoundIndex),
		StartedAt:        row.StartedAt,
		DurationSec:      int(row.DurationSec),
		Seed:             row.Seed,
		HostPlayerID:     sqlutil.FromSqlString(row.HostPlayerID, ""),
		ContentIDs:       ids,
		FinalizedPayload: sqlutil.FromNullRawMessage(row.FinalizedPayload),
		FinalizedAt:      sqlutil.FromSqlTime(row.FinalizedAt),
	}
}
