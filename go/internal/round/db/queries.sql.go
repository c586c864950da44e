package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const roundColumns = `room_id, round_index, started_at, duration_sec, seed, host_player_id, content_ids, finalized_payload, finalized_at`

func scanRound(row interface{ Scan(...interface{}) error }) (Round, error) {
	var i Round
	err := row.Scan(
		&i.RoomID,
		&i.RoundIndex,
		&i.StartedAt,
		&i.DurationSec,
		&i.Seed,
		&i.HostPlayerID,
		pq.Array(&i.ContentIds),
		&i.FinalizedPayload,
		&i.FinalizedAt,
	)
	return i, err
}

const lockRound = `-- name: LockRound :one
SELECT finalized_payload IS NOT NULL AS finalized
FROM rounds
WHERE room_id = $1 AND round_index = $2
FOR UPDATE
`

type LockRoundParams struct {
	RoomID     string `json:"room_id"`
	RoundIndex int32  `json:"round_index"`
}

func (q *Queries) LockRound(ctx context.Context, arg LockRoundParams) (bool, error) {
	row := q.db.QueryRowContext(ctx, lockRound, arg.RoomID, arg.RoundIndex)
	var finalized bool
	err := row.Scan(&finalized)
	return finalized, err
}

const upsertRoundStart = `-- name: UpsertRoundStart :one
INSERT INTO rounds (room_id, round_index, started_at, duration_sec, seed, host_player_id, content_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (room_id, round_index) DO UPDATE
SET started_at = EXCLUDED.started_at,
    duration_sec = EXCLUDED.duration_sec,
    seed = EXCLUDED.seed,
    host_player_id = EXCLUDED.host_player_id,
    content_ids = EXCLUDED.content_ids
WHERE rounds.finalized_payload IS NULL
RETURNING ` + roundColumns + `
`

type UpsertRoundStartParams struct {
	RoomID       string         `json:"room_id"`
	RoundIndex   int32          `json:"round_index"`
	StartedAt    time.Time      `json:"started_at"`
	DurationSec  int32          `json:"duration_sec"`
	Seed         string         `json:"seed"`
	HostPlayerID sql.NullString `json:"host_player_id"`
	ContentIds   []string       `json:"content_ids"`
}

func (q *Queries) UpsertRoundStart(ctx context.Context, arg UpsertRoundStartParams) (Round, error) {
	row := q.db.QueryRowContext(ctx, upsertRoundStart,
		arg.RoomID,
		arg.RoundIndex,
		arg.StartedAt,
		arg.DurationSec,
		arg.Seed,
		arg.HostPlayerID,
		pq.Array(arg.ContentIds),
	)
	return scanRound(row)
}

const getRound = `-- name: GetRound :one
SELECT ` + roundColumns + `
FROM rounds
WHERE room_id = $1 AND round_index = $2
`

type GetRoundParams struct {
	RoomID     string `json:"room_id"`
	RoundIndex int32  `json:"round_index"`
}

func (q *Queries) GetRound(ctx context.Context, arg GetRoundParams) (Round, error) {
	row := q.db.QueryRowContext(ctx, getRound, arg.RoomID, arg.RoundIndex)
	return scanRound(row)
}

const finalizeRound = `-- name: FinalizeRound :one
UPDATE rounds
SET finalized_payload = COALESCE(finalized_payload, $3),
    finalized_at = COALESCE(finalized_at, $4)
WHERE room_id = $1 AND round_index = $2
RETURNING finalized_payload
`

type FinalizeRoundParams struct {
	RoomID           string                `json:"room_id"`
	RoundIndex       int32                 `json:"round_index"`
	FinalizedPayload pqtype.NullRawMessage `json:"finalized_payload"`
	FinalizedAt      sql.NullTime          `json:"finalized_at"`
}

func (q *Queries) FinalizeRound(ctx context.Context, arg FinalizeRoundParams) (pqtype.NullRawMessage, error) {
	row := q.db.QueryRowContext(ctx, finalizeRound,
		arg.RoomID,
		arg.RoundIndex,
		arg.FinalizedPayload,
		arg.FinalizedAt,
	)
	var payload pqtype.NullRawMessage
	err := row.Scan(&payload)
	return payload, err
}

const upsertSubmission = `-- name: UpsertSubmission :exec
INSERT INTO round_submissions (room_id, round_index, player_id, display_name, submission_ref, score, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (room_id, round_index, player_id) DO UPDATE
SET display_name = EXCLUDED.display_name,
    submission_ref = EXCLUDED.submission_ref,
    score = EXCLUDED.score,
    submitted_at = EXCLUDED.submitted_at
`

type UpsertSubmissionParams struct {
	RoomID        string          `json:"room_id"`
	RoundIndex    int32           `json:"round_index"`
	PlayerID      string          `json:"player_id"`
	DisplayName   sql.NullString  `json:"display_name"`
	SubmissionRef string          `json:"submission_ref"`
	Score         json.RawMessage `json:"score"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

func (q *Queries) UpsertSubmission(ctx context.Context, arg UpsertSubmissionParams) error {
	_, err := q.db.ExecContext(ctx, upsertSubmission,
		arg.RoomID,
		arg.RoundIndex,
		arg.PlayerID,
		arg.DisplayName,
		arg.SubmissionRef,
		arg.Score,
		arg.SubmittedAt,
	)
	return err
}

const listSubmissions = `-- name: ListSubmissions :many
SELECT room_id, round_index, player_id, display_name, submission_ref, score, submitted_at
FROM round_submissions
WHERE room_id = $1 AND round_index = $2
ORDER BY player_id
`

type ListSubmissionsParams struct {
	RoomID     string `json:"room_id"`
	RoundIndex int32  `json:"round_index"`
}

func (q *Queries) ListSubmissions(ctx context.Context, arg ListSubmissionsParams) ([]RoundSubmission, error) {
	rows, err := q.db.QueryContext(ctx, listSubmissions, arg.RoomID, arg.RoundIndex)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RoundSubmission
	for rows.Next() {
		var i RoundSubmission
		if err := rows.Scan(
			&i.RoomID,
			&i.RoundIndex,
			&i.PlayerID,
			&i.DisplayName,
			&i.SubmissionRef,
			&i.Score,
			&i.SubmittedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertParticipant = `-- name: UpsertParticipant :exec
INSERT INTO room_participants (room_id, player_id, display_name, joined_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (room_id, player_id) DO UPDATE
SET display_name = EXCLUDED.display_name
`

type UpsertParticipantParams struct {
	RoomID      string         `json:"room_id"`
	PlayerID    string         `json:"player_id"`
	DisplayName sql.NullString `json:"display_name"`
	JoinedAt    time.Time      `json:"joined_at"`
}

func (q *Queries) UpsertParticipant(ctx context.Context, arg UpsertParticipantParams) error {
	_, err := q.db.ExecContext(ctx, upsertParticipant,
		arg.RoomID,
		arg.PlayerID,
		arg.DisplayName,
		arg.JoinedAt,
	)
	return err
}

const listParticipants = `-- name: ListParticipants :many
SELECT room_id, player_id, display_name, joined_at
FROM room_participants
WHERE room_id = $1
ORDER BY joined_at, player_id
`

func (q *Queries) ListParticipants(ctx context.Context, roomID string) ([]RoomParticipant, error) {
	rows, err := q.db.QueryContext(ctx, listParticipants, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RoomParticipant
	for rows.Next() {
		var i RoomParticipant
		if err := rows.Scan(
			&i.RoomID,
			&i.PlayerID,
			&i.DisplayName,
			&i.JoinedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listContentCandidates = `-- name: ListContentCandidates :many
SELECT id
FROM content_items
WHERE active
  AND (cardinality($1::text[]) = 0 OR category = ANY($1::text[]))
  AND ($2::int = 0 OR difficulty <= $2::int)
ORDER BY id
`

type ListContentCandidatesParams struct {
	Categories    []string `json:"categories"`
	MaxDifficulty int32    `json:"max_difficulty"`
}

func (q *Queries) ListContentCandidates(ctx context.Context, arg ListContentCandidatesParams) ([]string, error) {
	categories := arg.Categories
	if categories == nil {
		categories = []string{}
	}
	rows, err := q.db.QueryContext(ctx, listContentCandidates, pq.Array(categories), arg.MaxDifficulty)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
