package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sqlc-dev/pqtype"
)

type Round struct {
	RoomID           string                `json:"room_id"`
	RoundIndex       int32                 `json:"round_index"`
	StartedAt        time.Time             `json:"started_at"`
	DurationSec      int32                 `json:"duration_sec"`
	Seed             string                `json:"seed"`
	HostPlayerID     sql.NullString        `json:"host_player_id"`
	ContentIds       []string              `json:"content_ids"`
	FinalizedPayload pqtype.NullRawMessage `json:"finalized_payload"`
	FinalizedAt      sql.NullTime          `json:"finalized_at"`
}

type RoundSubmission struct {
	RoomID        string          `json:"room_id"`
	RoundIndex    int32           `json:"round_index"`
	PlayerID      string          `json:"player_id"`
	DisplayName   sql.NullString  `json:"display_name"`
	SubmissionRef string          `json:"submission_ref"`
	Score         json.RawMessage `json:"score"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

type RoomParticipant struct {
	RoomID      string         `json:"room_id"`
	PlayerID    string         `json:"player_id"`
	DisplayName sql.NullString `json:"display_name"`
	JoinedAt    time.Time      `json:"joined_at"`
}
