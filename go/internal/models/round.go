package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RoundStatus is derived from the presence of the round row and its payload.
type RoundStatus string

const (
	RoundStatusPending   RoundStatus = "PENDING"
	RoundStatusStarted   RoundStatus = "STARTED"
	RoundStatusFinalized RoundStatus = "FINALIZED"
)

// Round represents one guessing unit of a room.
type Round struct {
	RoomID           string          `json:"room_id"`
	Index            int             `json:"index"`
	StartedAt        time.Time       `json:"started_at"`
	DurationSec      int             `json:"duration_sec"`
	Seed             string          `json:"seed"`
	HostPlayerID     string          `json:"host_player_id"`
	ContentIDs       []string        `json:"content_ids"`
	FinalizedPayload json.RawMessage `json:"finalized_payload,omitempty"`
	FinalizedAt      *time.Time      `json:"finalized_at,omitempty"`
}

// Status reports where the round is in its lifecycle.
func (r *Round) Status() RoundStatus {
	if r == nil {
		return RoundStatusPending
	}
	if len(r.FinalizedPayload) > 0 {
		return RoundStatusFinalized
	}
	return RoundStatusStarted
}

// TimerID is the authoritative timer key for a round.
func TimerID(roomID string, roundIndex int) string {
	return fmt.Sprintf("%s:%d", roomID, roundIndex)
}

// SubmissionScore holds the scoring inputs for one submission.
type SubmissionScore struct {
	Accuracy         float64  `json:"accuracy"`
	XP               int      `json:"xp"`
	HintsUsed        int      `json:"hints_used"`
	HintAccuracyDebt float64  `json:"hint_accuracy_debt"`
	HintXPDebt       int      `json:"hint_xp_debt"`
	DistanceKm       *float64 `json:"distance_km,omitempty"`
	YearDelta        *int     `json:"year_delta,omitempty"`
}

// RoundSubmission tracks a player's submission for a round. Keyed by
// (room, round, player); resubmission overwrites.
type RoundSubmission struct {
	RoomID        string          `json:"room_id"`
	RoundIndex    int             `json:"round_index"`
	PlayerID      string          `json:"player_id"`
	DisplayName   string          `json:"display_name,omitempty"`
	SubmissionRef string          `json:"submission_ref"`
	Score         SubmissionScore `json:"score"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

// Participant is a room membership row.
type Participant struct {
	RoomID      string    `json:"room_id"`
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

// ContentItem is a selectable piece of round content.
type ContentItem struct {
	ID         string `json:"id"`
	Category   string `json:"category"`
	Difficulty int    `json:"difficulty"`
	Active     bool   `json:"active"`
}
