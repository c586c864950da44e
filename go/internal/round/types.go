package round

import (
	"encoding/json"

	"github.com/mcdev12/roundsync/go/internal/models"
)

// StartRoundRequest starts or restarts a round.
type StartRoundRequest struct {
	RoomID       string      `json:"room_id"`
	RoundIndex   int         `json:"round_index"`
	DurationSec  int         `json:"duration_sec"`
	Seed         string      `json:"seed"`
	HostPlayerID string      `json:"host_player_id"`
	TimerEnabled bool        `json:"timer_enabled"`
	Constraints  Constraints `json:"constraints"`
}

type StartRoundResponse struct {
	Round      *models.Round `json:"round"`
	TimerID    string        `json:"timer_id,omitempty"`
	TimerArmed bool          `json:"timer_armed"`
}

// SubmitGuessRequest records one player's submission.
type SubmitGuessRequest struct {
	RoomID        string                 `json:"room_id"`
	RoundIndex    int                    `json:"round_index"`
	PlayerID      string                 `json:"player_id"`
	DisplayName   string                 `json:"display_name"`
	SubmissionRef string                 `json:"submission_ref"`
	Score         models.SubmissionScore `json:"score"`
}

type SubmitGuessResponse struct {
	Submission *models.RoundSubmission `json:"submission"`
}

type FinalizeRoundRequest struct {
	RoomID     string `json:"room_id"`
	RoundIndex int    `json:"round_index"`
}

// FinalizeRoundResponse carries the stored payload verbatim so repeated
// finalize calls are comparable byte for byte.
type FinalizeRoundResponse struct {
	Scoreboard models.Scoreboard `json:"scoreboard"`
	Payload    json.RawMessage   `json:"payload"`
}

type GetRoundRequest struct {
	RoomID     string `json:"room_id"`
	RoundIndex int    `json:"round_index"`
}

type GetRoundResponse struct {
	Round  *models.Round      `json:"round"`
	Status models.RoundStatus `json:"status"`
}

type GetScoreboardRequest struct {
	RoomID     string `json:"room_id"`
	RoundIndex int    `json:"round_index"`
}

// GetScoreboardResponse is a live preview until the round is finalized.
type GetScoreboardResponse struct {
	Scoreboard models.Scoreboard `json:"scoreboard"`
	Final      bool              `json:"final"`
}

// StartResult is what StartRound hands back to callers.
type StartResult struct {
	Round      *models.Round
	TimerID    string
	TimerArmed bool
}

// FinalizeResult pairs the decoded scoreboard with its stored bytes.
type FinalizeResult struct {
	Scoreboard models.Scoreboard
	Payload    json.RawMessage
}
