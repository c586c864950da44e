package events

import (
	"encoding/json"
	"time"
)

// Event payload types that are shared between the round orchestrator, the
// relay and room sessions

// Relay event types
const (
	RoundStarted   = "round_started"
	GuessSubmitted = "guess_submitted"
	RoundCompleted = "round_completed"
)

// Known reports whether eventType is one the relay carries.
func Known(eventType string) bool {
	switch eventType {
	case RoundStarted, GuessSubmitted, RoundCompleted:
		return true
	}
	return false
}

// RoundStartedPayload is the payload for a round_started event
type RoundStartedPayload struct {
	RoomID       string    `json:"room_id"`
	RoundIndex   int       `json:"round_index"`
	StartedAt    time.Time `json:"started_at"`
	DurationSec  int       `json:"duration_sec"`
	Seed         string    `json:"seed"`
	ContentIDs   []string  `json:"content_ids"`
	HostPlayerID string    `json:"host_player_id"`
	TimerID      string    `json:"timer_id,omitempty"`
}

// GuessSubmittedPayload is the payload for a guess_submitted event
type GuessSubmittedPayload struct {
	RoomID      string    `json:"room_id"`
	RoundIndex  int       `json:"round_index"`
	PlayerID    string    `json:"player_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// RoundCompletedPayload is the payload for a round_completed event
type RoundCompletedPayload struct {
	RoomID     string          `json:"room_id"`
	RoundIndex int             `json:"round_index"`
	Scoreboard json.RawMessage `json:"scoreboard"`
}
