package models

// ScoreboardRow is one player's line on a round scoreboard.
type ScoreboardRow struct {
	Rank        int      `json:"rank"`
	PlayerID    string   `json:"player_id"`
	DisplayName string   `json:"display_name"`
	NetAccuracy float64  `json:"net_accuracy"`
	NetXP       int      `json:"net_xp"`
	HintsUsed   int      `json:"hints_used"`
	DistanceKm  *float64 `json:"distance_km,omitempty"`
	YearDelta   *int     `json:"year_delta,omitempty"`
	Submitted   bool     `json:"submitted"`
}

// Scoreboard is the frozen result of a round. It carries no wall-clock fields
// so equal inputs always encode to equal bytes.
type Scoreboard struct {
	RoomID     string          `json:"room_id"`
	RoundIndex int             `json:"round_index"`
	Rows       []ScoreboardRow `json:"rows"`
}
