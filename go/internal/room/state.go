package room

import (
	"encoding/json"
	"sort"

	"github.com/mcdev12/roundsync/go/internal/models"
)

// PlayerView is a player as shown to other room members.
type PlayerView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
	IsReady     bool   `json:"is_ready"`
	IsConnected bool   `json:"is_connected"`
	IsHost      bool   `json:"is_host"`
	// SubmittedRounds lists rounds this player has a move for.
	SubmittedRounds []int `json:"submitted_rounds"`
}

// StateView is the ROOM_STATE body rendered for one recipient. Only the
// recipient's own move payloads are included.
type StateView struct {
	RoomID   string                  `json:"room_id"`
	Mode     models.RoomMode         `json:"mode"`
	Round    models.RoundContext     `json:"round"`
	Players  []PlayerView            `json:"players"`
	PlayerID string                  `json:"player_id"`
	IsHost   bool                    `json:"is_host"`
	Moves    map[int]json.RawMessage `json:"moves"`
}

// renderState builds the view of state for recipientID.
func renderState(state *models.RoomState, recipientID string) StateView {
	ordered := state.OrderedPlayers()
	players := make([]PlayerView, 0, len(ordered))
	for _, p := range ordered {
		players = append(players, PlayerView{
			ID:              p.ID,
			DisplayName:     p.DisplayName,
			Avatar:          p.Avatar,
			IsReady:         p.IsReady,
			IsConnected:     p.IsConnected,
			IsHost:          p.IsHost,
			SubmittedRounds: submittedRounds(state.Moves[p.ID]),
		})
	}

	own := make(map[int]json.RawMessage, len(state.Moves[recipientID]))
	for idx, move := range state.Moves[recipientID] {
		own[idx] = move
	}

	return StateView{
		RoomID:   state.RoomID,
		Mode:     state.Mode,
		Round:    state.Round,
		Players:  players,
		PlayerID: recipientID,
		IsHost:   recipientID != "" && state.HostPlayerID == recipientID,
		Moves:    own,
	}
}

func submittedRounds(moves map[int]json.RawMessage) []int {
	rounds := make([]int, 0, len(moves))
	for idx := range moves {
		rounds = append(rounds, idx)
	}
	sort.Ints(rounds)
	return rounds
}

// mergeState folds entries from stored that memory does not know about into
// mem. Memory wins wherever both have a value.
func mergeState(mem *models.RoomState, stored models.RoomState) {
	if mem.HostPlayerID == "" {
		mem.HostPlayerID = stored.HostPlayerID
	}
	for id, p := range stored.Players {
		if _, ok := mem.Players[id]; ok {
			continue
		}
		cp := *p
		cp.IsConnected = false
		cp.IsHost = cp.ID == mem.HostPlayerID
		mem.Players[id] = &cp
	}
	for playerID, rounds := range stored.Moves {
		for idx, move := range rounds {
			if _, ok := mem.Move(playerID, idx); ok {
				continue
			}
			mem.SetMove(playerID, idx, move)
		}
	}
	if stored.Round.Index > mem.Round.Index ||
		(stored.Round.Index == mem.Round.Index && !mem.Round.Started && stored.Round.Started) {
		mem.Round = stored.Round
	}
}
