package models

import (
	"encoding/json"
	"sort"
	"time"
)

// RoomMode defines how players in a room progress through rounds.
type RoomMode string

const (
	RoomModeSync  RoomMode = "sync"
	RoomModeAsync RoomMode = "async"
)

// Player is a room member. Players are never removed on disconnect so a
// reconnecting player gets their moves and ready flag back.
type Player struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Avatar      string    `json:"avatar,omitempty"`
	IsReady     bool      `json:"is_ready"`
	IsConnected bool      `json:"is_connected"`
	IsHost      bool      `json:"is_host"`
	JoinOrder   int       `json:"join_order"`
	JoinedAt    time.Time `json:"joined_at"`
}

// RoundContext is the room's view of the round currently in play.
type RoundContext struct {
	Index       int        `json:"index"`
	Started     bool       `json:"started"`
	Completed   bool       `json:"completed"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	DurationSec int        `json:"duration_sec"`
	TimerID     string     `json:"timer_id,omitempty"`
}

// RoomState is the authoritative in-memory state of a room and the payload of
// its persisted snapshot.
type RoomState struct {
	RoomID       string                             `json:"room_id"`
	Mode         RoomMode                           `json:"mode"`
	HostPlayerID string                             `json:"host_player_id,omitempty"`
	Players      map[string]*Player                 `json:"players"`
	Moves        map[string]map[int]json.RawMessage `json:"moves"`
	Round        RoundContext                       `json:"round"`
}

// NewRoomState returns an empty room.
func NewRoomState(roomID string, mode RoomMode) RoomState {
	if mode == "" {
		mode = RoomModeSync
	}
	return RoomState{
		RoomID:  roomID,
		Mode:    mode,
		Players: make(map[string]*Player),
		Moves:   make(map[string]map[int]json.RawMessage),
	}
}

// OrderedPlayers returns the players in join order.
func (s *RoomState) OrderedPlayers() []*Player {
	players := make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinOrder != players[j].JoinOrder {
			return players[i].JoinOrder < players[j].JoinOrder
		}
		return players[i].ID < players[j].ID
	})
	return players
}

// SetMove records a move, replacing any earlier move for the same round.
func (s *RoomState) SetMove(playerID string, roundIndex int, move json.RawMessage) {
	if s.Moves == nil {
		s.Moves = make(map[string]map[int]json.RawMessage)
	}
	if s.Moves[playerID] == nil {
		s.Moves[playerID] = make(map[int]json.RawMessage)
	}
	s.Moves[playerID][roundIndex] = move
}

// Move returns the recorded move for a player and round.
func (s *RoomState) Move(playerID string, roundIndex int) (json.RawMessage, bool) {
	m, ok := s.Moves[playerID][roundIndex]
	return m, ok
}

// NextJoinOrder returns the join order to assign to a new player.
func (s *RoomState) NextJoinOrder() int {
	next := 0
	for _, p := range s.Players {
		if p.JoinOrder >= next {
			next = p.JoinOrder + 1
		}
	}
	return next
}
