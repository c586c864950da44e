package room

import (
	"encoding/json"
	"time"
)

// MessageType identifies a frame on the room socket.
type MessageType string

// Client → server
const (
	MessagePlayerMove        MessageType = "PLAYER_MOVE"
	MessagePlayerReadyToggle MessageType = "PLAYER_READY_TOGGLE"
)

// Server → client
const (
	MessageRoomState       MessageType = "ROOM_STATE"
	MessagePlayerSubmitted MessageType = "PLAYER_SUBMITTED"
	MessageRoundStarted    MessageType = "ROUND_STARTED"
	MessageGuessSubmitted  MessageType = "GUESS_SUBMITTED"
	MessageRoundCompleted  MessageType = "ROUND_COMPLETED"
	MessageError           MessageType = "ERROR"
)

// Error codes carried in ERROR frames.
const (
	ErrorAuthInvalidToken     = "AUTH_INVALID_TOKEN"
	ErrorStatePersistFailed   = "STATE_PERSIST_FAILED"
	ErrorRoomStateUnavailable = "ROOM_STATE_UNAVAILABLE"
)

// Message is the envelope for every frame sent to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	RoomID    string          `json:"room_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is a frame received from a client.
type ClientMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MovePayload is the body of PLAYER_MOVE.
type MovePayload struct {
	RoundIndex int             `json:"round_index"`
	Move       json.RawMessage `json:"move"`
}

// ReadyPayload is the body of PLAYER_READY_TOGGLE.
type ReadyPayload struct {
	IsReady bool `json:"is_ready"`
}

// PlayerSubmittedPayload announces a move without its contents.
type PlayerSubmittedPayload struct {
	PlayerID   string `json:"player_id"`
	RoundIndex int    `json:"round_index"`
}

// ErrorPayload is the body of ERROR frames.
type ErrorPayload struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	PlayerID string `json:"player_id,omitempty"`
}
