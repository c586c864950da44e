package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/roundsync/go/internal/events"
	"github.com/mcdev12/roundsync/go/internal/identity"
	"github.com/mcdev12/roundsync/go/internal/models"
	"github.com/mcdev12/roundsync/go/internal/store"
	"github.com/rs/zerolog/log"
)

const (
	maxPersistAttempts = 3
	inboxSize          = 64
	teardownTimeout    = 5 * time.Second
)

var (
	ErrRoomUnavailable = errors.New("room state unavailable")
	ErrSessionClosed   = errors.New("room session closed")
)

// Conn is one client connection attached to a room.
type Conn interface {
	ID() string
	// Send queues data for delivery and reports false when the connection
	// cannot take it.
	Send(data []byte) bool
	Close()
}

// MembershipRecorder is told about a player's first join to a room.
type MembershipRecorder interface {
	RecordParticipant(ctx context.Context, roomID, playerID, displayName string) error
}

// Deps are shared by every session a Manager creates.
type Deps struct {
	Store    store.Store
	Verifier identity.Verifier
	Members  MembershipRecorder
	Clock    clockwork.Clock
	Mode     models.RoomMode
}

type attachment struct {
	conn     Conn
	playerID string
}

type connectResult struct {
	identity identity.Identity
	err      error
}

type connectCmd struct {
	conn  Conn
	token string
	reply chan connectResult
}

type messageCmd struct {
	connID string
	data   []byte
}

type closeCmd struct {
	connID string
	last   bool
}

type relayCmd struct {
	eventType string
	payload   json.RawMessage
}

type inspectCmd struct {
	reply chan models.RoomState
}

// Session is the single writer of one room's state. All fields below inbox
// are owned by the run goroutine.
type Session struct {
	roomID string
	deps   Deps
	inbox  chan any
	done   chan struct{}

	state     models.RoomState
	revision  int64
	available bool
	conns     map[string]attachment
}

func newSession(roomID string, deps Deps) *Session {
	return &Session{
		roomID: roomID,
		deps:   deps,
		inbox:  make(chan any, inboxSize),
		done:   make(chan struct{}),
		state:  models.NewRoomState(roomID, deps.Mode),
		conns:  make(map[string]attachment),
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	s.hydrate(ctx)
	log.Debug().Str("room_id", s.roomID).Int64("revision", s.revision).Msg("room session started")

	for {
		select {
		case <-ctx.Done():
			s.onBeforeTeardown(ctx)
			return
		case cmd := <-s.inbox:
			if s.handle(ctx, cmd) {
				s.onBeforeTeardown(ctx)
				return
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, cmd any) (exit bool) {
	switch c := cmd.(type) {
	case connectCmd:
		s.onConnect(ctx, c)
	case messageCmd:
		s.onMessage(ctx, c)
	case closeCmd:
		return s.onClose(ctx, c)
	case relayCmd:
		s.onRelay(ctx, c)
	case inspectCmd:
		c.reply <- cloneState(s.state)
	}
	return false
}

func (s *Session) enqueue(ctx context.Context, cmd any) bool {
	select {
	case s.inbox <- cmd:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Session) connect(ctx context.Context, conn Conn, token string) (identity.Identity, error) {
	reply := make(chan connectResult, 1)
	if !s.enqueue(ctx, connectCmd{conn: conn, token: token, reply: reply}) {
		return identity.Identity{}, ErrSessionClosed
	}
	select {
	case res := <-reply:
		return res.identity, res.err
	case <-s.done:
		return identity.Identity{}, ErrSessionClosed
	case <-ctx.Done():
		return identity.Identity{}, ctx.Err()
	}
}

func (s *Session) snapshot(ctx context.Context) (models.RoomState, error) {
	reply := make(chan models.RoomState, 1)
	if !s.enqueue(ctx, inspectCmd{reply: reply}) {
		return models.RoomState{}, ErrSessionClosed
	}
	select {
	case st := <-reply:
		return st, nil
	case <-s.done:
		return models.RoomState{}, ErrSessionClosed
	case <-ctx.Done():
		return models.RoomState{}, ctx.Err()
	}
}

// hydrate loads the last snapshot. A missing row starts an empty room; any
// other failure leaves the session unavailable so it never overwrites state
// it could not read.
func (s *Session) hydrate(ctx context.Context) {
	snap, err := s.deps.Store.Read(ctx, s.roomID)
	if errors.Is(err, store.ErrNotFound) {
		s.available = true
		return
	}
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Msg("failed to hydrate room state")
		s.available = false
		return
	}

	stored, err := decodeState(snap.Payload)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Msg("failed to decode room snapshot")
		s.available = false
		return
	}
	for _, p := range stored.Players {
		p.IsConnected = false
	}
	stored.RoomID = s.roomID
	s.state = stored
	s.revision = snap.Revision
	s.available = true
}

func (s *Session) onConnect(ctx context.Context, cmd connectCmd) {
	id, err := s.deps.Verifier.Verify(ctx, cmd.token)
	if err != nil {
		log.Warn().Err(err).Str("room_id", s.roomID).Str("connection_id", cmd.conn.ID()).Msg("rejecting connection with invalid token")
		s.sendError(cmd.conn, ErrorAuthInvalidToken, "invalid or expired token", "")
		cmd.conn.Close()
		cmd.reply <- connectResult{err: err}
		return
	}

	if !s.available {
		s.hydrate(ctx)
	}
	if !s.available {
		s.sendError(cmd.conn, ErrorRoomStateUnavailable, "room state could not be loaded, try again", id.PlayerID)
		cmd.conn.Close()
		cmd.reply <- connectResult{err: ErrRoomUnavailable}
		return
	}

	s.conns[cmd.conn.ID()] = attachment{conn: cmd.conn, playerID: id.PlayerID}

	if p, ok := s.state.Players[id.PlayerID]; ok {
		p.IsConnected = true
		if id.DisplayName != "" {
			p.DisplayName = id.DisplayName
		}
		if id.Avatar != "" {
			p.Avatar = id.Avatar
		}
		s.audit(ctx, id.PlayerID, store.EventReconnect, nil)
		log.Info().Str("room_id", s.roomID).Str("player_id", id.PlayerID).Msg("player reconnected")
	} else {
		p := &models.Player{
			ID:          id.PlayerID,
			DisplayName: id.DisplayName,
			Avatar:      id.Avatar,
			IsConnected: true,
			JoinOrder:   s.state.NextJoinOrder(),
			JoinedAt:    s.deps.Clock.Now().UTC(),
		}
		if s.state.HostPlayerID == "" {
			s.state.HostPlayerID = p.ID
			p.IsHost = true
		}
		s.state.Players[p.ID] = p
		s.audit(ctx, p.ID, store.EventJoin, nil)

		if s.deps.Members != nil {
			if err := s.deps.Members.RecordParticipant(ctx, s.roomID, p.ID, p.DisplayName); err != nil {
				log.Warn().Err(err).Str("room_id", s.roomID).Str("player_id", p.ID).Msg("failed to record participant")
			}
		}
		log.Info().
			Str("room_id", s.roomID).
			Str("player_id", p.ID).
			Bool("is_host", p.IsHost).
			Msg("player joined")
	}

	if err := s.persist(ctx); err != nil {
		log.Warn().Err(err).Str("room_id", s.roomID).Msg("failed to persist join")
	}
	s.broadcastState()
	cmd.reply <- connectResult{identity: id}
}

func (s *Session) onMessage(ctx context.Context, cmd messageCmd) {
	att, ok := s.conns[cmd.connID]
	if !ok {
		return
	}

	var msg ClientMessage
	if err := json.Unmarshal(cmd.data, &msg); err != nil {
		log.Debug().Err(err).Str("connection_id", cmd.connID).Msg("ignoring malformed client message")
		return
	}

	switch msg.Type {
	case MessagePlayerMove:
		s.onMove(ctx, att.playerID, msg.Data)
	case MessagePlayerReadyToggle:
		s.onReadyToggle(ctx, att.playerID, msg.Data)
	default:
		log.Debug().Str("room_id", s.roomID).Str("type", string(msg.Type)).Msg("ignoring unknown message type")
	}
}

// onMove keeps the move in memory even when persisting fails so the client
// can retry against the same state.
func (s *Session) onMove(ctx context.Context, playerID string, data json.RawMessage) {
	var move MovePayload
	if err := json.Unmarshal(data, &move); err != nil || move.RoundIndex < 0 || len(move.Move) == 0 || !json.Valid(move.Move) {
		log.Debug().Str("room_id", s.roomID).Str("player_id", playerID).Msg("ignoring invalid move")
		return
	}

	s.state.SetMove(playerID, move.RoundIndex, move.Move)
	s.audit(ctx, playerID, store.EventMove, data)

	if err := s.persist(ctx); err != nil {
		log.Error().
			Err(err).
			Str("room_id", s.roomID).
			Str("player_id", playerID).
			Int("round_index", move.RoundIndex).
			Msg("failed to persist move")
		s.broadcastError(ErrorStatePersistFailed, "move could not be saved, please retry", playerID)
		return
	}

	s.broadcast(MessagePlayerSubmitted, PlayerSubmittedPayload{PlayerID: playerID, RoundIndex: move.RoundIndex})
}

func (s *Session) onReadyToggle(ctx context.Context, playerID string, data json.RawMessage) {
	var ready ReadyPayload
	if err := json.Unmarshal(data, &ready); err != nil {
		log.Debug().Str("room_id", s.roomID).Str("player_id", playerID).Msg("ignoring invalid ready toggle")
		return
	}
	p, ok := s.state.Players[playerID]
	if !ok {
		return
	}

	prev := p.IsReady
	p.IsReady = ready.IsReady
	s.audit(ctx, playerID, store.EventReady, data)

	if err := s.persist(ctx); err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Str("player_id", playerID).Msg("failed to persist ready toggle")
		p.IsReady = prev
		s.broadcastError(ErrorStatePersistFailed, "ready state could not be saved, please retry", playerID)
		return
	}
	s.broadcastState()
}

func (s *Session) onClose(ctx context.Context, cmd closeCmd) bool {
	att, ok := s.conns[cmd.connID]
	if ok {
		delete(s.conns, cmd.connID)

		if !s.playerAttached(att.playerID) {
			if p, exists := s.state.Players[att.playerID]; exists {
				p.IsConnected = false
			}
			s.audit(ctx, att.playerID, store.EventDisconnect, nil)
			log.Info().Str("room_id", s.roomID).Str("player_id", att.playerID).Msg("player disconnected")
		}

		if len(s.conns) == 0 {
			if err := s.persist(ctx); err != nil {
				log.Error().Err(err).Str("room_id", s.roomID).Msg("failed to persist final snapshot")
			}
		} else {
			s.broadcastState()
		}
	}
	return cmd.last
}

// onBeforeTeardown writes one last snapshot. It runs on a detached context so
// process shutdown still gets a durable write.
func (s *Session) onBeforeTeardown(ctx context.Context) {
	if !s.available || (s.revision == 0 && len(s.state.Players) == 0) {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	if err := s.persist(ctx); err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Msg("failed to persist snapshot on teardown")
		return
	}
	log.Debug().Str("room_id", s.roomID).Int64("revision", s.revision).Msg("room session stopped")
}

func (s *Session) onRelay(ctx context.Context, cmd relayCmd) {
	switch cmd.eventType {
	case events.RoundStarted:
		var p events.RoundStartedPayload
		if err := json.Unmarshal(cmd.payload, &p); err != nil {
			log.Warn().Err(err).Str("room_id", s.roomID).Msg("bad round_started payload")
			return
		}
		if p.RoundIndex >= s.state.Round.Index {
			startedAt := p.StartedAt
			s.state.Round = models.RoundContext{
				Index:       p.RoundIndex,
				Started:     true,
				StartedAt:   &startedAt,
				DurationSec: p.DurationSec,
				TimerID:     p.TimerID,
			}
			if err := s.persist(ctx); err != nil {
				log.Warn().Err(err).Str("room_id", s.roomID).Msg("failed to persist round start")
			}
		}
		s.broadcastRaw(MessageRoundStarted, cmd.payload)

	case events.GuessSubmitted:
		s.broadcastRaw(MessageGuessSubmitted, cmd.payload)

	case events.RoundCompleted:
		var p events.RoundCompletedPayload
		if err := json.Unmarshal(cmd.payload, &p); err != nil {
			log.Warn().Err(err).Str("room_id", s.roomID).Msg("bad round_completed payload")
			return
		}
		if p.RoundIndex == s.state.Round.Index && !s.state.Round.Completed {
			s.state.Round.Completed = true
			if err := s.persist(ctx); err != nil {
				log.Warn().Err(err).Str("room_id", s.roomID).Msg("failed to persist round completion")
			}
		}
		s.broadcastRaw(MessageRoundCompleted, cmd.payload)

	default:
		log.Debug().Str("room_id", s.roomID).Str("event_type", cmd.eventType).Msg("ignoring relay event")
	}
}

// persist writes the current state as revision+1. On a revision conflict it
// re-reads the stored snapshot, merges what memory is missing and retries.
func (s *Session) persist(ctx context.Context) error {
	for attempt := 1; attempt <= maxPersistAttempts; attempt++ {
		payload, err := json.Marshal(s.state)
		if err != nil {
			return fmt.Errorf("failed to marshal room state: %w", err)
		}

		rev, err := s.deps.Store.WriteIfRevision(ctx, s.roomID, payload, s.revision)
		if err == nil {
			s.revision = rev
			return nil
		}
		if !errors.Is(err, store.ErrRevisionConflict) {
			return err
		}

		log.Debug().
			Str("room_id", s.roomID).
			Int64("expected_revision", s.revision).
			Int("attempt", attempt).
			Msg("snapshot revision conflict, merging")

		snap, err := s.deps.Store.Read(ctx, s.roomID)
		if errors.Is(err, store.ErrNotFound) {
			s.revision = 0
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to re-read snapshot after conflict: %w", err)
		}
		stored, err := decodeState(snap.Payload)
		if err != nil {
			return err
		}
		mergeState(&s.state, stored)
		s.revision = snap.Revision
	}
	return fmt.Errorf("%w: gave up after %d attempts", store.ErrRevisionConflict, maxPersistAttempts)
}

func (s *Session) audit(ctx context.Context, playerID, eventType string, payload json.RawMessage) {
	if err := s.deps.Store.LogEvent(ctx, s.roomID, playerID, eventType, payload); err != nil {
		log.Warn().Err(err).Str("room_id", s.roomID).Str("event_type", eventType).Msg("failed to write audit entry")
	}
}

func (s *Session) playerAttached(playerID string) bool {
	for _, att := range s.conns {
		if att.playerID == playerID {
			return true
		}
	}
	return false
}

func (s *Session) broadcastState() {
	for _, att := range s.conns {
		s.send(att.conn, MessageRoomState, renderState(&s.state, att.playerID))
	}
}

func (s *Session) broadcast(msgType MessageType, data any) {
	for _, att := range s.conns {
		s.send(att.conn, msgType, data)
	}
}

func (s *Session) broadcastRaw(msgType MessageType, data json.RawMessage) {
	frame, err := s.frame(msgType, data)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Msg("failed to encode frame")
		return
	}
	for _, att := range s.conns {
		s.deliver(att.conn, frame)
	}
}

func (s *Session) broadcastError(code, message, playerID string) {
	s.broadcast(MessageError, ErrorPayload{Code: code, Message: message, PlayerID: playerID})
}

func (s *Session) sendError(conn Conn, code, message, playerID string) {
	s.send(conn, MessageError, ErrorPayload{Code: code, Message: message, PlayerID: playerID})
}

func (s *Session) send(conn Conn, msgType MessageType, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Msg("failed to encode message body")
		return
	}
	frame, err := s.frame(msgType, body)
	if err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Msg("failed to encode frame")
		return
	}
	s.deliver(conn, frame)
}

func (s *Session) frame(msgType MessageType, body json.RawMessage) ([]byte, error) {
	return json.Marshal(Message{
		Type:      msgType,
		RoomID:    s.roomID,
		Timestamp: s.deps.Clock.Now().UTC(),
		Data:      body,
	})
}

func (s *Session) deliver(conn Conn, frame []byte) {
	if !conn.Send(frame) {
		log.Warn().Str("room_id", s.roomID).Str("connection_id", conn.ID()).Msg("connection send buffer full, closing connection")
		conn.Close()
	}
}

func decodeState(payload json.RawMessage) (models.RoomState, error) {
	var st models.RoomState
	if err := json.Unmarshal(payload, &st); err != nil {
		return models.RoomState{}, fmt.Errorf("failed to decode room state: %w", err)
	}
	if st.Players == nil {
		st.Players = make(map[string]*models.Player)
	}
	if st.Moves == nil {
		st.Moves = make(map[string]map[int]json.RawMessage)
	}
	return st, nil
}

func cloneState(st models.RoomState) models.RoomState {
	data, err := json.Marshal(st)
	if err != nil {
		return models.NewRoomState(st.RoomID, st.Mode)
	}
	out, err := decodeState(data)
	if err != nil {
		return models.NewRoomState(st.RoomID, st.Mode)
	}
	return out
}
