package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/roundsync/go/internal/identity"
	"github.com/mcdev12/roundsync/go/internal/models"
	"github.com/mcdev12/roundsync/go/internal/store"
	"github.com/rs/zerolog/log"
)

// Manager routes connections and relay events to one Session per room. A
// session is created on the first connection and torn down after the last
// one leaves; a reconnect during teardown waits for the final snapshot.
type Manager struct {
	deps   Deps
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	sessions  map[string]*Session
	draining  map[string]*Session
	counts    map[string]int
	connRooms map[string]string
}

// Stats describes open connections.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

func NewManager(deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*Session),
		draining:  make(map[string]*Session),
		counts:    make(map[string]int),
		connRooms: make(map[string]string),
	}
}

// Connect attaches conn to roomID after the room's session accepts token.
// On error the session has already told the client why and closed conn.
func (m *Manager) Connect(ctx context.Context, roomID string, conn Conn, token string) (identity.Identity, error) {
	if roomID == "" {
		return identity.Identity{}, fmt.Errorf("room id is required")
	}

	s, err := m.acquire(ctx, roomID, conn.ID())
	if err != nil {
		return identity.Identity{}, err
	}

	id, err := s.connect(ctx, conn, token)
	if err != nil {
		m.release(conn.ID())
		return identity.Identity{}, err
	}
	return id, nil
}

func (m *Manager) acquire(ctx context.Context, roomID, connID string) (*Session, error) {
	for {
		m.mu.Lock()
		if m.ctx.Err() != nil {
			m.mu.Unlock()
			return nil, ErrSessionClosed
		}
		if d, ok := m.draining[roomID]; ok {
			m.mu.Unlock()
			select {
			case <-d.done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		s, ok := m.sessions[roomID]
		if !ok {
			s = newSession(roomID, m.deps)
			m.sessions[roomID] = s
			go s.run(m.ctx)
		}
		m.counts[roomID]++
		m.connRooms[connID] = roomID
		m.mu.Unlock()
		return s, nil
	}
}

func (m *Manager) release(connID string) {
	m.mu.Lock()
	roomID, ok := m.connRooms[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.connRooms, connID)

	s := m.sessions[roomID]
	m.counts[roomID]--
	last := m.counts[roomID] <= 0
	if last {
		delete(m.sessions, roomID)
		delete(m.counts, roomID)
		m.draining[roomID] = s
		go m.awaitDrain(roomID, s)
	}
	m.mu.Unlock()

	s.enqueue(context.Background(), closeCmd{connID: connID, last: last})
}

func (m *Manager) awaitDrain(roomID string, s *Session) {
	<-s.done
	m.mu.Lock()
	if m.draining[roomID] == s {
		delete(m.draining, roomID)
	}
	m.mu.Unlock()
	log.Debug().Str("room_id", roomID).Msg("room session drained")
}

// Disconnect detaches a connection. Unknown ids are ignored.
func (m *Manager) Disconnect(connID string) {
	m.release(connID)
}

// HandleMessage routes a client frame to the connection's room.
func (m *Manager) HandleMessage(connID string, data []byte) {
	s := m.sessionForConn(connID)
	if s == nil {
		return
	}
	s.enqueue(context.Background(), messageCmd{connID: connID, data: data})
}

// DispatchRelayEvent forwards a relay event into the room's session. Rooms
// with no open connections have nobody to notify and are skipped.
func (m *Manager) DispatchRelayEvent(ctx context.Context, roomID, eventType string, payload json.RawMessage) {
	m.mu.Lock()
	s := m.sessions[roomID]
	m.mu.Unlock()

	if s == nil {
		log.Debug().Str("room_id", roomID).Str("event_type", eventType).Msg("no active session for relay event")
		return
	}
	if !s.enqueue(ctx, relayCmd{eventType: eventType, payload: payload}) {
		log.Warn().Str("room_id", roomID).Str("event_type", eventType).Msg("relay event not delivered, session closed")
	}
}

// RoomState returns the live state of a room, or its last snapshot when no
// session is running.
func (m *Manager) RoomState(ctx context.Context, roomID string) (models.RoomState, error) {
	m.mu.Lock()
	s := m.sessions[roomID]
	d := m.draining[roomID]
	m.mu.Unlock()

	if s != nil {
		st, err := s.snapshot(ctx)
		if !errors.Is(err, ErrSessionClosed) {
			return st, err
		}
	}
	if d != nil {
		select {
		case <-d.done:
		case <-ctx.Done():
			return models.RoomState{}, ctx.Err()
		}
	}

	snap, err := m.deps.Store.Read(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return models.NewRoomState(roomID, m.deps.Mode), nil
	}
	if err != nil {
		return models.RoomState{}, err
	}
	return decodeState(snap.Payload)
}

// Stats reports connection counts per room.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{RoomConnections: make(map[string]int, len(m.counts))}
	for roomID, n := range m.counts {
		stats.TotalConnections += n
		stats.RoomConnections[roomID] = n
	}
	stats.ActiveRooms = len(m.sessions)
	return stats
}

// Shutdown stops every session; each persists a final snapshot first.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.cancel()
	all := make([]*Session, 0, len(m.sessions)+len(m.draining))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	for _, s := range m.draining {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	log.Info().Int("sessions", len(all)).Msg("room manager stopped")
	return nil
}

func (m *Manager) sessionForConn(connID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	roomID, ok := m.connRooms[connID]
	if !ok {
		return nil
	}
	return m.sessions[roomID]
}
