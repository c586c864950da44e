package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/roundsync/go/internal/events"
	"github.com/mcdev12/roundsync/go/internal/identity"
	"github.com/mcdev12/roundsync/go/internal/models"
	"github.com/mcdev12/roundsync/go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames []Message
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return false
	}
	c.frames = append(c.frames, msg)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) ofType(t MessageType) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, m := range c.frames {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) lastState(t *testing.T) StateView {
	t.Helper()
	states := c.ofType(MessageRoomState)
	require.NotEmpty(t, states)
	var view StateView
	require.NoError(t, json.Unmarshal(states[len(states)-1].Data, &view))
	return view
}

func (c *fakeConn) errorCodes(t *testing.T) []string {
	t.Helper()
	var codes []string
	for _, m := range c.ofType(MessageError) {
		var p ErrorPayload
		require.NoError(t, json.Unmarshal(m.Data, &p))
		codes = append(codes, p.Code)
	}
	return codes
}

type staticVerifier map[string]identity.Identity

func (v staticVerifier) Verify(_ context.Context, token string) (identity.Identity, error) {
	id, ok := v[token]
	if !ok {
		return identity.Identity{}, identity.ErrInvalidToken
	}
	return id, nil
}

var players = staticVerifier{
	"tok-a": {PlayerID: "A", DisplayName: "Alice"},
	"tok-b": {PlayerID: "B", DisplayName: "Bea"},
}

// flakyStore fails writes or reads on demand.
type flakyStore struct {
	*store.MemoryStore
	failWrites atomic.Bool
	failReads  atomic.Bool
}

func (f *flakyStore) Read(ctx context.Context, roomID string) (store.Snapshot, error) {
	if f.failReads.Load() {
		return store.Snapshot{}, errors.New("store unreachable")
	}
	return f.MemoryStore.Read(ctx, roomID)
}

func (f *flakyStore) WriteIfRevision(ctx context.Context, roomID string, payload json.RawMessage, expectedPrev int64) (int64, error) {
	if f.failWrites.Load() {
		return 0, errors.New("store unreachable")
	}
	return f.MemoryStore.WriteIfRevision(ctx, roomID, payload, expectedPrev)
}

type recordingMembers struct {
	mu     sync.Mutex
	joined []string
}

func (r *recordingMembers) RecordParticipant(_ context.Context, roomID, playerID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, roomID+"/"+playerID)
	return nil
}

func newTestManager(t *testing.T, st store.Store, members MembershipRecorder) *Manager {
	t.Helper()
	m := NewManager(Deps{
		Store:    st,
		Verifier: players,
		Members:  members,
		Clock:    clockwork.NewFakeClock(),
	})
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func moveFrame(round int, move string) []byte {
	return []byte(fmt.Sprintf(`{"type":"PLAYER_MOVE","data":{"round_index":%d,"move":%s}}`, round, move))
}

func readyFrame(ready bool) []byte {
	return []byte(fmt.Sprintf(`{"type":"PLAYER_READY_TOGGLE","data":{"is_ready":%t}}`, ready))
}

// drain waits until the session has processed everything queued so far.
func drain(t *testing.T, m *Manager, roomID string) models.RoomState {
	t.Helper()
	st, err := m.RoomState(context.Background(), roomID)
	require.NoError(t, err)
	return st
}

func TestSession_FirstConnectorIsHost(t *testing.T) {
	ctx := context.Background()
	members := &recordingMembers{}
	m := newTestManager(t, store.NewMemoryStore(nil), members)

	a, b := newFakeConn("c1"), newFakeConn("c2")
	_, err := m.Connect(ctx, "R1", a, "tok-a")
	require.NoError(t, err)
	id, err := m.Connect(ctx, "R1", b, "tok-b")
	require.NoError(t, err)
	assert.Equal(t, "B", id.PlayerID)

	viewA, viewB := a.lastState(t), b.lastState(t)
	assert.True(t, viewA.IsHost)
	assert.False(t, viewB.IsHost)
	require.Len(t, viewB.Players, 2)
	assert.Equal(t, "A", viewB.Players[0].ID)
	assert.True(t, viewB.Players[0].IsHost)

	assert.Equal(t, []string{"R1/A", "R1/B"}, members.joined)
	assert.Equal(t, 2, m.Stats().TotalConnections)
}

func TestSession_InvalidTokenClosesConnection(t *testing.T) {
	m := newTestManager(t, store.NewMemoryStore(nil), nil)

	c := newFakeConn("c1")
	_, err := m.Connect(context.Background(), "R1", c, "forged")
	assert.ErrorIs(t, err, identity.ErrInvalidToken)
	assert.True(t, c.isClosed())
	assert.Equal(t, []string{ErrorAuthInvalidToken}, c.errorCodes(t))
	assert.Equal(t, 0, m.Stats().TotalConnections)
}

func TestSession_MoveBroadcastsSubmissionWithoutPayload(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(nil)
	m := newTestManager(t, st, nil)

	a, b := newFakeConn("c1"), newFakeConn("c2")
	_, err := m.Connect(ctx, "R1", a, "tok-a")
	require.NoError(t, err)
	_, err = m.Connect(ctx, "R1", b, "tok-b")
	require.NoError(t, err)

	m.HandleMessage("c1", moveFrame(0, `{"lat":48.85,"lng":2.35}`))
	state := drain(t, m, "R1")

	move, ok := state.Move("A", 0)
	require.True(t, ok)
	assert.JSONEq(t, `{"lat":48.85,"lng":2.35}`, string(move))

	submitted := b.ofType(MessagePlayerSubmitted)
	require.Len(t, submitted, 1)
	assert.JSONEq(t, `{"player_id":"A","round_index":0}`, string(submitted[0].Data))

	var moves int
	for _, e := range st.Events("R1") {
		if e.EventType == store.EventMove {
			moves++
		}
	}
	assert.Equal(t, 1, moves)
}

func TestSession_RepeatedMovesKeepLatest(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMemoryStore(nil), nil)

	a := newFakeConn("c1")
	_, err := m.Connect(ctx, "R1", a, "tok-a")
	require.NoError(t, err)

	m.HandleMessage("c1", moveFrame(2, `"first"`))
	m.HandleMessage("c1", moveFrame(2, `"second"`))
	state := drain(t, m, "R1")

	move, ok := state.Move("A", 2)
	require.True(t, ok)
	assert.Equal(t, `"second"`, string(move))
	assert.Len(t, state.Moves["A"], 1)
}

func TestSession_PersistFailureKeepsMoveAndReportsError(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{MemoryStore: store.NewMemoryStore(nil)}
	m := newTestManager(t, st, nil)

	a, b := newFakeConn("c1"), newFakeConn("c2")
	_, err := m.Connect(ctx, "R1", a, "tok-a")
	require.NoError(t, err)
	_, err = m.Connect(ctx, "R1", b, "tok-b")
	require.NoError(t, err)

	st.failWrites.Store(true)
	m.HandleMessage("c1", moveFrame(0, `{"guess":1999}`))
	state := drain(t, m, "R1")

	_, ok := state.Move("A", 0)
	assert.True(t, ok)
	for _, c := range []*fakeConn{a, b} {
		assert.Equal(t, []string{ErrorStatePersistFailed}, c.errorCodes(t))
		assert.Empty(t, c.ofType(MessagePlayerSubmitted))
	}

	st.failWrites.Store(false)
	m.HandleMessage("c1", moveFrame(0, `{"guess":1999}`))
	drain(t, m, "R1")
	assert.Len(t, b.ofType(MessagePlayerSubmitted), 1)
}

func TestSession_ReadyToggleRollsBackOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{MemoryStore: store.NewMemoryStore(nil)}
	m := newTestManager(t, st, nil)

	a := newFakeConn("c1")
	_, err := m.Connect(ctx, "R1", a, "tok-a")
	require.NoError(t, err)

	m.HandleMessage("c1", readyFrame(true))
	state := drain(t, m, "R1")
	assert.True(t, state.Players["A"].IsReady)
	assert.True(t, a.lastState(t).Players[0].IsReady)

	st.failWrites.Store(true)
	m.HandleMessage("c1", readyFrame(false))
	state = drain(t, m, "R1")
	assert.True(t, state.Players["A"].IsReady)
	assert.Equal(t, []string{ErrorStatePersistFailed}, a.errorCodes(t))
}

func TestSession_UnknownMessagesIgnored(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMemoryStore(nil), nil)

	a := newFakeConn("c1")
	_, err := m.Connect(ctx, "R1", a, "tok-a")
	require.NoError(t, err)
	before := len(a.ofType(MessageRoomState))

	m.HandleMessage("c1", []byte(`{"type":"CHAT","data":{"text":"hi"}}`))
	m.HandleMessage("c1", []byte(`not json`))
	drain(t, m, "R1")

	assert.Len(t, a.ofType(MessageRoomState), before)
	assert.Empty(t, a.errorCodes(t))
}

func TestSession_ReconnectAfterTeardownRestoresState(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(nil)
	m := newTestManager(t, st, nil)

	a := newFakeConn("c1")
	_, err := m.Connect(ctx, "R1", a, "tok-a")
	require.NoError(t, err)
	m.HandleMessage("c1", moveFrame(0, `"paris"`))
	m.HandleMessage("c1", readyFrame(true))
	drain(t, m, "R1")

	m.Disconnect("c1")
	stored := drain(t, m, "R1")
	assert.False(t, stored.Players["A"].IsConnected)
	assert.Equal(t, 0, m.Stats().ActiveRooms)

	again := newFakeConn("c2")
	_, err = m.Connect(ctx, "R1", again, "tok-a")
	require.NoError(t, err)

	view := again.lastState(t)
	require.Len(t, view.Players, 1)
	assert.True(t, view.Players[0].IsReady)
	assert.True(t, view.Players[0].IsConnected)
	assert.True(t, view.IsHost)
	assert.Equal(t, `"paris"`, string(view.Moves[0]))

	var reconnects int
	for _, e := range st.Events("R1") {
		if e.EventType == store.EventReconnect {
			reconnects++
		}
	}
	assert.Equal(t, 1, reconnects)
}

func TestSession_SecondTabKeepsPlayerConnected(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMemoryStore(nil), nil)

	tab1, tab2 := newFakeConn("t1"), newFakeConn("t2")
	_, err := m.Connect(ctx, "R1", tab1, "tok-a")
	require.NoError(t, err)
	_, err = m.Connect(ctx, "R1", tab2, "tok-a")
	require.NoError(t, err)

	m.Disconnect("t1")
	state := drain(t, m, "R1")
	assert.True(t, state.Players["A"].IsConnected)
	assert.Len(t, state.Players, 1)
}

func TestSession_ConflictMergesStoredEntries(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(nil)
	m := newTestManager(t, st, nil)

	a := newFakeConn("c1")
	_, err := m.Connect(ctx, "R1", a, "tok-a")
	require.NoError(t, err)

	// Another writer lands a revision this session has not seen.
	snap, err := st.Read(ctx, "R1")
	require.NoError(t, err)
	other, err := decodeState(snap.Payload)
	require.NoError(t, err)
	other.Players["Z"] = &models.Player{ID: "Z", DisplayName: "Zoe", JoinOrder: 5}
	other.SetMove("Z", 0, json.RawMessage(`"rome"`))
	payload, err := json.Marshal(other)
	require.NoError(t, err)
	_, err = st.WriteIfRevision(ctx, "R1", payload, snap.Revision)
	require.NoError(t, err)

	m.HandleMessage("c1", moveFrame(0, `"paris"`))
	state := drain(t, m, "R1")

	assert.Contains(t, state.Players, "Z")
	zMove, ok := state.Move("Z", 0)
	require.True(t, ok)
	assert.Equal(t, `"rome"`, string(zMove))
	assert.Len(t, a.ofType(MessagePlayerSubmitted), 1)

	latest, err := st.Read(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, snap.Revision+2, latest.Revision)
	persisted, err := decodeState(latest.Payload)
	require.NoError(t, err)
	aMove, ok := persisted.Move("A", 0)
	require.True(t, ok)
	assert.Equal(t, `"paris"`, string(aMove))
}

func TestSession_UnreadableStateRejectsConnections(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{MemoryStore: store.NewMemoryStore(nil)}
	st.failReads.Store(true)
	m := newTestManager(t, st, nil)

	c := newFakeConn("c1")
	_, err := m.Connect(ctx, "R1", c, "tok-a")
	assert.ErrorIs(t, err, ErrRoomUnavailable)
	assert.Equal(t, []string{ErrorRoomStateUnavailable}, c.errorCodes(t))
	assert.True(t, c.isClosed())

	st.failReads.Store(false)
	_, err = m.Connect(ctx, "R1", newFakeConn("c2"), "tok-a")
	assert.NoError(t, err)
}

func TestSession_RelayEventsUpdateRoundAndFanOut(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMemoryStore(nil), nil)

	a, b := newFakeConn("c1"), newFakeConn("c2")
	_, err := m.Connect(ctx, "R1", a, "tok-a")
	require.NoError(t, err)
	_, err = m.Connect(ctx, "R1", b, "tok-b")
	require.NoError(t, err)

	started, err := json.Marshal(events.RoundStartedPayload{
		RoomID:      "R1",
		RoundIndex:  0,
		DurationSec: 60,
		Seed:        "s1",
		TimerID:     "R1:0",
	})
	require.NoError(t, err)
	m.DispatchRelayEvent(ctx, "R1", events.RoundStarted, started)

	state := drain(t, m, "R1")
	assert.True(t, state.Round.Started)
	assert.Equal(t, 60, state.Round.DurationSec)
	assert.Equal(t, "R1:0", state.Round.TimerID)
	assert.Len(t, b.ofType(MessageRoundStarted), 1)

	completed, err := json.Marshal(events.RoundCompletedPayload{
		RoomID:     "R1",
		RoundIndex: 0,
		Scoreboard: json.RawMessage(`{"rows":[]}`),
	})
	require.NoError(t, err)
	m.DispatchRelayEvent(ctx, "R1", events.RoundCompleted, completed)

	state = drain(t, m, "R1")
	assert.True(t, state.Round.Completed)
	require.Len(t, a.ofType(MessageRoundCompleted), 1)
	assert.JSONEq(t, string(completed), string(a.ofType(MessageRoundCompleted)[0].Data))

	// No session, nothing to do.
	m.DispatchRelayEvent(ctx, "R2", events.RoundStarted, started)
}

func TestManager_ShutdownPersistsSnapshot(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(nil)
	m := NewManager(Deps{Store: st, Verifier: players, Clock: clockwork.NewFakeClock()})

	_, err := m.Connect(ctx, "R1", newFakeConn("c1"), "tok-a")
	require.NoError(t, err)
	before, err := st.Read(ctx, "R1")
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(ctx))

	after, err := st.Read(ctx, "R1")
	require.NoError(t, err)
	assert.Greater(t, after.Revision, before.Revision)

	_, err = m.Connect(ctx, "R1", newFakeConn("c2"), "tok-a")
	assert.ErrorIs(t, err, ErrSessionClosed)
}
