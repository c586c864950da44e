package round

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/mcdev12/roundsync/go/internal/models"
)

type roundKey struct {
	roomID string
	index  int
}

// MemoryRepository keeps rounds in process. Used by tests and single-node
// development runs.
type MemoryRepository struct {
	mu           sync.Mutex
	rounds       map[roundKey]*models.Round
	submissions  map[roundKey]map[string]models.RoundSubmission
	participants map[string]map[string]models.Participant
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rounds:       make(map[roundKey]*models.Round),
		submissions:  make(map[roundKey]map[string]models.RoundSubmission),
		participants: make(map[string]map[string]models.Participant),
	}
}

func (m *MemoryRepository) UpsertRoundStart(_ context.Context, round models.Round) (*models.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := roundKey{round.RoomID, round.Index}
	existing, ok := m.rounds[key]
	if ok && len(existing.FinalizedPayload) > 0 {
		return nil, ErrRoundFinalized
	}
	if ok {
		existing.StartedAt = round.StartedAt
		existing.DurationSec = round.DurationSec
		existing.Seed = round.Seed
		existing.HostPlayerID = round.HostPlayerID
		existing.ContentIDs = append([]string{}, round.ContentIDs...)
		return cloneRound(existing), nil
	}

	stored := round
	stored.ContentIDs = append([]string{}, round.ContentIDs...)
	stored.FinalizedPayload = nil
	stored.FinalizedAt = nil
	m.rounds[key] = &stored
	return cloneRound(&stored), nil
}

func (m *MemoryRepository) GetRound(_ context.Context, roomID string, index int) (*models.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[roundKey{roomID, index}]
	if !ok {
		return nil, ErrRoundNotFound
	}
	return cloneRound(r), nil
}

func (m *MemoryRepository) SetFinalizedPayload(_ context.Context, roomID string, index int, payload json.RawMessage, at time.Time) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[roundKey{roomID, index}]
	if !ok {
		return nil, ErrRoundNotFound
	}
	if len(r.FinalizedPayload) == 0 {
		r.FinalizedPayload = append(json.RawMessage{}, payload...)
		t := at
		r.FinalizedAt = &t
	}
	return append(json.RawMessage{}, r.FinalizedPayload...), nil
}

func (m *MemoryRepository) UpsertSubmission(_ context.Context, sub models.RoundSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := roundKey{sub.RoomID, sub.RoundIndex}
	if m.submissions[key] == nil {
		m.submissions[key] = make(map[string]models.RoundSubmission)
	}
	m.submissions[key][sub.PlayerID] = sub
	return nil
}

func (m *MemoryRepository) ListSubmissions(_ context.Context, roomID string, index int) ([]models.RoundSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.submissions[roundKey{roomID, index}]
	out := make([]models.RoundSubmission, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func (m *MemoryRepository) UpsertParticipant(_ context.Context, p models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.participants[p.RoomID] == nil {
		m.participants[p.RoomID] = make(map[string]models.Participant)
	}
	if existing, ok := m.participants[p.RoomID][p.PlayerID]; ok {
		existing.DisplayName = p.DisplayName
		m.participants[p.RoomID][p.PlayerID] = existing
		return nil
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	m.participants[p.RoomID][p.PlayerID] = p
	return nil
}

func (m *MemoryRepository) ListParticipants(_ context.Context, roomID string) ([]models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.participants[roomID]
	out := make([]models.Participant, 0, len(ps))
	for _, p := range ps {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out, nil
}

func cloneRound(r *models.Round) *models.Round {
	c := *r
	c.ContentIDs = append([]string{}, r.ContentIDs...)
	if r.FinalizedPayload != nil {
		c.FinalizedPayload = append(json.RawMessage{}, r.FinalizedPayload...)
	}
	if r.FinalizedAt != nil {
		t := *r.FinalizedAt
		c.FinalizedAt = &t
	}
	return &c
}
