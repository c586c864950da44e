package round

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/roundsync/go/internal/events"
	"github.com/mcdev12/roundsync/go/internal/identity"
	"github.com/mcdev12/roundsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Repository defines what the round app needs from storage
type Repository interface {
	UpsertRoundStart(ctx context.Context, round models.Round) (*models.Round, error)
	GetRound(ctx context.Context, roomID string, index int) (*models.Round, error)
	SetFinalizedPayload(ctx context.Context, roomID string, index int, payload json.RawMessage, at time.Time) (json.RawMessage, error)
	UpsertSubmission(ctx context.Context, sub models.RoundSubmission) error
	ListSubmissions(ctx context.Context, roomID string, index int) ([]models.RoundSubmission, error)
	UpsertParticipant(ctx context.Context, p models.Participant) error
	ListParticipants(ctx context.Context, roomID string) ([]models.Participant, error)
}

// TimerArmer arms the authoritative round timer.
type TimerArmer interface {
	Arm(ctx context.Context, timerID string, durationSec int, ownerID string) error
}

// Relay carries round events to room sessions.
type Relay interface {
	Publish(ctx context.Context, roomID, eventType string, payload []byte) error
}

// App owns the round lifecycle. Only the round row and its content are
// critical writes; timer arming and relay publishes are best-effort.
type App struct {
	repo    Repository
	catalog ContentCatalog
	timers  TimerArmer
	relay   Relay
	clock   clockwork.Clock

	scheduler FinalizeScheduler
}

// NewApp wires the orchestrator. timers and relay may be nil.
func NewApp(repo Repository, catalog ContentCatalog, timers TimerArmer, relay Relay, clock clockwork.Clock) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{
		repo:    repo,
		catalog: catalog,
		timers:  timers,
		relay:   relay,
		clock:   clock,
	}
}

// SetScheduler enables the server-side finalize backstop for timed rounds.
func (a *App) SetScheduler(s FinalizeScheduler) {
	a.scheduler = s
}

// StartRound selects the round's content, upserts the round together with
// it, arms the timer and announces the start. Calling it again for an unfinalized round restarts it
// with the same content for the same seed.
func (a *App) StartRound(ctx context.Context, req StartRoundRequest) (*StartResult, error) {
	if err := validateStartRound(req); err != nil {
		return nil, err
	}
	seed := req.Seed
	if seed == "" {
		seed = models.TimerID(req.RoomID, req.RoundIndex)
	}

	// Selection is a pure function of the seed, so it runs before anything
	// is written and a failed selection leaves no round behind.
	count := req.Constraints.Count
	if count <= 0 {
		count = DefaultContentCount
	}
	candidates, err := a.catalog.ListCandidates(ctx, req.Constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}
	contentIDs, err := Select(seed, count, candidates)
	if err != nil {
		return nil, err
	}

	saved, err := a.repo.UpsertRoundStart(ctx, models.Round{
		RoomID:       req.RoomID,
		Index:        req.RoundIndex,
		StartedAt:    a.clock.Now().UTC(),
		DurationSec:  req.DurationSec,
		Seed:         seed,
		HostPlayerID: req.HostPlayerID,
		ContentIDs:   contentIDs,
	})
	if err != nil {
		if errors.Is(err, ErrRoundFinalized) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistFatal, err)
	}

	result := &StartResult{Round: saved}
	if req.TimerEnabled && req.DurationSec > 0 && a.timers != nil {
		timerID := models.TimerID(req.RoomID, req.RoundIndex)
		if err := a.timers.Arm(ctx, timerID, req.DurationSec, req.HostPlayerID); err != nil {
			log.Warn().
				Err(err).
				Str("room_id", req.RoomID).
				Int("round_index", req.RoundIndex).
				Msg("failed to arm round timer, clients fall back to local countdown")
		} else {
			result.TimerID = timerID
			result.TimerArmed = true
		}
	}

	if req.TimerEnabled && req.DurationSec > 0 && a.scheduler != nil {
		at := saved.StartedAt.Add(time.Duration(req.DurationSec)*time.Second + FinalizeGrace)
		if err := a.scheduler.ScheduleFinalize(ctx, req.RoomID, req.RoundIndex, at); err != nil {
			log.Warn().
				Err(err).
				Str("room_id", req.RoomID).
				Int("round_index", req.RoundIndex).
				Msg("failed to schedule finalize backstop")
		}
	}

	a.publish(ctx, req.RoomID, events.RoundStarted, events.RoundStartedPayload{
		RoomID:       saved.RoomID,
		RoundIndex:   saved.Index,
		StartedAt:    saved.StartedAt,
		DurationSec:  saved.DurationSec,
		Seed:         saved.Seed,
		ContentIDs:   contentIDs,
		HostPlayerID: saved.HostPlayerID,
		TimerID:      result.TimerID,
	})

	log.Info().
		Str("room_id", req.RoomID).
		Int("round_index", req.RoundIndex).
		Int("content", len(contentIDs)).
		Bool("timer_armed", result.TimerArmed).
		Msg("round started")
	return result, nil
}

// RecordSubmission stores a player's submission. Resubmitting overwrites.
func (a *App) RecordSubmission(ctx context.Context, req SubmitGuessRequest) (*models.RoundSubmission, error) {
	if err := validateSubmission(req); err != nil {
		return nil, err
	}

	round, err := a.repo.GetRound(ctx, req.RoomID, req.RoundIndex)
	if errors.Is(err, ErrRoundNotFound) {
		return nil, ErrRoundNotStarted
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load round: %w", err)
	}
	if round.Status() == models.RoundStatusFinalized {
		return nil, ErrRoundFinalized
	}

	sub := models.RoundSubmission{
		RoomID:        req.RoomID,
		RoundIndex:    req.RoundIndex,
		PlayerID:      req.PlayerID,
		DisplayName:   identity.SanitizeDisplayName(req.DisplayName),
		SubmissionRef: req.SubmissionRef,
		Score:         req.Score,
		SubmittedAt:   a.clock.Now().UTC(),
	}
	if err := a.repo.UpsertSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistFatal, err)
	}

	a.publish(ctx, req.RoomID, events.GuessSubmitted, events.GuessSubmittedPayload{
		RoomID:      sub.RoomID,
		RoundIndex:  sub.RoundIndex,
		PlayerID:    sub.PlayerID,
		SubmittedAt: sub.SubmittedAt,
	})
	return &sub, nil
}

// FinalizeRound computes and stores the scoreboard once. Later calls return
// the stored payload unchanged and re-announce it.
func (a *App) FinalizeRound(ctx context.Context, roomID string, index int) (*FinalizeResult, error) {
	if err := validateRoundRef(roomID, index); err != nil {
		return nil, err
	}

	round, err := a.repo.GetRound(ctx, roomID, index)
	if errors.Is(err, ErrRoundNotFound) {
		return nil, ErrRoundNotStarted
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load round: %w", err)
	}

	stored := round.FinalizedPayload
	if len(stored) == 0 {
		board, err := a.compute(ctx, roomID, index)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(board)
		if err != nil {
			return nil, fmt.Errorf("failed to encode scoreboard: %w", err)
		}
		stored, err = a.repo.SetFinalizedPayload(ctx, roomID, index, payload, a.clock.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistFatal, err)
		}
		log.Info().
			Str("room_id", roomID).
			Int("round_index", index).
			Int("rows", len(board.Rows)).
			Msg("round finalized")
	}

	var board models.Scoreboard
	if err := json.Unmarshal(stored, &board); err != nil {
		return nil, fmt.Errorf("failed to decode stored scoreboard: %w", err)
	}

	a.publish(ctx, roomID, events.RoundCompleted, events.RoundCompletedPayload{
		RoomID:     roomID,
		RoundIndex: index,
		Scoreboard: stored,
	})

	return &FinalizeResult{Scoreboard: board, Payload: stored}, nil
}

// FinalizeExpired is the backstop for a timed round whose clients never
// finalized it. Already finalized rounds are left alone.
func (a *App) FinalizeExpired(ctx context.Context, roomID string, index int) error {
	round, err := a.GetRound(ctx, roomID, index)
	if err != nil {
		return err
	}
	if len(round.FinalizedPayload) > 0 {
		return nil
	}
	if _, err := a.FinalizeRound(ctx, roomID, index); err != nil {
		return err
	}
	log.Info().
		Str("room_id", roomID).
		Int("round_index", index).
		Msg("round finalized by deadline backstop")
	return nil
}

// GetRound returns the stored round.
func (a *App) GetRound(ctx context.Context, roomID string, index int) (*models.Round, error) {
	if err := validateRoundRef(roomID, index); err != nil {
		return nil, err
	}
	return a.repo.GetRound(ctx, roomID, index)
}

// GetScoreboard returns the final scoreboard when present, otherwise a
// preview computed from current submissions.
func (a *App) GetScoreboard(ctx context.Context, roomID string, index int) (models.Scoreboard, bool, error) {
	if err := validateRoundRef(roomID, index); err != nil {
		return models.Scoreboard{}, false, err
	}

	round, err := a.repo.GetRound(ctx, roomID, index)
	if err != nil && !errors.Is(err, ErrRoundNotFound) {
		return models.Scoreboard{}, false, fmt.Errorf("failed to load round: %w", err)
	}
	if round != nil && len(round.FinalizedPayload) > 0 {
		var board models.Scoreboard
		if err := json.Unmarshal(round.FinalizedPayload, &board); err != nil {
			return models.Scoreboard{}, false, fmt.Errorf("failed to decode stored scoreboard: %w", err)
		}
		return board, true, nil
	}

	board, err := a.compute(ctx, roomID, index)
	return board, false, err
}

// RecordParticipant adds a room member so they appear on scoreboards even
// without a submission.
func (a *App) RecordParticipant(ctx context.Context, roomID, playerID, displayName string) error {
	if roomID == "" || playerID == "" {
		return fmt.Errorf("%w: room_id and player_id are required", ErrInvalidArgument)
	}
	return a.repo.UpsertParticipant(ctx, models.Participant{
		RoomID:      roomID,
		PlayerID:    playerID,
		DisplayName: identity.SanitizeDisplayName(displayName),
		JoinedAt:    a.clock.Now().UTC(),
	})
}

func (a *App) compute(ctx context.Context, roomID string, index int) (models.Scoreboard, error) {
	participants, err := a.repo.ListParticipants(ctx, roomID)
	if err != nil {
		return models.Scoreboard{}, fmt.Errorf("failed to list participants: %w", err)
	}
	subs, err := a.repo.ListSubmissions(ctx, roomID, index)
	if err != nil {
		return models.Scoreboard{}, fmt.Errorf("failed to list submissions: %w", err)
	}
	return ComputeScoreboard(roomID, index, participants, subs), nil
}

func (a *App) publish(ctx context.Context, roomID, eventType string, payload any) {
	if a.relay == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to encode relay payload")
		return
	}
	if err := a.relay.Publish(ctx, roomID, eventType, data); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", roomID).
			Str("event_type", eventType).
			Msg("relay publish failed")
	}
}

func validateRoundRef(roomID string, index int) error {
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("%w: room_id is required", ErrInvalidArgument)
	}
	if index < 0 {
		return fmt.Errorf("%w: round_index must be >= 0", ErrInvalidArgument)
	}
	return nil
}

func validateStartRound(req StartRoundRequest) error {
	if err := validateRoundRef(req.RoomID, req.RoundIndex); err != nil {
		return err
	}
	if req.DurationSec < 0 {
		return fmt.Errorf("%w: duration_sec must be >= 0", ErrInvalidArgument)
	}
	if req.Constraints.Count < 0 || req.Constraints.MaxDifficulty < 0 {
		return fmt.Errorf("%w: constraints must not be negative", ErrInvalidArgument)
	}
	return nil
}

func validateSubmission(req SubmitGuessRequest) error {
	if err := validateRoundRef(req.RoomID, req.RoundIndex); err != nil {
		return err
	}
	if strings.TrimSpace(req.PlayerID) == "" {
		return fmt.Errorf("%w: player_id is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(req.SubmissionRef) == "" {
		return fmt.Errorf("%w: submission_ref is required", ErrInvalidArgument)
	}
	return nil
}
