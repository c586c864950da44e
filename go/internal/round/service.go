package round

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/mcdev12/roundsync/go/internal/models"
)

// RoundApp defines what the service layer needs from the round application
type RoundApp interface {
	StartRound(ctx context.Context, req StartRoundRequest) (*StartResult, error)
	RecordSubmission(ctx context.Context, req SubmitGuessRequest) (*models.RoundSubmission, error)
	FinalizeRound(ctx context.Context, roomID string, index int) (*FinalizeResult, error)
	GetRound(ctx context.Context, roomID string, index int) (*models.Round, error)
	GetScoreboard(ctx context.Context, roomID string, index int) (models.Scoreboard, bool, error)
}

// Service implements the RoundService RPC interface
type Service struct {
	app RoundApp
}

// NewService creates a new round RPC service
func NewService(app RoundApp) *Service {
	return &Service{app: app}
}

// Verify that Service implements the RoundServiceHandler interface
var _ RoundServiceHandler = (*Service)(nil)

func (s *Service) StartRound(ctx context.Context, req *connect.Request[StartRoundRequest]) (*connect.Response[StartRoundResponse], error) {
	res, err := s.app.StartRound(ctx, *req.Msg)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&StartRoundResponse{
		Round:      res.Round,
		TimerID:    res.TimerID,
		TimerArmed: res.TimerArmed,
	}), nil
}

func (s *Service) SubmitGuess(ctx context.Context, req *connect.Request[SubmitGuessRequest]) (*connect.Response[SubmitGuessResponse], error) {
	sub, err := s.app.RecordSubmission(ctx, *req.Msg)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SubmitGuessResponse{Submission: sub}), nil
}

func (s *Service) FinalizeRound(ctx context.Context, req *connect.Request[FinalizeRoundRequest]) (*connect.Response[FinalizeRoundResponse], error) {
	res, err := s.app.FinalizeRound(ctx, req.Msg.RoomID, req.Msg.RoundIndex)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&FinalizeRoundResponse{
		Scoreboard: res.Scoreboard,
		Payload:    res.Payload,
	}), nil
}

func (s *Service) GetRound(ctx context.Context, req *connect.Request[GetRoundRequest]) (*connect.Response[GetRoundResponse], error) {
	round, err := s.app.GetRound(ctx, req.Msg.RoomID, req.Msg.RoundIndex)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetRoundResponse{Round: round, Status: round.Status()}), nil
}

func (s *Service) GetScoreboard(ctx context.Context, req *connect.Request[GetScoreboardRequest]) (*connect.Response[GetScoreboardResponse], error) {
	board, final, err := s.app.GetScoreboard(ctx, req.Msg.RoomID, req.Msg.RoundIndex)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetScoreboardResponse{Scoreboard: board, Final: final}), nil
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, ErrRoundNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, ErrRoundNotStarted), errors.Is(err, ErrRoundFinalized), errors.Is(err, ErrNotEnoughContent):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, ErrPersistFatal):
		// the caller retries; a failed critical write is never reported as
		// a transient outage
		return connect.NewError(connect.CodeInternal, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
