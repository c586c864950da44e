package round

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// RoundServiceName is the fully-qualified name of the RoundService service.
const RoundServiceName = "roundsync.round.v1.RoundService"

// Procedure paths for RoundService. Messages are plain Go structs carried with
// the JSON codec below.
const (
	RoundServiceStartRoundProcedure    = "/roundsync.round.v1.RoundService/StartRound"
	RoundServiceSubmitGuessProcedure   = "/roundsync.round.v1.RoundService/SubmitGuess"
	RoundServiceFinalizeRoundProcedure = "/roundsync.round.v1.RoundService/FinalizeRound"
	RoundServiceGetRoundProcedure      = "/roundsync.round.v1.RoundService/GetRound"
	RoundServiceGetScoreboardProcedure = "/roundsync.round.v1.RoundService/GetScoreboard"
)

// JSONCodec replaces connect's protojson codec for struct messages.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// RoundServiceHandler is implemented by Service.
type RoundServiceHandler interface {
	StartRound(context.Context, *connect.Request[StartRoundRequest]) (*connect.Response[StartRoundResponse], error)
	SubmitGuess(context.Context, *connect.Request[SubmitGuessRequest]) (*connect.Response[SubmitGuessResponse], error)
	FinalizeRound(context.Context, *connect.Request[FinalizeRoundRequest]) (*connect.Response[FinalizeRoundResponse], error)
	GetRound(context.Context, *connect.Request[GetRoundRequest]) (*connect.Response[GetRoundResponse], error)
	GetScoreboard(context.Context, *connect.Request[GetScoreboardRequest]) (*connect.Response[GetScoreboardResponse], error)
}

// NewRoundServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewRoundServiceHandler(svc RoundServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)

	startRound := connect.NewUnaryHandler(RoundServiceStartRoundProcedure, svc.StartRound, opts...)
	submitGuess := connect.NewUnaryHandler(RoundServiceSubmitGuessProcedure, svc.SubmitGuess, opts...)
	finalizeRound := connect.NewUnaryHandler(RoundServiceFinalizeRoundProcedure, svc.FinalizeRound, opts...)
	getRound := connect.NewUnaryHandler(RoundServiceGetRoundProcedure, svc.GetRound, opts...)
	getScoreboard := connect.NewUnaryHandler(RoundServiceGetScoreboardProcedure, svc.GetScoreboard, opts...)

	return "/" + RoundServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case RoundServiceStartRoundProcedure:
			startRound.ServeHTTP(w, r)
		case RoundServiceSubmitGuessProcedure:
			submitGuess.ServeHTTP(w, r)
		case RoundServiceFinalizeRoundProcedure:
			finalizeRound.ServeHTTP(w, r)
		case RoundServiceGetRoundProcedure:
			getRound.ServeHTTP(w, r)
		case RoundServiceGetScoreboardProcedure:
			getScoreboard.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// RoundServiceClient is a client for RoundService.
type RoundServiceClient interface {
	StartRound(context.Context, *connect.Request[StartRoundRequest]) (*connect.Response[StartRoundResponse], error)
	SubmitGuess(context.Context, *connect.Request[SubmitGuessRequest]) (*connect.Response[SubmitGuessResponse], error)
	FinalizeRound(context.Context, *connect.Request[FinalizeRoundRequest]) (*connect.Response[FinalizeRoundResponse], error)
	GetRound(context.Context, *connect.Request[GetRoundRequest]) (*connect.Response[GetRoundResponse], error)
	GetScoreboard(context.Context, *connect.Request[GetScoreboardRequest]) (*connect.Response[GetScoreboardResponse], error)
}

// NewRoundServiceClient constructs a client for RoundService. baseURL is the
// server root, e.g. http://localhost:8080.
func NewRoundServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) RoundServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
	return &roundServiceClient{
		startRound:    connect.NewClient[StartRoundRequest, StartRoundResponse](httpClient, baseURL+RoundServiceStartRoundProcedure, opts...),
		submitGuess:   connect.NewClient[SubmitGuessRequest, SubmitGuessResponse](httpClient, baseURL+RoundServiceSubmitGuessProcedure, opts...),
		finalizeRound: connect.NewClient[FinalizeRoundRequest, FinalizeRoundResponse](httpClient, baseURL+RoundServiceFinalizeRoundProcedure, opts...),
		getRound:      connect.NewClient[GetRoundRequest, GetRoundResponse](httpClient, baseURL+RoundServiceGetRoundProcedure, opts...),
		getScoreboard: connect.NewClient[GetScoreboardRequest, GetScoreboardResponse](httpClient, baseURL+RoundServiceGetScoreboardProcedure, opts...),
	}
}

type roundServiceClient struct {
	startRound    *connect.Client[StartRoundRequest, StartRoundResponse]
	submitGuess   *connect.Client[SubmitGuessRequest, SubmitGuessResponse]
	finalizeRound *connect.Client[FinalizeRoundRequest, FinalizeRoundResponse]
	getRound      *connect.Client[GetRoundRequest, GetRoundResponse]
	getScoreboard *connect.Client[GetScoreboardRequest, GetScoreboardResponse]
}

func (c *roundServiceClient) StartRound(ctx context.Context, req *connect.Request[StartRoundRequest]) (*connect.Response[StartRoundResponse], error) {
	return c.startRound.CallUnary(ctx, req)
}

func (c *roundServiceClient) SubmitGuess(ctx context.Context, req *connect.Request[SubmitGuessRequest]) (*connect.Response[SubmitGuessResponse], error) {
	return c.submitGuess.CallUnary(ctx, req)
}

func (c *roundServiceClient) FinalizeRound(ctx context.Context, req *connect.Request[FinalizeRoundRequest]) (*connect.Response[FinalizeRoundResponse], error) {
	return c.finalizeRound.CallUnary(ctx, req)
}

func (c *roundServiceClient) GetRound(ctx context.Context, req *connect.Request[GetRoundRequest]) (*connect.Response[GetRoundResponse], error) {
	return c.getRound.CallUnary(ctx, req)
}

func (c *roundServiceClient) GetScoreboard(ctx context.Context, req *connect.Request[GetScoreboardRequest]) (*connect.Response[GetScoreboardResponse], error) {
	return c.getScoreboard.CallUnary(ctx, req)
}
