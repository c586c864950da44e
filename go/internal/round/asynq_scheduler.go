package round

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// TypeRoundFinalize is the asynq task type for deadline finalizes.
const TypeRoundFinalize = "round:finalize"

type finalizeTaskPayload struct {
	RoomID     string `json:"room_id"`
	RoundIndex int    `json:"round_index"`
}

// AsynqScheduler enqueues deadline finalizes in Redis so any instance can run
// them. The task id makes a second schedule for the same round a no-op.
type AsynqScheduler struct {
	client *asynq.Client
}

func NewAsynqScheduler(client *asynq.Client) *AsynqScheduler {
	return &AsynqScheduler{client: client}
}

func (s *AsynqScheduler) ScheduleFinalize(ctx context.Context, roomID string, index int, at time.Time) error {
	payload, err := json.Marshal(finalizeTaskPayload{RoomID: roomID, RoundIndex: index})
	if err != nil {
		return fmt.Errorf("failed to encode finalize task: %w", err)
	}

	info, err := s.client.EnqueueContext(ctx,
		asynq.NewTask(TypeRoundFinalize, payload),
		asynq.TaskID(scheduleKey(roomID, index)),
		asynq.ProcessAt(at),
		asynq.MaxRetry(5),
		asynq.Retention(time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue finalize task: %w", err)
	}

	log.Debug().
		Str("task_id", info.ID).
		Str("room_id", roomID).
		Int("round_index", index).
		Time("process_at", at).
		Msg("finalize scheduled")
	return nil
}

// NewFinalizeTaskHandler runs deadline finalizes pulled from the queue.
// Payloads that can never succeed skip the retry queue.
func NewFinalizeTaskHandler(finalizer ExpiredFinalizer) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p finalizeTaskPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			return fmt.Errorf("decode finalize task: %v: %w", err, asynq.SkipRetry)
		}

		err := finalizer.FinalizeExpired(ctx, p.RoomID, p.RoundIndex)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrRoundNotFound), errors.Is(err, ErrInvalidArgument):
			return fmt.Errorf("finalize %s:%d: %v: %w", p.RoomID, p.RoundIndex, err, asynq.SkipRetry)
		default:
			return err
		}
	}
}

// NewFinalizeWorker builds the asynq server that drains finalize tasks.
func NewFinalizeWorker(redisOpt asynq.RedisClientOpt, finalizer ExpiredFinalizer) (*asynq.Server, *asynq.ServeMux) {
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Error().
				Err(err).
				Str("task_type", task.Type()).
				Int("retries", retried).
				Int("max_retry", maxRetry).
				Msg("finalize task failed")
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRoundFinalize, NewFinalizeTaskHandler(finalizer))
	return server, mux
}
