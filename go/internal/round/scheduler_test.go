package round

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/roundsync/go/internal/events"
)

type recordingFinalizer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *recordingFinalizer) FinalizeExpired(_ context.Context, roomID string, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scheduleKey(roomID, index))
	return f.err
}

func (f *recordingFinalizer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingScheduler struct {
	roomID string
	index  int
	at     time.Time
	calls  int
}

func (s *recordingScheduler) ScheduleFinalize(_ context.Context, roomID string, index int, at time.Time) error {
	s.roomID, s.index, s.at = roomID, index, at
	s.calls++
	return nil
}

func TestClockScheduler_FiresOnceAtDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	finalizer := &recordingFinalizer{}
	s := NewClockScheduler(clock, finalizer)
	defer s.Stop()

	at := clock.Now().Add(10 * time.Second)
	require.NoError(t, s.ScheduleFinalize(ctx, "R1", 0, at))
	require.NoError(t, s.ScheduleFinalize(ctx, "R1", 0, at.Add(time.Minute)))
	assert.Equal(t, 1, s.Pending())

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(9 * time.Second)
	assert.Zero(t, finalizer.count())

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return finalizer.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"finalize:R1:0"}, finalizer.calls)
}

func TestClockScheduler_StopCancelsPending(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	finalizer := &recordingFinalizer{}
	s := NewClockScheduler(clock, finalizer)

	require.NoError(t, s.ScheduleFinalize(ctx, "R1", 0, clock.Now().Add(time.Second)))
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	s.Stop()
	assert.Zero(t, s.Pending())

	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, finalizer.count())
}

func TestApp_SchedulesBackstopForTimedRounds(t *testing.T) {
	f := newFixture(t)
	f.expectPublish(events.RoundStarted, nil)
	sched := &recordingScheduler{}
	f.app.SetScheduler(sched)

	_, err := f.app.StartRound(context.Background(), startReq())
	require.NoError(t, err)

	assert.Equal(t, 1, sched.calls)
	assert.Equal(t, "R1", sched.roomID)
	assert.Equal(t, f.clock.Now().UTC().Add(60*time.Second+FinalizeGrace), sched.at)

	untimed := startReq()
	untimed.RoundIndex = 1
	untimed.DurationSec = 0
	_, err = f.app.StartRound(context.Background(), untimed)
	require.NoError(t, err)
	assert.Equal(t, 1, sched.calls)
}

func TestApp_FinalizeExpiredSkipsFinalizedRounds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.expectPublish(events.RoundStarted, nil)
	f.expectPublish(events.RoundCompleted, nil)

	_, err := f.app.StartRound(ctx, startReq())
	require.NoError(t, err)

	require.NoError(t, f.app.FinalizeExpired(ctx, "R1", 0))
	round, err := f.app.GetRound(ctx, "R1", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, round.FinalizedPayload)

	// clients finalized first: no second announcement
	require.NoError(t, f.app.FinalizeExpired(ctx, "R1", 0))
	f.relay.AssertNumberOfCalls(t, "Publish", 2)

	assert.ErrorIs(t, f.app.FinalizeExpired(ctx, "R1", 9), ErrRoundNotFound)
}

func TestFinalizeTaskHandler(t *testing.T) {
	ctx := context.Background()
	finalizer := &recordingFinalizer{}
	handle := NewFinalizeTaskHandler(finalizer)

	require.NoError(t, handle(ctx, asynq.NewTask(TypeRoundFinalize, []byte(`{"room_id":"R1","round_index":2}`))))
	assert.Equal(t, []string{"finalize:R1:2"}, finalizer.calls)

	err := handle(ctx, asynq.NewTask(TypeRoundFinalize, []byte(`not json`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	finalizer.err = ErrRoundNotFound
	err = handle(ctx, asynq.NewTask(TypeRoundFinalize, []byte(`{"room_id":"R1","round_index":3}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	transient := errors.New("db down")
	finalizer.err = transient
	err = handle(ctx, asynq.NewTask(TypeRoundFinalize, []byte(`{"room_id":"R1","round_index":3}`)))
	assert.ErrorIs(t, err, transient)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}
