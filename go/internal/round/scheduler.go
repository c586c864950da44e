package round

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// FinalizeGrace gives clients time to finalize on their own before the
// server does it for them.
const FinalizeGrace = 5 * time.Second

const backstopTimeout = 10 * time.Second

// FinalizeScheduler arranges a server-side finalize after a timed round's
// deadline. Scheduling the same round twice keeps the first deadline.
type FinalizeScheduler interface {
	ScheduleFinalize(ctx context.Context, roomID string, index int, at time.Time) error
}

// ExpiredFinalizer is called when a scheduled deadline passes.
type ExpiredFinalizer interface {
	FinalizeExpired(ctx context.Context, roomID string, index int) error
}

func scheduleKey(roomID string, index int) string {
	return fmt.Sprintf("finalize:%s:%d", roomID, index)
}

// ClockScheduler keeps one timer per round in process memory.
type ClockScheduler struct {
	clock     clockwork.Clock
	finalizer ExpiredFinalizer

	mu     sync.Mutex
	timers map[string]clockwork.Timer
	stopCh chan struct{}
}

func NewClockScheduler(clock clockwork.Clock, finalizer ExpiredFinalizer) *ClockScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ClockScheduler{
		clock:     clock,
		finalizer: finalizer,
		timers:    make(map[string]clockwork.Timer),
		stopCh:    make(chan struct{}),
	}
}

func (s *ClockScheduler) ScheduleFinalize(_ context.Context, roomID string, index int, at time.Time) error {
	key := scheduleKey(roomID, index)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.timers[key]; exists {
		log.Debug().Str("room_id", roomID).Int("round_index", index).Msg("finalize already scheduled")
		return nil
	}

	timer := s.clock.NewTimer(at.Sub(s.clock.Now()))
	s.timers[key] = timer

	go func() {
		select {
		case <-timer.Chan():
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.remove(key)
			ctx, cancel := context.WithTimeout(context.Background(), backstopTimeout)
			defer cancel()
			if err := s.finalizer.FinalizeExpired(ctx, roomID, index); err != nil {
				log.Error().
					Err(err).
					Str("room_id", roomID).
					Int("round_index", index).
					Msg("deadline finalize failed")
			}
		case <-s.stopCh:
			timer.Stop()
		}
	}()
	return nil
}

// Pending reports how many finalizes are waiting.
func (s *ClockScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending finalize.
func (s *ClockScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.timers = make(map[string]clockwork.Timer)
}

func (s *ClockScheduler) remove(key string) {
	s.mu.Lock()
	delete(s.timers, key)
	s.mu.Unlock()
}
