package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// MemoryService keeps timers in process memory.
type MemoryService struct {
	clock clockwork.Clock

	mu     sync.Mutex
	timers map[string]record
}

func NewMemoryService(clock clockwork.Clock) *MemoryService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryService{
		clock:  clock,
		timers: make(map[string]record),
	}
}

func (m *MemoryService) Arm(ctx context.Context, timerID string, durationSec int, ownerID string) error {
	if timerID == "" || durationSec <= 0 {
		return fmt.Errorf("%w: timer id and positive duration required", ErrArmFailed)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.timers[timerID]; exists {
		log.Debug().Str("timer_id", timerID).Msg("timer already armed - keeping existing deadline")
		return nil
	}

	deadline := m.clock.Now().Add(time.Duration(durationSec) * time.Second)
	m.timers[timerID] = record{
		DeadlineMs:  deadline.UnixMilli(),
		DurationSec: durationSec,
		OwnerID:     ownerID,
	}

	log.Info().
		Str("timer_id", timerID).
		Int("duration_sec", durationSec).
		Time("deadline", deadline).
		Msg("timer armed")
	return nil
}

func (m *MemoryService) Remaining(ctx context.Context, timerID string) (Status, error) {
	m.mu.Lock()
	rec, ok := m.timers[timerID]
	m.mu.Unlock()
	if !ok {
		return Status{}, ErrTimerNotFound
	}
	return statusFor(timerID, rec, m.clock.Now()), nil
}
