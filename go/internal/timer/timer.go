package timer

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimerNotFound is returned when no timer was armed under an id.
	ErrTimerNotFound = errors.New("timer not found")
	// ErrArmFailed wraps backend failures while arming a timer.
	ErrArmFailed = errors.New("failed to arm timer")
)

// Status is the authoritative remaining time of a timer.
type Status struct {
	TimerID     string    `json:"timer_id"`
	RemainingMs int64     `json:"remaining_ms"`
	Expired     bool      `json:"expired"`
	Deadline    time.Time `json:"deadline"`
}

// RemainingSeconds rounds the remaining time up to whole seconds.
func (s Status) RemainingSeconds() int {
	if s.Expired || s.RemainingMs <= 0 {
		return 0
	}
	return int((s.RemainingMs + 999) / 1000)
}

// Service arms timers and reports their remaining time. The first arm for an
// id wins; later arms are no-ops so retried round starts keep one deadline.
type Service interface {
	Arm(ctx context.Context, timerID string, durationSec int, ownerID string) error
	Remaining(ctx context.Context, timerID string) (Status, error)
}

type record struct {
	DeadlineMs  int64  `json:"deadline_ms"`
	DurationSec int    `json:"duration_sec"`
	OwnerID     string `json:"owner_id"`
}

func statusFor(timerID string, rec record, now time.Time) Status {
	deadline := time.UnixMilli(rec.DeadlineMs).UTC()
	remaining := deadline.Sub(now).Milliseconds()
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		TimerID:     timerID,
		RemainingMs: remaining,
		Expired:     remaining == 0,
		Deadline:    deadline,
	}
}
