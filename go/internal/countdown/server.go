package countdown

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/roundsync/go/internal/timer"
)

type sample struct {
	remaining time.Duration
	at        time.Time
	expired   bool
}

// serverStrategy follows the authoritative timer, polling the feed and
// interpolating between samples. Feed errors keep the last sample running.
// Until the feed returns a sample the countdown runs on opts.Duration and
// the state is not authoritative.
type serverStrategy struct {
	feed     RemainingFeed
	clock    clockwork.Clock
	timerID  string
	interval time.Duration

	last     sample
	lastPoll time.Time
	ended    bool
	// synced is set by the first feed sample; missing while the feed reports
	// no armed timer.
	synced  bool
	missing bool
}

func newServerStrategy(opts Options) *serverStrategy {
	return &serverStrategy{
		feed:     opts.Feed,
		clock:    opts.Clock,
		timerID:  opts.TimerID,
		interval: opts.PollInterval,
		last:     sample{remaining: opts.Duration, at: opts.Clock.Now()},
	}
}

func (s *serverStrategy) mount(ctx context.Context) (State, bool, error) {
	s.last.at = s.clock.Now()
	s.poll(ctx)
	return s.compute()
}

func (s *serverStrategy) tick(ctx context.Context) (State, bool, error) {
	if !s.ended && s.clock.Since(s.lastPoll) >= s.interval {
		s.poll(ctx)
	}
	return s.compute()
}

func (s *serverStrategy) poll(ctx context.Context) {
	now := s.clock.Now()
	s.lastPoll = now

	status, err := s.feed.Remaining(ctx, s.timerID)
	if errors.Is(err, timer.ErrTimerNotFound) {
		if !s.missing {
			log.Warn().
				Str("timer_id", s.timerID).
				Msg("no server timer armed, countdown is not authoritative")
		}
		s.missing = true
		return
	}
	if err != nil {
		log.Debug().Err(err).Str("timer_id", s.timerID).Msg("remaining feed unavailable, using last sample")
		return
	}
	s.synced = true
	s.missing = false
	s.last = sample{
		remaining: time.Duration(status.RemainingMs) * time.Millisecond,
		at:        now,
		expired:   status.Expired,
	}
}

func (s *serverStrategy) compute() (State, bool, error) {
	st, fire := s.remaining()
	st.Authoritative = s.synced && !s.missing
	return st, fire, nil
}

func (s *serverStrategy) remaining() (State, bool) {
	if s.ended {
		return expiredState(ModeServer), false
	}
	remaining := s.last.remaining - s.clock.Since(s.last.at)
	if s.last.expired || remaining <= 0 {
		s.ended = true
		return expiredState(ModeServer), true
	}
	return newState(ModeServer, remaining, true), false
}

// The server owns the clock; local controls do nothing.
func (s *serverStrategy) start(context.Context) error                { return nil }
func (s *serverStrategy) reset(context.Context) error                { return nil }
func (s *serverStrategy) clamp(context.Context, time.Duration) error { return nil }
func (s *serverStrategy) watches(string) bool                        { return false }
