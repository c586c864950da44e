package countdown

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	sessionKeyPrefix = "countdown:session:"
	endedKeyPrefix   = "countdown:ended:"
)

// SessionKey is where the local session for timerID lives.
func SessionKey(timerID string) string { return sessionKeyPrefix + timerID }

// EndedKey is the sentinel written once the countdown reaches zero.
func EndedKey(timerID string) string { return endedKeyPrefix + timerID }

type localSession struct {
	StartAtMs  int64  `json:"start_at_ms"`
	DurationMs int64  `json:"duration_ms"`
	Owner      string `json:"owner,omitempty"`
}

func (s localSession) remaining(now time.Time) time.Duration {
	elapsed := now.UnixMilli() - s.StartAtMs
	return time.Duration(s.DurationMs-elapsed) * time.Millisecond
}

type localStrategy struct {
	storage   Storage
	clock     clockwork.Clock
	tabID     string
	duration  time.Duration
	autoStart bool

	sessionKey string
	endedKey   string

	session *localSession
	ended   bool
}

func newLocalStrategy(opts Options) *localStrategy {
	return &localStrategy{
		storage:    opts.Storage,
		clock:      opts.Clock,
		tabID:      opts.TabID,
		duration:   opts.Duration,
		autoStart:  opts.AutoStart,
		sessionKey: SessionKey(opts.TimerID),
		endedKey:   EndedKey(opts.TimerID),
	}
}

// mount never fires: a sentinel already present means the expiry was handled
// before this instance existed.
func (l *localStrategy) mount(ctx context.Context) (State, bool, error) {
	ended, err := l.hasEnded(ctx)
	if err != nil {
		return State{}, false, err
	}
	if ended {
		l.ended = true
		return expiredState(ModeLocal), false, nil
	}

	sess, err := l.load(ctx)
	if err != nil {
		return State{}, false, err
	}
	if sess == nil && l.autoStart {
		if err := l.start(ctx); err != nil {
			return State{}, false, err
		}
	} else {
		l.session = sess
	}
	return l.tick(ctx)
}

func (l *localStrategy) tick(ctx context.Context) (State, bool, error) {
	if l.ended {
		return expiredState(ModeLocal), false, nil
	}

	sess, err := l.load(ctx)
	if err != nil {
		return State{}, false, err
	}
	l.session = sess

	ended, err := l.hasEnded(ctx)
	if err != nil {
		return State{}, false, err
	}
	if ended {
		l.ended = true
		return expiredState(ModeLocal), l.owns(), nil
	}

	if l.session == nil {
		return newState(ModeLocal, l.duration, false), false, nil
	}

	remaining := l.session.remaining(l.clock.Now())
	if remaining > 0 {
		return newState(ModeLocal, remaining, true), false, nil
	}

	won, err := l.storage.SetIfAbsent(ctx, l.endedKey, []byte(strconv.FormatInt(l.clock.Now().UnixMilli(), 10)))
	if err != nil {
		return State{}, false, fmt.Errorf("failed to write ended marker: %w", err)
	}
	l.ended = true
	fire := l.owns() || (l.session.Owner == "" && won)
	return expiredState(ModeLocal), fire, nil
}

func (l *localStrategy) start(ctx context.Context) error {
	ended, err := l.hasEnded(ctx)
	if err != nil || ended {
		return err
	}

	sess := localSession{
		StartAtMs:  l.clock.Now().UnixMilli(),
		DurationMs: l.duration.Milliseconds(),
		Owner:      l.tabID,
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	won, err := l.storage.SetIfAbsent(ctx, l.sessionKey, data)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if won {
		l.session = &sess
		return nil
	}

	existing, err := l.load(ctx)
	if err != nil {
		return err
	}
	l.session = existing
	return nil
}

func (l *localStrategy) reset(ctx context.Context) error {
	if err := l.storage.Delete(ctx, l.sessionKey, l.endedKey); err != nil {
		return fmt.Errorf("failed to reset countdown: %w", err)
	}
	l.session = nil
	l.ended = false
	return nil
}

func (l *localStrategy) clamp(ctx context.Context, remaining time.Duration) error {
	if l.ended {
		return nil
	}
	ended, err := l.hasEnded(ctx)
	if err != nil || ended {
		return err
	}

	owner := l.tabID
	if l.session != nil && l.session.Owner != "" {
		owner = l.session.Owner
	}
	sess := localSession{
		StartAtMs:  l.clock.Now().UnixMilli(),
		DurationMs: remaining.Milliseconds(),
		Owner:      owner,
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := l.storage.Set(ctx, l.sessionKey, data); err != nil {
		return fmt.Errorf("failed to clamp session: %w", err)
	}
	l.session = &sess
	return nil
}

func (l *localStrategy) watches(key string) bool {
	return key == l.sessionKey || key == l.endedKey
}

func (l *localStrategy) owns() bool {
	return l.session != nil && l.session.Owner == l.tabID
}

func (l *localStrategy) hasEnded(ctx context.Context) (bool, error) {
	_, ok, err := l.storage.Get(ctx, l.endedKey)
	if err != nil {
		return false, fmt.Errorf("failed to read ended marker: %w", err)
	}
	return ok, nil
}

func (l *localStrategy) load(ctx context.Context) (*localSession, error) {
	data, ok, err := l.storage.Get(ctx, l.sessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var sess localSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}
