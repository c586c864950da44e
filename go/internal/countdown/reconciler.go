package countdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/roundsync/go/internal/timer"
	"github.com/rs/zerolog/log"
)

// Mode is how a reconciler derives remaining time.
type Mode string

const (
	ModeServer Mode = "server"
	ModeLocal  Mode = "local"
)

const (
	DefaultTickInterval = 200 * time.Millisecond
	DefaultPollInterval = time.Second
)

var (
	ErrInvalidOptions = errors.New("invalid countdown options")
)

// RemainingFeed reports the authoritative remaining time of a timer.
type RemainingFeed interface {
	Remaining(ctx context.Context, timerID string) (timer.Status, error)
}

// Options configure a Reconciler. The mode is decided from them once.
type Options struct {
	TimerID       string
	Duration      time.Duration
	AutoStart     bool
	PreferServer  bool
	Authenticated bool
	// OnExpire runs at most once per reconciler.
	OnExpire func()

	Clock        clockwork.Clock
	TickInterval time.Duration
	PollInterval time.Duration
	Storage      Storage
	Feed         RemainingFeed
	// TabID identifies this client across reloads. Required in local mode.
	TabID string
}

// State is what the round UI renders.
type State struct {
	Mode             Mode  `json:"mode"`
	RemainingMs      int64 `json:"remaining_ms"`
	RemainingSeconds int   `json:"remaining_seconds"`
	Expired          bool  `json:"expired"`
	Running          bool  `json:"running"`
	// Authoritative is set in server mode once the remaining time comes
	// from an armed server timer. A server countdown without it is running
	// on the requested duration only.
	Authoritative bool `json:"authoritative"`
}

func newState(mode Mode, remaining time.Duration, running bool) State {
	if remaining < 0 {
		remaining = 0
	}
	ms := remaining.Milliseconds()
	return State{
		Mode:             mode,
		RemainingMs:      ms,
		RemainingSeconds: int((ms + 999) / 1000),
		Expired:          false,
		Running:          running,
	}
}

func expiredState(mode Mode) State {
	return State{Mode: mode, Expired: true}
}

// strategy is one way of computing remaining time. Calls are serialized by
// the Reconciler.
type strategy interface {
	mount(ctx context.Context) (State, bool, error)
	tick(ctx context.Context) (State, bool, error)
	start(ctx context.Context) error
	reset(ctx context.Context) error
	clamp(ctx context.Context, remaining time.Duration) error
	watches(key string) bool
}

// Reconciler is the single countdown a round UI consumes. It either trusts
// the server timer or keeps a storage-backed local clock shared by tabs, and
// fires OnExpire at most once.
type Reconciler struct {
	opts     Options
	mode     Mode
	strategy strategy

	mu      sync.Mutex
	mounted bool
	fired   bool
	state   State
}

// SelectMode picks server mode only when every precondition holds.
func SelectMode(opts Options) Mode {
	if opts.PreferServer && opts.AutoStart && opts.Authenticated && opts.TimerID != "" {
		return ModeServer
	}
	return ModeLocal
}

func New(opts Options) (*Reconciler, error) {
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidOptions)
	}
	if opts.TimerID == "" {
		return nil, fmt.Errorf("%w: timer id is required", ErrInvalidOptions)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	r := &Reconciler{opts: opts, mode: SelectMode(opts)}
	switch r.mode {
	case ModeServer:
		if opts.Feed == nil {
			return nil, fmt.Errorf("%w: server mode needs a remaining feed", ErrInvalidOptions)
		}
		r.strategy = newServerStrategy(opts)
	default:
		if opts.Storage == nil || opts.TabID == "" {
			return nil, fmt.Errorf("%w: local mode needs storage and a tab id", ErrInvalidOptions)
		}
		r.strategy = newLocalStrategy(opts)
	}
	r.state = newState(r.mode, opts.Duration, false)
	return r, nil
}

// Mode never changes after construction.
func (r *Reconciler) Mode() Mode { return r.mode }

// State returns the last computed state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Mount loads existing state. It runs once; later calls return the current
// state.
func (r *Reconciler) Mount(ctx context.Context) (State, error) {
	r.mu.Lock()
	if r.mounted {
		st := r.state
		r.mu.Unlock()
		return st, nil
	}
	st, fire, err := r.strategy.mount(ctx)
	r.mounted = true
	return r.apply(st, fire, err)
}

// Tick recomputes remaining time.
func (r *Reconciler) Tick(ctx context.Context) (State, error) {
	r.mu.Lock()
	if !r.mounted {
		r.mu.Unlock()
		return r.Mount(ctx)
	}
	st, fire, err := r.strategy.tick(ctx)
	return r.apply(st, fire, err)
}

// apply must be entered with mu held; it releases it before running the
// expiry callback.
func (r *Reconciler) apply(st State, fire bool, err error) (State, error) {
	if err != nil {
		current := r.state
		r.mu.Unlock()
		return current, err
	}
	r.state = st
	callback := fire && !r.fired && r.opts.OnExpire != nil
	if fire {
		r.fired = true
	}
	r.mu.Unlock()

	if callback {
		log.Info().Str("timer_id", r.opts.TimerID).Str("mode", string(r.mode)).Msg("countdown expired")
		r.opts.OnExpire()
	}
	return st, nil
}

// Start begins a local countdown. It does nothing when a session already
// exists, when the round has ended, or in server mode.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strategy.start(ctx)
}

// Reset clears the session and the ended marker so the timer id can be
// reused for a fresh round.
func (r *Reconciler) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.strategy.reset(ctx); err != nil {
		return err
	}
	r.fired = false
	r.state = newState(r.mode, r.opts.Duration, false)
	return nil
}

// ClampRemaining rewrites the local session so seconds remain from now.
func (r *Reconciler) ClampRemaining(ctx context.Context, seconds int) error {
	if seconds < 0 {
		seconds = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strategy.clamp(ctx, time.Duration(seconds)*time.Second)
}

// Run mounts and then ticks until ctx is done, calling onState after every
// computation. In local mode storage changes trigger an immediate tick.
func (r *Reconciler) Run(ctx context.Context, onState func(State)) error {
	st, err := r.Mount(ctx)
	if err != nil {
		return err
	}
	if onState != nil {
		onState(st)
	}

	var changes <-chan string
	if r.mode == ModeLocal {
		ch, cancel := r.opts.Storage.Subscribe(ctx)
		defer cancel()
		changes = ch
	}

	ticker := r.opts.Clock.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		case key, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if !r.strategy.watches(key) {
				continue
			}
		}

		st, err := r.Tick(ctx)
		if err != nil {
			log.Warn().Err(err).Str("timer_id", r.opts.TimerID).Msg("countdown tick failed")
		}
		if onState != nil {
			onState(st)
		}
	}
}
