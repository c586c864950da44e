package countdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/roundsync/go/internal/timer"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type counter struct{ n atomic.Int32 }

func (c *counter) fire()      { c.n.Add(1) }
func (c *counter) count() int { return int(c.n.Load()) }

func localOpts(clock clockwork.Clock, storage Storage, tab string, fired *counter) Options {
	return Options{
		TimerID:   "R1:0",
		Duration:  60 * time.Second,
		AutoStart: true,
		OnExpire:  fired.fire,
		Clock:     clock,
		Storage:   storage,
		TabID:     tab,
	}
}

func mustNew(t *testing.T, opts Options) *Reconciler {
	t.Helper()
	r, err := New(opts)
	require.NoError(t, err)
	return r
}

func TestSelectMode(t *testing.T) {
	full := Options{TimerID: "R1:0", PreferServer: true, AutoStart: true, Authenticated: true}
	assert.Equal(t, ModeServer, SelectMode(full))

	tests := map[string]func(o *Options){
		"not preferred":   func(o *Options) { o.PreferServer = false },
		"not auto start":  func(o *Options) { o.AutoStart = false },
		"anonymous":       func(o *Options) { o.Authenticated = false },
		"missing timerID": func(o *Options) { o.TimerID = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			o := full
			mutate(&o)
			assert.Equal(t, ModeLocal, SelectMode(o))
		})
	}
}

func TestNew_Validation(t *testing.T) {
	storage := NewMemoryStorage()

	_, err := New(Options{TimerID: "R1:0", Storage: storage, TabID: "a"})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(Options{Duration: time.Second, Storage: storage, TabID: "a"})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(Options{TimerID: "R1:0", Duration: time.Second})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(Options{TimerID: "R1:0", Duration: time.Second, PreferServer: true, AutoStart: true, Authenticated: true})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestLocal_CountsDownAndFiresOnce(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	storage := NewMemoryStorage()
	fired := &counter{}

	r := mustNew(t, localOpts(clock, storage, "tab-a", fired))
	assert.Equal(t, ModeLocal, r.Mode())

	st, err := r.Mount(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, 60, st.RemainingSeconds)

	clock.Advance(59*time.Second + 500*time.Millisecond)
	st, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.RemainingSeconds)
	assert.Equal(t, int64(500), st.RemainingMs)
	assert.Zero(t, fired.count())

	clock.Advance(time.Second)
	st, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, st.Expired)
	assert.False(t, st.Running)
	assert.Equal(t, 0, st.RemainingSeconds)
	assert.Equal(t, 1, fired.count())

	_, ok, err := storage.Get(ctx, EndedKey("R1:0"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired.count())
}

func TestLocal_OnlyOwnerTabFires(t *testing.T) {
	for _, ownerFirst := range []bool{true, false} {
		name := "owner ticks first"
		if !ownerFirst {
			name = "other tab ticks first"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := clockwork.NewFakeClockAt(epoch)
			storage := NewMemoryStorage()
			firedA, firedB := &counter{}, &counter{}

			a := mustNew(t, localOpts(clock, storage, "tab-a", firedA))
			_, err := a.Mount(ctx)
			require.NoError(t, err)

			b := mustNew(t, localOpts(clock, storage, "tab-b", firedB))
			_, err = b.Mount(ctx)
			require.NoError(t, err)

			clock.Advance(61 * time.Second)
			first, second := a, b
			if !ownerFirst {
				first, second = b, a
			}
			st, err := first.Tick(ctx)
			require.NoError(t, err)
			assert.True(t, st.Expired)
			st, err = second.Tick(ctx)
			require.NoError(t, err)
			assert.True(t, st.Expired)

			assert.Equal(t, 1, firedA.count())
			assert.Zero(t, firedB.count())
		})
	}
}

func TestLocal_HydratesExistingSessionIgnoringOptions(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	storage := NewMemoryStorage()

	a := mustNew(t, localOpts(clock, storage, "tab-a", &counter{}))
	_, err := a.Mount(ctx)
	require.NoError(t, err)

	clock.Advance(10 * time.Second)

	opts := localOpts(clock, storage, "tab-b", &counter{})
	opts.Duration = 30 * time.Second
	b := mustNew(t, opts)
	st, err := b.Mount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, st.RemainingSeconds)
}

func TestLocal_MountAfterEndedDoesNotFire(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	storage := NewMemoryStorage()
	fired := &counter{}

	a := mustNew(t, localOpts(clock, storage, "tab-a", fired))
	_, err := a.Mount(ctx)
	require.NoError(t, err)
	clock.Advance(61 * time.Second)
	_, err = a.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, fired.count())

	// same tab id after a reload
	reloaded := &counter{}
	again := mustNew(t, localOpts(clock, storage, "tab-a", reloaded))
	st, err := again.Mount(ctx)
	require.NoError(t, err)
	assert.True(t, st.Expired)
	assert.Zero(t, reloaded.count())

	// start after the round ended is ignored
	require.NoError(t, again.Start(ctx))
	st, err = again.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, st.Expired)
}

func TestLocal_ManualStart(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	storage := NewMemoryStorage()

	opts := localOpts(clock, storage, "tab-a", &counter{})
	opts.AutoStart = false
	r := mustNew(t, opts)

	st, err := r.Mount(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Equal(t, 60, st.RemainingSeconds)

	clock.Advance(5 * time.Second)
	st, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, st.RemainingSeconds)

	require.NoError(t, r.Start(ctx))
	clock.Advance(5 * time.Second)
	st, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, 55, st.RemainingSeconds)

	// a second start keeps the running session
	require.NoError(t, r.Start(ctx))
	st, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 55, st.RemainingSeconds)
}

func TestLocal_ResetAllowsReuse(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	storage := NewMemoryStorage()
	fired := &counter{}

	r := mustNew(t, localOpts(clock, storage, "tab-a", fired))
	_, err := r.Mount(ctx)
	require.NoError(t, err)
	clock.Advance(61 * time.Second)
	_, err = r.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, fired.count())

	require.NoError(t, r.Reset(ctx))
	_, ok, _ := storage.Get(ctx, EndedKey("R1:0"))
	assert.False(t, ok)
	_, ok, _ = storage.Get(ctx, SessionKey("R1:0"))
	assert.False(t, ok)

	require.NoError(t, r.Start(ctx))
	st, err := r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, st.RemainingSeconds)

	clock.Advance(61 * time.Second)
	_, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fired.count())
}

func TestLocal_ClampRemaining(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	storage := NewMemoryStorage()
	firedA, firedB := &counter{}, &counter{}

	a := mustNew(t, localOpts(clock, storage, "tab-a", firedA))
	_, err := a.Mount(ctx)
	require.NoError(t, err)
	b := mustNew(t, localOpts(clock, storage, "tab-b", firedB))
	_, err = b.Mount(ctx)
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	require.NoError(t, b.ClampRemaining(ctx, 5))

	st, err := a.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, st.RemainingSeconds)

	clock.Advance(6 * time.Second)
	_, err = b.Tick(ctx)
	require.NoError(t, err)
	_, err = a.Tick(ctx)
	require.NoError(t, err)

	// clamping keeps the original owner
	assert.Equal(t, 1, firedA.count())
	assert.Zero(t, firedB.count())
}

func TestLocal_SessionDeletedElsewhere(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	storage := NewMemoryStorage()

	r := mustNew(t, localOpts(clock, storage, "tab-a", &counter{}))
	_, err := r.Mount(ctx)
	require.NoError(t, err)

	clock.Advance(20 * time.Second)
	require.NoError(t, storage.Delete(ctx, SessionKey("R1:0")))

	st, err := r.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Equal(t, 60, st.RemainingSeconds)
}

type fakeFeed struct {
	mu     sync.Mutex
	status timer.Status
	err    error
	calls  int
}

func (f *fakeFeed) Remaining(_ context.Context, timerID string) (timer.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return timer.Status{}, f.err
	}
	s := f.status
	s.TimerID = timerID
	return s, nil
}

func (f *fakeFeed) set(status timer.Status, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.err = status, err
}

func serverOpts(clock clockwork.Clock, feed RemainingFeed, fired *counter) Options {
	return Options{
		TimerID:       "R1:0",
		Duration:      60 * time.Second,
		AutoStart:     true,
		PreferServer:  true,
		Authenticated: true,
		OnExpire:      fired.fire,
		Clock:         clock,
		Feed:          feed,
	}
}

func TestServer_InterpolatesBetweenPolls(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	feed := &fakeFeed{status: timer.Status{RemainingMs: 42_000}}
	fired := &counter{}

	r := mustNew(t, serverOpts(clock, feed, fired))
	assert.Equal(t, ModeServer, r.Mode())

	st, err := r.Mount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, st.RemainingSeconds)
	assert.True(t, st.Authoritative)
	assert.Equal(t, 1, feed.calls)

	clock.Advance(400 * time.Millisecond)
	st, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(41_600), st.RemainingMs)
	assert.Equal(t, 1, feed.calls)

	// the server corrects the drift on the next poll
	feed.set(timer.Status{RemainingMs: 40_000}, nil)
	clock.Advance(600 * time.Millisecond)
	st, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(40_000), st.RemainingMs)
	assert.Equal(t, 2, feed.calls)
}

func TestServer_FeedErrorKeepsLastSample(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	feed := &fakeFeed{err: errors.New("unreachable")}
	fired := &counter{}

	r := mustNew(t, serverOpts(clock, feed, fired))
	st, err := r.Mount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, st.RemainingSeconds)

	clock.Advance(2 * time.Second)
	st, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 58, st.RemainingSeconds)

	feed.set(timer.Status{RemainingMs: 10_000}, nil)
	clock.Advance(time.Second)
	st, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, st.RemainingSeconds)

	feed.set(timer.Status{}, errors.New("unreachable"))
	clock.Advance(11 * time.Second)
	st, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, st.Expired)
	assert.Equal(t, 1, fired.count())
}

func TestServer_UnarmedTimerIsNotAuthoritative(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	feed := &fakeFeed{err: fmt.Errorf("lookup R1:0: %w", timer.ErrTimerNotFound)}
	fired := &counter{}

	r := mustNew(t, serverOpts(clock, feed, fired))
	st, err := r.Mount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, st.RemainingSeconds)
	assert.True(t, st.Running)
	assert.False(t, st.Authoritative)

	clock.Advance(2 * time.Second)
	st, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, st.Authoritative)

	// the timer gets armed late; the next poll takes over
	feed.set(timer.Status{RemainingMs: 30_000}, nil)
	clock.Advance(time.Second)
	st, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, st.Authoritative)
	assert.Equal(t, 30, st.RemainingSeconds)
	assert.Equal(t, 0, fired.count())
}

func TestServer_ExpiredStatusFiresOnceAndIgnoresControls(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	feed := &fakeFeed{status: timer.Status{Expired: true}}
	fired := &counter{}

	r := mustNew(t, serverOpts(clock, feed, fired))
	st, err := r.Mount(ctx)
	require.NoError(t, err)
	assert.True(t, st.Expired)
	assert.Equal(t, 1, fired.count())

	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.ClampRemaining(ctx, 30))

	clock.Advance(5 * time.Second)
	st, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, st.Expired)
	assert.Equal(t, 1, fired.count())
}

func TestRun_TicksAndReactsToStorage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClockAt(epoch)
	storage := NewMemoryStorage()
	fired := &counter{}

	r := mustNew(t, localOpts(clock, storage, "tab-a", fired))

	var mu sync.Mutex
	var last State
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, func(st State) {
			mu.Lock()
			last = st
			mu.Unlock()
		})
	}()
	latest := func() State {
		mu.Lock()
		defer mu.Unlock()
		return last
	}

	require.Eventually(t, func() bool { return latest().Running }, time.Second, 5*time.Millisecond)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	// another tab shortens the session
	other := mustNew(t, localOpts(clock, storage, "tab-b", &counter{}))
	_, err := other.Mount(ctx)
	require.NoError(t, err)
	require.NoError(t, other.ClampRemaining(ctx, 3))
	assert.Eventually(t, func() bool { return latest().RemainingSeconds == 3 }, time.Second, 5*time.Millisecond)

	clock.Advance(4 * time.Second)
	assert.Eventually(t, func() bool { return latest().Expired }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return fired.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}
