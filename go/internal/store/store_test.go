package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/roundsync/go/internal/store"
)

func newStores(t *testing.T) map[string]store.Store {
	t.Helper()
	sqliteStore, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]store.Store{
		"memory": store.NewMemoryStore(clockwork.NewFakeClock()),
		"sqlite": sqliteStore,
	}
}

func TestStore_ReadMissing(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Read(context.Background(), "nope")
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestStore_WriteIfRevision(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rev, err := s.WriteIfRevision(ctx, "R1", json.RawMessage(`{"n":1}`), 0)
			require.NoError(t, err)
			assert.Equal(t, int64(1), rev)

			// creating again is a conflict
			_, err = s.WriteIfRevision(ctx, "R1", json.RawMessage(`{"n":2}`), 0)
			assert.ErrorIs(t, err, store.ErrRevisionConflict)

			rev, err = s.WriteIfRevision(ctx, "R1", json.RawMessage(`{"n":2}`), 1)
			require.NoError(t, err)
			assert.Equal(t, int64(2), rev)

			// stale writer loses
			_, err = s.WriteIfRevision(ctx, "R1", json.RawMessage(`{"n":3}`), 1)
			assert.ErrorIs(t, err, store.ErrRevisionConflict)

			snap, err := s.Read(ctx, "R1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), snap.Revision)
			assert.JSONEq(t, `{"n":2}`, string(snap.Payload))
		})
	}
}

func TestStore_UpdateOnMissingRowConflicts(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.WriteIfRevision(context.Background(), "ghost", json.RawMessage(`{}`), 4)
			assert.ErrorIs(t, err, store.ErrRevisionConflict)
		})
	}
}

func TestStore_ConcurrentWritersOneWinner(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.WriteIfRevision(ctx, "R1", json.RawMessage(`{}`), 0)
			require.NoError(t, err)

			const writers = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				wins      int
				conflicts int
			)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.WriteIfRevision(ctx, "R1", json.RawMessage(`{"w":true}`), 1)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						wins++
					case errors.Is(err, store.ErrRevisionConflict):
						conflicts++
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, wins)
			assert.Equal(t, writers-1, conflicts)

			snap, err := s.Read(ctx, "R1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), snap.Revision)
		})
	}
}

func TestStore_LogEvent(t *testing.T) {
	ctx := context.Background()
	sqliteStore, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer sqliteStore.Close()

	require.NoError(t, sqliteStore.LogEvent(ctx, "R1", "A", store.EventReconnect, nil))
	require.NoError(t, sqliteStore.LogEvent(ctx, "R1", "A", store.EventReconnect, json.RawMessage(`{"x":1}`)))
	require.NoError(t, sqliteStore.LogEvent(ctx, "R1", "B", store.EventDisconnect, nil))

	n, err := sqliteStore.CountEvents(ctx, "R1", store.EventReconnect)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mem := store.NewMemoryStore(nil)
	require.NoError(t, mem.LogEvent(ctx, "R1", "A", store.EventMove, nil))
	assert.Len(t, mem.Events("R1"), 1)
	assert.Empty(t, mem.Events("R2"))
}
