package countdown

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStorage(client, DefaultRedisConfig("u1")), mr
}

func TestStorages_KeyValue(t *testing.T) {
	redisStorage, _ := newRedisStorage(t)
	storages := map[string]Storage{
		"memory": NewMemoryStorage(),
		"redis":  redisStorage,
	}

	for name, s := range storages {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)

			won, err := s.SetIfAbsent(ctx, "k", []byte("one"))
			require.NoError(t, err)
			assert.True(t, won)

			won, err = s.SetIfAbsent(ctx, "k", []byte("two"))
			require.NoError(t, err)
			assert.False(t, won)

			v, ok, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "one", string(v))

			require.NoError(t, s.Set(ctx, "k", []byte("three")))
			v, _, err = s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "three", string(v))

			require.NoError(t, s.Delete(ctx, "k", "missing"))
			_, ok, err = s.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestRedisStorage_ScopesKeysPerUser(t *testing.T) {
	s, mr := newRedisStorage(t)
	require.NoError(t, s.Set(context.Background(), SessionKey("R1:0"), []byte(`{}`)))

	assert.True(t, mr.Exists("rs:tabs:u1:countdown:session:R1:0"))
	assert.Greater(t, mr.TTL("rs:tabs:u1:countdown:session:R1:0"), time.Duration(0))
}

func TestStorages_Subscribe(t *testing.T) {
	redisStorage, _ := newRedisStorage(t)
	storages := map[string]Storage{
		"memory": NewMemoryStorage(),
		"redis":  redisStorage,
	}

	for name, s := range storages {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			changes, cancel := s.Subscribe(ctx)
			defer cancel()

			// redis subscriptions are confirmed asynchronously
			assert.Eventually(t, func() bool {
				_ = s.Set(ctx, "watched", []byte("x"))
				select {
				case key := <-changes:
					return key == "watched"
				case <-time.After(20 * time.Millisecond):
					return false
				}
			}, 2*time.Second, 10*time.Millisecond)
		})
	}
}
