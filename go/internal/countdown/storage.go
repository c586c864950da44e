package countdown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// Storage is the shared key-value space tabs of one user see. Every write
// notifies subscribers with the key that changed.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// SetIfAbsent writes value only when key is missing and reports whether
	// this caller wrote it.
	SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Subscribe(ctx context.Context) (<-chan string, func())
}

// MemoryStorage shares state between reconcilers in one process.
type MemoryStorage struct {
	mu     sync.Mutex
	values map[string][]byte
	subs   map[int]chan string
	nextID int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values: make(map[string][]byte),
		subs:   make(map[int]chan string),
	}
}

func (m *MemoryStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, v...), true, nil
}

func (m *MemoryStorage) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte{}, value...)
	m.notify(key)
	return nil
}

func (m *MemoryStorage) SetIfAbsent(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = append([]byte{}, value...)
	m.notify(key)
	return true, nil
}

func (m *MemoryStorage) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if _, ok := m.values[k]; ok {
			delete(m.values, k)
			m.notify(k)
		}
	}
	return nil
}

func (m *MemoryStorage) Subscribe(_ context.Context) (<-chan string, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan string, 16)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

// notify must be called with mu held. Slow subscribers miss notifications
// and catch up on their next tick.
func (m *MemoryStorage) notify(key string) {
	for _, ch := range m.subs {
		select {
		case ch <- key:
		default:
		}
	}
}

// RedisConfig configures RedisStorage.
type RedisConfig struct {
	// KeyPrefix scopes keys per user, e.g. "rs:tabs:<user>:".
	KeyPrefix string
	TTL       time.Duration
}

func DefaultRedisConfig(userID string) RedisConfig {
	return RedisConfig{
		KeyPrefix: "rs:tabs:" + userID + ":",
		TTL:       24 * time.Hour,
	}
}

// RedisStorage shares state between a user's clients through Redis keys and
// a pub/sub channel carrying changed key names.
type RedisStorage struct {
	client  *redis.Client
	prefix  string
	channel string
	ttl     time.Duration
}

func NewRedisStorage(client *redis.Client, cfg RedisConfig) *RedisStorage {
	return &RedisStorage{
		client:  client,
		prefix:  cfg.KeyPrefix,
		channel: cfg.KeyPrefix + "changes",
		ttl:     cfg.TTL,
	}
}

func (s *RedisStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStorage) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	s.publish(ctx, key)
	return nil
}

func (s *RedisStorage) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, value, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if ok {
		s.publish(ctx, key)
	}
	return ok, nil
}

func (s *RedisStorage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	for _, k := range keys {
		s.publish(ctx, k)
	}
	return nil
}

func (s *RedisStorage) Subscribe(ctx context.Context) (<-chan string, func()) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	in := pubsub.Channel()
	out := make(chan string, 16)
	stop := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- strings.TrimPrefix(msg.Payload, s.prefix):
				default:
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(stop)
			_ = pubsub.Close()
		})
	}
}

func (s *RedisStorage) publish(ctx context.Context, key string) {
	if err := s.client.Publish(ctx, s.channel, key).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to publish storage change")
	}
}
