package timer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// RedisConfig holds settings for the Redis timer backend.
type RedisConfig struct {
	KeyPrefix string
	// Retention keeps expired timers readable so late clients still see
	// "expired" instead of "not found".
	Retention time.Duration
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		KeyPrefix: "rs:timer:",
		Retention: 10 * time.Minute,
	}
}

// RedisService stores one key per timer, written with SET NX so the first arm
// wins across every server instance.
type RedisService struct {
	client *redis.Client
	clock  clockwork.Clock
	cfg    RedisConfig
}

func NewRedisService(client *redis.Client, clock clockwork.Clock, cfg RedisConfig) *RedisService {
	if client == nil {
		panic("redis client cannot be nil for RedisService")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisConfig().KeyPrefix
	}
	return &RedisService{client: client, clock: clock, cfg: cfg}
}

func (s *RedisService) key(timerID string) string {
	return s.cfg.KeyPrefix + timerID
}

func (s *RedisService) Arm(ctx context.Context, timerID string, durationSec int, ownerID string) error {
	if timerID == "" || durationSec <= 0 {
		return fmt.Errorf("%w: timer id and positive duration required", ErrArmFailed)
	}

	duration := time.Duration(durationSec) * time.Second
	deadline := s.clock.Now().Add(duration)
	data, err := json.Marshal(record{
		DeadlineMs:  deadline.UnixMilli(),
		DurationSec: durationSec,
		OwnerID:     ownerID,
	})
	if err != nil {
		return fmt.Errorf("%w: marshal record: %v", ErrArmFailed, err)
	}

	created, err := s.client.SetNX(ctx, s.key(timerID), data, duration+s.cfg.Retention).Result()
	if err != nil {
		return fmt.Errorf("%w: redis SETNX %s: %v", ErrArmFailed, timerID, err)
	}
	if !created {
		log.Debug().Str("timer_id", timerID).Msg("timer already armed - keeping existing deadline")
		return nil
	}

	log.Info().
		Str("timer_id", timerID).
		Int("duration_sec", durationSec).
		Time("deadline", deadline).
		Msg("timer armed")
	return nil
}

func (s *RedisService) Remaining(ctx context.Context, timerID string) (Status, error) {
	raw, err := s.client.Get(ctx, s.key(timerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Status{}, ErrTimerNotFound
		}
		return Status{}, fmt.Errorf("redis: failed to get timer %s: %w", timerID, err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Status{}, fmt.Errorf("redis: failed to decode timer %s: %w", timerID, err)
	}
	return statusFor(timerID, rec, s.clock.Now()), nil
}
