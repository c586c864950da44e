package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/roundsync/go/internal/gateway"
	"github.com/mcdev12/roundsync/go/internal/identity"
	"github.com/mcdev12/roundsync/go/internal/models"
	"github.com/mcdev12/roundsync/go/internal/outbox"
	"github.com/mcdev12/roundsync/go/internal/room"
	"github.com/mcdev12/roundsync/go/internal/round"
	"github.com/mcdev12/roundsync/go/internal/store"
	"github.com/mcdev12/roundsync/go/internal/timer"
)

type Services struct {
	Rooms      *room.Manager
	Rounds     *round.Service
	Timers     timer.Service
	Connection room.ConnectionConfig
	// Consumer is set in outbox relay mode.
	Consumer *gateway.EventConsumer
	// FinalizeWorker drains deadline finalizes when Redis is configured.
	FinalizeWorker *asynq.Server
	FinalizeMux    *asynq.ServeMux

	closers []func() error
}

// Close releases every backing connection in reverse order of creation.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Error().Err(err).Msg("failed to close dependency")
		}
	}
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Storage → Repository layer → App layer → Service layer
	services := &Services{}
	clock := clockwork.NewRealClock()

	verifier, err := identity.NewJWTVerifier(config.JWTSecret)
	if err != nil {
		return nil, err
	}

	var database *sql.DB
	if config.Store.Driver == "postgres" {
		database, err = setupDatabase()
		if err != nil {
			return nil, err
		}
		services.closers = append(services.closers, database.Close)
	}

	// Room state
	roomStore, err := setupRoomStore(ctx, config, clock, services)
	if err != nil {
		services.Close()
		return nil, err
	}

	// Rounds
	var (
		roundRepo round.Repository
		catalog   round.ContentCatalog
	)
	if database != nil {
		if err := round.Migrate(ctx, database); err != nil {
			services.Close()
			return nil, err
		}
		roundRepo = round.NewSQLRepository(database)
		catalog = round.NewSQLCatalog(database)
	} else {
		items, err := loadContent(config.Content.File)
		if err != nil {
			services.Close()
			return nil, err
		}
		roundRepo = round.NewMemoryRepository()
		catalog = round.NewMemoryCatalog(items)
	}

	// Timers
	if config.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: config.Redis.Addr})
		services.closers = append(services.closers, client.Close)
		services.Timers = timer.NewRedisService(client, clock, timer.DefaultRedisConfig())
	} else {
		services.Timers = timer.NewMemoryService(clock)
	}

	// Relay
	var (
		relay  round.Relay
		inline *outbox.InlineRelay
	)
	switch config.Relay.Mode {
	case "outbox":
		repo := outbox.NewRepository(database)
		if err := repo.Migrate(ctx); err != nil {
			services.Close()
			return nil, err
		}
		relay = outbox.NewApp(repo)
	default:
		inline = outbox.NewInlineRelay(nil)
		relay = inline
	}

	roundApp := round.NewApp(roundRepo, catalog, services.Timers, relay, clock)
	services.Rounds = round.NewService(roundApp)

	// Deadline finalize backstop
	if config.Redis.Addr != "" {
		redisOpt := asynq.RedisClientOpt{Addr: config.Redis.Addr}
		client := asynq.NewClient(redisOpt)
		services.closers = append(services.closers, client.Close)
		roundApp.SetScheduler(round.NewAsynqScheduler(client))
		services.FinalizeWorker, services.FinalizeMux = round.NewFinalizeWorker(redisOpt, roundApp)
	} else {
		scheduler := round.NewClockScheduler(clock, roundApp)
		services.closers = append(services.closers, func() error { scheduler.Stop(); return nil })
		roundApp.SetScheduler(scheduler)
	}

	services.Rooms = room.NewManager(room.Deps{
		Store:    roomStore,
		Verifier: verifier,
		Members:  roundApp,
		Clock:    clock,
		Mode:     models.RoomMode(config.Room.Mode),
	})

	if inline != nil {
		inline.SetSink(services.Rooms)
	} else {
		consumerCfg := gateway.DefaultJetStreamConsumerConfig()
		if config.Relay.NATSURL != "" {
			consumerCfg.URL = config.Relay.NATSURL
		}
		if id := os.Getenv("INSTANCE_ID"); id != "" {
			consumerCfg.InstanceID = id
		}
		consumer, err := gateway.NewEventConsumer(services.Rooms, consumerCfg)
		if err != nil {
			services.Close()
			return nil, err
		}
		services.Consumer = consumer
		services.closers = append(services.closers, consumer.Stop)
	}

	services.Connection = room.DefaultConnectionConfig()
	if config.Room.SendBuffer > 0 {
		services.Connection.SendBuffer = config.Room.SendBuffer
	}

	log.Info().
		Str("store", config.Store.Driver).
		Str("relay", config.Relay.Mode).
		Bool("redis_timers", config.Redis.Addr != "").
		Str("room_mode", config.Room.Mode).
		Msg("services initialized")
	return services, nil
}

func setupRoomStore(ctx context.Context, config *Config, clock clockwork.Clock, services *Services) (store.Store, error) {
	switch config.Store.Driver {
	case "postgres":
		pool, err := setupPool(ctx)
		if err != nil {
			return nil, err
		}
		services.closers = append(services.closers, func() error { pool.Close(); return nil })
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	case "sqlite":
		s, err := store.NewSQLiteStore(config.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		services.closers = append(services.closers, s.Close)
		return s, nil
	default:
		return store.NewMemoryStore(clock), nil
	}
}

func loadContent(path string) ([]models.ContentItem, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read content file: %w", err)
	}
	var items []models.ContentItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse content file: %w", err)
	}
	return items, nil
}
