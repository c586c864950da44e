package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/roundsync/go/internal/countdown"
	"github.com/mcdev12/roundsync/go/internal/timer"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var (
		redisAddr    = flag.String("redis", getEnv("REDIS_ADDR", "localhost:6379"), "redis address shared by the user's tabs")
		userID       = flag.String("user", getEnv("COUNTDOWN_USER", "anonymous"), "user whose tabs share the countdown")
		timerID      = flag.String("timer", "", "timer id, e.g. ROOM:0")
		duration     = flag.Duration("duration", 60*time.Second, "round duration")
		serverURL    = flag.String("server", getEnv("ROUNDSYNC_URL", "http://localhost:8080"), "server base url for the timer feed")
		token        = flag.String("token", os.Getenv("ROUNDSYNC_TOKEN"), "bearer token; enables server mode")
		preferServer = flag.Bool("prefer-server", true, "use the server timer when possible")
		tabID        = flag.String("tab", "", "tab id; defaults to a new uuid")
		manual       = flag.Bool("manual", false, "do not start automatically")
	)
	flag.Parse()

	if *tabID == "" {
		*tabID = uuid.NewString()
	}

	client := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", *redisAddr).Msg("connect redis")
	}

	reconciler, err := countdown.New(countdown.Options{
		TimerID:       *timerID,
		Duration:      *duration,
		AutoStart:     !*manual,
		PreferServer:  *preferServer,
		Authenticated: *token != "",
		OnExpire: func() {
			log.Info().Str("timer_id", *timerID).Str("tab_id", *tabID).Msg("time is up, finalizing round")
			stop()
		},
		Storage: countdown.NewRedisStorage(client, countdown.DefaultRedisConfig(*userID)),
		Feed:    timer.NewHTTPFeed(*serverURL, *token),
		TabID:   *tabID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("create countdown")
	}

	log.Info().
		Str("timer_id", *timerID).
		Str("mode", string(reconciler.Mode())).
		Str("tab_id", *tabID).
		Msg("countdown running")

	last := -1
	err = reconciler.Run(ctx, func(st countdown.State) {
		if st.RemainingSeconds == last && !st.Expired {
			return
		}
		last = st.RemainingSeconds
		log.Info().
			Int("remaining_seconds", st.RemainingSeconds).
			Bool("running", st.Running).
			Bool("expired", st.Expired).
			Msg("tick")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("countdown failed")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
