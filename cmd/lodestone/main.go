package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"

	"github.com/loothing/lodestone/internal/auth"
	"github.com/loothing/lodestone/internal/buffer"
	"github.com/loothing/lodestone/internal/config"
	"github.com/loothing/lodestone/internal/ingest"
	"github.com/loothing/lodestone/internal/notify"
	"github.com/loothing/lodestone/internal/parser"
	"github.com/loothing/lodestone/internal/segment"
	"github.com/loothing/lodestone/internal/server"
	"github.com/loothing/lodestone/internal/session"
	"github.com/loothing/lodestone/internal/store/postgres"
	redisstore "github.com/loothing/lodestone/internal/store/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("LODESTONE_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("LODESTONE_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
		return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
	}

	// Connect to PostgreSQL.
	store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
	if err != nil {
		return err
	}
	defer store.Close()

	// Connect to Redis.
	pubsub, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	// Credential and quota service.
	authSvc := auth.NewService(store.Credentials(), auth.Config{
		BurstPerSecond: cfg.Quota.BurstPerSecond,
		SweepInterval:  cfg.Quota.SweepInterval,
		SweepMaxAge:    cfg.Quota.SweepMaxAge,
	})

	// Ingest coordinator: one buffer + parser + segmenter per stream.
	coordinator := ingest.NewCoordinator(
		ingest.Config{
			Buffer: buffer.Config{
				MaxSize:       cfg.Ingest.BufferMaxSize,
				BatchSize:     cfg.Ingest.BatchSize,
				FlushInterval: cfg.Ingest.FlushInterval,
			},
			Workers:         cfg.Ingest.Workers,
			StoreInterval:   cfg.Ingest.StoreInterval,
			MetricsInterval: cfg.Ingest.MetricsInterval,
		},
		parser.NewTokenizer(),
		func() ingest.EventParser { return parser.NewParser() },
		func() ingest.Segmenter { return segment.NewSegmenter() },
		store.Encounters(),
		authSvc,
	)

	// Session registry. Sweep evictions drain the stream's processing
	// context and release its connection slot.
	registry := session.NewRegistry(session.Config{
		MaxSessions:   cfg.Session.MaxSessions,
		SweepInterval: cfg.Session.SweepInterval,
		IdleAfter:     cfg.Session.IdleAfter,
		StaleAfter:    cfg.Session.StaleAfter,
	}, func(s *session.Session) {
		coordinator.StopContext(ingest.ContextID(s))
		authSvc.UntrackConnection(s.ClientID, s.ID)
	})

	// Notification fanout: Redis relay always, Slack announcer when
	// configured.
	notifyReg := notify.NewRegistry()
	notifyReg.Register(notify.NewRedisRelay(pubsub))
	if cfg.Slack.BotToken != "" {
		slackClient := slacklib.New(cfg.Slack.BotToken)
		notifyReg.Register(notify.NewSlackAnnouncer(slackClient, cfg.Slack.ChannelID))
		log.Info().Str("channel", cfg.Slack.ChannelID).Msg("Slack announcer enabled")
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Background loops.
	go authSvc.Run(ctx)
	go registry.Run(ctx)
	go coordinator.RunMetrics(ctx)
	go notifyReg.Run(ctx, coordinator.Notices())

	// Create HTTP server with all routes wired.
	srv := server.New(cfg, store, pubsub, authSvc, registry, coordinator)

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	// Drain remaining stream state: final flushes and encounter storage.
	coordinator.Stop()

	log.Info().Msg("stopped")
	return nil
}
