// Package main is the entry point for the game session server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"game-session-server/internal/config"
	"game-session-server/internal/game"
	"game-session-server/internal/ledger"
	"game-session-server/internal/message"
	"game-session-server/internal/pkg/db"
	"game-session-server/internal/repository"
	"game-session-server/internal/server"
	"game-session-server/internal/session"
	"game-session-server/internal/supervisor"
	"game-session-server/internal/validation"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := repository.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Message channel: signer scheme is configured; the weak fallback
	// logs its own warning when selected.
	signer, err := message.NewSigner(cfg.Security.Scheme, cfg.Security.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create message signer")
	}
	replayCache := message.NewReplayCache(cfg.Security.ReplayCacheTTL)
	codec := message.NewCodec(signer, cfg.Security.Staleness, cfg.Security.SkewTolerance).
		WithReplayCache(replayCache)

	// Game catalog
	catalog, err := game.FromConfig(&cfg.Games)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build game catalog")
	}
	log.Info().
		Int("game_count", catalog.Count()).
		Strs("games", catalog.IDs()).
		Msg("Game catalog loaded")

	// Repositories
	userRepo := repository.NewUserRepository(dbPool.Pool)
	sessionRepo := repository.NewSessionRepository(dbPool.Pool)
	checkpointRepo := repository.NewCheckpointRepository(dbPool.Pool)
	resultRepo := repository.NewResultRepository(dbPool.Pool)
	rewardLedger := ledger.NewPostgresLedger(dbPool.Pool)

	// Session lifecycle service
	sessionService := session.NewService(
		userRepo,
		sessionRepo,
		checkpointRepo,
		resultRepo,
		rewardLedger,
		validation.NewEngine(cfg.Validation.TimingVarianceFloor),
		catalog,
		session.Config{
			EmergencyWindow: cfg.Session.EmergencyWindow,
			AssumedDuration: cfg.Session.AssumedDuration,
			XPPerPoint:      cfg.Session.XPPerPoint,
		},
	)

	// HTTP server
	deps := &server.Dependencies{
		Config:   cfg,
		Codec:    codec,
		Sessions: sessionService,
		Pinger:   dbPool,
	}
	deps.Audit.Sessions = sessionRepo
	deps.Audit.Results = resultRepo
	deps.Audit.Awards = rewardLedger

	srv, err := server.New(deps)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create HTTP server")
	}

	// Background maintenance
	sup := supervisor.New(replayCache, sessionRepo, supervisor.Config{
		Interval:   cfg.Session.SweepInterval,
		StaleAfter: cfg.Session.EmergencyWindow,
	})
	sup.Start(ctx)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Graceful shutdown
	sup.Stop()
	if err := srv.Stop(context.Background()); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Server stopped gracefully")
}
