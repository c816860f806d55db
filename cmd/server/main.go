package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/npezzotti/go-readroom/internal/api"
	"github.com/npezzotti/go-readroom/internal/chatstore"
	"github.com/npezzotti/go-readroom/internal/config"
	"github.com/npezzotti/go-readroom/internal/database"
	"github.com/npezzotti/go-readroom/internal/server"
	"github.com/npezzotti/go-readroom/internal/stats"
	"github.com/npezzotti/go-readroom/internal/tts"
)

var (
	configPath string
	migrate    bool
	debug      bool
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.BoolVar(&migrate, "migrate", false, "apply database migrations before starting")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Str("service", "readroom").Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}

	db, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	if migrate || cfg.Migrate {
		logger.Info().Msg("applying migrations")
		if err := db.Migrate(); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
	}

	chat, err := chatstore.NewRedisStore(cfg.RedisAddr, cfg.HistoryLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer chat.Close()

	resolver, err := tts.NewResolver(cfg.TTSBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("tts resolver")
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	roomServer := server.NewRoomServer(logger.With().Str("component", "rooms").Logger(), db, chat, statsUpdater)
	go roomServer.Run()

	app := api.NewApp(mux, logger.With().Str("component", "api").Logger(), roomServer, db, chat, resolver, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown")
	}

	logger.Info().Msg("shutting down room server")
	if err := roomServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("room server shutdown")
	}

	logger.Info().Msg("shutdown complete")
}
