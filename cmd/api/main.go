package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kments/marblerace-backend/internal/physics"
	"github.com/kments/marblerace-backend/internal/server"
	"github.com/kments/marblerace-backend/internal/session"
	"github.com/kments/marblerace-backend/internal/store"
	"github.com/kments/marblerace-backend/internal/ws"
)

func main() {
	cfg := server.LoadConfig()
	log := newLogger(cfg.AppEnv)

	st, closeStore, err := newStore(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer closeStore()

	manager := session.NewManager(st, func() physics.Engine {
		return physics.NewChipmunk(log)
	}, log)
	hub := ws.NewHub(manager, log)
	manager.SetTransport(hub, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.RunCollector(ctx)

	srv := server.New(cfg, manager, hub, log).HTTPServer()

	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.AppEnv).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	manager.Shutdown()
}

func newLogger(appEnv string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if appEnv == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// newStore picks Postgres when a DSN is configured, otherwise the in-memory
// store. The close func is a no-op for memory.
func newStore(cfg server.Config, log zerolog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL unset, using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
