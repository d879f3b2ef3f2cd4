package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/tripsync/internal/adapters/http"
	"github.com/dkeye/tripsync/internal/app"
	"github.com/dkeye/tripsync/internal/app/orch"
	"github.com/dkeye/tripsync/internal/auth"
	"github.com/dkeye/tripsync/internal/config"
	"github.com/dkeye/tripsync/internal/storage/sqlite"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	o := orch.New(app.NewRegistry(), app.NewRoomManager(), app.PolicyFor(cfg.Backpressure))

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Store.Enabled {
		store, err := sqlite.NewStore(cfg.Store.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("open store")
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("close store")
			}
		}()
		if err := store.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate store")
		}
		archive := app.NewArchive(store, cfg.Store.QueueSize)
		o.Archive = archive
		o.History = store
		g.Go(func() error { return archive.Run(gctx) })
		log.Info().Str("path", cfg.Store.Path).Msg("chat and memo archive enabled")
	}

	r := router.SetupRouter(gctx, cfg, o, auth.NewVerifier(cfg.Auth))
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("TripSync server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return
	}
	log.Info().Msg("Server exited gracefully")
}
