// tailsync-relay is the central message broker: it accepts websocket
// connections from clients, fans out every clipboard update to the other
// connections and replays the most recent update to late joiners. It has no
// clipboard semantics and never sees plaintext payloads.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Akshad135/tailsync/internal/config"
	"github.com/Akshad135/tailsync/internal/relay"
)

func main() {
	cfg := config.LoadRelay()

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("relay exited")
		os.Exit(1)
	}
}

func run(cfg *config.Relay, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := relay.NewHub(log)
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: relay.NewServer(hub, log),
	}

	log.Info().Str("addr", cfg.Addr).Msg("relay starting")

	g, ctx := errgroup.WithContext(ctx)

	// The heartbeat task is cancelled and awaited (via the group) before
	// shutdown completes, so no ping is in flight when we exit.
	g.Go(func() error {
		err := hub.RunHeartbeat(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
