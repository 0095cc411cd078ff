// tailsync is the desktop client: it watches the local clipboard, sends
// encrypted updates to the relay and applies updates from other devices.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Akshad135/tailsync/internal/clipboard"
	"github.com/Akshad135/tailsync/internal/config"
	"github.com/Akshad135/tailsync/internal/crypto"
	"github.com/Akshad135/tailsync/internal/singleinstance"
	"github.com/Akshad135/tailsync/internal/sync"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("tailsync", flag.ContinueOnError)
	server := fs.String("server", "", "relay host (Tailscale IP or domain)")
	port := fs.String("port", "", "relay port")
	secure := fs.Bool("secure", false, "use wss:// instead of ws://")
	password := fs.String("password", "", "shared encryption password")
	initConfig := fs.Bool("init", false, "write the given flags to the config file and exit")
	debug := fs.Bool("debug", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	overrides := config.ClientOverrides{}
	if *server != "" {
		overrides.ServerAddress = server
	}
	if *port != "" {
		overrides.Port = port
	}
	if *secure {
		overrides.UseSecure = secure
	}
	if *password != "" {
		overrides.EncryptionPassword = password
	}

	cfg, err := config.LoadClient(overrides)
	if err != nil {
		return err
	}

	if *initConfig {
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", cfg.Path())
		return nil
	}

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	// Failing to take the lock or to find a clipboard backend are the
	// only fatal conditions; everything on the sync path recovers.
	lock, err := singleinstance.Acquire(cfg.LockPath())
	if err != nil {
		return err
	}
	defer lock.Release()

	clip, err := clipboard.NewCommandClipboard()
	if err != nil {
		return err
	}
	log.Info().Str("backend", clip.Name()).Str("device", cfg.DeviceID).Msg("tailsync starting")

	transform := crypto.NewTransform(cfg.EncryptionPassword)

	engine, err := sync.New(sync.Config{
		URL:       cfg.WebsocketURL(),
		DeviceID:  cfg.DeviceID,
		Transform: transform,
		Clipboard: clip,
		Debounce:  cfg.Debounce(),
		Logger:    log,
	})
	if err != nil {
		return err
	}

	monitor := clipboard.NewMonitor(clip, engine.NotifyLocalChange, log)

	// Cancellation closes the active transport first (inside the engine),
	// then the deferred lock release runs.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return monitor.Run(ctx) })

	err = g.Wait()
	if ctx.Err() != nil {
		log.Info().Msg("goodbye")
		return nil
	}
	return err
}
