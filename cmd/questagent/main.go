package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/playperu/geoquest/internal/auth"
	"github.com/playperu/geoquest/internal/config"
	"github.com/playperu/geoquest/internal/database"
	"github.com/playperu/geoquest/internal/handler/health"
	"github.com/playperu/geoquest/internal/hunt"
	"github.com/playperu/geoquest/internal/interact"
	"github.com/playperu/geoquest/internal/location"
	"github.com/playperu/geoquest/internal/migrations"
	"github.com/playperu/geoquest/internal/pairing"
	"github.com/playperu/geoquest/internal/realtime"
	"github.com/playperu/geoquest/internal/remote"
	"github.com/playperu/geoquest/internal/server"
	"github.com/playperu/geoquest/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(ctx, db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	if cfg.CredentialSecret == "" {
		logger.Warn("CREDENTIAL_SECRET not set, stored credentials are sealed with a built-in key")
	}
	store, err := storage.New(db, cfg.CredentialSecret)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	// --- Game backend ---
	client := remote.New(cfg.APIURL, &http.Client{Timeout: cfg.HTTPTimeout}, logger)
	session := auth.NewSession(client, store, logger)
	client.UseAuth(session)

	channel := realtime.New(cfg.WSURL, session,
		realtime.WithLogger(logger),
		realtime.WithReconnectDelay(cfg.ReconnectDelay),
	)
	defer channel.Close()

	// --- Engine ---
	feed := location.NewFeed()

	pairer := pairing.New(client, feed, cfg.PairingPolicy(), logger)
	defer pairer.Close()

	hunts := hunt.NewRegistry()
	defer hunts.CloseAll()

	dispatcher := interact.New(client, feed, logger,
		interact.WithPairing(pairer),
		interact.WithHunts(func(huntID string) (interact.StepScanner, bool) {
			t, ok := hunts.Get(huntID)
			if !ok {
				return nil, false
			}
			return t, true
		}),
		interact.WithJournal(store),
	)

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, server.Deps{
		Logger:     logger,
		Feed:       feed,
		Scanner:    dispatcher,
		Pairing:    pairer,
		Backend:    client,
		Hunts:      hunts,
		HuntConfig: cfg.HuntPolicy(),
		Channel:    channel,
		Identity:   session,
		Journal:    store,
		Health: health.NewHandler(logger, map[string]health.Checker{
			"sqlite":  health.CheckerFunc(store.Ping),
			"backend": health.CheckerFunc(client.Ping),
		}).Routes(),
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := session.Reauthenticate(gctx); err != nil {
			// Requests retry authentication on demand.
			logger.Warn("initial authentication failed", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}
