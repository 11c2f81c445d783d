package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/galadrimteam/quakewatch/internal/auth"
	"github.com/galadrimteam/quakewatch/internal/config"
	"github.com/galadrimteam/quakewatch/internal/httpapi"
	"github.com/galadrimteam/quakewatch/internal/realtime"
	"github.com/galadrimteam/quakewatch/internal/usgs"
)

func main() {
	if !run() {
		os.Exit(1)
	}
}

// run serves until a shutdown signal. It reports false when startup or the
// server itself failed.
func run() bool {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.BuildLogger(cfg.LogLevel, cfg.LogJSON)

	users, err := auth.LoadStore(cfg.UsersFile)
	if err != nil {
		logger.Error("load users failed", "error", err)
		return false
	}
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, using the built-in development secret")
	}

	feeds := usgs.NewFeedSelector(usgs.FeedID(cfg.USGSFeed))
	client := usgs.NewClient(cfg.USGSBaseURL, feeds, cfg.FetchTimeout, logger)
	hub := realtime.NewHub(client, realtime.NewRegistry(logger), realtime.HubConfig{
		Interval:      cfg.BroadcastInterval,
		SnapshotLimit: cfg.SnapshotLimit,
		FetchTimeout:  cfg.FetchTimeout,
	}, logger)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.NewRouter(httpapi.Deps{
			Logger: logger,
			Hub:    hub,
			Quakes: client,
			Feeds:  feeds,
			Auth: auth.Authenticator{
				Users:  users,
				Tokens: auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
			},
			WSRequireAuth: cfg.WSRequireAuth,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr, "feed", feeds.Current(), "ws_auth", cfg.WSRequireAuth)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped with error", "error", err)
		return false
	}
	logger.Info("goodbye")
	return true
}
