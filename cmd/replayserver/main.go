package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/kalshi-replay/internal/config"
	"github.com/rickgao/kalshi-replay/internal/database"
	"github.com/rickgao/kalshi-replay/internal/history"
	"github.com/rickgao/kalshi-replay/internal/mapper"
	"github.com/rickgao/kalshi-replay/internal/metrics"
	"github.com/rickgao/kalshi-replay/internal/replay"
	"github.com/rickgao/kalshi-replay/internal/server"
	"github.com/rickgao/kalshi-replay/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/replay.local.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Log, os.Stdout)
	if err != nil {
		slog.Error("failed to create logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting replay server",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("replay server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("replay server stopped")
}

func run(cfg *config.ReplayConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("connecting to database",
		"host", cfg.Database.Timescale.Host,
		"port", cfg.Database.Timescale.Port,
		"database", cfg.Database.Timescale.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database.Timescale)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	m := metrics.New()
	mappers := mapper.Default()

	// Sessions outlive the HTTP shutdown and are cancelled last.
	sessionCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()

	registry := replay.NewRegistry(sessionCtx,
		replay.SessionConfig{
			Window:         cfg.Session.Window,
			SendPoll:       cfg.Session.SendPoll,
			DrainPoll:      cfg.Session.DrainPoll,
			MaxConnections: cfg.Session.MaxConnections,
		},
		history.NewTimescaleSource(pool),
		replay.WithLogger(logger),
		replay.WithMetrics(m),
	)

	srv := server.New(cfg.Server, registry, mappers,
		server.WithLogger(logger),
		server.WithMetrics(m),
		server.WithDatabase(pool),
	)

	logger.Info("accepting replay connections",
		"addr", cfg.Server.Addr,
		"path", cfg.Server.Path,
		"exchanges", mappers.Exchanges(),
		"window", cfg.Session.Window,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		return m.Serve(gctx, fmt.Sprintf(":%d", cfg.Metrics.Port), cfg.Metrics.Path, logger)
	})

	err = g.Wait()
	if n := registry.Len(); n > 0 {
		logger.Info("cancelling running replay sessions", "sessions", n)
	}
	cancelSessions()
	return err
}
