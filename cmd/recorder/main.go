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

	"github.com/rickgao/kalshi-replay/internal/api"
	"github.com/rickgao/kalshi-replay/internal/auth"
	"github.com/rickgao/kalshi-replay/internal/config"
	"github.com/rickgao/kalshi-replay/internal/connection"
	"github.com/rickgao/kalshi-replay/internal/database"
	"github.com/rickgao/kalshi-replay/internal/metrics"
	"github.com/rickgao/kalshi-replay/internal/router"
	"github.com/rickgao/kalshi-replay/internal/version"
	"github.com/rickgao/kalshi-replay/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/replay.local.yaml", "path to config file")
	migrate := flag.Bool("migrate", true, "create the feed_messages hypertable if missing")
	metricsAddr := flag.String("metrics-addr", "", "metrics listen address (overrides metrics.port)")
	flag.Parse()

	cfg, err := config.LoadWithDefaults(*configPath)
	if err == nil {
		err = cfg.ValidateRecorder()
	}
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

	logger.Info("starting recorder",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if *metricsAddr == "" {
		*metricsAddr = fmt.Sprintf(":%d", cfg.Metrics.Port)
	}

	if err := run(cfg, *migrate, *metricsAddr, logger); err != nil {
		logger.Error("recorder failed", "error", err)
		os.Exit(1)
	}
	logger.Info("recorder stopped")
}

func run(cfg *config.ReplayConfig, migrate bool, metricsAddr string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rc := cfg.Recorder

	creds, err := auth.LoadCredentials(rc.APIKey, rc.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	pool, err := database.Connect(ctx, cfg.Database.Timescale)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if migrate {
		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}
	}

	tickers, err := marketTickers(ctx, rc, creds, logger)
	if err != nil {
		return err
	}

	m := metrics.New()

	feedCfg := connection.DefaultFeedConfig()
	feedCfg.Client.URL = rc.WSURL
	feedCfg.Client.Credentials = creds
	feedCfg.Client.UserAgent = version.UserAgent("recorder")
	feedCfg.Client.BufferSize = rc.BufferSize
	feedCfg.Channels = rc.Channels
	feedCfg.MarketTickers = tickers
	feedCfg.BufferSize = rc.BufferSize
	feed := connection.NewFeed(feedCfg, logger.With("component", "feed"))

	rt := router.NewRouter(router.Config{
		Exchange:   rc.Exchange,
		BufferSize: rc.BufferSize,
	}, feed.Messages(), m, logger.With("component", "router"))

	w := writer.NewFeedWriter(writer.Config{
		BatchSize:     rc.BatchSize,
		FlushInterval: rc.FlushInterval,
		WriteTimeout:  cfg.Server.ShutdownTimeout,
	}, rt.Output(), pool, m, logger.With("component", "writer"))

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start writer: %w", err)
	}

	logger.Info("recording upstream feed",
		"exchange", rc.Exchange,
		"url", rc.WSURL,
		"channels", rc.Channels,
		"markets", len(tickers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return feed.Run(gctx)
	})
	g.Go(func() error {
		return m.Serve(gctx, metricsAddr, cfg.Metrics.Path, logger)
	})
	err = g.Wait()

	// Stop in pipeline order so the writer flushes everything routed.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	rt.Stop(shutdownCtx)
	if werr := w.Stop(shutdownCtx); werr != nil {
		logger.Warn("writer did not flush before shutdown", "error", werr)
	}

	fs, rs, ws := feed.Stats(), rt.Stats(), w.Stats()
	logger.Info("recorder totals",
		"connects", fs.Connects,
		"forwarded", fs.Forwarded,
		"dropped", fs.Dropped,
		"seq_gaps", fs.SeqGaps,
		"routed", rs.MessagesRouted,
		"parse_errors", rs.ParseErrors,
		"inserted", ws.Inserts,
		"insert_errors", ws.Errors,
	)
	return err
}

// marketTickers returns the configured market tickers, or discovers the open
// markets of the configured series when none are listed.
func marketTickers(ctx context.Context, rc config.RecorderConfig, creds *auth.Credentials, logger *slog.Logger) ([]string, error) {
	if len(rc.MarketTickers) > 0 || len(rc.SeriesTickers) == 0 {
		return rc.MarketTickers, nil
	}

	client := api.NewClient(rc.RESTURL, creds,
		api.WithLogger(logger.With("component", "api")),
		api.WithUserAgent(version.UserAgent("recorder")),
	)
	tickers, err := client.OpenTickers(ctx, rc.SeriesTickers)
	if err != nil {
		return nil, fmt.Errorf("discover markets: %w", err)
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("discover markets: no open markets in series %v", rc.SeriesTickers)
	}

	logger.Info("discovered open markets", "series", rc.SeriesTickers, "markets", len(tickers))
	return tickers, nil
}
