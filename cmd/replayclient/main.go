// replayclient replays a historical range from a replay server and prints
// every message it receives to stdout.
//
// Usage:
//
//	go run ./cmd/replayclient -from 2024-11-05 -to 2024-11-06 -channels trade,ticker
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/rickgao/kalshi-replay/internal/config"
	"github.com/rickgao/kalshi-replay/internal/connection"
	"github.com/rickgao/kalshi-replay/internal/version"
)

// options describes one replay request.
type options struct {
	addr     string
	exchange string
	from     string
	to       string
	channels []string
	tickers  []string
	verbose  bool
}

// summary counts what a replay delivered.
type summary struct {
	messages int
	byType   map[string]int
}

func main() {
	var opts options
	var channels, tickers, logLevel string

	flag.StringVar(&opts.addr, "addr", "ws://localhost:8001/ws-replay", "replay server WebSocket URL")
	flag.StringVar(&opts.exchange, "exchange", "kalshi", "exchange to replay")
	flag.StringVar(&opts.from, "from", "", "range start (RFC 3339 or YYYY-MM-DD)")
	flag.StringVar(&opts.to, "to", "", "range end (RFC 3339 or YYYY-MM-DD)")
	flag.StringVar(&channels, "channels", "trade,ticker,orderbook_delta", "comma-separated channels")
	flag.StringVar(&tickers, "tickers", "", "comma-separated market tickers (empty = all)")
	flag.BoolVar(&opts.verbose, "verbose", false, "print full message JSON")
	flag.StringVar(&logLevel, "log-level", "info", "log level")
	flag.Parse()

	opts.channels = splitList(channels)
	opts.tickers = splitList(tickers)

	logger, err := config.NewLogger(config.LogConfig{Level: logLevel, Format: "text"}, os.Stderr)
	if err != nil {
		slog.Error("failed to create logger", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := runReplay(ctx, opts, os.Stdout, logger)
	logger.Info("replay finished", "messages", sum.messages, "by_type", sum.byType)
	if err != nil {
		logger.Error("replay failed", "error", err)
		os.Exit(1)
	}
}

// replayURL builds the server URL carrying the replay range.
func replayURL(opts options) (string, error) {
	u, err := url.Parse(opts.addr)
	if err != nil {
		return "", fmt.Errorf("parse addr: %w", err)
	}
	q := u.Query()
	q.Set("exchange", opts.exchange)
	q.Set("from", opts.from)
	q.Set("to", opts.to)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// runReplay subscribes to opts.channels and writes every message to out until
// the server closes the session.
func runReplay(ctx context.Context, opts options, out io.Writer, logger *slog.Logger) (summary, error) {
	sum := summary{byType: make(map[string]int)}

	if len(opts.channels) == 0 {
		return sum, errors.New("no channels to subscribe to")
	}

	rawURL, err := replayURL(opts)
	if err != nil {
		return sum, err
	}

	cfg := connection.DefaultClientConfig()
	cfg.URL = rawURL
	cfg.UserAgent = version.UserAgent("replayclient")
	cfg.Lossless = true

	client := connection.NewClient(cfg, logger)
	if err := client.Connect(ctx); err != nil {
		return sum, err
	}
	defer client.Close()

	if _, err := client.Subscribe(opts.channels, opts.tickers); err != nil {
		return sum, fmt.Errorf("subscribe: %w", err)
	}
	logger.Info("subscribed, waiting for the session to start",
		"url", rawURL,
		"channels", opts.channels,
		"tickers", len(opts.tickers),
	)

	for {
		select {
		case msg := <-client.Messages():
			sum.print(out, msg, opts.verbose)

		case err := <-client.Errors():
			// Everything read before the close frame is already queued.
			for drained := false; !drained; {
				select {
				case msg := <-client.Messages():
					sum.print(out, msg, opts.verbose)
				default:
					drained = true
				}
			}
			return sum, closeResult(err)

		case <-ctx.Done():
			return sum, ctx.Err()
		}
	}
}

// closeResult maps the server's close frame to the replay outcome.
func closeResult(err error) error {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return fmt.Errorf("connection lost: %w", err)
	}
	if ce.Code == websocket.CloseNormalClosure {
		return nil
	}
	return fmt.Errorf("server closed replay (%d): %s", ce.Code, ce.Text)
}

func (s *summary) print(out io.Writer, msg connection.TimestampedMessage, verbose bool) {
	var env struct {
		Type string `json:"type"`
		Msg  struct {
			MarketTicker string `json:"market_ticker"`
		} `json:"msg"`
	}
	_ = json.Unmarshal(msg.Data, &env)

	s.messages++
	s.byType[env.Type]++

	if verbose {
		fmt.Fprintf(out, "%s\n", msg.Data)
		return
	}
	fmt.Fprintf(out, "[%s] ticker=%s bytes=%d\n", strings.ToUpper(env.Type), env.Msg.MarketTicker, len(msg.Data))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
