// Package router classifies upstream feed messages into history records.
//
// Each message is stored under the channel a client subscribes to in order
// to receive it, which is not always the message type: orderbook snapshots
// arrive on the orderbook_delta channel.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/kalshi-replay/internal/buffer"
	"github.com/rickgao/kalshi-replay/internal/connection"
	"github.com/rickgao/kalshi-replay/internal/history"
	"github.com/rickgao/kalshi-replay/internal/metrics"
)

// ErrControlMessage marks command responses, which are not recorded.
var ErrControlMessage = errors.New("control message")

// channelByType maps message types to the channel they are delivered on.
// Types not listed here are recorded under their own name.
var channelByType = map[string]string{
	"orderbook_snapshot": "orderbook_delta",
	"orderbook_delta":    "orderbook_delta",
}

var controlTypes = map[string]bool{
	"subscribed":   true,
	"unsubscribed": true,
	"ok":           true,
	"error":        true,
}

// envelope holds the fields needed to classify a message.
type envelope struct {
	Type string `json:"type"`
	Msg  struct {
		MarketTicker string `json:"market_ticker"`
	} `json:"msg"`
}

// Classify turns a raw feed message into a record for exchange.
func Classify(exchange string, raw connection.RawMessage) (history.Record, error) {
	var env envelope
	if err := json.Unmarshal(raw.Data, &env); err != nil {
		return history.Record{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return history.Record{}, errors.New("message has no type")
	}
	if controlTypes[env.Type] {
		return history.Record{}, fmt.Errorf("%w: %s", ErrControlMessage, env.Type)
	}

	channel, ok := channelByType[env.Type]
	if !ok {
		channel = env.Type
	}

	return history.Record{
		Exchange: exchange,
		Channel:  channel,
		Symbol:   env.Msg.MarketTicker,
		Message: history.Message{
			LocalTimestamp: raw.ReceivedAt,
			Data:           raw.Data,
		},
	}, nil
}

// Config holds configuration for the Router.
type Config struct {
	Exchange   string
	BufferSize int // Initial output buffer capacity
}

// Stats contains runtime statistics.
type Stats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	ControlMessages  int64
	SeqGaps          int64
	Buffer           buffer.Stats
}

// Router reads feed messages, classifies them and queues records for the
// writer.
type Router struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Input from the feed
	input <-chan connection.RawMessage

	// Output to the writer
	output *buffer.GrowableBuffer[history.Record]

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// NewRouter creates a Router.
func NewRouter(cfg Config, input <-chan connection.RawMessage, m *metrics.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		input:   input,
		output:  buffer.NewSizedBuffer(cfg.BufferSize, func(r history.Record) int { return len(r.Data) }),
	}
}

// Start begins routing messages.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("message router started", "exchange", r.cfg.Exchange, "buffer", r.cfg.BufferSize)
	return nil
}

// Stop waits for the route loop to exit, then closes the output buffer.
// Records already queued stay readable.
func (r *Router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
	}

	r.output.Close()
	return nil
}

// Output returns the buffer the writer consumes.
func (r *Router) Output() *buffer.GrowableBuffer[history.Record] {
	return r.output
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats
	s.Buffer = r.output.Stats()
	return s
}

// routeLoop is the main routing goroutine. It exits when the context ends or
// the input closes.
func (r *Router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.route(raw)
		}
	}
}

// route classifies and queues a single message.
func (r *Router) route(raw connection.RawMessage) {
	rec, err := Classify(r.cfg.Exchange, raw)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.MessagesReceived++
	if raw.SeqGap {
		r.stats.SeqGaps++
	}

	switch {
	case errors.Is(err, ErrControlMessage):
		r.stats.ControlMessages++
		return
	case err != nil:
		r.stats.ParseErrors++
		r.logger.Warn("failed to classify message", "error", err)
		return
	}

	if r.output.Send(rec) {
		r.stats.MessagesRouted++
		r.metrics.MessageRecorded(rec.Channel)
	}
}
