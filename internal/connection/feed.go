package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Feed keeps one upstream subscription alive and forwards its data messages.
type Feed struct {
	cfg       FeedConfig
	logger    *slog.Logger
	newClient func(ClientConfig, *slog.Logger) Client

	out chan RawMessage

	mu      sync.Mutex
	lastSeq map[int64]int64 // sid -> last sequence number
	stats   FeedStats
}

// FeedStats contains runtime statistics.
type FeedStats struct {
	Connects  int64
	Forwarded int64
	Dropped   int64
	SeqGaps   int64
}

// NewFeed creates a Feed. Call Run to start it.
func NewFeed(cfg FeedConfig, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		cfg:       cfg,
		logger:    logger,
		newClient: NewClient,
		out:       make(chan RawMessage, cfg.BufferSize),
		lastSeq:   make(map[int64]int64),
	}
}

// Messages returns forwarded data messages. It is closed when Run returns.
func (f *Feed) Messages() <-chan RawMessage {
	return f.out
}

// Stats returns current statistics.
func (f *Feed) Stats() FeedStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Run connects, subscribes and forwards messages until ctx ends,
// reconnecting with exponential backoff after every failure.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.out)

	wait := f.cfg.ReconnectBaseWait
	for {
		connected, err := f.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			wait = f.cfg.ReconnectBaseWait
		}

		f.logger.Warn("upstream feed disconnected", "error", err, "retry_in", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		wait *= 2
		if wait > f.cfg.ReconnectMaxWait {
			wait = f.cfg.ReconnectMaxWait
		}
	}
}

// runOnce drives a single connection. connected reports whether the dial
// succeeded, which resets the backoff.
func (f *Feed) runOnce(ctx context.Context) (connected bool, err error) {
	client := f.newClient(f.cfg.Client, f.logger)
	if err := client.Connect(ctx); err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	f.mu.Lock()
	f.stats.Connects++
	f.lastSeq = make(map[int64]int64) // Sequence numbers restart per subscription
	f.mu.Unlock()

	id, err := client.Subscribe(f.cfg.Channels, f.cfg.MarketTickers)
	if err != nil {
		return true, fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("subscribed to upstream feed",
		"id", id,
		"channels", f.cfg.Channels,
		"markets", len(f.cfg.MarketTickers),
	)

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-client.Errors():
			return true, err
		case msg := <-client.Messages():
			f.handle(ctx, msg)
		}
	}
}

// handle forwards one data message. Command responses are logged and dropped.
func (f *Feed) handle(ctx context.Context, msg TimestampedMessage) {
	if resp, ok := parseResponse(msg.Data); ok {
		f.logResponse(resp)
		return
	}

	seqGap, gapSize := f.checkSequence(msg.Data)
	raw := RawMessage{
		Data:       msg.Data,
		ReceivedAt: msg.ReceivedAt,
		SeqGap:     seqGap,
		GapSize:    gapSize,
	}

	select {
	case f.out <- raw:
		f.mu.Lock()
		f.stats.Forwarded++
		f.mu.Unlock()
	case <-ctx.Done():
	default:
		f.mu.Lock()
		f.stats.Dropped++
		f.mu.Unlock()
		f.logger.Warn("feed buffer full, dropping message")
	}
}

func (f *Feed) logResponse(resp Response) {
	if resp.Type != "error" {
		f.logger.Debug("command response", "id", resp.ID, "type", resp.Type)
		return
	}
	var e ErrorMsg
	if err := json.Unmarshal(resp.Msg, &e); err != nil {
		f.logger.Warn("command failed", "id", resp.ID, "msg", string(resp.Msg))
		return
	}
	f.logger.Warn("command failed", "id", resp.ID, "code", e.Code, "message", e.Message)
}

// parseResponse attempts to parse a message as a command response.
func parseResponse(data []byte) (Response, bool) {
	// Data messages carry no top-level id
	if !bytes.Contains(data, []byte(`"id":`)) {
		return Response{}, false
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, false
	}

	switch resp.Type {
	case "subscribed", "unsubscribed", "error", "ok":
		return resp, true
	}
	return Response{}, false
}

// checkSequence detects gaps in per-subscription sequence numbers. Messages
// without a sequence number never report a gap.
func (f *Feed) checkSequence(data []byte) (seqGap bool, gapSize int) {
	var s sequenced
	if err := json.Unmarshal(data, &s); err != nil || s.Seq == 0 {
		return false, 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	last, exists := f.lastSeq[s.SID]
	f.lastSeq[s.SID] = s.Seq
	if !exists || s.Seq == last+1 {
		return false, 0
	}
	if s.Seq <= last {
		f.logger.Debug("sequence went backwards", "sid", s.SID, "last", last, "got", s.Seq)
		return false, 0
	}

	gap := int(s.Seq - last - 1)
	f.stats.SeqGaps++
	f.logger.Warn("sequence gap detected",
		"sid", s.SID,
		"expected", last+1,
		"got", s.Seq,
		"gap", gap,
	)
	return true, gap
}
