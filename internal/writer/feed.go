package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/kalshi-replay/internal/buffer"
	"github.com/rickgao/kalshi-replay/internal/history"
	"github.com/rickgao/kalshi-replay/internal/metrics"
)

const insertFeedMessage = `
	INSERT INTO feed_messages (exchange, channel, symbol, local_ts, payload)
	VALUES ($1, $2, $3, $4, $5)
`

// BatchSender runs a batch of statements. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config configures a FeedWriter.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration // Bound on one batch insert, including one in flight at shutdown
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     1000,
		FlushInterval: time.Second,
		WriteTimeout:  10 * time.Second,
	}
}

// Stats contains writer statistics.
type Stats struct {
	Inserts int64
	Errors  int64
	Flushes int64
}

// feedRow is one feed_messages row.
type feedRow struct {
	Exchange string
	Channel  string
	Symbol   string
	LocalTs  int64 // Microseconds since epoch
	Payload  string
}

// FeedWriter consumes records from the router buffer and writes them to the
// feed_messages table.
type FeedWriter struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Input from the router
	input *buffer.GrowableBuffer[history.Record]

	// Database
	db BatchSender

	// Batching
	batch   []feedRow
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats Stats
}

// NewFeedWriter creates a new FeedWriter.
func NewFeedWriter(
	cfg Config,
	input *buffer.GrowableBuffer[history.Record],
	db BatchSender,
	m *metrics.Metrics,
	logger *slog.Logger,
) *FeedWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &FeedWriter{
		cfg:     cfg,
		input:   input,
		db:      db,
		metrics: m,
		logger:  logger,
		batch:   make([]feedRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming records and writing to the database.
func (w *FeedWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("feed writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts down the writer. Records still buffered are written with ctx,
// so stop the router first.
func (w *FeedWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping feed writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("feed writer stop timed out")
		return ctx.Err()
	}

	// Final flush of everything left in the buffer
	for _, rec := range w.input.DrainTo(0) {
		w.add(rec)
	}
	w.flush(ctx)

	w.logger.Info("feed writer stopped", "inserts", w.Stats().Inserts)
	return nil
}

// Stats returns current statistics.
func (w *FeedWriter) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

// consumeLoop moves records from the input buffer into the batch.
func (w *FeedWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		recs := w.input.DrainTo(w.cfg.BatchSize)
		if len(recs) == 0 {
			// Buffer empty, wait a bit before trying again
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		for _, rec := range recs {
			if w.add(rec) {
				w.flushInFlight()
			}
		}

		if w.ctx.Err() != nil {
			return
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *FeedWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flushInFlight()
		}
	}
}

// add appends a record to the batch and reports whether the batch is full.
func (w *FeedWriter) add(rec history.Record) bool {
	row := transform(rec)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts a record to a feedRow.
func transform(rec history.Record) feedRow {
	return feedRow{
		Exchange: rec.Exchange,
		Channel:  rec.Channel,
		Symbol:   rec.Symbol,
		LocalTs:  rec.LocalTimestamp.UnixMicro(),
		Payload:  string(rec.Data),
	}
}

// flushInFlight flushes from the background loops. The insert is detached
// from the writer's cancellation so a batch taken just before Stop is still
// written, bounded by WriteTimeout.
func (w *FeedWriter) flushInFlight() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), w.cfg.WriteTimeout)
	defer cancel()
	w.flush(ctx)
}

// flush writes the current batch to the database. A failed batch is dropped
// and counted.
func (w *FeedWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]feedRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	err := w.batchInsert(ctx, batch)
	w.metrics.RecorderFlushed(len(batch), err)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	if err != nil {
		w.stats.Errors++
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		return
	}

	w.stats.Inserts += int64(len(batch))
	w.stats.Flushes++
	w.logger.Debug("flushed feed messages",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (w *FeedWriter) batchInsert(ctx context.Context, rows []feedRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertFeedMessage, r.Exchange, r.Channel, r.Symbol, r.LocalTs, r.Payload)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
