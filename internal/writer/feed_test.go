package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/kalshi-replay/internal/buffer"
	"github.com/rickgao/kalshi-replay/internal/history"
)

// fakeDB records queued statements instead of sending them.
type fakeDB struct {
	mu      sync.Mutex
	err     error
	batches [][]*pgx.QueuedQuery
}

func (db *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.batches = append(db.batches, b.QueuedQueries)
	return &fakeResults{err: db.err}
}

func (db *fakeDB) rows() [][]any {
	db.mu.Lock()
	defer db.mu.Unlock()
	var rows [][]any
	for _, b := range db.batches {
		for _, q := range b {
			rows = append(rows, q.Arguments)
		}
	}
	return rows
}

type fakeResults struct {
	err error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), r.err
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func rec(symbol string, data string) history.Record {
	return history.Record{
		Exchange: "kalshi",
		Channel:  "trade",
		Symbol:   symbol,
		Message: history.Message{
			LocalTimestamp: time.Date(2024, 11, 5, 0, 0, 0, 1000, time.UTC),
			Data:           []byte(data),
		},
	}
}

func TestTransform(t *testing.T) {
	row := transform(rec("PRES-DEM", `{"type":"trade"}`))

	if row.Exchange != "kalshi" || row.Channel != "trade" || row.Symbol != "PRES-DEM" {
		t.Errorf("row = %+v", row)
	}
	if want := time.Date(2024, 11, 5, 0, 0, 0, 1000, time.UTC).UnixMicro(); row.LocalTs != want {
		t.Errorf("LocalTs = %d, want %d", row.LocalTs, want)
	}
	if row.Payload != `{"type":"trade"}` {
		t.Errorf("Payload = %s", row.Payload)
	}
}

func TestFeedWriter_FlushesFullBatches(t *testing.T) {
	db := &fakeDB{}
	input := buffer.NewGrowableBuffer[history.Record](10)
	w := NewFeedWriter(Config{BatchSize: 2, FlushInterval: time.Hour}, input, db, nil, nil)

	for _, sym := range []string{"A", "B", "C"} {
		input.Send(rec(sym, "{}"))
	}

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for w.Stats().Inserts < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := w.Stats().Inserts; got != 2 {
		t.Fatalf("Inserts before stop = %d, want 2", got)
	}

	// Stop writes the partial batch.
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	stats := w.Stats()
	if stats.Inserts != 3 || stats.Flushes != 2 || stats.Errors != 0 {
		t.Errorf("stats = %+v", stats)
	}

	rows := db.rows()
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	for i, sym := range []string{"A", "B", "C"} {
		if rows[i][2] != sym {
			t.Errorf("row %d symbol = %v, want %s", i, rows[i][2], sym)
		}
	}
}

func TestFeedWriter_FlushInterval(t *testing.T) {
	db := &fakeDB{}
	input := buffer.NewGrowableBuffer[history.Record](10)
	w := NewFeedWriter(Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, input, db, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop(context.Background())

	input.Send(rec("A", "{}"))

	deadline := time.Now().Add(time.Second)
	for w.Stats().Flushes == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := w.Stats().Inserts; got != 1 {
		t.Errorf("Inserts = %d, want 1 after the flush interval", got)
	}
}

func TestFeedWriter_InsertError(t *testing.T) {
	db := &fakeDB{err: errors.New("relation \"feed_messages\" does not exist")}
	input := buffer.NewGrowableBuffer[history.Record](10)
	w := NewFeedWriter(DefaultConfig(), input, db, nil, nil)

	w.add(rec("A", "{}"))
	w.flush(context.Background())

	stats := w.Stats()
	if stats.Errors != 1 || stats.Inserts != 0 {
		t.Errorf("stats = %+v", stats)
	}

	// The failed batch is not retried.
	w.flush(context.Background())
	if len(db.batches) != 1 {
		t.Errorf("sent %d batches, want 1", len(db.batches))
	}
}

// gatedDB holds each batch until release is closed, then fails it if the
// insert's context was cancelled meanwhile.
type gatedDB struct {
	entered chan struct{}
	release chan struct{}
}

func (db *gatedDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	db.entered <- struct{}{}
	<-db.release
	return &fakeResults{err: ctx.Err()}
}

func TestFeedWriter_InFlightBatchSurvivesShutdown(t *testing.T) {
	db := &gatedDB{entered: make(chan struct{}, 1), release: make(chan struct{})}
	input := buffer.NewGrowableBuffer[history.Record](10)
	w := NewFeedWriter(Config{BatchSize: 1, FlushInterval: time.Hour, WriteTimeout: time.Second}, input, db, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	input.Send(rec("A", "{}"))

	select {
	case <-db.entered:
	case <-time.After(time.Second):
		t.Fatal("batch was never sent")
	}

	// Shutdown signal arrives while the insert is running.
	cancel()
	close(db.release)

	stopCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if stats := w.Stats(); stats.Inserts != 1 || stats.Errors != 0 {
		t.Errorf("stats = %+v, want the in-flight batch inserted", stats)
	}
}
