package replay

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/kalshi-replay/internal/history"
	"github.com/rickgao/kalshi-replay/internal/mapper"
)

var base = time.Date(2024, 11, 5, 0, 0, 0, 0, time.UTC)

// delivery is one message observed on some socket.
type delivery struct {
	socket string
	data   string
}

// wire records deliveries across every socket in a test, in send order.
type wire struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (w *wire) all() []delivery {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]delivery(nil), w.deliveries...)
}

// fakeSocket is an in-memory Socket with a test-controlled buffer.
type fakeSocket struct {
	name string
	wire *wire

	mu          sync.Mutex
	sent        []string
	buffered    int
	holdOnSend  bool // leave 1 byte buffered after every send
	sendErr     error
	closeErr    error
	closed      bool
	closeCode   int
	closeReason string
	closedAt    int // number of messages sent when closed
}

func newFakeSocket(name string, w *wire) *fakeSocket {
	return &fakeSocket{name: name, wire: w}
}

func (s *fakeSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, string(data))
	if s.holdOnSend {
		s.buffered = 1
	}
	if s.wire != nil {
		s.wire.mu.Lock()
		s.wire.deliveries = append(s.wire.deliveries, delivery{socket: s.name, data: string(data)})
		s.wire.mu.Unlock()
	}
	return nil
}

func (s *fakeSocket) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered
}

func (s *fakeSocket) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.closeCode = code
	s.closeReason = reason
	s.closedAt = len(s.sent)
	return s.closeErr
}

func (s *fakeSocket) setBuffered(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffered = n
}

func (s *fakeSocket) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *fakeSocket) closeState() (closed bool, code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.closeCode, s.closeReason
}

// manualClock fires session windows only when the test says so.
type manualClock struct {
	mu      sync.Mutex
	pending []chan time.Time
}

func (c *manualClock) After(time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.pending = append(c.pending, ch)
	return ch
}

// Fire expires every window scheduled so far.
func (c *manualClock) Fire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.pending {
		ch <- base
	}
	c.pending = nil
}

// failingSource fails every replay.
type failingSource struct {
	err error
}

func (s failingSource) Replay(context.Context, history.Request) (history.Stream, error) {
	return nil, s.err
}

// blockingSource returns streams that stay empty until release is closed.
type blockingSource struct {
	release chan struct{}
}

func (s blockingSource) Replay(context.Context, history.Request) (history.Stream, error) {
	return blockingStream{release: s.release}, nil
}

type blockingStream struct {
	release chan struct{}
}

func (s blockingStream) Next(ctx context.Context) (history.Message, error) {
	select {
	case <-s.release:
		return history.Message{}, io.EOF
	case <-ctx.Done():
		return history.Message{}, ctx.Err()
	}
}

func (blockingStream) Close() error { return nil }

// pooledSource serves from records but, like a connection pool, blocks
// Replay while every one of its slots is held by an open stream.
type pooledSource struct {
	records *history.MemorySource
	slots   chan struct{}
}

func newPooledSource(size int, records ...history.Record) *pooledSource {
	return &pooledSource{
		records: history.NewMemorySource(records...),
		slots:   make(chan struct{}, size),
	}
}

func (s *pooledSource) Replay(ctx context.Context, req history.Request) (history.Stream, error) {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	stream, err := s.records.Replay(ctx, req)
	if err != nil {
		<-s.slots
		return nil, err
	}
	return &pooledStream{Stream: stream, release: func() { <-s.slots }}, nil
}

type pooledStream struct {
	history.Stream
	release func()
	once    sync.Once
}

func (s *pooledStream) Close() error {
	s.once.Do(s.release)
	return s.Stream.Close()
}

func testConfig() SessionConfig {
	return SessionConfig{
		Window:    time.Hour, // Only the manual clock ends windows
		SendPoll:  time.Millisecond,
		DrainPoll: time.Millisecond,
	}
}

func newTestRegistry(t *testing.T, source history.Source, clock Clock) *Registry {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRegistry(ctx, testConfig(), source, WithClock(clock))
}

func newTestConnection(t *testing.T, sock Socket, from, to time.Time) *Connection {
	t.Helper()
	c, err := NewConnection(sock, mapper.Default(), "kalshi", from, to, nil)
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}
	return c
}

func subscribe(c *Connection, channels string) {
	c.HandleMessage([]byte(`{"id":1,"cmd":"subscribe","params":{"channels":["` + channels + `"]}}`))
}

func record(channel string, sec int, data string) history.Record {
	return history.Record{
		Exchange: "kalshi",
		Channel:  channel,
		Message: history.Message{
			LocalTimestamp: base.Add(time.Duration(sec) * time.Second),
			Data:           []byte(data),
		},
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session %s did not finish (state %s)", s.ID(), s.State())
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
