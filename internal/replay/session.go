package replay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/kalshi-replay/internal/history"
	"github.com/rickgao/kalshi-replay/internal/metrics"
)

// State is a session's position in its lifecycle.
type State int

const (
	StatePending  State = iota // Accepting connections
	StateLocked                // Membership fixed; validating or delivering
	StateFinished              // All connections closed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateLocked:
		return "locked"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// SessionConfig configures replay sessions.
type SessionConfig struct {
	Window         time.Duration // Time from creation until the session locks
	SendPoll       time.Duration // Buffer check interval before each send
	DrainPoll      time.Duration // Buffer check interval before a normal close
	MaxConnections int           // Members per session (0 = unlimited)
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Window:    5 * time.Second,
		SendPoll:  time.Millisecond,
		DrainPoll: 100 * time.Millisecond,
	}
}

// Session delivers one merged replay to every connection that joined it.
type Session struct {
	id      string
	key     Key
	cfg     SessionConfig
	source  history.Source
	clock   Clock
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu    sync.Mutex
	state State
	conns []*Connection
	err   error
	sent  int64

	done chan struct{}
}

func newSession(key Key, cfg SessionConfig, source history.Source, clock Clock, m *metrics.Metrics, logger *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		key:     key,
		cfg:     cfg,
		source:  source,
		clock:   clock,
		metrics: m,
		logger:  logger.With("session", id, "key", string(key)),
		done:    make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Key returns the range key the session was created for.
func (s *Session) Key() Key { return s.key }

// Done is closed once the session reaches StateFinished.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that ended the session, or nil if it has not
// finished or finished cleanly.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Len returns the number of connections in the session.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Sent returns the number of messages delivered so far.
func (s *Session) Sent() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Add appends c to the session. It fails with ErrLateJoin once the session
// has locked and with ErrSessionFull at MaxConnections members; the caller
// owns closing c in either case.
func (s *Session) Add(c *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePending {
		return ErrLateJoin
	}
	if s.cfg.MaxConnections > 0 && len(s.conns) >= s.cfg.MaxConnections {
		return ErrSessionFull
	}
	s.conns = append(s.conns, c)
	s.logger.Debug("added new connection to replay session", "conn", c.String(), "connections", len(s.conns))
	return nil
}

// start schedules the session: it locks when the window elapses, then
// validates, delivers and tears down.
func (s *Session) start(ctx context.Context) {
	s.logger.Debug("creating new replay session", "window", s.cfg.Window)
	s.metrics.SessionCreated()

	// The window counts from creation.
	window := s.clock.After(s.cfg.Window)
	go s.run(ctx, window)
}

func (s *Session) run(ctx context.Context, window <-chan time.Time) {
	<-window

	conns, err := s.lock()
	if err == nil {
		err = s.deliver(ctx, conns)
	}

	if err != nil {
		s.logger.Warn("replay session failed", "error", err)
		s.closeAll(conns, err)
	} else {
		err = s.closeAllGracefully(ctx, conns)
	}

	s.finish(err)
}

// lock fixes membership and checks every connection has subscribed.
func (s *Session) lock() ([]*Connection, error) {
	s.mu.Lock()
	s.state = StateLocked
	conns := append([]*Connection(nil), s.conns...)
	s.mu.Unlock()

	s.logger.Info("starting replay session", "connections", len(conns))

	for _, c := range conns {
		if c.Subscriptions() == 0 {
			return conns, &MissingSubscriptionError{Conn: c.String()}
		}
	}
	return conns, nil
}

// deliver merges one replay stream per connection and sends every item to
// its owner in timestamp order.
func (s *Session) deliver(ctx context.Context, conns []*Connection) error {
	streams := make([]history.Stream, 0, len(conns))
	for _, c := range conns {
		stream, err := s.source.Replay(ctx, c.Request())
		if err != nil {
			for _, opened := range streams {
				opened.Close()
			}
			return &ReplaySourceError{Err: err}
		}
		streams = append(streams, stream)
	}

	merger := history.NewMerger(streams)
	defer func() {
		if err := merger.Close(); err != nil {
			s.logger.Debug("close replay streams", "error", err)
		}
	}()

	for {
		item, err := merger.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &ReplaySourceError{Err: err}
		}

		c := conns[item.Index]

		// Slow clients can't always keep up with the replay rate, so wait
		// until this socket has flushed everything queued so far.
		if err := waitForDrain(ctx, c.socket, s.cfg.SendPoll); err != nil {
			return &ReplaySourceError{Err: err}
		}

		if err := c.socket.Send(item.Data); err != nil {
			return &SocketError{Conn: c.String(), Err: err}
		}

		s.mu.Lock()
		s.sent++
		s.mu.Unlock()
		s.metrics.MessageSent(len(item.Data))
	}
}

// closeAll closes every connection immediately with err as the reason.
func (s *Session) closeAll(conns []*Connection, err error) {
	for _, c := range conns {
		if cerr := c.Close(err); cerr != nil {
			s.logger.Debug("close connection", "conn", c.String(), "error", cerr)
		}
	}
}

// closeAllGracefully waits for each connection's buffer to drain before
// closing it normally. It returns the first close failure, if any.
func (s *Session) closeAllGracefully(ctx context.Context, conns []*Connection) error {
	var first error
	for _, c := range conns {
		if err := waitForDrain(ctx, c.socket, s.cfg.DrainPoll); err != nil {
			s.logger.Warn("drain interrupted", "conn", c.String(), "error", err)
		}
		if err := c.Close(nil); err != nil {
			s.logger.Warn("close connection", "conn", c.String(), "error", err)
			if first == nil {
				first = &SocketError{Conn: c.String(), Err: err}
			}
		}
	}
	return first
}

// finish moves the session to StateFinished and fires the completion signal.
func (s *Session) finish(err error) {
	s.mu.Lock()
	if s.state == StateFinished {
		s.mu.Unlock()
		return
	}
	s.state = StateFinished
	s.err = err
	sent := s.sent
	n := len(s.conns)
	s.mu.Unlock()

	s.metrics.SessionFinished(resultLabel(err))
	s.logger.Info("finished replay session",
		"connections", n,
		"messages", sent,
		"result", resultLabel(err),
	)

	close(s.done)
}
