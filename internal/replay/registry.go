package replay

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rickgao/kalshi-replay/internal/history"
	"github.com/rickgao/kalshi-replay/internal/metrics"
)

// Registry consolidates connections for the same range into one session.
type Registry struct {
	ctx     context.Context
	cfg     SessionConfig
	source  history.Source
	clock   Clock
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[Key]*Session
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithClock sets the clock used for session windows.
func WithClock(clock Clock) RegistryOption {
	return func(r *Registry) {
		r.clock = clock
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates a registry whose sessions replay from source. Sessions
// read history under ctx; cancelling it fails every running session.
func NewRegistry(ctx context.Context, cfg SessionConfig, source history.Source, opts ...RegistryOption) *Registry {
	r := &Registry{
		ctx:      ctx,
		cfg:      cfg,
		source:   source,
		clock:    realClock{},
		logger:   slog.Default(),
		sessions: make(map[Key]*Session),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// GetOrCreate returns the session registered for key, creating and starting
// one if there is none. The returned session may already be locked; Add
// reports that as ErrLateJoin. A finished session still awaiting removal is
// replaced.
func (r *Registry) GetOrCreate(key Key) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok && s.State() != StateFinished {
		return s
	}

	s := newSession(key, r.cfg, r.source, r.clock, r.metrics, r.logger)
	r.sessions[key] = s
	s.start(r.ctx)

	go r.removeWhenDone(key, s)

	return s
}

// Join adds c to the session for its range.
func (r *Registry) Join(c *Connection) (*Session, error) {
	s := r.GetOrCreate(c.Key())
	if err := s.Add(c); err != nil {
		reason := "late_join"
		if errors.Is(err, ErrSessionFull) {
			reason = "session_full"
		}
		r.metrics.ConnectionRejected(reason)
		return s, err
	}
	r.metrics.ConnectionAccepted()
	return s, nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// removeWhenDone drops key once s finishes, unless a newer session has
// replaced it.
func (r *Registry) removeWhenDone(key Key, s *Session) {
	<-s.Done()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[key] == s {
		delete(r.sessions, key)
	}
}
