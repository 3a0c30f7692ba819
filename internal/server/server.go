package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/kalshi-replay/internal/config"
	"github.com/rickgao/kalshi-replay/internal/mapper"
	"github.com/rickgao/kalshi-replay/internal/metrics"
	"github.com/rickgao/kalshi-replay/internal/replay"
	"github.com/rickgao/kalshi-replay/internal/version"
)

const (
	maxMessageSize = 1 << 20 // Inbound client messages are small subscribe requests
	healthTimeout  = 2 * time.Second
)

// Pinger checks a dependency is reachable. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server accepts replay clients and hands them to the session registry.
type Server struct {
	cfg      config.ServerConfig
	registry *replay.Registry
	mappers  mapper.Registry
	db       Pinger
	metrics  *metrics.Metrics
	logger   *slog.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithDatabase sets the dependency /health pings.
func WithDatabase(db Pinger) Option {
	return func(s *Server) {
		s.db = db
	}
}

// New creates a Server. Mappers decide which exchanges are accepted.
func New(cfg config.ServerConfig, registry *replay.Registry, mappers mapper.Registry, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		mappers:  mappers,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		// Replay clients are scripts and backtesters, not browsers.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler serving the replay path and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleReplay)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
// Hijacked WebSocket connections are not waited for; their sessions end
// when the registry's context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	serveErr := make(chan error, 1)
	s.logger.Info("replay server listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
	go func() {
		serveErr <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// handleReplay upgrades the request and runs the connection until its socket
// closes. Malformed ranges are rejected before the upgrade.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	params, err := parseReplayParams(r.URL.Query())
	if err != nil {
		s.metrics.ConnectionRejected("bad_request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	sock := newSocket(conn, s.cfg.WriteTimeout, s.logger)

	c, err := replay.NewConnection(sock, s.mappers, params.exchange, params.from, params.to, s.logger)
	if err != nil {
		s.logger.Warn("rejecting replay connection", "remote", r.RemoteAddr, "error", err)
		s.metrics.ConnectionRejected("unsupported_exchange")
		if cerr := sock.Close(replay.CloseError, replay.CloseReason(err.Error())); cerr != nil {
			s.logger.Debug("close rejected socket", "error", cerr)
		}
		return
	}

	session, err := s.registry.Join(c)
	if err != nil {
		s.logger.Warn("rejecting replay connection", "conn", c.String(), "error", err)
		if cerr := c.Close(err); cerr != nil {
			s.logger.Debug("close rejected socket", "error", cerr)
		}
		return
	}

	s.logger.Debug("replay connection joined session",
		"conn", c.String(),
		"session", session.ID(),
		"remote", r.RemoteAddr,
	)

	s.readLoop(conn, c)
}

// readLoop feeds inbound messages to c until the connection fails or closes.
func (s *Server) readLoop(conn *websocket.Conn, c *replay.Connection) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("replay connection read ended", "conn", c.String(), "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.HandleMessage(data)
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
	Database string `json:"database,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Version:  version.Version,
		Sessions: s.registry.Len(),
	}
	code := http.StatusOK

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := s.db.Ping(ctx); err != nil {
			resp.Status = "unavailable"
			resp.Database = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug("write health response", "error", err)
	}
}
