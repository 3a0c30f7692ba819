package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/kalshi-replay/internal/buffer"
)

var errSocketClosed = errors.New("socket closed")

// socket adapts a WebSocket connection for replay delivery. Sends are queued
// and written by a single goroutine; Buffered counts every byte that has not
// reached the peer yet, including the frame being written.
type socket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	queue        *buffer.GrowableBuffer[[]byte]
	logger       *slog.Logger

	mu     sync.Mutex
	err    error // First write failure
	closed bool

	done chan struct{} // Closed when writeLoop exits
}

func newSocket(conn *websocket.Conn, writeTimeout time.Duration, logger *slog.Logger) *socket {
	s := &socket{
		conn:         conn,
		writeTimeout: writeTimeout,
		queue:        newSendQueue(),
		logger:       logger,
		done:         make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func newSendQueue() *buffer.GrowableBuffer[[]byte] {
	return buffer.NewSizedBuffer(64, func(b []byte) int { return len(b) })
}

// Send queues data as one text message. It reports an earlier write failure
// instead of queueing.
func (s *socket) Send(data []byte) error {
	if err := s.failure(); err != nil {
		return err
	}
	if !s.queue.Send(data) {
		if err := s.failure(); err != nil {
			return err
		}
		return errSocketClosed
	}
	return nil
}

// Buffered returns the number of bytes not yet written to the peer. Queued
// empty messages count as one each, so it is zero only once every message
// has been written.
func (s *socket) Buffered() int {
	if n := s.queue.Size(); n > 0 {
		return n
	}
	return s.queue.Len()
}

// Close stops the writer, sends a close frame and closes the connection.
// Messages still queued are dropped. Closing twice is a no-op.
func (s *socket) Close(code int, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.queue.Close()
	if n := s.queue.Discard(); n > 0 {
		s.logger.Debug("dropped queued messages on close", "count", n)
	}
	<-s.done

	err := s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(s.writeTimeout),
	)
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	cerr := s.conn.Close()

	if err != nil {
		return fmt.Errorf("write close frame: %w", err)
	}
	if cerr != nil {
		return fmt.Errorf("close connection: %w", cerr)
	}
	return nil
}

func (s *socket) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// writeLoop writes queued messages in order. A message stays queued, and so
// counted by Buffered, until its write returns.
func (s *socket) writeLoop() {
	defer close(s.done)

	for {
		data, ok := s.queue.Peek()
		if !ok {
			return
		}

		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.mu.Lock()
			if s.err == nil {
				s.err = fmt.Errorf("write message: %w", err)
			}
			s.mu.Unlock()

			s.queue.Close()
			dropped := s.queue.Discard()
			s.logger.Debug("socket write failed", "error", err, "dropped", dropped)
			return
		}

		s.queue.TryReceive()
	}
}
