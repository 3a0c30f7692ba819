package replay

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrUnsupportedExchange = errors.New("exchange is not supported via the WebSocket replay API")
	ErrLateJoin            = errors.New("trying to add new WS connection to replay session that already started")
	ErrSessionFull         = errors.New("replay session has reached its connection limit")
)

// MissingSubscriptionError reports a connection that sent no recognized
// subscription before its session locked.
type MissingSubscriptionError struct {
	Conn string
}

func (e *MissingSubscriptionError) Error() string {
	return "no subscriptions received for websocket connection " + e.Conn
}

// ReplaySourceError wraps a failure to open, read or merge replay streams.
type ReplaySourceError struct {
	Err error
}

func (e *ReplaySourceError) Error() string {
	return fmt.Sprintf("replay source: %v", e.Err)
}

func (e *ReplaySourceError) Unwrap() error { return e.Err }

// SocketError wraps a failed send or close on one connection.
type SocketError struct {
	Conn string
	Err  error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("socket %s: %v", e.Conn, e.Err)
}

func (e *SocketError) Unwrap() error { return e.Err }

// resultLabel classifies a session's terminal error for metrics.
func resultLabel(err error) string {
	var (
		missing *MissingSubscriptionError
		source  *ReplaySourceError
		socket  *SocketError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &missing):
		return "missing_subscription"
	case errors.As(err, &source):
		return "replay_error"
	case errors.As(err, &socket):
		return "socket_error"
	default:
		return "error"
	}
}
