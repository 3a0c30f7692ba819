package connection

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rickgao/kalshi-replay/internal/auth"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// RawMessage is a data message forwarded by a Feed.
type RawMessage struct {
	Data       []byte
	ReceivedAt time.Time
	SeqGap     bool // True if a sequence gap was detected before this message
	GapSize    int  // Number of missed messages (0 if no gap)
}

// Command is a WebSocket command to send to the server.
type Command struct {
	ID     int64       `json:"id"`
	Cmd    string      `json:"cmd"`
	Params interface{} `json:"params"`
}

// SubscribeParams are parameters for a subscribe command.
type SubscribeParams struct {
	Channels      []string `json:"channels"`
	MarketTicker  string   `json:"market_ticker,omitempty"`
	MarketTickers []string `json:"market_tickers,omitempty"`
}

// Response is a command response from the server.
type Response struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"` // "subscribed", "unsubscribed", "error", "ok"
	Msg  json.RawMessage `json:"msg"`
}

// ErrorMsg is the message content for an "error" response.
type ErrorMsg struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// sequenced holds the fields used for gap detection.
type sequenced struct {
	SID int64 `json:"sid"`
	Seq int64 `json:"seq"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string            // WebSocket URL (e.g., wss://api.elections.kalshi.com/trade-api/ws/v2)
	Credentials  *auth.Credentials // Signs the handshake (nil = no auth)
	UserAgent    string
	PingInterval time.Duration // Interval between keepalive pings
	PingTimeout  time.Duration // Max time without ping before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
	Lossless     bool          // Block reads when the buffer is full instead of dropping
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 30 * time.Second,
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   10000,
	}
}

// FeedConfig configures a Feed.
type FeedConfig struct {
	Client            ClientConfig
	Channels          []string
	MarketTickers     []string // Empty = all markets
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
	BufferSize        int // Output channel size
}

// DefaultFeedConfig returns sensible defaults.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		Client:            DefaultClientConfig(),
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		BufferSize:        10000,
	}
}
