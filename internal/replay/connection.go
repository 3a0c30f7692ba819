package replay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/kalshi-replay/internal/history"
	"github.com/rickgao/kalshi-replay/internal/mapper"
)

// Key identifies sessions that can be consolidated: connections asking for
// the same range share a key.
type Key string

// RangeKey derives the session key for a [from, to) range.
func RangeKey(from, to time.Time) Key {
	return Key(from.UTC().Format(time.RFC3339Nano) + "-" + to.UTC().Format(time.RFC3339Nano))
}

var connSeq atomic.Uint64

// Connection is one client socket together with the replay it requested and
// the filters derived from its subscription messages.
type Connection struct {
	id     uint64
	socket Socket
	mapper mapper.Mapper
	logger *slog.Logger

	exchange string
	from     time.Time
	to       time.Time

	mu            sync.Mutex
	filters       []history.Filter
	subscriptions int
}

// NewConnection wraps socket for a replay of exchange over [from, to).
// It fails with ErrUnsupportedExchange if no mapper is registered for exchange.
func NewConnection(socket Socket, mappers mapper.Registry, exchange string, from, to time.Time, logger *slog.Logger) (*Connection, error) {
	m, ok := mappers.Lookup(exchange)
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedExchange, exchange, strings.Join(mappers.Exchanges(), ", "))
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		id:       connSeq.Add(1),
		socket:   socket,
		mapper:   m,
		exchange: exchange,
		from:     from,
		to:       to,
	}
	c.logger = logger.With("conn", c.String())
	return c, nil
}

// Key returns the session key for this connection's range.
func (c *Connection) Key() Key {
	return RangeKey(c.from, c.to)
}

// Socket returns the wrapped socket.
func (c *Connection) Socket() Socket {
	return c.socket
}

// HandleMessage processes one inbound text message. Recognized subscription
// requests add filters; anything else, including malformed JSON, is ignored.
func (c *Connection) HandleMessage(data []byte) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("ignored websocket message", "message", string(data), "error", err)
		return
	}

	if !c.mapper.CanHandle(msg) {
		c.logger.Debug("ignored websocket message", "message", string(data))
		return
	}

	filters := c.mapper.Map(msg)

	c.mu.Lock()
	c.filters = append(c.filters, filters...)
	c.subscriptions++
	c.mu.Unlock()

	c.logger.Debug("received subscribe websocket message",
		"message", string(data),
		"filters", filters,
	)
}

// Subscriptions returns the number of recognized subscription messages.
func (c *Connection) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions
}

// Filters returns a copy of the filters collected so far.
func (c *Connection) Filters() []history.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]history.Filter(nil), c.filters...)
}

// Request returns the replay request for this connection's current filters.
func (c *Connection) Request() history.Request {
	return history.Request{
		Exchange: c.exchange,
		From:     c.from,
		To:       c.to,
		Filters:  c.Filters(),
	}
}

// Close closes the socket. A nil err closes normally; otherwise the close
// carries an error code and err's text as the reason.
func (c *Connection) Close(err error) error {
	if err != nil {
		c.logger.Debug("closed websocket connection", "error", err)
		return c.socket.Close(CloseError, CloseReason(err.Error()))
	}
	c.logger.Debug("closed websocket connection")
	return c.socket.Close(CloseNormal, FinishedReason)
}

func (c *Connection) String() string {
	return fmt.Sprintf("#%d %s %s..%s", c.id, c.exchange,
		c.from.UTC().Format(time.RFC3339Nano), c.to.UTC().Format(time.RFC3339Nano))
}
