package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors
var (
	ErrInvalidRange = errors.New("invalid time range")
)

// Message is one recorded feed message.
type Message struct {
	LocalTimestamp time.Time // When the recorder received the frame
	Data           []byte    // Verbatim frame payload
}

// Record is a stored message together with the attributes filters select on.
type Record struct {
	Exchange string
	Channel  string // e.g. "trade", "ticker", "orderbook_delta"
	Symbol   string // Market ticker; empty for exchange-wide messages
	Message
}

// Filter narrows a replay to one channel and, optionally, a set of symbols.
type Filter struct {
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols,omitempty"`
}

// Matches reports whether a record with the given channel and symbol passes the filter.
func (f Filter) Matches(channel, symbol string) bool {
	if f.Channel != channel {
		return false
	}
	if len(f.Symbols) == 0 {
		return true
	}
	for _, s := range f.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func (f Filter) String() string {
	if len(f.Symbols) == 0 {
		return f.Channel
	}
	return f.Channel + ":" + strings.Join(f.Symbols, ",")
}

// Request describes one replay: an exchange, a half-open [From, To) range and
// the filters selecting which messages to include. No filters selects everything.
type Request struct {
	Exchange string
	From     time.Time
	To       time.Time
	Filters  []Filter
}

// Validate checks the request range.
func (r Request) Validate() error {
	if r.Exchange == "" {
		return errors.New("exchange is required")
	}
	if !r.From.Before(r.To) {
		return fmt.Errorf("%w: from %s is not before to %s", ErrInvalidRange,
			r.From.Format(time.RFC3339Nano), r.To.Format(time.RFC3339Nano))
	}
	return nil
}

// matches reports whether the request selects the record.
func (r Request) matches(rec Record) bool {
	if rec.Exchange != r.Exchange {
		return false
	}
	if rec.LocalTimestamp.Before(r.From) || !rec.LocalTimestamp.Before(r.To) {
		return false
	}
	if len(r.Filters) == 0 {
		return true
	}
	for _, f := range r.Filters {
		if f.Matches(rec.Channel, rec.Symbol) {
			return true
		}
	}
	return false
}

// Stream is a lazy, timestamp-ordered sequence of messages.
type Stream interface {
	// Next returns the next message, or io.EOF when the stream is exhausted.
	Next(ctx context.Context) (Message, error)

	// Close releases the stream's resources.
	Close() error
}

// Source opens replay streams.
type Source interface {
	Replay(ctx context.Context, req Request) (Stream, error)
}
