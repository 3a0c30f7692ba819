package replay

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

// Close codes and reasons sent to replay clients.
const (
	CloseNormal        = websocket.CloseNormalClosure
	CloseError         = websocket.CloseInternalServerErr
	FinishedReason     = "WS replay finished"
	maxCloseReasonSize = 123 // Control frame payload limit minus the 2-byte code
)

// Socket is the client transport a Connection writes to.
type Socket interface {
	// Send queues data as one text message.
	Send(data []byte) error

	// Buffered returns the number of queued bytes not yet written to the peer.
	Buffered() int

	// Close sends a close frame with code and reason and releases the transport.
	Close(code int, reason string) error
}

// Clock schedules the session window.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// waitForDrain blocks until sock has nothing buffered, checking every interval.
func waitForDrain(ctx context.Context, sock Socket, interval time.Duration) error {
	if sock.Buffered() == 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for sock.Buffered() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// CloseReason trims reason to fit a close frame without splitting a rune.
func CloseReason(reason string) string {
	if len(reason) <= maxCloseReasonSize {
		return reason
	}
	cut := maxCloseReasonSize
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
