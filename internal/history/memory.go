package history

import (
	"context"
	"io"
	"sort"
	"sync"
)

// MemorySource serves replays from records held in memory.
type MemorySource struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemorySource creates a source preloaded with records.
func NewMemorySource(records ...Record) *MemorySource {
	s := &MemorySource{}
	s.Add(records...)
	return s
}

// Add appends records to the source.
func (s *MemorySource) Add(records ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

// Replay returns the matching records ordered by local timestamp. Records with
// equal timestamps keep their insertion order.
func (s *MemorySource) Replay(ctx context.Context, req Request) (Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var msgs []Message
	for _, rec := range s.records {
		if req.matches(rec) {
			msgs = append(msgs, rec.Message)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].LocalTimestamp.Before(msgs[j].LocalTimestamp)
	})

	return NewSliceStream(msgs...), nil
}

// SliceStream is a Stream over a fixed slice of messages.
type SliceStream struct {
	msgs   []Message
	pos    int
	closed bool
}

// NewSliceStream creates a stream yielding msgs in the given order.
func NewSliceStream(msgs ...Message) *SliceStream {
	return &SliceStream{msgs: msgs}
}

// Next returns the next message or io.EOF.
func (s *SliceStream) Next(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if s.closed || s.pos >= len(s.msgs) {
		return Message{}, io.EOF
	}
	msg := s.msgs[s.pos]
	s.pos++
	return msg, nil
}

// Close marks the stream exhausted.
func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}
