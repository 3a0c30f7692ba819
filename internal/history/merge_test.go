package history

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

var base = time.Date(2024, 11, 5, 0, 0, 0, 0, time.UTC)

func at(sec int, data string) Message {
	return Message{LocalTimestamp: base.Add(time.Duration(sec) * time.Second), Data: []byte(data)}
}

// errStream fails after yielding its messages.
type errStream struct {
	SliceStream
	err error
}

func (s *errStream) Next(ctx context.Context) (Message, error) {
	msg, err := s.SliceStream.Next(ctx)
	if errors.Is(err, io.EOF) {
		return Message{}, s.err
	}
	return msg, err
}

func drain(t *testing.T, m *Merger) []Item {
	t.Helper()
	var items []Item
	for {
		item, err := m.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return items
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		items = append(items, item)
	}
}

func TestMerger_OrdersByTimestamp(t *testing.T) {
	a := NewSliceStream(at(1, "a1"), at(3, "a3"), at(5, "a5"))
	b := NewSliceStream(at(2, "b2"), at(4, "b4"))

	items := drain(t, NewMerger([]Stream{a, b}))

	want := []struct {
		index int
		data  string
	}{
		{0, "a1"}, {1, "b2"}, {0, "a3"}, {1, "b4"}, {0, "a5"},
	}
	if len(items) != len(want) {
		t.Fatalf("got %d items, want %d", len(items), len(want))
	}
	for i, w := range want {
		if items[i].Index != w.index || string(items[i].Data) != w.data {
			t.Errorf("item %d = (%d, %s), want (%d, %s)", i, items[i].Index, items[i].Data, w.index, w.data)
		}
	}
}

func TestMerger_TiesBrokenByStreamIndex(t *testing.T) {
	a := NewSliceStream(at(1, "a"), at(2, "a"))
	b := NewSliceStream(at(1, "b"), at(2, "b"))
	c := NewSliceStream(at(1, "c"))

	items := drain(t, NewMerger([]Stream{c, b, a}))

	want := []string{"c", "b", "a", "b", "a"}
	for i, w := range want {
		if string(items[i].Data) != w {
			t.Errorf("item %d = %s, want %s", i, items[i].Data, w)
		}
	}
}

func TestMerger_EmptyStreams(t *testing.T) {
	m := NewMerger([]Stream{NewSliceStream(), NewSliceStream()})

	if _, err := m.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Next error = %v, want io.EOF", err)
	}

	m = NewMerger(nil)
	if _, err := m.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Next on no streams error = %v, want io.EOF", err)
	}
}

func TestMerger_PropagatesStreamError(t *testing.T) {
	boom := errors.New("boom")
	a := NewSliceStream(at(1, "a1"), at(5, "a5"))
	b := &errStream{SliceStream: *NewSliceStream(at(2, "b2")), err: boom}

	m := NewMerger([]Stream{a, b})

	item, err := m.Next(context.Background())
	if err != nil {
		t.Fatalf("first Next failed: %v", err)
	}
	if string(item.Data) != "a1" {
		t.Errorf("first item = %s, want a1", item.Data)
	}

	// b2 is popped next; refilling stream b hits the error.
	if _, err := m.Next(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Next error = %v, want %v", err, boom)
	}
}

func TestMerger_Close(t *testing.T) {
	a := NewSliceStream(at(1, "a1"))
	b := NewSliceStream(at(2, "b2"))
	m := NewMerger([]Stream{a, b})

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("expected all streams to be closed")
	}
}
