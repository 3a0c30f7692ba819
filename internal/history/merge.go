package history

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
)

// Item is a merged message tagged with the index of the stream that produced it.
type Item struct {
	Index int
	Message
}

// Merger performs a lazy k-way merge of timestamp-ordered streams.
//
// Items come out in ascending LocalTimestamp order. Equal timestamps are
// broken by stream index, so the output never depends on how fast the
// underlying streams happen to respond.
type Merger struct {
	streams []Stream
	heap    itemHeap
	primed  bool
}

// NewMerger creates a merger over streams. The merger takes ownership of the
// streams; Close closes them all.
func NewMerger(streams []Stream) *Merger {
	return &Merger{
		streams: streams,
		heap:    make(itemHeap, 0, len(streams)),
	}
}

// Next returns the next item in merge order, or io.EOF once every stream is exhausted.
func (m *Merger) Next(ctx context.Context) (Item, error) {
	if !m.primed {
		for i := range m.streams {
			if err := m.pull(ctx, i); err != nil {
				return Item{}, err
			}
		}
		m.primed = true
	}

	if m.heap.Len() == 0 {
		return Item{}, io.EOF
	}

	item := heap.Pop(&m.heap).(Item)
	if err := m.pull(ctx, item.Index); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Close closes every input stream.
func (m *Merger) Close() error {
	var errs []error
	for i, s := range m.streams {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stream %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// pull reads the next message of stream i onto the heap.
func (m *Merger) pull(ctx context.Context, i int) error {
	msg, err := m.streams[i].Next(ctx)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read stream %d: %w", i, err)
	}
	heap.Push(&m.heap, Item{Index: i, Message: msg})
	return nil
}

// itemHeap orders items by timestamp, then stream index.
type itemHeap []Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	ti, tj := h[i].LocalTimestamp, h[j].LocalTimestamp
	if ti.Equal(tj) {
		return h[i].Index < h[j].Index
	}
	return ti.Before(tj)
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(Item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = Item{}
	*h = old[:n-1]
	return item
}
