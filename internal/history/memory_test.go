package history

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestMemorySource_Replay(t *testing.T) {
	src := NewMemorySource(
		Record{Exchange: "kalshi", Channel: "trade", Symbol: "PRES-DEM", Message: at(3, "t3")},
		Record{Exchange: "kalshi", Channel: "ticker", Symbol: "PRES-DEM", Message: at(1, "k1")},
		Record{Exchange: "kalshi", Channel: "trade", Symbol: "PRES-REP", Message: at(2, "t2")},
		Record{Exchange: "bitmex", Channel: "trade", Symbol: "XBTUSD", Message: at(2, "x2")},
		Record{Exchange: "kalshi", Channel: "trade", Symbol: "PRES-DEM", Message: at(10, "late")},
	)

	tests := []struct {
		name    string
		filters []Filter
		want    []string
	}{
		{
			name: "no filters selects everything in range",
			want: []string{"k1", "t2", "t3"},
		},
		{
			name:    "channel only",
			filters: []Filter{{Channel: "trade"}},
			want:    []string{"t2", "t3"},
		},
		{
			name:    "channel and symbol",
			filters: []Filter{{Channel: "trade", Symbols: []string{"PRES-DEM"}}},
			want:    []string{"t3"},
		},
		{
			name:    "multiple filters",
			filters: []Filter{{Channel: "ticker"}, {Channel: "trade", Symbols: []string{"PRES-REP"}}},
			want:    []string{"k1", "t2"},
		},
		{
			name:    "no match",
			filters: []Filter{{Channel: "orderbook_delta"}},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{
				Exchange: "kalshi",
				From:     base,
				To:       base.Add(10 * time.Second),
				Filters:  tt.filters,
			}
			stream, err := src.Replay(context.Background(), req)
			if err != nil {
				t.Fatalf("Replay failed: %v", err)
			}
			defer stream.Close()

			var got []string
			for {
				msg, err := stream.Next(context.Background())
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					t.Fatalf("Next failed: %v", err)
				}
				got = append(got, string(msg.Data))
			}

			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestMemorySource_InvalidRange(t *testing.T) {
	src := NewMemorySource()

	_, err := src.Replay(context.Background(), Request{Exchange: "kalshi", From: base, To: base})
	if !errors.Is(err, ErrInvalidRange) {
		t.Errorf("Replay error = %v, want ErrInvalidRange", err)
	}
}

func TestFilter_Matches(t *testing.T) {
	f := Filter{Channel: "trade", Symbols: []string{"A", "B"}}

	if !f.Matches("trade", "B") {
		t.Error("expected trade/B to match")
	}
	if f.Matches("trade", "C") {
		t.Error("expected trade/C not to match")
	}
	if f.Matches("ticker", "A") {
		t.Error("expected ticker/A not to match")
	}
	if !(Filter{Channel: "ticker"}).Matches("ticker", "") {
		t.Error("expected channel-only filter to match any symbol")
	}
}
