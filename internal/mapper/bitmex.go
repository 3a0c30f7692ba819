package mapper

import (
	"strings"

	"github.com/rickgao/kalshi-replay/internal/history"
)

// bitmexOp is a BitMEX-style operation: {"op":"subscribe","args":["trade:XBTUSD"]}.
type bitmexOp struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// Bitmex maps "channel:symbol" subscription args. A bare "channel" arg selects
// every symbol on that channel, overriding any symbol args for it.
type Bitmex struct{}

// CanHandle accepts subscribe ops with at least one arg.
func (Bitmex) CanHandle(msg map[string]any) bool {
	if op, _ := msg["op"].(string); op != "subscribe" {
		return false
	}
	var o bitmexOp
	if err := decodeInto(msg, &o); err != nil {
		return false
	}
	return len(o.Args) > 0
}

// Map groups args by channel, keeping channels in first-seen order.
func (Bitmex) Map(msg map[string]any) []history.Filter {
	var o bitmexOp
	if err := decodeInto(msg, &o); err != nil {
		return nil
	}

	var filters []history.Filter
	index := make(map[string]int)
	wildcard := make(map[string]bool)
	for _, arg := range o.Args {
		channel, symbol, hasSymbol := strings.Cut(arg, ":")
		i, seen := index[channel]
		if !seen {
			i = len(filters)
			index[channel] = i
			filters = append(filters, history.Filter{Channel: channel})
		}
		if !hasSymbol || symbol == "" {
			wildcard[channel] = true
			continue
		}
		filters[i].Symbols = append(filters[i].Symbols, symbol)
	}

	for ch := range wildcard {
		filters[index[ch]].Symbols = nil
	}
	return filters
}
