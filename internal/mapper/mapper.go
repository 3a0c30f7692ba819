package mapper

import (
	"encoding/json"
	"sort"

	"github.com/rickgao/kalshi-replay/internal/history"
)

// Mapper converts one exchange's subscription messages into filters.
type Mapper interface {
	// CanHandle reports whether msg is a subscription request this mapper understands.
	CanHandle(msg map[string]any) bool

	// Map returns the filters for a message accepted by CanHandle.
	Map(msg map[string]any) []history.Filter
}

// Registry maps exchange identifiers to their mappers.
type Registry map[string]Mapper

// Default returns the mappers for every exchange the replay endpoint supports.
func Default() Registry {
	return Registry{
		"kalshi": Kalshi{},
		"bitmex": Bitmex{},
	}
}

// Lookup returns the mapper for exchange.
func (r Registry) Lookup(exchange string) (Mapper, bool) {
	m, ok := r[exchange]
	return m, ok
}

// Exchanges returns the supported exchange identifiers, sorted.
func (r Registry) Exchanges() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeInto re-decodes a generic JSON object into a typed struct.
func decodeInto(msg map[string]any, v any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
