package mapper

import "github.com/rickgao/kalshi-replay/internal/history"

// kalshiCommand is a client command on the Kalshi WebSocket API.
type kalshiCommand struct {
	ID     int64                 `json:"id"`
	Cmd    string                `json:"cmd"`
	Params kalshiSubscribeParams `json:"params"`
}

// kalshiSubscribeParams are parameters for a subscribe command.
type kalshiSubscribeParams struct {
	Channels      []string `json:"channels"`
	MarketTicker  string   `json:"market_ticker,omitempty"`
	MarketTickers []string `json:"market_tickers,omitempty"`
}

// Kalshi maps {"cmd":"subscribe","params":{"channels":[...],"market_tickers":[...]}}
// commands. Omitting tickers subscribes to every market on the channel.
type Kalshi struct{}

// CanHandle accepts subscribe commands naming at least one channel.
func (Kalshi) CanHandle(msg map[string]any) bool {
	if cmd, _ := msg["cmd"].(string); cmd != "subscribe" {
		return false
	}
	var c kalshiCommand
	if err := decodeInto(msg, &c); err != nil {
		return false
	}
	return len(c.Params.Channels) > 0
}

// Map returns one filter per channel, each restricted to the requested tickers.
func (Kalshi) Map(msg map[string]any) []history.Filter {
	var c kalshiCommand
	if err := decodeInto(msg, &c); err != nil {
		return nil
	}

	var tickers []string
	if c.Params.MarketTicker != "" {
		tickers = append(tickers, c.Params.MarketTicker)
	}
	tickers = append(tickers, c.Params.MarketTickers...)

	filters := make([]history.Filter, 0, len(c.Params.Channels))
	for _, ch := range c.Params.Channels {
		filters = append(filters, history.Filter{
			Channel: ch,
			Symbols: append([]string(nil), tickers...),
		})
	}
	return filters
}
