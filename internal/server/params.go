package server

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rickgao/kalshi-replay/internal/history"
)

// dateLayout is accepted alongside RFC 3339 for whole-day ranges.
const dateLayout = "2006-01-02"

type replayParams struct {
	exchange string
	from     time.Time
	to       time.Time
}

// parseReplayParams reads exchange, from and to from a replay URL query.
func parseReplayParams(q url.Values) (replayParams, error) {
	var p replayParams

	p.exchange = q.Get("exchange")
	if p.exchange == "" {
		return p, errors.New("missing exchange query parameter")
	}

	var err error
	if p.from, err = parseTime(q, "from"); err != nil {
		return p, err
	}
	if p.to, err = parseTime(q, "to"); err != nil {
		return p, err
	}

	req := history.Request{Exchange: p.exchange, From: p.from, To: p.to}
	if err := req.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// parseTime parses an RFC 3339 timestamp or a bare UTC date.
func parseTime(q url.Values, name string) (time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return time.Time{}, fmt.Errorf("missing %s query parameter", name)
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: want RFC 3339 or YYYY-MM-DD", name, v)
	}
	return t, nil
}
