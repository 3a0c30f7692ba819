package history

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of *pgxpool.Pool used by TimescaleSource.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// TimescaleSource streams recorded messages from the feed_messages hypertable.
type TimescaleSource struct {
	db Querier
}

// NewTimescaleSource creates a source reading through db.
func NewTimescaleSource(db Querier) *TimescaleSource {
	return &TimescaleSource{db: db}
}

// Replay starts a query for req. Rows are fetched lazily as the stream is read;
// the stream holds a pool connection until it is closed.
func (s *TimescaleSource) Replay(ctx context.Context, req Request) (Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sql, args := buildReplayQuery(req)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query feed messages: %w", err)
	}
	return &rowStream{rows: rows}, nil
}

// buildReplayQuery renders the SELECT for a request. Filters become OR'ed
// channel/symbol predicates; ties on local_ts fall back to insertion order.
func buildReplayQuery(req Request) (string, []any) {
	var b strings.Builder
	args := []any{req.Exchange, req.From.UnixMicro(), req.To.UnixMicro()}

	b.WriteString("SELECT local_ts, payload FROM feed_messages")
	b.WriteString(" WHERE exchange = $1 AND local_ts >= $2 AND local_ts < $3")

	if len(req.Filters) > 0 {
		preds := make([]string, 0, len(req.Filters))
		for _, f := range req.Filters {
			args = append(args, f.Channel)
			pred := fmt.Sprintf("channel = $%d", len(args))
			if len(f.Symbols) > 0 {
				args = append(args, f.Symbols)
				pred = fmt.Sprintf("(%s AND symbol = ANY($%d))", pred, len(args))
			}
			preds = append(preds, pred)
		}
		b.WriteString(" AND (")
		b.WriteString(strings.Join(preds, " OR "))
		b.WriteString(")")
	}

	b.WriteString(" ORDER BY local_ts, id")
	return b.String(), args
}

// rowStream adapts pgx.Rows to Stream.
type rowStream struct {
	rows pgx.Rows
}

func (s *rowStream) Next(ctx context.Context) (Message, error) {
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return Message{}, fmt.Errorf("read feed messages: %w", err)
		}
		return Message{}, io.EOF
	}

	var localTs int64
	var payload string
	if err := s.rows.Scan(&localTs, &payload); err != nil {
		return Message{}, fmt.Errorf("scan feed message: %w", err)
	}

	return Message{
		LocalTimestamp: time.UnixMicro(localTs).UTC(),
		Data:           []byte(payload),
	}, nil
}

func (s *rowStream) Close() error {
	s.rows.Close()
	return s.rows.Err()
}
