package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

// EventStore implements domain.EventStore over the events table written by
// AccountStore.Commit.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventColumns = `id, slot, tx_id, seq, program, name, market, timestamp, data`

func eventQuery(f domain.EventFilter) *query {
	q := newQuery(`SELECT `+eventColumns+` FROM events WHERE id > $1`, f.AfterID)
	if f.Market != nil {
		q.where("market = %s", f.Market.Bytes())
	}
	if f.Name != "" {
		q.where("name = %s", f.Name)
	}
	if f.Program != "" {
		q.where("program = %s", f.Program)
	}
	q.order("id ASC")
	q.page(f.Limit, 0)
	return q
}

// List returns events matching f in commit order.
func (s *EventStore) List(ctx context.Context, f domain.EventFilter) ([]domain.EventRecord, error) {
	q := eventQuery(f)
	return s.query(ctx, "list events", q)
}

// ListBefore returns up to limit events whose ledger timestamp is before
// the cutoff, oldest first.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.EventRecord, error) {
	q := newQuery(`SELECT `+eventColumns+` FROM events WHERE timestamp < $1`, before.Unix())
	q.order("id ASC")
	q.page(limit, 0)
	return s.query(ctx, "list events before", q)
}

// DeleteBefore removes events older than the cutoff.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE timestamp < $1`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *EventStore) query(ctx context.Context, op string, q *query) ([]domain.EventRecord, error) {
	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	out := make([]domain.EventRecord, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return out, nil
}

func scanEvent(row pgx.Row) (domain.EventRecord, error) {
	var (
		ev       domain.EventRecord
		slot, ts int64
		market   []byte
		data     []byte
	)
	if err := row.Scan(&ev.ID, &slot, &ev.TxID, &ev.Seq, &ev.Program, &ev.Name, &market, &ts, &data); err != nil {
		return ev, err
	}
	ev.Slot = uint64(slot)
	ev.Timestamp = uint64(ts)
	ev.Market = common.BytesToAddress(market)
	ev.Data = data
	return ev, nil
}

var _ domain.EventStore = (*EventStore)(nil)
