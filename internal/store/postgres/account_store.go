package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

// AccountStore implements domain.AccountStore. Every Commit is one SQL
// transaction; account writes are guarded by their version so concurrent
// writers on other nodes surface as domain.ErrConflict.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates an AccountStore backed by pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountColumns = `address, owner, data, version, slot, updated_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		a            domain.Account
		addr, owner  []byte
		version, slt int64
	)
	if err := row.Scan(&addr, &owner, &a.Data, &version, &slt, &a.UpdatedAt); err != nil {
		return domain.Account{}, err
	}
	a.Address = common.BytesToAddress(addr)
	a.Owner = common.BytesToAddress(owner)
	a.Version = uint64(version)
	a.Slot = uint64(slt)
	return a, nil
}

// Get returns the account at addr or domain.ErrNotFound.
func (s *AccountStore) Get(ctx context.Context, addr common.Address) (domain.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE address = $1`, addr.Bytes())
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, fmt.Errorf("account %s: %w", addr.Hex(), domain.ErrNotFound)
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", addr.Hex(), err)
	}
	return a, nil
}

// ListByOwner returns accounts owned by owner, ordered by address.
func (s *AccountStore) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Account, error) {
	q := newQuery(`SELECT ` + accountColumns + ` FROM accounts WHERE owner = $1`, owner.Bytes())
	if opts.Since != nil {
		q.where("updated_at >= %s", *opts.Since)
	}
	if opts.Until != nil {
		q.where("updated_at <= %s", *opts.Until)
	}
	q.order("address ASC")
	q.page(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts of %s: %w", owner.Hex(), err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list accounts rows: %w", err)
	}
	return out, nil
}

// Commit writes c atomically. Event IDs assigned by the database are
// written back into c.Events.
func (s *AccountStore) Commit(ctx context.Context, c domain.Commit) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		for _, a := range c.Accounts {
			if err := writeAccount(ctx, tx, a, c.Slot, now); err != nil {
				return err
			}
		}
		for i := range c.Events {
			ev := &c.Events[i]
			data := []byte(ev.Data)
			if len(data) == 0 {
				data = []byte("null")
			}
			if err := tx.QueryRow(ctx, `
				INSERT INTO events (slot, tx_id, seq, program, name, market, timestamp, data)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				RETURNING id`,
				int64(ev.Slot), ev.TxID, ev.Seq, ev.Program, ev.Name, ev.Market.Bytes(), int64(ev.Timestamp), data,
			).Scan(&ev.ID); err != nil {
				return fmt.Errorf("insert event %s: %w", ev.Name, err)
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_head (id, slot, timestamp) VALUES (1, $1, $2)
			ON CONFLICT (id) DO UPDATE SET slot = EXCLUDED.slot, timestamp = EXCLUDED.timestamp
			WHERE ledger_head.slot < EXCLUDED.slot`,
			int64(c.Slot), int64(c.Timestamp))
		if err != nil {
			return fmt.Errorf("advance head: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return err
		}
		return fmt.Errorf("postgres: commit slot %d: %w", c.Slot, err)
	}
	return nil
}

func writeAccount(ctx context.Context, tx pgx.Tx, a domain.Account, slot uint64, now time.Time) error {
	var (
		sql  string
		args []any
	)
	if a.Version == 1 {
		sql = `INSERT INTO accounts (` + accountColumns + `) VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (address) DO NOTHING`
		args = []any{a.Address.Bytes(), a.Owner.Bytes(), a.Data, int64(a.Version), int64(slot), now}
	} else {
		sql = `UPDATE accounts SET owner = $2, data = $3, version = $4, slot = $5, updated_at = $6
			WHERE address = $1 AND version = $7`
		args = []any{a.Address.Bytes(), a.Owner.Bytes(), a.Data, int64(a.Version), int64(slot), now, int64(a.Version - 1)}
	}
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("write account %s: %w", a.Address.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s not at version %d: %w", a.Address.Hex(), a.Version-1, domain.ErrConflict)
	}
	return nil
}

// Head returns the last committed slot, or the zero Head on a new database.
func (s *AccountStore) Head(ctx context.Context) (domain.Head, error) {
	var slot, ts int64
	err := s.pool.QueryRow(ctx, `SELECT slot, timestamp FROM ledger_head WHERE id = 1`).Scan(&slot, &ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Head{}, nil
		}
		return domain.Head{}, fmt.Errorf("postgres: read head: %w", err)
	}
	return domain.Head{Slot: uint64(slot), Timestamp: uint64(ts)}, nil
}

var _ domain.AccountStore = (*AccountStore)(nil)
