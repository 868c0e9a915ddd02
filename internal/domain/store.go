package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Account is one stored ledger account. Version starts at 1 on creation and
// increases by one on every committed write.
type Account struct {
	Address   common.Address
	Owner     common.Address
	Data      []byte
	Version   uint64
	Slot      uint64
	UpdatedAt time.Time
}

// EventRecord is an event as persisted after its transaction committed.
type EventRecord struct {
	ID        int64           `json:"id"`
	Slot      uint64          `json:"slot"`
	TxID      string          `json:"tx_id"`
	Seq       int             `json:"seq"`
	Program   string          `json:"program"`
	Name      string          `json:"name"`
	Market    common.Address  `json:"market"`
	Timestamp uint64          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Commit is the write set of one transaction. Accounts carry their new
// Version; the store rejects the batch with ErrConflict unless every stored
// version equals Version-1 (0 meaning the account must not exist yet).
type Commit struct {
	Slot      uint64
	TxID      string
	Timestamp uint64
	Accounts  []Account
	Events    []EventRecord
}

// Head is the last committed position of the ledger.
type Head struct {
	Slot      uint64
	Timestamp uint64
}

// AccountStore persists ledger accounts.
type AccountStore interface {
	Get(ctx context.Context, addr common.Address) (Account, error)
	ListByOwner(ctx context.Context, owner common.Address, opts ListOpts) ([]Account, error)
	Commit(ctx context.Context, c Commit) error
	Head(ctx context.Context) (Head, error)
}

// EventFilter narrows event queries. Zero values match everything.
type EventFilter struct {
	Market  *common.Address
	Name    string
	Program string
	AfterID int64
	Limit   int
}

// EventStore reads the event journal written by AccountStore.Commit.
type EventStore interface {
	List(ctx context.Context, f EventFilter) ([]EventRecord, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]EventRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
