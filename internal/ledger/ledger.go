package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

// Receipt describes a committed transaction.
type Receipt struct {
	ID        string               `json:"id"`
	Slot      uint64               `json:"slot"`
	Timestamp uint64               `json:"timestamp"`
	Signers   []common.Address     `json:"signers"`
	Events    []domain.EventRecord `json:"events"`
}

// Observer is told about every committed transaction, in commit order.
type Observer interface {
	OnCommit(ctx context.Context, r *Receipt)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, r *Receipt)

func (f ObserverFunc) OnCommit(ctx context.Context, r *Receipt) { f(ctx, r) }

// Option configures a Ledger.
type Option func(*Ledger)

// WithLock serialises commits across processes sharing one store.
func WithLock(lm domain.LockManager, key string, ttl time.Duration) Option {
	return func(l *Ledger) {
		l.locker = lm
		l.lockKey = key
		l.lockTTL = ttl
	}
}

// WithObserver registers a commit observer.
func WithObserver(o Observer) Option {
	return func(l *Ledger) { l.observers = append(l.observers, o) }
}

// Ledger executes transactions atomically against an AccountStore.
type Ledger struct {
	store     domain.AccountStore
	clock     Clock
	logger    *slog.Logger
	locker    domain.LockManager
	lockKey   string
	lockTTL   time.Duration
	observers []Observer

	mu       sync.RWMutex
	notifyMu sync.Mutex
	slot     uint64
	lastTs   uint64
}

// New opens a ledger on store, resuming from the store's head.
func New(ctx context.Context, store domain.AccountStore, clock Clock, logger *slog.Logger, opts ...Option) (*Ledger, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	l := &Ledger{
		store:  store,
		clock:  clock,
		logger: logger.With(slog.String("component", "ledger")),
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.refreshHead(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// AddObserver registers o after construction.
func (l *Ledger) AddObserver(o Observer) {
	l.mu.Lock()
	l.observers = append(l.observers, o)
	l.mu.Unlock()
}

func (l *Ledger) refreshHead(ctx context.Context) error {
	head, err := l.store.Head(ctx)
	if err != nil {
		return fmt.Errorf("ledger: read head: %w", err)
	}
	if head.Slot > l.slot {
		l.slot = head.Slot
	}
	if head.Timestamp > l.lastTs {
		l.lastTs = head.Timestamp
	}
	return nil
}

// Now returns the timestamp the next transaction would observe.
func (l *Ledger) Now() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextTimestamp()
}

func (l *Ledger) nextTimestamp() uint64 {
	now := l.clock.Now().Unix()
	if now < 0 {
		now = 0
	}
	ts := uint64(now)
	if ts < l.lastTs {
		ts = l.lastTs
	}
	return ts
}

// Execute runs fn as one transaction signed by signers. Either every write
// and event of fn commits, or none does.
func (l *Ledger) Execute(ctx context.Context, signers []common.Address, fn func(tx *Tx) error) (*Receipt, error) {
	l.mu.Lock()
	receipt, err := l.execute(ctx, signers, fn)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	// Observers run outside the state lock so they may read the ledger, but
	// still one receipt at a time in slot order.
	l.notifyMu.Lock()
	observers := l.observers
	l.mu.Unlock()
	defer l.notifyMu.Unlock()
	for _, o := range observers {
		o.OnCommit(ctx, receipt)
	}
	return receipt, nil
}

func (l *Ledger) execute(ctx context.Context, signers []common.Address, fn func(tx *Tx) error) (*Receipt, error) {
	if l.locker != nil {
		unlock, err := l.locker.Acquire(ctx, l.lockKey, l.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("ledger: acquire commit lock: %w", err)
		}
		defer unlock()
		if err := l.refreshHead(ctx); err != nil {
			return nil, err
		}
	}

	tx := newTx(ctx, l.store, uuid.NewString(), l.slot+1, l.nextTimestamp(), signers, false)
	if err := fn(tx); err != nil {
		l.logger.Debug("ledger: transaction rejected",
			slog.String("tx", tx.id),
			slog.Uint64("slot", tx.slot),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	commit := tx.commitSet()
	if err := l.store.Commit(ctx, commit); err != nil {
		return nil, fmt.Errorf("ledger: commit slot %d: %w", tx.slot, err)
	}
	l.slot = tx.slot
	l.lastTs = tx.now

	l.logger.Info("ledger: transaction committed",
		slog.String("tx", tx.id),
		slog.Uint64("slot", tx.slot),
		slog.Int("signers", len(signers)),
		slog.Int("accounts", len(commit.Accounts)),
		slog.Int("events", len(commit.Events)),
	)
	return &Receipt{
		ID:        tx.id,
		Slot:      tx.slot,
		Timestamp: tx.now,
		Signers:   append([]common.Address(nil), signers...),
		Events:    commit.Events,
	}, nil
}

// View runs fn against committed state without the ability to write.
func (l *Ledger) View(ctx context.Context, fn func(tx *Tx) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx := newTx(ctx, l.store, "", l.slot, l.nextTimestamp(), nil, true)
	return fn(tx)
}

// Accounts lists committed accounts owned by program.
func (l *Ledger) Accounts(ctx context.Context, program common.Address, opts domain.ListOpts) ([]domain.Account, error) {
	return l.store.ListByOwner(ctx, program, opts)
}
