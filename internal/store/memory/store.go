// Package memory keeps ledger state in process memory. It backs tests and
// single-node runs without postgres.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

// Store implements domain.AccountStore and domain.EventStore. AuditLog
// exposes its audit log.
type Store struct {
	mu       sync.RWMutex
	accounts map[common.Address]domain.Account
	events   []domain.EventRecord
	nextID   int64
	head     domain.Head
	audit    []domain.AuditEntry
}

func New() *Store {
	return &Store{accounts: make(map[common.Address]domain.Account)}
}

func cloneAccount(a domain.Account) domain.Account {
	a.Data = bytes.Clone(a.Data)
	return a
}

func (s *Store) Get(_ context.Context, addr common.Address) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[addr]
	if !ok {
		return domain.Account{}, fmt.Errorf("account %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return cloneAccount(a), nil
}

func (s *Store) ListByOwner(_ context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Account, error) {
	s.mu.RLock()
	out := make([]domain.Account, 0)
	for _, a := range s.accounts {
		if a.Owner == owner && inRange(a.UpdatedAt, opts) {
			out = append(out, cloneAccount(a))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address.Bytes(), out[j].Address.Bytes()) < 0
	})
	return paginate(out, opts), nil
}

func (s *Store) Commit(_ context.Context, c domain.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range c.Accounts {
		cur, ok := s.accounts[a.Address]
		var have uint64
		if ok {
			have = cur.Version
		}
		if have+1 != a.Version {
			return fmt.Errorf("account %s at version %d, commit expects %d: %w",
				a.Address.Hex(), have, a.Version-1, domain.ErrConflict)
		}
	}
	now := time.Now().UTC()
	for _, a := range c.Accounts {
		a = cloneAccount(a)
		a.UpdatedAt = now
		s.accounts[a.Address] = a
	}
	// IDs are written back so the caller's receipt carries them.
	for i := range c.Events {
		s.nextID++
		c.Events[i].ID = s.nextID
		s.events = append(s.events, c.Events[i])
	}
	if c.Slot > s.head.Slot {
		s.head = domain.Head{Slot: c.Slot, Timestamp: c.Timestamp}
	}
	return nil
}

func (s *Store) Head(context.Context) (domain.Head, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, nil
}

func (s *Store) List(_ context.Context, f domain.EventFilter) ([]domain.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EventRecord, 0)
	for _, ev := range s.events {
		if ev.ID <= f.AfterID {
			continue
		}
		if f.Market != nil && ev.Market != *f.Market {
			continue
		}
		if f.Name != "" && ev.Name != f.Name {
			continue
		}
		if f.Program != "" && ev.Program != f.Program {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.EventRecord, error) {
	cutoff := unixSeconds(before)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EventRecord, 0)
	for _, ev := range s.events {
		if ev.Timestamp >= cutoff {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	cutoff := unixSeconds(before)
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var n int64
	for _, ev := range s.events {
		if ev.Timestamp < cutoff {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return n, nil
}

// AuditLog returns the store's append-only audit log.
func (s *Store) AuditLog() domain.AuditStore { return auditView{s} }

type auditView struct{ s *Store }

func (v auditView) Log(_ context.Context, event string, detail map[string]any) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.audit = append(v.s.audit, domain.AuditEntry{
		ID:        int64(len(v.s.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (v auditView) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	v.s.mu.RLock()
	out := make([]domain.AuditEntry, 0, len(v.s.audit))
	for i := len(v.s.audit) - 1; i >= 0; i-- {
		e := v.s.audit[i]
		if inRange(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	v.s.mu.RUnlock()
	return paginate(out, opts), nil
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return items[:0]
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

func unixSeconds(t time.Time) uint64 {
	if t.Unix() < 0 {
		return 0
	}
	return uint64(t.Unix())
}
