package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

type entry struct {
	acct   domain.Account
	exists bool
	base   uint64
	dirty  bool
}

// Tx is one atomic transaction. Reads go through an overlay of the
// committed state; nothing becomes visible to others until Execute commits.
type Tx struct {
	ctx      context.Context
	store    domain.AccountStore
	id       string
	slot     uint64
	now      uint64
	signers  map[common.Address]int
	accounts map[common.Address]*entry
	order    []common.Address
	events   []domain.EventRecord
	readOnly bool
}

func newTx(ctx context.Context, store domain.AccountStore, id string, slot, now uint64, signers []common.Address, readOnly bool) *Tx {
	tx := &Tx{
		ctx:      ctx,
		store:    store,
		id:       id,
		slot:     slot,
		now:      now,
		signers:  make(map[common.Address]int, len(signers)),
		accounts: make(map[common.Address]*entry),
		readOnly: readOnly,
	}
	for _, s := range signers {
		tx.signers[s]++
	}
	return tx
}

func (tx *Tx) Context() context.Context { return tx.ctx }

// Now is the ledger time of this transaction in unix seconds.
func (tx *Tx) Now() uint64 { return tx.now }

func (tx *Tx) Slot() uint64 { return tx.slot }

func (tx *Tx) ID() string { return tx.id }

func (tx *Tx) IsSigner(addr common.Address) bool { return tx.signers[addr] > 0 }

// RequireSigner fails with ErrMissingSigner unless addr signed.
func (tx *Tx) RequireSigner(addr common.Address) error {
	if !tx.IsSigner(addr) {
		return fmt.Errorf("signer %s: %w", addr.Hex(), domain.ErrMissingSigner)
	}
	return nil
}

// InvokeSigned runs fn with the program-derived address of seeds+bump added
// to the signer set, the way a program signs for accounts it controls.
func (tx *Tx) InvokeSigned(program common.Address, seeds [][]byte, bump uint8, fn func() error) error {
	full := make([][]byte, len(seeds)+1)
	copy(full, seeds)
	full[len(seeds)] = []byte{bump}
	pda, err := CreateProgramAddress(full, program)
	if err != nil {
		return err
	}
	tx.signers[pda]++
	defer func() {
		if tx.signers[pda]--; tx.signers[pda] <= 0 {
			delete(tx.signers, pda)
		}
	}()
	return fn()
}

func (tx *Tx) load(addr common.Address) (*entry, error) {
	if e, ok := tx.accounts[addr]; ok {
		return e, nil
	}
	acct, err := tx.store.Get(tx.ctx, addr)
	e := &entry{}
	switch {
	case err == nil:
		e.acct = acct
		e.exists = true
		e.base = acct.Version
	case errors.Is(err, domain.ErrNotFound):
		e.acct = domain.Account{Address: addr}
	default:
		return nil, fmt.Errorf("ledger: read %s: %w", addr.Hex(), err)
	}
	tx.accounts[addr] = e
	return e, nil
}

// Exists reports whether addr holds data in this transaction's view.
func (tx *Tx) Exists(addr common.Address) (bool, error) {
	e, err := tx.load(addr)
	if err != nil {
		return false, err
	}
	return e.exists, nil
}

// Get returns a copy of the account at addr.
func (tx *Tx) Get(addr common.Address) (domain.Account, error) {
	e, err := tx.load(addr)
	if err != nil {
		return domain.Account{}, err
	}
	if !e.exists {
		return domain.Account{}, fmt.Errorf("account %s: %w", addr.Hex(), domain.ErrAccountNotFound)
	}
	out := e.acct
	out.Data = bytes.Clone(e.acct.Data)
	return out, nil
}

// Create allocates a new account. The address must sign, and must not hold
// data already.
func (tx *Tx) Create(addr, owner common.Address, data []byte) error {
	if tx.readOnly {
		return errReadOnly
	}
	if err := tx.RequireSigner(addr); err != nil {
		return err
	}
	e, err := tx.load(addr)
	if err != nil {
		return err
	}
	if e.exists {
		return fmt.Errorf("account %s: %w", addr.Hex(), domain.ErrAccountAlreadyInUse)
	}
	e.exists = true
	e.acct = domain.Account{Address: addr, Owner: owner, Data: bytes.Clone(data)}
	tx.touch(addr, e)
	return nil
}

// Put replaces the data of an existing account owned by owner.
func (tx *Tx) Put(addr, owner common.Address, data []byte) error {
	if tx.readOnly {
		return errReadOnly
	}
	e, err := tx.load(addr)
	if err != nil {
		return err
	}
	if !e.exists {
		return fmt.Errorf("account %s: %w", addr.Hex(), domain.ErrAccountNotFound)
	}
	if e.acct.Owner != owner {
		return fmt.Errorf("account %s: %w", addr.Hex(), domain.ErrAccountOwnerMismatch)
	}
	e.acct.Data = bytes.Clone(data)
	tx.touch(addr, e)
	return nil
}

func (tx *Tx) touch(addr common.Address, e *entry) {
	if !e.dirty {
		e.dirty = true
		tx.order = append(tx.order, addr)
	}
}

// Emit records an event that is published only if the transaction commits.
func (tx *Tx) Emit(program, name string, market common.Address, payload any) error {
	if tx.readOnly {
		return errReadOnly
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ledger: encode event %s: %w", name, err)
	}
	tx.events = append(tx.events, domain.EventRecord{
		Slot:      tx.slot,
		TxID:      tx.id,
		Seq:       len(tx.events),
		Program:   program,
		Name:      name,
		Market:    market,
		Timestamp: tx.now,
		Data:      data,
	})
	return nil
}

func (tx *Tx) commitSet() domain.Commit {
	c := domain.Commit{
		Slot:      tx.slot,
		TxID:      tx.id,
		Timestamp: tx.now,
		Accounts:  make([]domain.Account, 0, len(tx.order)),
		Events:    tx.events,
	}
	for _, addr := range tx.order {
		e := tx.accounts[addr]
		a := e.acct
		a.Version = e.base + 1
		a.Slot = tx.slot
		c.Accounts = append(c.Accounts, a)
	}
	return c
}

var errReadOnly = errors.New("ledger: write in read-only transaction")
