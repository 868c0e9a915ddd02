package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

var (
	owner  = common.HexToAddress("0x01")
	acctA  = common.HexToAddress("0xaa")
	acctB  = common.HexToAddress("0xbb")
	market = common.HexToAddress("0xcc")
)

func TestCommitChecksVersions(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Commit(ctx, domain.Commit{
		Slot: 1,
		Accounts: []domain.Account{
			{Address: acctA, Owner: owner, Data: []byte{1}, Version: 1},
			{Address: acctB, Owner: owner, Data: []byte{2}, Version: 1},
		},
	}))

	// A stale write to B must not leave A half-updated.
	err := s.Commit(ctx, domain.Commit{
		Slot: 2,
		Accounts: []domain.Account{
			{Address: acctA, Owner: owner, Data: []byte{9}, Version: 2},
			{Address: acctB, Owner: owner, Data: []byte{9}, Version: 1},
		},
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	a, err := s.Get(ctx, acctA)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, a.Data)
	assert.Equal(t, uint64(1), a.Version)

	head, err := s.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), head.Slot)

	_, err = s.Get(ctx, common.HexToAddress("0xdead"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Commit(ctx, domain.Commit{
		Slot:     1,
		Accounts: []domain.Account{{Address: acctA, Owner: owner, Data: []byte{1, 2}, Version: 1}},
	}))

	a, err := s.Get(ctx, acctA)
	require.NoError(t, err)
	a.Data[0] = 7

	again, err := s.Get(ctx, acctA)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, again.Data)
}

func TestListByOwnerSortsAndPaginates(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Commit(ctx, domain.Commit{
		Slot: 1,
		Accounts: []domain.Account{
			{Address: acctB, Owner: owner, Version: 1},
			{Address: acctA, Owner: owner, Version: 1},
			{Address: market, Owner: common.HexToAddress("0x02"), Version: 1},
		},
	}))

	all, err := s.ListByOwner(ctx, owner, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, acctA, all[0].Address)

	page, err := s.ListByOwner(ctx, owner, domain.ListOpts{Offset: 1, Limit: 5})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, acctB, page[0].Address)
}

func TestEventJournal(t *testing.T) {
	ctx := context.Background()
	s := New()
	day := func(d int) uint64 { return uint64(time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC).Unix()) }

	c := domain.Commit{Slot: 1, Timestamp: day(1), Events: []domain.EventRecord{
		{Program: domain.ProgramRegistry, Name: domain.EventMarketCreated, Market: market, Timestamp: day(1)},
		{Program: domain.ProgramVault, Name: domain.EventVaultInitialized, Market: market, Timestamp: day(1)},
	}}
	require.NoError(t, s.Commit(ctx, c))
	assert.Equal(t, int64(1), c.Events[0].ID, "ids are written back to the commit")
	require.NoError(t, s.Commit(ctx, domain.Commit{Slot: 2, Timestamp: day(5), Events: []domain.EventRecord{
		{Program: domain.ProgramRegistry, Name: domain.EventMarketStateChanged, Market: market, Timestamp: day(5)},
	}}))

	evs, err := s.List(ctx, domain.EventFilter{Program: domain.ProgramRegistry})
	require.NoError(t, err)
	assert.Len(t, evs, 2)

	evs, err = s.List(ctx, domain.EventFilter{AfterID: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(2), evs[0].ID)

	old, err := s.ListBefore(ctx, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)
	assert.Len(t, old, 2)

	n, err := s.DeleteBefore(ctx, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := s.List(ctx, domain.EventFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, domain.EventMarketStateChanged, left[0].Name)
}

func TestAuditLogNewestFirst(t *testing.T) {
	ctx := context.Background()
	log := New().AuditLog()
	require.NoError(t, log.Log(ctx, "tx.submitted", map[string]any{"n": 1}))
	require.NoError(t, log.Log(ctx, "archive.events", nil))

	entries, err := log.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "archive.events", entries[0].Event)
}
