package ledger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
	"github.com/alanyoungcy/marketvault/internal/store/memory"
)

type counter struct {
	N     uint64
	Label string
}

var (
	testProgram = ledger.ProgramID("counter")
	counterKind = ledger.NewKind[counter]("Counter", testProgram)
	alice       = common.HexToAddress("0xa11ce")
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLedger(t *testing.T, store *memory.Store, clock ledger.Clock, opts ...ledger.Option) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(context.Background(), store, clock, quietLogger(), opts...)
	require.NoError(t, err)
	return l
}

func counterPDA(label string) (common.Address, uint8) {
	return ledger.MustFind([][]byte{[]byte("counter"), []byte(label)}, testProgram)
}

func initCounter(tx *ledger.Tx, label string, n uint64) error {
	addr, bump := counterPDA(label)
	return tx.InvokeSigned(testProgram, [][]byte{[]byte("counter"), []byte(label)}, bump, func() error {
		return counterKind.Init(tx, addr, &counter{N: n, Label: label})
	})
}

func TestFindProgramAddress(t *testing.T) {
	seeds := [][]byte{[]byte("market"), []byte("btc-100k")}
	a1, bump1, err := ledger.FindProgramAddress(seeds, testProgram)
	require.NoError(t, err)
	a2, bump2, err := ledger.FindProgramAddress(seeds, testProgram)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Equal(t, bump1, bump2)

	other, _, err := ledger.FindProgramAddress([][]byte{[]byte("market"), []byte("btc-200k")}, testProgram)
	require.NoError(t, err)
	assert.NotEqual(t, a1, other)

	otherProgram, _, err := ledger.FindProgramAddress(seeds, ledger.ProgramID("other"))
	require.NoError(t, err)
	assert.NotEqual(t, a1, otherProgram)

	direct, err := ledger.CreateProgramAddress(append(seeds, []byte{bump1}), testProgram)
	require.NoError(t, err)
	assert.Equal(t, a1, direct)

	_, _, err = ledger.FindProgramAddress([][]byte{make([]byte, ledger.MaxSeedLength+1)}, testProgram)
	assert.ErrorIs(t, err, domain.ErrMaxSeedLength)
}

func TestExecuteCommitsAndViews(t *testing.T) {
	store := memory.New()
	l := newLedger(t, store, ledger.NewManualClock(time.Unix(1_700_000_000, 0)))
	ctx := context.Background()

	r, err := l.Execute(ctx, []common.Address{alice}, func(tx *ledger.Tx) error {
		if err := initCounter(tx, "a", 1); err != nil {
			return err
		}
		return tx.Emit("counter", "CounterCreated", common.Address{}, map[string]any{"n": 1})
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Slot)
	assert.Equal(t, uint64(1_700_000_000), r.Timestamp)
	require.Len(t, r.Events, 1)
	assert.Equal(t, "CounterCreated", r.Events[0].Name)

	addr, _ := counterPDA("a")
	err = l.View(ctx, func(tx *ledger.Tx) error {
		c, err := counterKind.Load(tx, addr)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), c.N)
		assert.Equal(t, "a", c.Label)
		return nil
	})
	require.NoError(t, err)

	acct, err := store.Get(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acct.Version)
	assert.Equal(t, testProgram, acct.Owner)
}

func TestExecuteRollsBackOnError(t *testing.T) {
	store := memory.New()
	l := newLedger(t, store, nil)
	ctx := context.Background()
	boom := errors.New("boom")

	var seen []*ledger.Receipt
	l.AddObserver(ledger.ObserverFunc(func(_ context.Context, r *ledger.Receipt) {
		seen = append(seen, r)
	}))

	_, err := l.Execute(ctx, nil, func(tx *ledger.Tx) error {
		require.NoError(t, initCounter(tx, "a", 1))
		require.NoError(t, tx.Emit("counter", "CounterCreated", common.Address{}, nil))
		return boom
	})
	require.ErrorIs(t, err, boom)

	addr, _ := counterPDA("a")
	_, err = store.Get(ctx, addr)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	events, err := store.List(ctx, domain.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, seen)
}

func TestCreateRequiresSignerAndFreshAddress(t *testing.T) {
	l := newLedger(t, memory.New(), nil)
	ctx := context.Background()
	addr, _ := counterPDA("a")

	_, err := l.Execute(ctx, nil, func(tx *ledger.Tx) error {
		return counterKind.Init(tx, addr, &counter{N: 1})
	})
	require.ErrorIs(t, err, domain.ErrMissingSigner)

	_, err = l.Execute(ctx, nil, func(tx *ledger.Tx) error { return initCounter(tx, "a", 1) })
	require.NoError(t, err)

	_, err = l.Execute(ctx, nil, func(tx *ledger.Tx) error { return initCounter(tx, "a", 2) })
	require.ErrorIs(t, err, domain.ErrAccountAlreadyInUse)
	pe, ok := domain.AsProgramError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindStructural, pe.Kind)
}

func TestLoadChecksOwnerAndDiscriminator(t *testing.T) {
	l := newLedger(t, memory.New(), nil)
	ctx := context.Background()
	_, err := l.Execute(ctx, nil, func(tx *ledger.Tx) error { return initCounter(tx, "a", 1) })
	require.NoError(t, err)
	addr, _ := counterPDA("a")

	foreign := ledger.NewKind[counter]("Counter", ledger.ProgramID("other"))
	wrongType := ledger.NewKind[counter]("Gauge", testProgram)
	err = l.View(ctx, func(tx *ledger.Tx) error {
		_, err := foreign.Load(tx, addr)
		assert.ErrorIs(t, err, domain.ErrAccountOwnerMismatch)
		_, err = wrongType.Load(tx, addr)
		assert.ErrorIs(t, err, domain.ErrAccountDiscriminator)
		_, err = counterKind.Load(tx, common.HexToAddress("0xdead"))
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestClockNeverGoesBackwards(t *testing.T) {
	clock := ledger.NewManualClock(time.Unix(2_000, 0))
	l := newLedger(t, memory.New(), clock)
	ctx := context.Background()

	r1, err := l.Execute(ctx, nil, func(*ledger.Tx) error { return nil })
	require.NoError(t, err)
	clock.Set(time.Unix(1_000, 0))
	r2, err := l.Execute(ctx, nil, func(tx *ledger.Tx) error {
		assert.Equal(t, uint64(2_000), tx.Now())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, r1.Timestamp, r2.Timestamp)
	assert.Equal(t, r1.Slot+1, r2.Slot)
}

func TestLedgerResumesFromStoreHead(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	first := newLedger(t, store, ledger.NewManualClock(time.Unix(5_000, 0)))
	for i := 0; i < 3; i++ {
		_, err := first.Execute(ctx, nil, func(*ledger.Tx) error { return nil })
		require.NoError(t, err)
	}
	second := newLedger(t, store, ledger.NewManualClock(time.Unix(10, 0)))
	r, err := second.Execute(ctx, nil, func(*ledger.Tx) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, uint64(4), r.Slot)
	assert.Equal(t, uint64(5_000), r.Timestamp)
}

func TestConcurrentWriterConflicts(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	a := newLedger(t, store, nil)
	b := newLedger(t, store, nil)
	_, err := a.Execute(ctx, nil, func(tx *ledger.Tx) error { return initCounter(tx, "a", 1) })
	require.NoError(t, err)
	addr, _ := counterPDA("a")

	bump := func(tx *ledger.Tx) error {
		c, err := counterKind.Load(tx, addr)
		if err != nil {
			return err
		}
		c.N++
		return counterKind.Save(tx, addr, c)
	}

	_, err = a.Execute(ctx, nil, func(tx *ledger.Tx) error {
		if err := bump(tx); err != nil {
			return err
		}
		_, err := b.Execute(ctx, nil, bump)
		require.NoError(t, err)
		return nil
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	acct, err := store.Get(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), acct.Version)
}

func TestViewRejectsWrites(t *testing.T) {
	l := newLedger(t, memory.New(), nil)
	err := l.View(context.Background(), func(tx *ledger.Tx) error {
		return tx.Emit("counter", "X", common.Address{}, nil)
	})
	assert.Error(t, err)
}
