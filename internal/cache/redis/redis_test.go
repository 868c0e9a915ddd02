package redis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
	"github.com/alanyoungcy/marketvault/internal/store/memory"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb), mr
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	lm := NewLockManager(c, 0)

	unlock, err := lm.Acquire(ctx, "ledger", time.Minute)
	require.NoError(t, err)
	_, err = lm.Acquire(ctx, "ledger", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	unlock2, err := lm.Acquire(ctx, "ledger", time.Minute)
	require.NoError(t, err)

	// An expired holder must not release the next holder's lock.
	mr.FastForward(2 * time.Minute)
	unlock3, err := lm.Acquire(ctx, "ledger", time.Minute)
	require.NoError(t, err)
	unlock2()
	assert.True(t, mr.Exists("lock:ledger"))
	unlock3()
	assert.False(t, mr.Exists("lock:ledger"))
}

func TestLockManagerWaitsUntilContextEnds(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c, 5*time.Millisecond)

	unlock, err := lm.Acquire(context.Background(), "ledger", time.Minute)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = lm.Acquire(ctx, "ledger", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLedgerCommitsUnderRedisLock(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	bus := NewSignalBus(c)
	l, err := ledger.New(ctx, memory.New(), ledger.NewManualClock(time.Unix(1_700_000_000, 0)), discard(),
		ledger.WithLock(NewLockManager(c, time.Millisecond), "ledger", 10*time.Second),
		ledger.WithObserver(NewEventPublisher(bus, discard())),
	)
	require.NoError(t, err)

	owner := common.HexToAddress("0x5")
	acct := common.HexToAddress("0x6")
	_, err = l.Execute(ctx, []common.Address{owner, acct}, func(tx *ledger.Tx) error {
		if err := tx.Create(acct, owner, []byte{1}); err != nil {
			return err
		}
		return tx.Emit("test", "Touched", acct, map[string]int{"n": 1})
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:ledger"))

	msgs, err := bus.StreamRead(ctx, EventsStream, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestSignalBusStream(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)

	msgs, err := bus.StreamRead(ctx, "empty", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, "s", []byte("one")))
	require.NoError(t, bus.StreamAppend(ctx, "s", []byte("two")))
	msgs, err = bus.StreamRead(ctx, "s", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("one"), msgs[0].Payload)

	rest, err := bus.StreamRead(ctx, "s", msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, []byte("two"), rest[0].Payload)
}

func TestSignalBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "marketd:*")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, EventsChannel, []byte("hello")))

	select {
	case msg := <-ch:
		assert.Equal(t, []byte("hello"), msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	for range ch {
	}
}

func TestEventPublisherAppendsCommittedEvents(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	pub := NewEventPublisher(bus, discard())

	market := common.HexToAddress("0xabc")
	pub.OnCommit(ctx, &ledger.Receipt{
		ID:   "tx-1",
		Slot: 4,
		Events: []domain.EventRecord{
			{ID: 1, Slot: 4, TxID: "tx-1", Name: domain.EventMarketCreated, Market: market, Data: json.RawMessage(`{}`)},
			{ID: 2, Slot: 4, TxID: "tx-1", Seq: 1, Name: domain.EventVaultInitialized, Market: market, Data: json.RawMessage(`{}`)},
		},
	})

	msgs, err := bus.StreamRead(ctx, EventsStream, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	var ev domain.EventRecord
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &ev))
	assert.Equal(t, domain.EventVaultInitialized, ev.Name)
	assert.Equal(t, market, ev.Market)
}

func TestPriceFeed(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	pf := NewPriceFeed(c)

	_, err := pf.Quote(ctx, "pyth-btc")
	require.ErrorIs(t, err, domain.ErrNotFound)

	want := domain.PriceQuote{FeedID: "pyth-btc", Price: -42, Confidence: 7, Exponent: -8, PublishTime: 1_700_000_000}
	require.NoError(t, pf.SetQuote(ctx, want))
	got, err := pf.Quote(ctx, "pyth-btc")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	all, err := pf.Quotes(ctx, []string{"pyth-btc", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]domain.PriceQuote{"pyth-btc": want}, all)
}

func TestReplayWindow(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	w := NewReplayWindow(c, time.Hour)
	d := common.HexToHash("0x01")

	ok, err := w.Claim(ctx, d)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = w.Claim(ctx, d)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Hour + time.Second)
	ok, err = w.Claim(ctx, d)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarketCacheInvalidatesOnCommit(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	mc := NewMarketCache(c, time.Minute, discard())
	m1, m2 := common.HexToAddress("0x1"), common.HexToAddress("0x2")

	var got map[string]int
	require.ErrorIs(t, mc.Get(ctx, m1, "market", &got), domain.ErrNotFound)

	require.NoError(t, mc.Set(ctx, m1, "market", map[string]int{"state": 1}))
	require.NoError(t, mc.Set(ctx, m2, "vault", map[string]int{"locked": 5}))
	require.NoError(t, mc.Get(ctx, m1, "market", &got))
	assert.Equal(t, 1, got["state"])

	mc.OnCommit(ctx, &ledger.Receipt{Events: []domain.EventRecord{{Market: m1}, {Market: m1}}})
	require.ErrorIs(t, mc.Get(ctx, m1, "market", &got), domain.ErrNotFound)
	require.NoError(t, mc.Get(ctx, m2, "vault", &got))
	assert.Equal(t, 5, got["locked"])
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "5.6.7.8", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("1.2.3.4"), "keys are used unprefixed")

	now = now.Add(1100 * time.Millisecond)
	ok, err = rl.Allow(ctx, "1.2.3.4", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
