package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
	"github.com/alanyoungcy/marketvault/internal/registry"
	"github.com/alanyoungcy/marketvault/internal/resolution"
	"github.com/alanyoungcy/marketvault/internal/service"
	"github.com/alanyoungcy/marketvault/internal/store/memory"
	"github.com/alanyoungcy/marketvault/internal/token"
	"github.com/alanyoungcy/marketvault/internal/vault"
)

const (
	t0   = 1_700_000_000
	unit = 1_000_000
)

var (
	admin   = common.HexToAddress("0xad")
	adapter = common.HexToAddress("0xada")
	worker  = common.HexToAddress("0x3030")
	minter  = common.HexToAddress("0x7e")
	alice   = common.HexToAddress("0xa11ce")
	bob     = common.HexToAddress("0xb0b")
)

type fakeOracle struct {
	clock  *ledger.ManualClock
	prices map[string]int64
}

func (o *fakeOracle) Quote(_ context.Context, feed string) (domain.PriceQuote, error) {
	p, ok := o.prices[feed]
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("feed %s: %w", feed, domain.ErrNotFound)
	}
	return domain.PriceQuote{
		FeedID:      feed,
		Price:       p,
		Confidence:  1_000,
		Exponent:    -2,
		PublishTime: uint64(o.clock.Now().Unix()) - 5,
	}, nil
}

type env struct {
	clock   *ledger.ManualClock
	store   *memory.Store
	markets *service.MarketService
	vaults  *service.VaultService
	res     *service.ResolutionService
	tokens  *service.TokenService
	events  *service.EventService
	usdc    common.Address
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := ledger.NewManualClock(time.Unix(t0, 0))
	store := memory.New()
	l, err := ledger.New(ctx, store, clock, logger)
	require.NoError(t, err)

	params := domain.DefaultParams()
	reg := registry.New(params)
	v := vault.New(params)
	rp := resolution.New(params, reg)
	oracle := &fakeOracle{clock: clock, prices: map[string]int64{
		"pyth-btc":        10_500_000,
		"switchboard-btc": 10_490_000,
	}}
	e := &env{
		clock:   clock,
		store:   store,
		markets: service.NewMarketService(l, reg, v, rp, logger),
		vaults:  service.NewVaultService(l, v, logger),
		res:     service.NewResolutionService(l, rp, oracle, logger),
		tokens:  service.NewTokenService(l, logger),
		events:  service.NewEventService(store, logger),
	}
	e.usdc, err = e.tokens.EnsureMint(ctx, "usdc", minter, 6)
	require.NoError(t, err)
	again, err := e.tokens.EnsureMint(ctx, "usdc", minter, 6)
	require.NoError(t, err)
	require.Equal(t, e.usdc, again)

	for owner, amount := range map[common.Address]uint64{
		worker: 1_000 * unit,
		alice:  2_000 * unit,
		admin:  500 * unit,
	} {
		_, err := e.tokens.MintCollateral(ctx, service.Signers{minter}, e.usdc, owner, amount)
		require.NoError(t, err)
	}
	return e
}

func (e *env) balance(t *testing.T, owner, mint common.Address) uint64 {
	t.Helper()
	bal, err := e.tokens.Balance(context.Background(), owner, mint)
	require.NoError(t, err)
	return bal
}

func TestMarketLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	id, err := domain.MarketIDFromString("btc-100k-2026")
	require.NoError(t, err)
	created, err := e.markets.CreateMarket(ctx, service.Signers{admin}, service.CreateMarketArgs{
		MarketID:           id,
		Question:           "Will BTC close above 100k?",
		Category:           "crypto",
		ExpireAt:           t0 + 3*3600,
		ResolutionAdapter:  adapter,
		SettlementWorker:   worker,
		CollateralMint:     e.usdc,
		ResolutionCategory: domain.CategoryCrypto,
	})
	require.NoError(t, err)
	market := created.Market

	_, err = e.markets.OpenMarket(ctx, service.Signers{admin}, market)
	require.NoError(t, err)

	_, err = e.vaults.MintPairs(ctx, service.Signers{worker}, vault.MintPairsArgs{
		Market:       market,
		Pairs:        100,
		Source:       tokenAccount(worker, e.usdc),
		YesRecipient: alice,
		NoRecipient:  bob,
	})
	require.NoError(t, err)

	vv, err := e.vaults.GetVault(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, uint64(100*unit), vv.TotalLockedCollateral)
	assert.Equal(t, uint64(100*unit), vv.CollateralBalance)

	_, err = e.markets.ResolvingMarket(ctx, service.Signers{admin}, market)
	require.NoError(t, err)
	e.clock.Set(time.Unix(t0+3*3600+60, 0))

	outcome, _, err := e.res.ProposeCryptoOutcome(ctx, service.Signers{alice}, service.ProposeCryptoRequest{
		Market:     market,
		Subject:    "BTC/USD",
		Condition:  domain.GreaterOrEqual(100_000 * 100_000_000),
		Oracle:     domain.OraclePyth,
		FeedIDs:    []string{"pyth-btc", "switchboard-btc"},
		BondAmount: 1_000 * unit,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeYes, outcome)

	e.clock.Advance(24*time.Hour + time.Second)
	res, _, err := e.res.FinalizeOutcome(ctx, service.Signers{adapter, admin}, market, domain.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, alice, res.Winner)
	assert.Equal(t, uint64(2_100*unit), e.balance(t, alice, e.usdc))

	_, err = e.vaults.Settle(ctx, service.Signers{admin}, market)
	require.NoError(t, err)

	mv, err := e.markets.GetMarket(ctx, market)
	require.NoError(t, err)
	yesMint, noMint := mv.YesTokenMint, mv.NoTokenMint

	payout, _, err := e.vaults.ClaimPayout(ctx, service.Signers{alice}, market)
	require.NoError(t, err)
	assert.Equal(t, uint64(100*unit), payout.Amount)
	payout, _, err = e.vaults.ClaimPayout(ctx, service.Signers{bob}, market)
	require.NoError(t, err)
	assert.Zero(t, payout.Amount)
	assert.Equal(t, uint64(100), payout.NoBurned)

	assert.Equal(t, uint64(2_200*unit), e.balance(t, alice, e.usdc))
	assert.Zero(t, e.balance(t, alice, yesMint))
	assert.Zero(t, e.balance(t, bob, noMint))

	vv, err = e.vaults.GetVault(ctx, market)
	require.NoError(t, err)
	assert.Zero(t, vv.CollateralBalance)
	assert.Equal(t, uint64(100*unit), vv.TotalPaidOut)

	evs, err := e.events.ListEvents(ctx, domain.EventFilter{Market: &market})
	require.NoError(t, err)
	names := make([]string, 0, len(evs))
	for _, ev := range evs {
		names = append(names, ev.Name)
		assert.Equal(t, market, ev.Market)
	}
	assert.Contains(t, names, domain.EventMarketCreated)
	assert.Contains(t, names, domain.EventPairsMinted)
	assert.Contains(t, names, domain.EventOutcomeFinalized)
	assert.Contains(t, names, domain.EventPayoutClaimed)

	state := domain.MarketResolved
	listed, err := e.markets.ListMarkets(ctx, &state, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, market, listed[0].Address)
}

func TestCreateMarketIsAtomic(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id, err := domain.MarketIDFromString("atomic")
	require.NoError(t, err)

	// A missing collateral mint fails vault initialization, so the market
	// account must not exist either.
	_, err = e.markets.CreateMarket(ctx, service.Signers{admin}, service.CreateMarketArgs{
		MarketID:           id,
		Question:           "Atomic?",
		ExpireAt:           t0 + 3*3600,
		ResolutionAdapter:  adapter,
		SettlementWorker:   worker,
		CollateralMint:     common.HexToAddress("0xdead"),
		ResolutionCategory: domain.CategoryCrypto,
	})
	require.Error(t, err)

	addr, _ := registry.MarketAddress(id)
	_, err = e.markets.GetMarket(ctx, addr)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestOperationErrorsKeepProtocolCode(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.markets.OpenMarket(ctx, nil, common.HexToAddress("0x1"))
	assert.ErrorIs(t, err, domain.ErrMissingSigner)

	id, err := domain.MarketIDFromString("codes")
	require.NoError(t, err)
	_, _, err = e.markets.InitializeMarket(ctx, service.Signers{admin}, registry.InitializeMarketArgs{
		MarketID:          id,
		Question:          "",
		ExpireAt:          t0 + 3*3600,
		ResolutionAdapter: adapter,
	})
	require.ErrorIs(t, err, domain.ErrQuestionEmpty)
	pe, ok := domain.AsProgramError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindValidation, pe.Kind)
	assert.Contains(t, err.Error(), "initialize_market")
}

func TestProposeCryptoUnknownFeed(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, _, err := e.res.ProposeCryptoOutcome(ctx, service.Signers{alice}, service.ProposeCryptoRequest{
		Market:     common.HexToAddress("0x1"),
		FeedIDs:    []string{"missing"},
		BondAmount: 1_000 * unit,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func tokenAccount(owner, mint common.Address) common.Address {
	return token.AssociatedAddress(owner, mint)
}
