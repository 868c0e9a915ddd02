package registry_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
	"github.com/alanyoungcy/marketvault/internal/registry"
	"github.com/alanyoungcy/marketvault/internal/store/memory"
	"github.com/alanyoungcy/marketvault/internal/token"
)

const t0 = 1_700_000_000

var (
	admin   = common.HexToAddress("0xad")
	adapter = common.HexToAddress("0xada")
	vault   = common.HexToAddress("0xe5c")
	mallory = common.HexToAddress("0x6a1")
)

type harness struct {
	t      *testing.T
	ledger *ledger.Ledger
	clock  *ledger.ManualClock
	prog   *registry.Program
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := ledger.NewManualClock(time.Unix(t0, 0))
	l, err := ledger.New(context.Background(), memory.New(), clock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return &harness{t: t, ledger: l, clock: clock, prog: registry.New(domain.DefaultParams())}
}

func (h *harness) exec(signer common.Address, fn func(tx *ledger.Tx) error) error {
	_, err := h.ledger.Execute(context.Background(), []common.Address{signer}, fn)
	return err
}

func (h *harness) args(id string) registry.InitializeMarketArgs {
	mid, err := domain.MarketIDFromString(id)
	require.NoError(h.t, err)
	return registry.InitializeMarketArgs{
		MarketID:          mid,
		Question:          "Will BTC close above 100k?",
		Description:       "Daily close on the reference exchange",
		Category:          "crypto",
		ResolutionSource:  "pyth",
		ExpireAt:          t0 + 2*3600,
		EscrowVault:       vault,
		ResolutionAdapter: adapter,
	}
}

func (h *harness) create(id string) common.Address {
	var addr common.Address
	require.NoError(h.t, h.exec(admin, func(tx *ledger.Tx) error {
		var err error
		addr, err = h.prog.InitializeMarket(tx, admin, h.args(id))
		return err
	}))
	return addr
}

func (h *harness) market(addr common.Address) *domain.Market {
	var m *domain.Market
	require.NoError(h.t, h.ledger.View(context.Background(), func(tx *ledger.Tx) error {
		var err error
		m, err = registry.Load(tx, addr)
		return err
	}))
	return m
}

func TestInitializeMarket(t *testing.T) {
	h := newHarness(t)
	addr := h.create("btc-100k")

	m := h.market(addr)
	assert.Equal(t, domain.MarketCreated, m.State)
	assert.Equal(t, admin, m.Creator)
	assert.Equal(t, adapter, m.ResolutionAdapter)
	assert.Equal(t, vault, m.EscrowVault)
	assert.Equal(t, uint64(t0), m.CreatedAt)
	assert.Equal(t, domain.OutcomeNone, m.ResolutionOutcome)
	assert.Zero(t, m.ResolvedAt)

	yes, no := registry.OutcomeMints(addr)
	assert.Equal(t, yes, m.YesTokenMint)
	assert.Equal(t, no, m.NoTokenMint)
	require.NoError(t, h.ledger.View(context.Background(), func(tx *ledger.Tx) error {
		mint, err := token.MintAccount.Load(tx, yes)
		require.NoError(t, err)
		assert.Equal(t, vault, mint.Authority)
		assert.Equal(t, uint8(registry.OutcomeTokenDecimals), mint.Decimals)
		return nil
	}))
}

func TestInitializeMarketDuplicateID(t *testing.T) {
	h := newHarness(t)
	h.create("dup")
	err := h.exec(admin, func(tx *ledger.Tx) error {
		_, err := h.prog.InitializeMarket(tx, admin, h.args("dup"))
		return err
	})
	require.ErrorIs(t, err, domain.ErrAccountAlreadyInUse)
}

func TestInitializeMarketValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(a *registry.InitializeMarketArgs)
		wantErr error
	}{
		{"empty question", func(a *registry.InitializeMarketArgs) { a.Question = "" }, domain.ErrQuestionEmpty},
		{"blank question", func(a *registry.InitializeMarketArgs) { a.Question = "   " }, domain.ErrQuestionEmpty},
		{"question too long", func(a *registry.InitializeMarketArgs) { a.Question = strings.Repeat("q", 201) }, domain.ErrQuestionTooLong},
		{"description too long", func(a *registry.InitializeMarketArgs) { a.Description = strings.Repeat("d", 1001) }, domain.ErrDescriptionTooLong},
		{"category too long", func(a *registry.InitializeMarketArgs) { a.Category = strings.Repeat("c", 51) }, domain.ErrCategoryTooLong},
		{"source too long", func(a *registry.InitializeMarketArgs) { a.ResolutionSource = strings.Repeat("s", 101) }, domain.ErrResolutionSourceTooLong},
		{"expiry in the past", func(a *registry.InitializeMarketArgs) { a.ExpireAt = t0 - 1 }, domain.ErrInvalidExpiryTimestamp},
		{"expiry now", func(a *registry.InitializeMarketArgs) { a.ExpireAt = t0 }, domain.ErrInvalidExpiryTimestamp},
		{"expiry too soon", func(a *registry.InitializeMarketArgs) { a.ExpireAt = t0 + 60 }, domain.ErrExpiryTooShort},
		{"expiry too far", func(a *registry.InitializeMarketArgs) { a.ExpireAt = t0 + 400*24*3600 }, domain.ErrExpiryTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			args := h.args("m")
			tt.mutate(&args)
			err := h.exec(admin, func(tx *ledger.Tx) error {
				_, err := h.prog.InitializeMarket(tx, admin, args)
				return err
			})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestQuestionLengthCountsCharacters(t *testing.T) {
	h := newHarness(t)
	args := h.args("unicode")
	args.Question = strings.Repeat("é", domain.MaxQuestionLength)
	require.NoError(t, h.exec(admin, func(tx *ledger.Tx) error {
		_, err := h.prog.InitializeMarket(tx, admin, args)
		return err
	}))
}

func TestLifecycle(t *testing.T) {
	h := newHarness(t)
	addr := h.create("life")

	require.NoError(t, h.exec(admin, func(tx *ledger.Tx) error { return h.prog.OpenMarket(tx, admin, addr) }))
	require.NoError(t, h.exec(admin, func(tx *ledger.Tx) error { return h.prog.PauseMarket(tx, admin, addr) }))
	assert.Equal(t, domain.MarketPaused, h.market(addr).State)
	require.NoError(t, h.exec(admin, func(tx *ledger.Tx) error { return h.prog.ResumeMarket(tx, admin, addr) }))
	require.NoError(t, h.exec(admin, func(tx *ledger.Tx) error { return h.prog.ResolvingMarket(tx, admin, addr) }))
	assert.Equal(t, domain.MarketResolving, h.market(addr).State)

	finalize := func() error {
		return h.exec(adapter, func(tx *ledger.Tx) error {
			return h.prog.FinalizeMarket(tx, adapter, addr, domain.OutcomeYes)
		})
	}
	require.ErrorIs(t, finalize(), domain.ErrMarketNotExpired)
	assert.Zero(t, h.market(addr).ResolvedAt)

	h.clock.Advance(2 * time.Hour)
	require.NoError(t, finalize())
	m := h.market(addr)
	assert.Equal(t, domain.MarketResolved, m.State)
	assert.Equal(t, domain.OutcomeYes, m.ResolutionOutcome)
	assert.Equal(t, uint64(t0+2*3600), m.ResolvedAt)

	require.ErrorIs(t, finalize(), domain.ErrMarketAlreadyResolved)
	assert.Equal(t, domain.OutcomeYes, h.market(addr).ResolutionOutcome)
}

func TestTransitionsRejectWrongSourceState(t *testing.T) {
	type op struct {
		name string
		run  func(h *harness, tx *ledger.Tx, addr common.Address) error
	}
	ops := []op{
		{"open", func(h *harness, tx *ledger.Tx, a common.Address) error { return h.prog.OpenMarket(tx, admin, a) }},
		{"pause", func(h *harness, tx *ledger.Tx, a common.Address) error { return h.prog.PauseMarket(tx, admin, a) }},
		{"resume", func(h *harness, tx *ledger.Tx, a common.Address) error { return h.prog.ResumeMarket(tx, admin, a) }},
		{"resolving", func(h *harness, tx *ledger.Tx, a common.Address) error { return h.prog.ResolvingMarket(tx, admin, a) }},
	}
	allowed := map[string]domain.MarketState{
		"open":      domain.MarketCreated,
		"pause":     domain.MarketOpen,
		"resume":    domain.MarketPaused,
		"resolving": domain.MarketOpen,
	}
	setups := map[domain.MarketState][]string{
		domain.MarketCreated:   nil,
		domain.MarketOpen:      {"open"},
		domain.MarketPaused:    {"open", "pause"},
		domain.MarketResolving: {"open", "resolving"},
	}
	byName := map[string]op{}
	for _, o := range ops {
		byName[o.name] = o
	}

	for state, path := range setups {
		for _, o := range ops {
			if allowed[o.name] == state {
				continue
			}
			t.Run(o.name+"_from_"+state.String(), func(t *testing.T) {
				h := newHarness(t)
				addr := h.create("m")
				for _, step := range path {
					require.NoError(t, h.exec(admin, func(tx *ledger.Tx) error { return byName[step].run(h, tx, addr) }))
				}
				err := h.exec(admin, func(tx *ledger.Tx) error { return o.run(h, tx, addr) })
				pe, ok := domain.AsProgramError(err)
				require.True(t, ok, "got %v", err)
				assert.Equal(t, domain.KindState, pe.Kind)
				assert.Contains(t, []string{"InvalidMarketState", "InvalidStateTransition"}, pe.Name)
				assert.Equal(t, state, h.market(addr).State)
			})
		}
	}
}

func TestAuthorization(t *testing.T) {
	h := newHarness(t)
	addr := h.create("auth")

	err := h.exec(mallory, func(tx *ledger.Tx) error { return h.prog.OpenMarket(tx, mallory, addr) })
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	// Claiming to be the admin without the admin's signature.
	err = h.exec(mallory, func(tx *ledger.Tx) error { return h.prog.OpenMarket(tx, admin, addr) })
	require.ErrorIs(t, err, domain.ErrMissingSigner)

	require.NoError(t, h.exec(admin, func(tx *ledger.Tx) error { return h.prog.OpenMarket(tx, admin, addr) }))
	require.NoError(t, h.exec(admin, func(tx *ledger.Tx) error { return h.prog.ResolvingMarket(tx, admin, addr) }))
	h.clock.Advance(3 * time.Hour)

	err = h.exec(admin, func(tx *ledger.Tx) error {
		return h.prog.FinalizeMarket(tx, admin, addr, domain.OutcomeNo)
	})
	require.ErrorIs(t, err, domain.ErrInvalidResolutionAdapter)
}

func TestOpenExpiredMarket(t *testing.T) {
	h := newHarness(t)
	addr := h.create("late")
	h.clock.Advance(3 * time.Hour)
	err := h.exec(admin, func(tx *ledger.Tx) error { return h.prog.OpenMarket(tx, admin, addr) })
	require.ErrorIs(t, err, domain.ErrMarketExpired)
}

func TestFinalizeAfterResolutionWindow(t *testing.T) {
	h := newHarness(t)
	addr := h.create("window")
	require.NoError(t, h.exec(admin, func(tx *ledger.Tx) error { return h.prog.OpenMarket(tx, admin, addr) }))
	require.NoError(t, h.exec(admin, func(tx *ledger.Tx) error { return h.prog.ResolvingMarket(tx, admin, addr) }))
	h.clock.Advance(2*time.Hour + 8*24*time.Hour)
	err := h.exec(adapter, func(tx *ledger.Tx) error {
		return h.prog.FinalizeMarket(tx, adapter, addr, domain.OutcomeNo)
	})
	require.ErrorIs(t, err, domain.ErrResolutionWindowClosed)
}

func TestCancelMarket(t *testing.T) {
	h := newHarness(t)
	addr := h.create("cancel")
	require.NoError(t, h.exec(admin, func(tx *ledger.Tx) error { return h.prog.OpenMarket(tx, admin, addr) }))
	require.NoError(t, h.exec(admin, func(tx *ledger.Tx) error { return h.prog.CancelMarket(tx, admin, addr) }))

	m := h.market(addr)
	assert.Equal(t, domain.MarketResolved, m.State)
	assert.Equal(t, domain.OutcomeInvalid, m.ResolutionOutcome)

	err := h.exec(admin, func(tx *ledger.Tx) error { return h.prog.CancelMarket(tx, admin, addr) })
	require.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)
}

func TestEmergencyFinalizeMarket(t *testing.T) {
	h := newHarness(t)
	addr := h.create("emergency")

	err := h.exec(admin, func(tx *ledger.Tx) error {
		return h.prog.EmergencyFinalizeMarket(tx, admin, addr, domain.OutcomeNo, "")
	})
	require.ErrorIs(t, err, domain.ErrInvalidOutcome)

	err = h.exec(admin, func(tx *ledger.Tx) error {
		return h.prog.EmergencyFinalizeMarket(tx, admin, addr, domain.OutcomeNo, strings.Repeat("r", 201))
	})
	require.ErrorIs(t, err, domain.ErrInvalidOutcome)

	require.NoError(t, h.exec(admin, func(tx *ledger.Tx) error {
		return h.prog.EmergencyFinalizeMarket(tx, admin, addr, domain.OutcomeNo, "feed halted")
	}))
	assert.Equal(t, domain.OutcomeNo, h.market(addr).ResolutionOutcome)
}

func TestCreateAndResolveEventPayloads(t *testing.T) {
	h := newHarness(t)
	find := func(rc *ledger.Receipt, name string) domain.EventRecord {
		for _, ev := range rc.Events {
			if ev.Name == name {
				return ev
			}
		}
		t.Fatalf("no %s event in receipt", name)
		return domain.EventRecord{}
	}

	var addr common.Address
	rc, err := h.ledger.Execute(context.Background(), []common.Address{admin}, func(tx *ledger.Tx) error {
		var err error
		addr, err = h.prog.InitializeMarket(tx, admin, h.args("payloads"))
		return err
	})
	require.NoError(t, err)
	var created domain.MarketCreatedEvent
	require.NoError(t, json.Unmarshal(find(rc, domain.EventMarketCreated).Data, &created))
	assert.Equal(t, addr, created.Market)
	assert.Equal(t, admin, created.Creator)
	assert.Equal(t, uint64(t0+2*3600), created.ExpireAt)

	rc, err = h.ledger.Execute(context.Background(), []common.Address{admin}, func(tx *ledger.Tx) error {
		return h.prog.EmergencyFinalizeMarket(tx, admin, addr, domain.OutcomeYes, "feed halted")
	})
	require.NoError(t, err)
	var resolved domain.MarketResolvedEvent
	require.NoError(t, json.Unmarshal(find(rc, domain.EventMarketResolved).Data, &resolved))
	assert.Equal(t, domain.OutcomeYes, resolved.Outcome)
	assert.True(t, resolved.Emergency)
	assert.Equal(t, "feed halted", resolved.Reason)
	assert.Equal(t, uint64(t0), resolved.ResolvedAt)
}

func TestUpdateMarketMetadata(t *testing.T) {
	h := newHarness(t)
	addr := h.create("meta")
	desc := "updated"
	require.NoError(t, h.exec(admin, func(tx *ledger.Tx) error {
		return h.prog.UpdateMarketMetadata(tx, admin, addr, &desc, nil)
	}))
	m := h.market(addr)
	assert.Equal(t, "updated", m.Description)
	assert.Equal(t, "crypto", m.Category)

	require.NoError(t, h.exec(admin, func(tx *ledger.Tx) error { return h.prog.OpenMarket(tx, admin, addr) }))
	err := h.exec(admin, func(tx *ledger.Tx) error {
		return h.prog.UpdateMarketMetadata(tx, admin, addr, &desc, nil)
	})
	require.ErrorIs(t, err, domain.ErrMarketAlreadyOpen)
}

func TestAssertions(t *testing.T) {
	m := &domain.Market{State: domain.MarketOpen, ExpireAt: 100}
	assert.NoError(t, registry.AssertMarketOpen(m, 99))
	assert.ErrorIs(t, registry.AssertMarketOpen(m, 100), domain.ErrMarketExpired)

	m.State = domain.MarketResolving
	assert.ErrorIs(t, registry.AssertMarketOpen(m, 50), domain.ErrMarketNotOpen)
	assert.ErrorIs(t, registry.AssertMarketExpired(m, 99), domain.ErrMarketNotExpired)
	assert.NoError(t, registry.AssertMarketExpired(m, 100))
	assert.ErrorIs(t, registry.AssertMarketResolved(m), domain.ErrMarketNotResolved)

	m.Resolve(domain.OutcomeYes, 120)
	assert.NoError(t, registry.AssertMarketResolved(m))
}
