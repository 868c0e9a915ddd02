// Package vault is the Escrow Vault program. Each market has one vault
// that locks collateral, mints YES/NO pairs against it and pays winners
// once the market is resolved.
package vault

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
	"github.com/alanyoungcy/marketvault/internal/registry"
	"github.com/alanyoungcy/marketvault/internal/token"
)

const vaultSeed = "escrow_vault"

var (
	ProgramID    = ledger.ProgramID("escrow_vault")
	VaultAccount = ledger.NewKind[domain.EscrowVault]("EscrowVault", ProgramID)
)

func vaultSeeds(market common.Address) [][]byte {
	return [][]byte{[]byte(vaultSeed), market.Bytes()}
}

// Address derives the vault of a market.
func Address(market common.Address) (common.Address, uint8) {
	return ledger.MustFind(vaultSeeds(market), ProgramID)
}

// Program mints and redeems outcome tokens at a fixed unit price.
type Program struct {
	params domain.Params
}

func New(params domain.Params) *Program {
	return &Program{params: params}
}

// InitializeVaultArgs binds a new vault to its market.
type InitializeVaultArgs struct {
	Market           common.Address
	YesTokenMint     common.Address
	NoTokenMint      common.Address
	CollateralMint   common.Address
	SettlementWorker common.Address
}

// InitializeVault creates the vault of a market and its collateral account.
// The caller must be the market creator and becomes the vault admin.
func (p *Program) InitializeVault(tx *ledger.Tx, admin common.Address, args InitializeVaultArgs) (common.Address, error) {
	m, err := registry.Load(tx, args.Market)
	if err != nil {
		return common.Address{}, err
	}
	if admin != m.Creator {
		return common.Address{}, domain.ErrVaultUnauthorized
	}
	if err := tx.RequireSigner(admin); err != nil {
		return common.Address{}, err
	}
	addr, bump := Address(args.Market)
	if m.EscrowVault != addr {
		return common.Address{}, domain.ErrInvalidEscrowVault
	}
	if m.IsResolved() {
		return common.Address{}, domain.ErrMarketAlreadyResolved
	}
	if args.YesTokenMint != m.YesTokenMint || args.NoTokenMint != m.NoTokenMint {
		return common.Address{}, domain.ErrInvalidTokenMint
	}
	for _, mintAddr := range []common.Address{args.YesTokenMint, args.NoTokenMint} {
		mint, err := token.MintAccount.Load(tx, mintAddr)
		if err != nil {
			return common.Address{}, fmt.Errorf("vault: outcome mint: %w", err)
		}
		if mint.Authority != addr || mint.Decimals != registry.OutcomeTokenDecimals {
			return common.Address{}, domain.ErrInvalidTokenMint
		}
	}
	collateral, err := token.MintAccount.Load(tx, args.CollateralMint)
	if err != nil {
		return common.Address{}, fmt.Errorf("vault: collateral mint: %w", err)
	}
	if collateral.Decimals != p.params.CollateralDecimals {
		return common.Address{}, domain.ErrCollateralMintMismatch
	}
	if args.SettlementWorker == (common.Address{}) {
		return common.Address{}, domain.ErrVaultUnauthorized
	}

	collateralVault, err := token.EnsureAssociated(tx, addr, args.CollateralMint)
	if err != nil {
		return common.Address{}, err
	}
	v := &domain.EscrowVault{
		Market:           args.Market,
		YesTokenMint:     args.YesTokenMint,
		NoTokenMint:      args.NoTokenMint,
		CollateralMint:   args.CollateralMint,
		CollateralVault:  collateralVault,
		Admin:            admin,
		SettlementWorker: args.SettlementWorker,
		UnitPrice:        p.params.UnitPrice,
		Bump:             bump,
	}
	err = tx.InvokeSigned(ProgramID, vaultSeeds(args.Market), bump, func() error {
		return VaultAccount.Init(tx, addr, v)
	})
	if err != nil {
		return common.Address{}, err
	}
	return addr, tx.Emit(domain.ProgramVault, domain.EventVaultInitialized, args.Market, domain.VaultInitialized{
		Market:           args.Market,
		Vault:            addr,
		CollateralVault:  v.CollateralVault,
		SettlementWorker: v.SettlementWorker,
		UnitPrice:        v.UnitPrice,
	})
}

// Load returns the vault of market.
func Load(tx *ledger.Tx, market common.Address) (common.Address, *domain.EscrowVault, error) {
	addr, _ := Address(market)
	v, err := VaultAccount.Load(tx, addr)
	if err != nil {
		return common.Address{}, nil, err
	}
	if v.Market != market {
		return common.Address{}, nil, domain.ErrVaultMarketMismatch
	}
	return addr, v, nil
}

func (p *Program) signAsVault(tx *ledger.Tx, v *domain.EscrowVault, fn func() error) error {
	return tx.InvokeSigned(ProgramID, vaultSeeds(v.Market), v.Bump, fn)
}

// MintPairsArgs describes one pair-minting deposit.
type MintPairsArgs struct {
	Market       common.Address
	Pairs        uint64
	Source       common.Address // collateral token account paying for the pairs
	YesRecipient common.Address
	NoRecipient  common.Address
}

// MintPairs locks Pairs*unit_price collateral from Source and mints Pairs
// YES tokens to YesRecipient and Pairs NO tokens to NoRecipient. Only the
// settlement worker may mint, and only while the market trades.
func (p *Program) MintPairs(tx *ledger.Tx, worker common.Address, args MintPairsArgs) error {
	addr, v, err := Load(tx, args.Market)
	if err != nil {
		return err
	}
	if worker != v.SettlementWorker {
		return domain.ErrVaultUnauthorized
	}
	if err := tx.RequireSigner(worker); err != nil {
		return err
	}
	if args.Pairs == 0 {
		return domain.ErrInvalidPairCount
	}
	if v.IsSettled {
		return domain.ErrAlreadySettled
	}
	if v.IsMintingPaused {
		return domain.ErrMintingPaused
	}
	m, err := registry.Load(tx, args.Market)
	if err != nil {
		return err
	}
	if err := registry.AssertMarketOpen(m, tx.Now()); err != nil {
		return err
	}
	if m.YesTokenMint != v.YesTokenMint || m.NoTokenMint != v.NoTokenMint {
		return domain.ErrInvalidTokenMint
	}

	required, ok := mul(args.Pairs, v.UnitPrice)
	if !ok {
		return domain.ErrArithmeticOverflow
	}
	src, err := token.TokenAccount.Load(tx, args.Source)
	if err != nil {
		return err
	}
	if src.Mint != v.CollateralMint {
		return domain.ErrCollateralMintMismatch
	}
	before, err := token.Balance(tx, v.CollateralVault)
	if err != nil {
		return err
	}
	if err := token.Transfer(tx, args.Source, v.CollateralVault, required); err != nil {
		return err
	}
	after, err := token.Balance(tx, v.CollateralVault)
	if err != nil {
		return err
	}
	if after < before || after-before != required {
		return domain.ErrCollateralNotReceived
	}

	yesAcct, err := token.EnsureAssociated(tx, args.YesRecipient, v.YesTokenMint)
	if err != nil {
		return err
	}
	noAcct, err := token.EnsureAssociated(tx, args.NoRecipient, v.NoTokenMint)
	if err != nil {
		return err
	}
	err = p.signAsVault(tx, v, func() error {
		if err := token.MintTo(tx, v.YesTokenMint, yesAcct, args.Pairs); err != nil {
			return err
		}
		return token.MintTo(tx, v.NoTokenMint, noAcct, args.Pairs)
	})
	if err != nil {
		return err
	}

	var okLocked, okYes, okNo bool
	v.TotalLockedCollateral, okLocked = add(v.TotalLockedCollateral, required)
	v.TotalYesMinted, okYes = add(v.TotalYesMinted, args.Pairs)
	v.TotalNoMinted, okNo = add(v.TotalNoMinted, args.Pairs)
	if !okLocked || !okYes || !okNo {
		return domain.ErrArithmeticOverflow
	}
	if err := v.VerifyInvariant(); err != nil {
		return err
	}
	if err := VaultAccount.Save(tx, addr, v); err != nil {
		return err
	}
	return tx.Emit(domain.ProgramVault, domain.EventPairsMinted, args.Market, domain.PairsMinted{
		Market:       args.Market,
		Pairs:        args.Pairs,
		Collateral:   required,
		YesRecipient: args.YesRecipient,
		NoRecipient:  args.NoRecipient,
		TotalLocked:  v.TotalLockedCollateral,
	})
}

func loadAsAdmin(tx *ledger.Tx, market, admin common.Address) (common.Address, *domain.EscrowVault, error) {
	addr, v, err := Load(tx, market)
	if err != nil {
		return common.Address{}, nil, err
	}
	if admin != v.Admin {
		return common.Address{}, nil, domain.ErrVaultUnauthorized
	}
	if err := tx.RequireSigner(admin); err != nil {
		return common.Address{}, nil, err
	}
	return addr, v, nil
}

// Settle closes minting for good and enables claims. The market must be
// resolved; a vault settles exactly once.
func (p *Program) Settle(tx *ledger.Tx, admin, market common.Address) error {
	addr, v, err := loadAsAdmin(tx, market, admin)
	if err != nil {
		return err
	}
	if v.IsSettled {
		return domain.ErrAlreadySettled
	}
	m, err := registry.Load(tx, market)
	if err != nil {
		return err
	}
	if err := registry.AssertMarketResolved(m); err != nil {
		return err
	}
	v.IsSettled = true
	if err := VaultAccount.Save(tx, addr, v); err != nil {
		return err
	}
	return tx.Emit(domain.ProgramVault, domain.EventSettlementInitialized, market, domain.SettlementInitialized{
		Market:  market,
		Outcome: m.ResolutionOutcome,
		Locked:  v.TotalLockedCollateral,
	})
}

// Payout is the result of redeeming one holder's outcome tokens.
type Payout struct {
	YesBurned uint64 `json:"yes_burned"`
	NoBurned  uint64 `json:"no_burned"`
	Amount    uint64 `json:"amount"`
}

// CalculatePayout prices a holder's balances under outcome. Both sides are
// always burned. Invalid refunds half a unit per token on each side, so a
// full pair returns its unit price.
func CalculatePayout(outcome domain.Outcome, yes, no, unitPrice uint64) (Payout, error) {
	p := Payout{YesBurned: yes, NoBurned: no}
	var ok bool
	switch outcome {
	case domain.OutcomeYes:
		p.Amount, ok = mul(yes, unitPrice)
	case domain.OutcomeNo:
		p.Amount, ok = mul(no, unitPrice)
	case domain.OutcomeInvalid:
		y, okY := mul(yes, unitPrice)
		n, okN := mul(no, unitPrice)
		p.Amount, ok = add(y/2, n/2)
		ok = ok && okY && okN
	default:
		return Payout{}, domain.ErrMarketNotResolved
	}
	if !ok {
		return Payout{}, domain.ErrArithmeticOverflow
	}
	return p, nil
}

// ClaimPayout burns the holder's YES and NO balances and pays the winning
// side from the vault. A holder with nothing left to burn receives nothing.
func (p *Program) ClaimPayout(tx *ledger.Tx, holder, market common.Address) (Payout, error) {
	if err := tx.RequireSigner(holder); err != nil {
		return Payout{}, err
	}
	addr, v, err := Load(tx, market)
	if err != nil {
		return Payout{}, err
	}
	if !v.IsSettled {
		return Payout{}, domain.ErrNotSettled
	}
	m, err := registry.Load(tx, market)
	if err != nil {
		return Payout{}, err
	}
	if err := registry.AssertMarketResolved(m); err != nil {
		return Payout{}, err
	}

	yesAcct := token.AssociatedAddress(holder, v.YesTokenMint)
	noAcct := token.AssociatedAddress(holder, v.NoTokenMint)
	yes, err := token.Balance(tx, yesAcct)
	if err != nil {
		return Payout{}, err
	}
	no, err := token.Balance(tx, noAcct)
	if err != nil {
		return Payout{}, err
	}
	payout, err := CalculatePayout(m.ResolutionOutcome, yes, no, v.UnitPrice)
	if err != nil {
		return Payout{}, err
	}
	if yes == 0 && no == 0 {
		return payout, nil
	}
	if payout.Amount > v.TotalLockedCollateral {
		return Payout{}, domain.ErrInsufficientCollateral
	}

	if yes > 0 {
		if err := token.Burn(tx, v.YesTokenMint, yesAcct, yes); err != nil {
			return Payout{}, err
		}
	}
	if no > 0 {
		if err := token.Burn(tx, v.NoTokenMint, noAcct, no); err != nil {
			return Payout{}, err
		}
	}
	if payout.Amount > 0 {
		dest, err := token.EnsureAssociated(tx, holder, v.CollateralMint)
		if err != nil {
			return Payout{}, err
		}
		err = p.signAsVault(tx, v, func() error {
			return token.Transfer(tx, v.CollateralVault, dest, payout.Amount)
		})
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return Payout{}, domain.ErrInsufficientCollateral
			}
			return Payout{}, err
		}
	}

	v.TotalLockedCollateral -= payout.Amount
	v.TotalPaidOut += payout.Amount
	if err := v.VerifyInvariant(); err != nil {
		return Payout{}, err
	}
	if err := VaultAccount.Save(tx, addr, v); err != nil {
		return Payout{}, err
	}
	return payout, tx.Emit(domain.ProgramVault, domain.EventPayoutClaimed, market, domain.PayoutClaimed{
		Market:    market,
		Claimer:   holder,
		YesBurned: payout.YesBurned,
		NoBurned:  payout.NoBurned,
		Payout:    payout.Amount,
	})
}

// PauseMinting stops new pairs without touching the market state.
func (p *Program) PauseMinting(tx *ledger.Tx, admin, market common.Address) error {
	addr, v, err := loadAsAdmin(tx, market, admin)
	if err != nil {
		return err
	}
	if v.IsMintingPaused {
		return domain.ErrMintingAlreadyPaused
	}
	v.IsMintingPaused = true
	if err := VaultAccount.Save(tx, addr, v); err != nil {
		return err
	}
	return tx.Emit(domain.ProgramVault, domain.EventMintingPaused, market, domain.MintingToggled{Market: market, Admin: admin})
}

// ResumeMinting lifts a minting pause.
func (p *Program) ResumeMinting(tx *ledger.Tx, admin, market common.Address) error {
	addr, v, err := loadAsAdmin(tx, market, admin)
	if err != nil {
		return err
	}
	if !v.IsMintingPaused {
		return domain.ErrMintingNotPaused
	}
	v.IsMintingPaused = false
	if err := VaultAccount.Save(tx, addr, v); err != nil {
		return err
	}
	return tx.Emit(domain.ProgramVault, domain.EventMintingResumed, market, domain.MintingToggled{Market: market, Admin: admin})
}

func add(a, b uint64) (uint64, bool) {
	c := a + b
	return c, c >= a
}

func mul(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	return c, c/b == a
}
