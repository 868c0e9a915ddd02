package domain

import "github.com/ethereum/go-ethereum/common"

// EscrowVault custodies the collateral of one market and tracks the paired
// outcome-token supply minted against it.
type EscrowVault struct {
	Market                common.Address `json:"market"`
	YesTokenMint          common.Address `json:"yes_token_mint"`
	NoTokenMint           common.Address `json:"no_token_mint"`
	CollateralMint        common.Address `json:"collateral_mint"`
	CollateralVault       common.Address `json:"collateral_vault"`
	Admin                 common.Address `json:"admin"`
	SettlementWorker      common.Address `json:"settlement_worker"`
	UnitPrice             uint64         `json:"unit_price"`
	TotalLockedCollateral uint64         `json:"total_locked_collateral"`
	TotalYesMinted        uint64         `json:"total_yes_minted"`
	TotalNoMinted         uint64         `json:"total_no_minted"`
	TotalPaidOut          uint64         `json:"total_paid_out"`
	IsSettled             bool           `json:"is_settled"`
	IsMintingPaused       bool           `json:"is_minting_paused"`
	Bump                  uint8          `json:"bump"`
}

// CanMint reports whether new pairs may be minted.
func (v *EscrowVault) CanMint() bool { return !v.IsSettled && !v.IsMintingPaused }

// VerifyInvariant checks the solvency invariant: both sides were minted in
// equal amounts and every minted pair is backed by unit_price collateral,
// either still locked or already paid out.
func (v *EscrowVault) VerifyInvariant() error {
	if v.TotalYesMinted != v.TotalNoMinted {
		return ErrInvariantViolation
	}
	hi, backing := mulOverflows(v.TotalYesMinted, v.UnitPrice)
	if hi {
		return ErrInvariantViolation
	}
	held := v.TotalLockedCollateral + v.TotalPaidOut
	if held < v.TotalLockedCollateral || held != backing {
		return ErrInvariantViolation
	}
	return nil
}

func mulOverflows(a, b uint64) (bool, uint64) {
	if a == 0 || b == 0 {
		return false, 0
	}
	c := a * b
	return c/b != a, c
}
