package domain

import "time"

// PriceDecimals is the fixed-point precision oracle prices are normalised to.
const PriceDecimals = 8

// Params are the protocol constants shared by the programs.
type Params struct {
	UnitPrice             uint64
	CollateralDecimals    uint8
	MinProposalBond       uint64
	MinDisputeBond        uint64
	DisputeWindow         time.Duration
	OracleReward          uint64
	MaxOracleStaleness    time.Duration
	MaxPriceDeviationBps  uint64
	MaxPriceConfidenceBps uint64
	MinExpiry             time.Duration
	MaxExpiry             time.Duration
	ResolutionWindow      time.Duration
}

// DefaultParams matches a 6-decimal collateral token: one pair costs one
// whole collateral unit, bonds are 1000 units and the oracle reward 100.
func DefaultParams() Params {
	return Params{
		UnitPrice:             1_000_000,
		CollateralDecimals:    6,
		MinProposalBond:       1_000_000_000,
		MinDisputeBond:        1_000_000_000,
		DisputeWindow:         24 * time.Hour,
		OracleReward:          100_000_000,
		MaxOracleStaleness:    5 * time.Minute,
		MaxPriceDeviationBps:  500,
		MaxPriceConfidenceBps: 1000,
		MinExpiry:             time.Hour,
		MaxExpiry:             365 * 24 * time.Hour,
		ResolutionWindow:      7 * 24 * time.Hour,
	}
}

// Seconds converts d to whole ledger seconds.
func Seconds(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Second)
}
