package domain

import "github.com/ethereum/go-ethereum/common"

// Program names used in events and errors.
const (
	ProgramToken      = "token"
	ProgramRegistry   = "registry"
	ProgramVault      = "vault"
	ProgramResolution = "resolution"
)

// Event names.
const (
	EventMarketCreated         = "MarketCreated"
	EventMarketStateChanged    = "MarketStateChanged"
	EventMarketResolved        = "MarketResolved"
	EventMarketMetadataUpdated = "MarketMetadataUpdated"
	EventMarketCancelled       = "MarketCancelled"

	EventVaultInitialized      = "VaultInitialized"
	EventPairsMinted           = "PairsMinted"
	EventSettlementInitialized = "SettlementInitialized"
	EventPayoutClaimed         = "PayoutClaimed"
	EventMintingPaused         = "MintingPaused"
	EventMintingResumed        = "MintingResumed"

	EventResolutionInitialized = "ResolutionInitialized"
	EventProposalSubmitted     = "ProposalSubmitted"
	EventCryptoPriceValidated  = "CryptoPriceValidated"
	EventSportsEventValidated  = "SportsEventValidated"
	EventProposalDisputed      = "ProposalDisputed"
	EventOutcomeFinalized      = "OutcomeFinalized"
	EventEmergencyResolution   = "EmergencyResolution"
)

type MarketCreatedEvent struct {
	Market   common.Address `json:"market"`
	MarketID MarketID       `json:"market_id"`
	Creator  common.Address `json:"creator"`
	Question string         `json:"question"`
	ExpireAt uint64         `json:"expire_at"`
}

type MarketStateChanged struct {
	Market common.Address `json:"market"`
	From   MarketState    `json:"from"`
	To     MarketState    `json:"to"`
}

type MarketResolvedEvent struct {
	Market     common.Address `json:"market"`
	Outcome    Outcome        `json:"outcome"`
	ResolvedAt uint64         `json:"resolved_at"`
	Emergency  bool           `json:"emergency"`
	Reason     string         `json:"reason,omitempty"`
}

type MarketMetadataUpdated struct {
	Market      common.Address `json:"market"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
}

type MarketCancelled struct {
	Market    common.Address `json:"market"`
	PrevState MarketState    `json:"prev_state"`
}

type VaultInitialized struct {
	Market           common.Address `json:"market"`
	Vault            common.Address `json:"vault"`
	CollateralVault  common.Address `json:"collateral_vault"`
	SettlementWorker common.Address `json:"settlement_worker"`
	UnitPrice        uint64         `json:"unit_price"`
}

type PairsMinted struct {
	Market       common.Address `json:"market"`
	Pairs        uint64         `json:"pairs"`
	Collateral   uint64         `json:"collateral"`
	YesRecipient common.Address `json:"yes_recipient"`
	NoRecipient  common.Address `json:"no_recipient"`
	TotalLocked  uint64         `json:"total_locked"`
}

type SettlementInitialized struct {
	Market  common.Address `json:"market"`
	Outcome Outcome        `json:"outcome"`
	Locked  uint64         `json:"locked"`
}

type PayoutClaimed struct {
	Market    common.Address `json:"market"`
	Claimer   common.Address `json:"claimer"`
	YesBurned uint64         `json:"yes_burned"`
	NoBurned  uint64         `json:"no_burned"`
	Payout    uint64         `json:"payout"`
}

type MintingToggled struct {
	Market common.Address `json:"market"`
	Admin  common.Address `json:"admin"`
}

type ResolutionInitialized struct {
	Market    common.Address `json:"market"`
	Category  Category       `json:"category"`
	BondVault common.Address `json:"bond_vault"`
}

type ProposalSubmitted struct {
	Market     common.Address `json:"market"`
	Proposer   common.Address `json:"proposer"`
	Outcome    Outcome        `json:"outcome"`
	BondAmount uint64         `json:"bond_amount"`
	Deadline   uint64         `json:"dispute_deadline"`
}

type CryptoPriceValidated struct {
	Market       common.Address `json:"market"`
	Subject      string         `json:"subject"`
	MedianPrice  uint64         `json:"median_price"`
	FeedCount    int            `json:"feed_count"`
	ConditionMet bool           `json:"condition_met"`
}

type SportsEventValidated struct {
	Market      common.Address `json:"market"`
	Subject     string         `json:"subject"`
	Result      string         `json:"result"`
	SourceCount int            `json:"source_count"`
}

type ProposalDisputed struct {
	Market         common.Address `json:"market"`
	Disputer       common.Address `json:"disputer"`
	CounterOutcome Outcome        `json:"counter_outcome"`
	BondAmount     uint64         `json:"bond_amount"`
	Deadline       uint64         `json:"dispute_deadline"`
	DisputeCount   uint8          `json:"dispute_count"`
}

type OutcomeFinalized struct {
	Market  common.Address `json:"market"`
	Outcome Outcome        `json:"outcome"`
	Winner  common.Address `json:"winner"`
	Bonds   uint64         `json:"bonds_paid"`
	Reward  uint64         `json:"reward"`
}

type EmergencyResolution struct {
	Market   common.Address `json:"market"`
	Outcome  Outcome        `json:"outcome"`
	Reason   string         `json:"reason"`
	Refunded uint64         `json:"refunded"`
}
