package executor

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

// Instruction types.
const (
	OpCreateMarket            = "create_market"
	OpInitializeMarket        = "initialize_market"
	OpOpenMarket              = "open_market"
	OpPauseMarket             = "pause_market"
	OpResumeMarket            = "resume_market"
	OpResolvingMarket         = "resolving_market"
	OpFinalizeMarket          = "finalize_market"
	OpEmergencyFinalizeMarket = "emergency_finalize_market"
	OpCancelMarket            = "cancel_market"
	OpUpdateMarketMetadata    = "update_market_metadata"

	OpInitializeVault = "initialize_vault"
	OpMintPairs       = "mint_pairs"
	OpSettle          = "settle"
	OpClaimPayout     = "claim_payout"
	OpPauseMinting    = "pause_minting"
	OpResumeMinting   = "resume_minting"

	OpInitializeResolution = "initialize_resolution"
	OpProposeCrypto        = "propose_crypto_outcome"
	OpProposeSports        = "propose_sports_outcome"
	OpDisputeProposal      = "dispute_proposal"
	OpFinalizeOutcome      = "finalize_outcome"
	OpEmergencyResolve     = "emergency_resolve"

	OpCreateTokenAccount = "create_token_account"
	OpMintCollateral     = "mint_collateral"
	OpTransfer           = "transfer"
)

// Argument payloads. Only structural presence is checked here; every
// protocol rule is left to the programs so rejections carry their codes.

type MarketArgs struct {
	Market common.Address `json:"market" validate:"required"`
}

type CreateMarketArgs struct {
	MarketID           domain.MarketID `json:"market_id" validate:"required"`
	Question           string          `json:"question"`
	Description        string          `json:"description"`
	Category           string          `json:"category"`
	ResolutionSource   string          `json:"resolution_source"`
	ExpireAt           uint64          `json:"expire_at"`
	ResolutionAdapter  common.Address  `json:"resolution_adapter"`
	SettlementWorker   common.Address  `json:"settlement_worker" validate:"required"`
	CollateralMint     common.Address  `json:"collateral_mint"`
	ResolutionCategory domain.Category `json:"resolution_category"`
	BondMint           common.Address  `json:"bond_mint"`
}

type InitializeMarketArgs struct {
	MarketID          domain.MarketID `json:"market_id" validate:"required"`
	Question          string          `json:"question"`
	Description       string          `json:"description"`
	Category          string          `json:"category"`
	ResolutionSource  string          `json:"resolution_source"`
	ExpireAt          uint64          `json:"expire_at"`
	EscrowVault       common.Address  `json:"escrow_vault"`
	ResolutionAdapter common.Address  `json:"resolution_adapter"`
}

type OutcomeArgs struct {
	Market  common.Address `json:"market" validate:"required"`
	Outcome domain.Outcome `json:"outcome"`
}

type EmergencyArgs struct {
	Market  common.Address `json:"market" validate:"required"`
	Outcome domain.Outcome `json:"outcome"`
	Reason  string         `json:"reason"`
}

type UpdateMetadataArgs struct {
	Market      common.Address `json:"market" validate:"required"`
	Description *string        `json:"description"`
	Category    *string        `json:"category"`
}

type InitializeVaultArgs struct {
	Market           common.Address `json:"market" validate:"required"`
	YesTokenMint     common.Address `json:"yes_token_mint"`
	NoTokenMint      common.Address `json:"no_token_mint"`
	CollateralMint   common.Address `json:"collateral_mint"`
	SettlementWorker common.Address `json:"settlement_worker" validate:"required"`
}

type MintPairsArgs struct {
	Market common.Address `json:"market" validate:"required"`
	Pairs  uint64         `json:"pairs"`
	// Source defaults to the caller's associated collateral account.
	Source       common.Address `json:"source"`
	YesRecipient common.Address `json:"yes_recipient" validate:"required"`
	NoRecipient  common.Address `json:"no_recipient" validate:"required"`
}

type InitializeResolutionArgs struct {
	Market   common.Address  `json:"market" validate:"required"`
	Category domain.Category `json:"category"`
	BondMint common.Address  `json:"bond_mint"`
}

type ProposeCryptoArgs struct {
	Market     common.Address        `json:"market" validate:"required"`
	Subject    string                `json:"subject"`
	Condition  domain.PriceCondition `json:"condition"`
	Oracle     domain.OracleType     `json:"oracle"`
	FeedIDs    []string              `json:"feed_ids"`
	BondAmount uint64                `json:"bond_amount"`
}

type ProposeSportsArgs struct {
	Market     common.Address         `json:"market" validate:"required"`
	Subject    string                 `json:"subject"`
	EventType  domain.SportsEventType `json:"event_type"`
	Sources    []domain.DataSource    `json:"sources"`
	BondAmount uint64                 `json:"bond_amount"`
}

type DisputeArgs struct {
	Market         common.Address `json:"market" validate:"required"`
	CounterOutcome domain.Outcome `json:"counter_outcome"`
	Reason         string         `json:"reason"`
	BondAmount     uint64         `json:"bond_amount"`
}

type TokenAccountArgs struct {
	// Owner defaults to the caller.
	Owner common.Address `json:"owner"`
	Mint  common.Address `json:"mint" validate:"required"`
}

type MintCollateralArgs struct {
	Mint   common.Address `json:"mint" validate:"required"`
	Owner  common.Address `json:"owner" validate:"required"`
	Amount uint64         `json:"amount" validate:"gt=0"`
}

type TransferArgs struct {
	Mint   common.Address `json:"mint" validate:"required"`
	To     common.Address `json:"to" validate:"required"`
	Amount uint64         `json:"amount" validate:"gt=0"`
}
