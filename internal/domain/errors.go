package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrConflict         = errors.New("concurrent modification")
	ErrRateLimited      = errors.New("rate limited")
	ErrLockHeld         = errors.New("lock already held")
	ErrReplay           = errors.New("transaction already submitted")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrBadInstruction   = errors.New("malformed instruction")
)

// ErrorKind classifies a ProgramError by who can correct it.
type ErrorKind uint8

const (
	KindValidation ErrorKind = iota + 1
	KindState
	KindAuthorization
	KindStructural
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindAuthorization:
		return "authorization"
	case KindStructural:
		return "structural"
	default:
		return "unknown"
	}
}

// ProgramError is a named rejection raised by one of the on-ledger programs.
// Every ProgramError aborts the transaction that raised it.
type ProgramError struct {
	Program string
	Code    uint32
	Name    string
	Kind    ErrorKind
	Message string
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("%s error %d %s: %s", e.Program, e.Code, e.Name, e.Message)
}

func progErr(program string, code uint32, name string, kind ErrorKind, msg string) *ProgramError {
	return &ProgramError{Program: program, Code: code, Name: name, Kind: kind, Message: msg}
}

// AsProgramError unwraps err to the ProgramError it carries, if any.
func AsProgramError(err error) (*ProgramError, bool) {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Runtime (account allocation and loading). These are structural failures,
// never named validation errors.
var (
	ErrAccountAlreadyInUse  = progErr("system", 0, "AccountAlreadyInUse", KindStructural, "account already holds data")
	ErrAccountNotFound      = progErr("system", 1, "AccountNotFound", KindStructural, "account does not exist")
	ErrAccountOwnerMismatch = progErr("system", 2, "AccountOwnerMismatch", KindStructural, "account is owned by another program")
	ErrAccountDiscriminator = progErr("system", 3, "AccountDiscriminatorMismatch", KindStructural, "account data has the wrong type")
	ErrAccountDecode        = progErr("system", 4, "AccountDidNotDeserialize", KindStructural, "account data is corrupt")
	ErrMaxSeedLength        = progErr("system", 5, "MaxSeedLengthExceeded", KindStructural, "seed too long for address derivation")
	ErrMissingSigner        = progErr("system", 6, "MissingRequiredSignature", KindAuthorization, "a required signature is missing")
)

// Market Registry.
var (
	ErrUnauthorized             = progErr("registry", 6000, "Unauthorized", KindAuthorization, "only the market admin can perform this action")
	ErrInvalidMarketState       = progErr("registry", 6001, "InvalidMarketState", KindState, "invalid market state for this operation")
	ErrInvalidStateTransition   = progErr("registry", 6002, "InvalidStateTransition", KindState, "state transition not allowed")
	ErrMarketAlreadyResolved    = progErr("registry", 6003, "MarketAlreadyResolved", KindState, "market has already been resolved")
	ErrMarketNotExpired         = progErr("registry", 6004, "MarketNotExpired", KindState, "market has not expired yet")
	ErrMarketExpired            = progErr("registry", 6005, "MarketExpired", KindState, "market has expired")
	ErrQuestionEmpty            = progErr("registry", 6006, "QuestionEmpty", KindValidation, "question must not be empty")
	ErrQuestionTooLong          = progErr("registry", 6007, "QuestionTooLong", KindValidation, "question exceeds maximum length")
	ErrDescriptionTooLong       = progErr("registry", 6008, "DescriptionTooLong", KindValidation, "description exceeds maximum length")
	ErrCategoryTooLong          = progErr("registry", 6009, "CategoryTooLong", KindValidation, "category exceeds maximum length")
	ErrResolutionSourceTooLong  = progErr("registry", 6010, "ResolutionSourceTooLong", KindValidation, "resolution source exceeds maximum length")
	ErrInvalidExpiryTimestamp   = progErr("registry", 6011, "InvalidExpiryTimestamp", KindValidation, "expiry must be in the future")
	ErrExpiryTooShort           = progErr("registry", 6012, "ExpiryTooShort", KindValidation, "expiry duration too short")
	ErrExpiryTooLong            = progErr("registry", 6013, "ExpiryTooLong", KindValidation, "expiry duration too long")
	ErrMarketAlreadyOpen        = progErr("registry", 6014, "MarketAlreadyOpen", KindState, "cannot modify market after trading has started")
	ErrResolutionWindowClosed   = progErr("registry", 6015, "ResolutionWindowClosed", KindState, "resolution window has closed")
	ErrInvalidOutcome           = progErr("registry", 6016, "InvalidOutcome", KindValidation, "invalid outcome or reason")
	ErrInvalidResolutionAdapter = progErr("registry", 6017, "InvalidResolutionAdapter", KindAuthorization, "caller is not the resolution adapter")
	ErrMarketNotOpen            = progErr("registry", 6018, "MarketNotOpen", KindState, "market is not open for trading")
	ErrMarketNotResolved        = progErr("registry", 6019, "MarketNotResolved", KindState, "market has not been resolved yet")
	ErrArithmeticOverflow       = progErr("registry", 6020, "ArithmeticOverflow", KindValidation, "arithmetic overflow")
	ErrInvalidTokenMint         = progErr("registry", 6021, "InvalidTokenMint", KindValidation, "token mint does not match the market")
	ErrInvalidEscrowVault       = progErr("registry", 6022, "InvalidEscrowVault", KindValidation, "escrow vault does not match the market")
)

// Escrow Vault.
var (
	ErrInvalidPairCount       = progErr("vault", 6100, "InvalidPairCount", KindValidation, "pair count must be greater than zero")
	ErrAlreadySettled         = progErr("vault", 6101, "AlreadySettled", KindState, "vault has already been settled")
	ErrNotSettled             = progErr("vault", 6102, "NotSettled", KindState, "vault has not been settled yet")
	ErrMintingPaused          = progErr("vault", 6103, "MintingPaused", KindState, "minting is paused")
	ErrMintingNotPaused       = progErr("vault", 6104, "MintingNotPaused", KindState, "minting is not paused")
	ErrCollateralNotReceived  = progErr("vault", 6105, "CollateralNotReceived", KindState, "vault balance did not increase by the deposit")
	ErrInsufficientCollateral = progErr("vault", 6106, "InsufficientCollateral", KindState, "vault holds less collateral than the payout")
	ErrInvariantViolation     = progErr("vault", 6107, "InvariantViolationCollateralMismatch", KindState, "locked collateral does not match minted pairs")
	ErrVaultMarketMismatch    = progErr("vault", 6108, "MarketRegistryMismatch", KindValidation, "vault is bound to another market")
	ErrCollateralMintMismatch = progErr("vault", 6109, "CollateralMintMismatch", KindValidation, "collateral account uses the wrong mint")
	ErrMintingAlreadyPaused   = progErr("vault", 6110, "MintingAlreadyPaused", KindState, "minting is already paused")
	ErrVaultUnauthorized      = progErr("vault", 6111, "Unauthorized", KindAuthorization, "caller is not allowed to use this vault")
)

// Resolution Adapter.
var (
	ErrInsufficientBond         = progErr("resolution", 6200, "InsufficientBond", KindValidation, "proposal bond is below the minimum")
	ErrInsufficientDisputeBond  = progErr("resolution", 6201, "InsufficientDisputeBond", KindValidation, "dispute bond is below the required minimum")
	ErrTooManyDataSources       = progErr("resolution", 6202, "TooManyDataSources", KindValidation, "too many data sources")
	ErrNoDataSources            = progErr("resolution", 6203, "NoDataSources", KindValidation, "no data sources provided")
	ErrDataSourceDisagreement   = progErr("resolution", 6204, "DataSourceDisagreement", KindValidation, "data sources disagree on the result")
	ErrInvalidDataSource        = progErr("resolution", 6205, "InvalidDataSource", KindValidation, "data source name or event identifier too long")
	ErrStaleOracleData          = progErr("resolution", 6206, "StaleOracleData", KindValidation, "oracle data is too stale")
	ErrLowPriceConfidence       = progErr("resolution", 6207, "LowPriceConfidence", KindValidation, "price confidence interval too wide")
	ErrPriceDeviationTooHigh    = progErr("resolution", 6208, "PriceDeviationTooHigh", KindValidation, "price feeds deviate too much")
	ErrInvalidOraclePrice       = progErr("resolution", 6209, "InvalidOraclePrice", KindValidation, "oracle price is not usable")
	ErrInvalidEventOutcome      = progErr("resolution", 6210, "InvalidEventOutcome", KindValidation, "event result does not map to an outcome")
	ErrInvalidMarketCategory    = progErr("resolution", 6211, "InvalidMarketCategory", KindValidation, "operation does not match the resolution category")
	ErrProposalAlreadyExists    = progErr("resolution", 6212, "ProposalAlreadyExists", KindState, "resolution proposal already exists")
	ErrNoActiveProposal         = progErr("resolution", 6213, "NoActiveProposal", KindState, "no proposal has been submitted")
	ErrAlreadyFinalized         = progErr("resolution", 6214, "AlreadyFinalized", KindState, "resolution already finalized")
	ErrDisputeWindowOpen        = progErr("resolution", 6215, "DisputeWindowOpen", KindState, "dispute window has not closed yet")
	ErrDisputeWindowClosed      = progErr("resolution", 6216, "DisputeWindowClosed", KindState, "dispute window has closed")
	ErrMaxDisputesReached       = progErr("resolution", 6217, "MaxDisputesReached", KindState, "maximum number of disputes reached")
	ErrCannotDisputeOwnProposal = progErr("resolution", 6218, "CannotDisputeOwnProposal", KindAuthorization, "proposer cannot dispute own proposal")
	ErrInvalidTimestamp         = progErr("resolution", 6219, "InvalidTimestamp", KindValidation, "data source timestamp is in the future")
	ErrBondVaultMismatch        = progErr("resolution", 6220, "BondVaultMismatch", KindValidation, "bond vault does not match the proposal")
)

// Token program.
var (
	ErrInsufficientFunds     = progErr("token", 6300, "InsufficientFunds", KindValidation, "insufficient token balance")
	ErrTokenOwnerMismatch    = progErr("token", 6301, "OwnerMismatch", KindAuthorization, "token account owner did not sign")
	ErrTokenMintMismatch     = progErr("token", 6302, "MintMismatch", KindValidation, "token account belongs to another mint")
	ErrMintAuthorityMismatch = progErr("token", 6303, "MintAuthorityMismatch", KindAuthorization, "mint authority did not sign")
)
