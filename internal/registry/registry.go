// Package registry is the Market Registry program. It owns Market accounts
// and their lifecycle: Created, Open, Paused, Resolving and Resolved.
package registry

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
	"github.com/alanyoungcy/marketvault/internal/token"
)

const (
	marketSeed  = "market"
	yesMintSeed = "yes_mint"
	noMintSeed  = "no_mint"

	// OutcomeTokenDecimals matches the collateral token so one token is one
	// collateral unit.
	OutcomeTokenDecimals = 6
)

var (
	ProgramID     = ledger.ProgramID("market_registry")
	MarketAccount = ledger.NewKind[domain.Market]("Market", ProgramID)
)

func marketSeeds(id domain.MarketID) [][]byte {
	return [][]byte{[]byte(marketSeed), id.Bytes()}
}

// MarketAddress derives the account address of a market id.
func MarketAddress(id domain.MarketID) (common.Address, uint8) {
	return ledger.MustFind(marketSeeds(id), ProgramID)
}

func mintSeeds(kind string, market common.Address) [][]byte {
	return [][]byte{[]byte(kind), market.Bytes()}
}

// OutcomeMints derives the YES and NO mint addresses of a market.
func OutcomeMints(market common.Address) (yes, no common.Address) {
	yes, _ = ledger.MustFind(mintSeeds(yesMintSeed, market), ProgramID)
	no, _ = ledger.MustFind(mintSeeds(noMintSeed, market), ProgramID)
	return yes, no
}

// Program carries the protocol parameters the registry enforces.
type Program struct {
	params domain.Params
}

func New(params domain.Params) *Program {
	return &Program{params: params}
}

// InitializeMarketArgs are the creator-chosen fields of a new market.
// EscrowVault is the vault address the market binds to; the outcome mints
// are created here with that vault as their mint authority.
type InitializeMarketArgs struct {
	MarketID          domain.MarketID
	Question          string
	Description       string
	Category          string
	ResolutionSource  string
	ExpireAt          uint64
	EscrowVault       common.Address
	ResolutionAdapter common.Address
}

func (p *Program) validate(args InitializeMarketArgs, now uint64) error {
	if strings.TrimSpace(args.Question) == "" {
		return domain.ErrQuestionEmpty
	}
	if utf8.RuneCountInString(args.Question) > domain.MaxQuestionLength {
		return domain.ErrQuestionTooLong
	}
	if utf8.RuneCountInString(args.Description) > domain.MaxDescriptionLength {
		return domain.ErrDescriptionTooLong
	}
	if utf8.RuneCountInString(args.Category) > domain.MaxCategoryLength {
		return domain.ErrCategoryTooLong
	}
	if utf8.RuneCountInString(args.ResolutionSource) > domain.MaxResolutionSourceLength {
		return domain.ErrResolutionSourceTooLong
	}
	if args.ExpireAt <= now {
		return domain.ErrInvalidExpiryTimestamp
	}
	d := args.ExpireAt - now
	if d < domain.Seconds(p.params.MinExpiry) {
		return domain.ErrExpiryTooShort
	}
	if d > domain.Seconds(p.params.MaxExpiry) {
		return domain.ErrExpiryTooLong
	}
	if args.EscrowVault == (common.Address{}) {
		return domain.ErrInvalidEscrowVault
	}
	if args.ResolutionAdapter == (common.Address{}) {
		return domain.ErrInvalidResolutionAdapter
	}
	return nil
}

// InitializeMarket creates the market account and its two outcome mints.
// A market id that was used before fails with ErrAccountAlreadyInUse.
func (p *Program) InitializeMarket(tx *ledger.Tx, creator common.Address, args InitializeMarketArgs) (common.Address, error) {
	if err := tx.RequireSigner(creator); err != nil {
		return common.Address{}, err
	}
	if err := p.validate(args, tx.Now()); err != nil {
		return common.Address{}, err
	}

	addr, bump := MarketAddress(args.MarketID)
	yesMint, noMint := OutcomeMints(addr)
	m := &domain.Market{
		MarketID:          args.MarketID,
		Question:          args.Question,
		Description:       args.Description,
		Category:          args.Category,
		ResolutionSource:  args.ResolutionSource,
		Creator:           creator,
		ExpireAt:          args.ExpireAt,
		YesTokenMint:      yesMint,
		NoTokenMint:       noMint,
		EscrowVault:       args.EscrowVault,
		ResolutionAdapter: args.ResolutionAdapter,
		State:             domain.MarketCreated,
		CreatedAt:         tx.Now(),
		Bump:              bump,
	}
	err := tx.InvokeSigned(ProgramID, marketSeeds(args.MarketID), bump, func() error {
		return MarketAccount.Init(tx, addr, m)
	})
	if err != nil {
		return common.Address{}, err
	}
	for _, seed := range []string{yesMintSeed, noMintSeed} {
		seeds := mintSeeds(seed, addr)
		mintAddr, mintBump := ledger.MustFind(seeds, ProgramID)
		err := tx.InvokeSigned(ProgramID, seeds, mintBump, func() error {
			return token.CreateMint(tx, mintAddr, args.EscrowVault, OutcomeTokenDecimals)
		})
		if err != nil {
			return common.Address{}, fmt.Errorf("registry: create %s: %w", seed, err)
		}
	}

	return addr, tx.Emit(domain.ProgramRegistry, domain.EventMarketCreated, addr, domain.MarketCreatedEvent{
		Market:   addr,
		MarketID: m.MarketID,
		Creator:  creator,
		Question: m.Question,
		ExpireAt: m.ExpireAt,
	})
}

// Load returns the market stored at addr.
func Load(tx *ledger.Tx, addr common.Address) (*domain.Market, error) {
	return MarketAccount.Load(tx, addr)
}

// loadAsAdmin loads the market and checks caller is its creator and signed.
// Authorization is checked before any state precondition.
func loadAsAdmin(tx *ledger.Tx, addr, caller common.Address) (*domain.Market, error) {
	m, err := Load(tx, addr)
	if err != nil {
		return nil, err
	}
	if caller != m.Creator {
		return nil, domain.ErrUnauthorized
	}
	if err := tx.RequireSigner(caller); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *Program) transition(tx *ledger.Tx, addr common.Address, m *domain.Market, to domain.MarketState) error {
	from := m.State
	m.State = to
	if err := MarketAccount.Save(tx, addr, m); err != nil {
		return err
	}
	return tx.Emit(domain.ProgramRegistry, domain.EventMarketStateChanged, addr, domain.MarketStateChanged{
		Market: addr,
		From:   from,
		To:     to,
	})
}

// OpenMarket moves a Created market to Open. Expired markets cannot open.
func (p *Program) OpenMarket(tx *ledger.Tx, admin, addr common.Address) error {
	m, err := loadAsAdmin(tx, addr, admin)
	if err != nil {
		return err
	}
	if m.State != domain.MarketCreated {
		return domain.ErrInvalidMarketState
	}
	if m.IsExpired(tx.Now()) {
		return domain.ErrMarketExpired
	}
	return p.transition(tx, addr, m, domain.MarketOpen)
}

// PauseMarket moves an Open market to Paused.
func (p *Program) PauseMarket(tx *ledger.Tx, admin, addr common.Address) error {
	m, err := loadAsAdmin(tx, addr, admin)
	if err != nil {
		return err
	}
	if m.State != domain.MarketOpen {
		return domain.ErrInvalidMarketState
	}
	return p.transition(tx, addr, m, domain.MarketPaused)
}

// ResumeMarket moves a Paused market back to Open.
func (p *Program) ResumeMarket(tx *ledger.Tx, admin, addr common.Address) error {
	m, err := loadAsAdmin(tx, addr, admin)
	if err != nil {
		return err
	}
	if m.State != domain.MarketPaused {
		return domain.ErrInvalidStateTransition
	}
	return p.transition(tx, addr, m, domain.MarketOpen)
}

// ResolvingMarket moves an Open market to Resolving.
func (p *Program) ResolvingMarket(tx *ledger.Tx, admin, addr common.Address) error {
	m, err := loadAsAdmin(tx, addr, admin)
	if err != nil {
		return err
	}
	if m.State != domain.MarketOpen {
		return domain.ErrInvalidMarketState
	}
	return p.transition(tx, addr, m, domain.MarketResolving)
}

// FinalizeMarket records the outcome of a Resolving market. Only the
// market's resolution adapter may call it, and only between expiry and the
// end of the resolution window.
func (p *Program) FinalizeMarket(tx *ledger.Tx, adapter, addr common.Address, outcome domain.Outcome) error {
	m, err := Load(tx, addr)
	if err != nil {
		return err
	}
	if adapter != m.ResolutionAdapter {
		return domain.ErrInvalidResolutionAdapter
	}
	if err := tx.RequireSigner(adapter); err != nil {
		return err
	}
	if !outcome.Valid() {
		return domain.ErrInvalidOutcome
	}
	if m.IsResolved() {
		return domain.ErrMarketAlreadyResolved
	}
	if m.State != domain.MarketResolving {
		return domain.ErrInvalidMarketState
	}
	now := tx.Now()
	if !m.IsExpired(now) {
		return domain.ErrMarketNotExpired
	}
	if !m.InResolutionWindow(now, domain.Seconds(p.params.ResolutionWindow)) {
		return domain.ErrResolutionWindowClosed
	}
	return p.resolve(tx, addr, m, outcome, false, "")
}

func (p *Program) resolve(tx *ledger.Tx, addr common.Address, m *domain.Market, outcome domain.Outcome, emergency bool, reason string) error {
	m.Resolve(outcome, tx.Now())
	if err := MarketAccount.Save(tx, addr, m); err != nil {
		return err
	}
	return tx.Emit(domain.ProgramRegistry, domain.EventMarketResolved, addr, domain.MarketResolvedEvent{
		Market:     addr,
		Outcome:    outcome,
		ResolvedAt: m.ResolvedAt,
		Emergency:  emergency,
		Reason:     reason,
	})
}

// EmergencyFinalizeMarket resolves a market without expiry, window or state
// checks. Only an unresolved market can be finalized this way.
func (p *Program) EmergencyFinalizeMarket(tx *ledger.Tx, admin, addr common.Address, outcome domain.Outcome, reason string) error {
	m, err := loadAsAdmin(tx, addr, admin)
	if err != nil {
		return err
	}
	if !outcome.Valid() || !validReason(reason, domain.MaxEmergencyReasonLength) {
		return domain.ErrInvalidOutcome
	}
	if m.IsResolved() {
		return domain.ErrMarketAlreadyResolved
	}
	return p.resolve(tx, addr, m, outcome, true, reason)
}

// CancelMarket voids an unresolved market: it resolves Invalid so every
// holder can redeem at par.
func (p *Program) CancelMarket(tx *ledger.Tx, admin, addr common.Address) error {
	m, err := loadAsAdmin(tx, addr, admin)
	if err != nil {
		return err
	}
	if m.IsResolved() {
		return domain.ErrMarketAlreadyResolved
	}
	prev := m.State
	if err := p.resolve(tx, addr, m, domain.OutcomeInvalid, false, ""); err != nil {
		return err
	}
	return tx.Emit(domain.ProgramRegistry, domain.EventMarketCancelled, addr, domain.MarketCancelled{
		Market:    addr,
		PrevState: prev,
	})
}

// UpdateMarketMetadata changes description and/or category before trading
// starts. Nil fields are left untouched.
func (p *Program) UpdateMarketMetadata(tx *ledger.Tx, admin, addr common.Address, description, category *string) error {
	m, err := loadAsAdmin(tx, addr, admin)
	if err != nil {
		return err
	}
	if m.State != domain.MarketCreated {
		return domain.ErrMarketAlreadyOpen
	}
	if description != nil {
		if utf8.RuneCountInString(*description) > domain.MaxDescriptionLength {
			return domain.ErrDescriptionTooLong
		}
		m.Description = *description
	}
	if category != nil {
		if utf8.RuneCountInString(*category) > domain.MaxCategoryLength {
			return domain.ErrCategoryTooLong
		}
		m.Category = *category
	}
	if err := MarketAccount.Save(tx, addr, m); err != nil {
		return err
	}
	return tx.Emit(domain.ProgramRegistry, domain.EventMarketMetadataUpdated, addr, domain.MarketMetadataUpdated{
		Market:      addr,
		Description: m.Description,
		Category:    m.Category,
	})
}

func validReason(reason string, max int) bool {
	n := utf8.RuneCountInString(reason)
	return strings.TrimSpace(reason) != "" && n <= max
}
