// Package resolution is the Resolution Adapter program: an optimistic
// oracle where a bonded proposal becomes final unless disputed within the
// dispute window.
package resolution

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
	"github.com/alanyoungcy/marketvault/internal/registry"
	"github.com/alanyoungcy/marketvault/internal/token"
)

const (
	resolutionSeed = "resolution"

	MaxSubjectLength = 100
)

var (
	ProgramID       = ledger.ProgramID("resolution_adapter")
	ProposalAccount = ledger.NewKind[domain.ResolutionProposal]("ResolutionProposal", ProgramID)
)

func proposalSeeds(market common.Address) [][]byte {
	return [][]byte{[]byte(resolutionSeed), market.Bytes()}
}

// Address derives the resolution proposal account of a market.
func Address(market common.Address) (common.Address, uint8) {
	return ledger.MustFind(proposalSeeds(market), ProgramID)
}

// Program runs proposals, disputes and finalization. Outcomes are pushed
// into the registry in the same transaction.
type Program struct {
	params   domain.Params
	registry *registry.Program
}

func New(params domain.Params, reg *registry.Program) *Program {
	return &Program{params: params, registry: reg}
}

// Load returns the proposal account of market.
func Load(tx *ledger.Tx, market common.Address) (common.Address, *domain.ResolutionProposal, error) {
	addr, _ := Address(market)
	r, err := ProposalAccount.Load(tx, addr)
	if err != nil {
		return common.Address{}, nil, err
	}
	if r.Market != market {
		return common.Address{}, nil, domain.ErrBondVaultMismatch
	}
	return addr, r, nil
}

// InitializeResolution creates the proposal account and its bond vault.
// Only the market admin may call it; the admin also becomes the reward
// authority whose treasury pays the oracle reward.
func (p *Program) InitializeResolution(tx *ledger.Tx, admin, market common.Address, category domain.Category, bondMint common.Address) (common.Address, error) {
	m, err := registry.Load(tx, market)
	if err != nil {
		return common.Address{}, err
	}
	if admin != m.Creator {
		return common.Address{}, domain.ErrUnauthorized
	}
	if err := tx.RequireSigner(admin); err != nil {
		return common.Address{}, err
	}
	if category != domain.CategoryCrypto && category != domain.CategorySports {
		return common.Address{}, domain.ErrInvalidMarketCategory
	}
	addr, bump := Address(market)
	bondVault, err := token.EnsureAssociated(tx, addr, bondMint)
	if err != nil {
		return common.Address{}, err
	}
	r := &domain.ResolutionProposal{
		Market:          market,
		Category:        category,
		BondVault:       bondVault,
		BondMint:        bondMint,
		RewardAuthority: admin,
		Bump:            bump,
	}
	err = tx.InvokeSigned(ProgramID, proposalSeeds(market), bump, func() error {
		return ProposalAccount.Init(tx, addr, r)
	})
	if err != nil {
		return common.Address{}, err
	}
	return addr, tx.Emit(domain.ProgramResolution, domain.EventResolutionInitialized, market, domain.ResolutionInitialized{
		Market:    market,
		Category:  category,
		BondVault: bondVault,
	})
}

// checkProposable applies the rules shared by both propose variants, in
// order: finality, category, uniqueness, bond size, market readiness.
func (p *Program) checkProposable(tx *ledger.Tx, proposer common.Address, r *domain.ResolutionProposal, want domain.Category, bond uint64) error {
	if err := tx.RequireSigner(proposer); err != nil {
		return err
	}
	if r.IsFinalized {
		return domain.ErrAlreadyFinalized
	}
	if r.Category != want {
		return domain.ErrInvalidMarketCategory
	}
	if r.HasProposal() {
		return domain.ErrProposalAlreadyExists
	}
	if bond < p.params.MinProposalBond {
		return domain.ErrInsufficientBond
	}
	m, err := registry.Load(tx, r.Market)
	if err != nil {
		return err
	}
	return registry.AssertMarketExpired(m, tx.Now())
}

func checkSubject(subject string) error {
	if strings.TrimSpace(subject) == "" || utf8.RuneCountInString(subject) > MaxSubjectLength {
		return domain.ErrInvalidDataSource
	}
	return nil
}

func (p *Program) depositBond(tx *ledger.Tx, from common.Address, r *domain.ResolutionProposal, amount uint64) error {
	src := token.AssociatedAddress(from, r.BondMint)
	return token.Transfer(tx, src, r.BondVault, amount)
}

func (p *Program) accept(tx *ledger.Tx, addr, proposer common.Address, r *domain.ResolutionProposal, outcome domain.Outcome, bond uint64) error {
	if err := p.depositBond(tx, proposer, r, bond); err != nil {
		return err
	}
	now := tx.Now()
	r.Proposer = proposer
	r.ProposedOutcome = outcome
	r.BondAmount = bond
	r.ProposalTimestamp = now
	r.DisputeDeadline = now + domain.Seconds(p.params.DisputeWindow)
	if err := ProposalAccount.Save(tx, addr, r); err != nil {
		return err
	}
	return tx.Emit(domain.ProgramResolution, domain.EventProposalSubmitted, r.Market, domain.ProposalSubmitted{
		Market:     r.Market,
		Proposer:   proposer,
		Outcome:    outcome,
		BondAmount: bond,
		Deadline:   r.DisputeDeadline,
	})
}

// ProposeCryptoArgs is a price-based proposal. Quotes holds one reading per
// feed id, in the same order, as fetched from the price oracle.
type ProposeCryptoArgs struct {
	Market     common.Address
	Subject    string
	Condition  domain.PriceCondition
	Oracle     domain.OracleType
	FeedIDs    []string
	Quotes     []domain.PriceQuote
	BondAmount uint64
}

// ProposeCryptoOutcome validates the quotes, takes their median and
// proposes Yes when the condition holds at that price, No otherwise.
func (p *Program) ProposeCryptoOutcome(tx *ledger.Tx, proposer common.Address, args ProposeCryptoArgs) (domain.Outcome, error) {
	addr, r, err := Load(tx, args.Market)
	if err != nil {
		return domain.OutcomeNone, err
	}
	if err := p.checkProposable(tx, proposer, r, domain.CategoryCrypto, args.BondAmount); err != nil {
		return domain.OutcomeNone, err
	}
	if err := checkSubject(args.Subject); err != nil {
		return domain.OutcomeNone, err
	}
	if len(args.FeedIDs) == 0 {
		return domain.OutcomeNone, domain.ErrNoDataSources
	}
	if len(args.FeedIDs) > domain.MaxDataSources {
		return domain.OutcomeNone, domain.ErrTooManyDataSources
	}
	if len(args.Quotes) != len(args.FeedIDs) {
		return domain.OutcomeNone, domain.ErrInvalidDataSource
	}
	if err := args.Condition.Validate(); err != nil {
		return domain.OutcomeNone, err
	}

	lim := limitsFrom(p.params)
	now := tx.Now()
	prices := make([]uint64, len(args.FeedIDs))
	sources := make([]domain.DataSource, len(args.FeedIDs))
	for i, feed := range args.FeedIDs {
		q := args.Quotes[i]
		if feed == "" || utf8.RuneCountInString(feed) > domain.MaxSourceNameLength || q.FeedID != feed {
			return domain.OutcomeNone, domain.ErrInvalidDataSource
		}
		if err := ValidateQuote(q, now, lim); err != nil {
			return domain.OutcomeNone, fmt.Errorf("feed %s: %w", feed, err)
		}
		price, err := NormalizePrice(q.Price, q.Exponent)
		if err != nil {
			return domain.OutcomeNone, fmt.Errorf("feed %s: %w", feed, err)
		}
		prices[i] = price
		sources[i] = domain.DataSource{
			SourceType: args.Oracle,
			SourceName: feed,
			Price:      price,
			Timestamp:  q.PublishTime,
		}
	}
	median := Median(prices)
	if err := CheckDeviation(prices, median, lim.MaxDeviationBps); err != nil {
		return domain.OutcomeNone, err
	}
	met := args.Condition.IsMet(median)
	outcome := domain.OutcomeNo
	if met {
		outcome = domain.OutcomeYes
	}

	r.Subject = args.Subject
	r.Condition = args.Condition
	if err := r.SetDataSources(sources); err != nil {
		return domain.OutcomeNone, err
	}
	if err := tx.Emit(domain.ProgramResolution, domain.EventCryptoPriceValidated, args.Market, domain.CryptoPriceValidated{
		Market:       args.Market,
		Subject:      args.Subject,
		MedianPrice:  median,
		FeedCount:    len(prices),
		ConditionMet: met,
	}); err != nil {
		return domain.OutcomeNone, err
	}
	return outcome, p.accept(tx, addr, proposer, r, outcome, args.BondAmount)
}

// ProposeSportsArgs is a result-based proposal backed by 1 to 5 sources.
type ProposeSportsArgs struct {
	Market     common.Address
	Subject    string
	EventType  domain.SportsEventType
	Sources    []domain.DataSource
	BondAmount uint64
}

// ProposeSportsOutcome requires every source to report the same result
// and maps that result to an outcome.
func (p *Program) ProposeSportsOutcome(tx *ledger.Tx, proposer common.Address, args ProposeSportsArgs) (domain.Outcome, error) {
	addr, r, err := Load(tx, args.Market)
	if err != nil {
		return domain.OutcomeNone, err
	}
	if err := p.checkProposable(tx, proposer, r, domain.CategorySports, args.BondAmount); err != nil {
		return domain.OutcomeNone, err
	}
	if err := checkSubject(args.Subject); err != nil {
		return domain.OutcomeNone, err
	}
	if len(args.Sources) == 0 {
		return domain.OutcomeNone, domain.ErrNoDataSources
	}
	if len(args.Sources) > domain.MaxDataSources {
		return domain.OutcomeNone, domain.ErrTooManyDataSources
	}
	now := tx.Now()
	staleness := domain.Seconds(p.params.MaxOracleStaleness)
	for _, s := range args.Sources {
		if s.SourceName == "" || utf8.RuneCountInString(s.SourceName) > domain.MaxSourceNameLength {
			return domain.OutcomeNone, domain.ErrInvalidDataSource
		}
		if utf8.RuneCountInString(s.Result) > domain.MaxSourceNameLength {
			return domain.OutcomeNone, domain.ErrInvalidDataSource
		}
		if s.Timestamp > now {
			return domain.OutcomeNone, domain.ErrInvalidTimestamp
		}
		if now-s.Timestamp > staleness {
			return domain.OutcomeNone, domain.ErrStaleOracleData
		}
	}
	result, err := Consensus(args.Sources)
	if err != nil {
		return domain.OutcomeNone, err
	}
	outcome, err := SportsOutcome(args.EventType, result)
	if err != nil {
		return domain.OutcomeNone, err
	}

	r.Subject = args.Subject
	r.SportsEventType = args.EventType
	if err := r.SetDataSources(args.Sources); err != nil {
		return domain.OutcomeNone, err
	}
	if err := tx.Emit(domain.ProgramResolution, domain.EventSportsEventValidated, args.Market, domain.SportsEventValidated{
		Market:      args.Market,
		Subject:     args.Subject,
		Result:      result,
		SourceCount: len(args.Sources),
	}); err != nil {
		return domain.OutcomeNone, err
	}
	return outcome, p.accept(tx, addr, proposer, r, outcome, args.BondAmount)
}

// DisputeArgs challenges the proposed outcome.
type DisputeArgs struct {
	Market         common.Address
	CounterOutcome domain.Outcome
	Reason         string
	BondAmount     uint64
}

// RequiredDisputeBond is the larger of the configured minimum and the
// proposer's bond.
func (p *Program) RequiredDisputeBond(r *domain.ResolutionProposal) uint64 {
	return max(p.params.MinDisputeBond, r.BondAmount)
}

// DisputeProposal records a bonded dispute and restarts the dispute window
// from now.
func (p *Program) DisputeProposal(tx *ledger.Tx, disputer common.Address, args DisputeArgs) error {
	if err := tx.RequireSigner(disputer); err != nil {
		return err
	}
	addr, r, err := Load(tx, args.Market)
	if err != nil {
		return err
	}
	if r.IsFinalized {
		return domain.ErrAlreadyFinalized
	}
	if !r.HasProposal() {
		return domain.ErrNoActiveProposal
	}
	now := tx.Now()
	if !r.IsDisputeWindowOpen(now) {
		return domain.ErrDisputeWindowClosed
	}
	if disputer == r.Proposer {
		return domain.ErrCannotDisputeOwnProposal
	}
	if int(r.DisputeCount) >= domain.MaxDisputes {
		return domain.ErrMaxDisputesReached
	}
	if !args.CounterOutcome.Valid() || args.CounterOutcome == r.ProposedOutcome {
		return domain.ErrInvalidOutcome
	}
	if strings.TrimSpace(args.Reason) == "" || utf8.RuneCountInString(args.Reason) > domain.MaxDisputeReasonLength {
		return domain.ErrInvalidOutcome
	}
	if args.BondAmount < p.RequiredDisputeBond(r) {
		return domain.ErrInsufficientDisputeBond
	}
	if err := p.depositBond(tx, disputer, r, args.BondAmount); err != nil {
		return err
	}
	if err := r.AddDispute(domain.Dispute{
		Disputer:       disputer,
		CounterOutcome: args.CounterOutcome,
		Reason:         args.Reason,
		BondAmount:     args.BondAmount,
		Timestamp:      now,
	}); err != nil {
		return err
	}
	r.DisputeDeadline = now + domain.Seconds(p.params.DisputeWindow)
	if err := ProposalAccount.Save(tx, addr, r); err != nil {
		return err
	}
	return tx.Emit(domain.ProgramResolution, domain.EventProposalDisputed, args.Market, domain.ProposalDisputed{
		Market:         args.Market,
		Disputer:       disputer,
		CounterOutcome: args.CounterOutcome,
		BondAmount:     args.BondAmount,
		Deadline:       r.DisputeDeadline,
		DisputeCount:   r.DisputeCount,
	})
}

// Winner picks who collects the bond vault for outcome. Undisputed
// proposals only finalize to the proposed outcome; disputed ones go to the
// proposer if they were right, else to the first disputer who was.
func Winner(r *domain.ResolutionProposal, outcome domain.Outcome) (common.Address, error) {
	if !outcome.Valid() {
		return common.Address{}, domain.ErrInvalidOutcome
	}
	if outcome == r.ProposedOutcome {
		return r.Proposer, nil
	}
	for _, d := range r.ActiveDisputes() {
		if d.CounterOutcome == outcome {
			return d.Disputer, nil
		}
	}
	return common.Address{}, domain.ErrInvalidOutcome
}

func (p *Program) signAsProposal(tx *ledger.Tx, r *domain.ResolutionProposal, fn func() error) error {
	return tx.InvokeSigned(ProgramID, proposalSeeds(r.Market), r.Bump, fn)
}

// FinalizeResult reports how a finalization paid out.
type FinalizeResult struct {
	Winner common.Address `json:"winner"`
	Bonds  uint64         `json:"bonds"`
	Reward uint64         `json:"reward"`
}

// FinalizeOutcome closes the proposal once the dispute window has elapsed.
// The market's resolution adapter calls it and the reward authority
// co-signs to release the oracle reward from its treasury account.
func (p *Program) FinalizeOutcome(tx *ledger.Tx, adapter, market common.Address, outcome domain.Outcome) (FinalizeResult, error) {
	addr, r, err := Load(tx, market)
	if err != nil {
		return FinalizeResult{}, err
	}
	m, err := registry.Load(tx, market)
	if err != nil {
		return FinalizeResult{}, err
	}
	if adapter != m.ResolutionAdapter {
		return FinalizeResult{}, domain.ErrInvalidResolutionAdapter
	}
	if err := tx.RequireSigner(adapter); err != nil {
		return FinalizeResult{}, err
	}
	if r.IsFinalized {
		return FinalizeResult{}, domain.ErrAlreadyFinalized
	}
	if !r.HasProposal() {
		return FinalizeResult{}, domain.ErrNoActiveProposal
	}
	if tx.Now() < r.DisputeDeadline {
		return FinalizeResult{}, domain.ErrDisputeWindowOpen
	}
	if err := tx.RequireSigner(r.RewardAuthority); err != nil {
		return FinalizeResult{}, err
	}
	winner, err := Winner(r, outcome)
	if err != nil {
		return FinalizeResult{}, err
	}

	bonds, err := token.Balance(tx, r.BondVault)
	if err != nil {
		return FinalizeResult{}, err
	}
	dest, err := token.EnsureAssociated(tx, winner, r.BondMint)
	if err != nil {
		return FinalizeResult{}, err
	}
	if bonds > 0 {
		err = p.signAsProposal(tx, r, func() error {
			return token.Transfer(tx, r.BondVault, dest, bonds)
		})
		if err != nil {
			return FinalizeResult{}, err
		}
	}
	reward := p.params.OracleReward
	if reward > 0 {
		treasury := token.AssociatedAddress(r.RewardAuthority, r.BondMint)
		if err := token.Transfer(tx, treasury, dest, reward); err != nil {
			return FinalizeResult{}, fmt.Errorf("oracle reward: %w", err)
		}
	}

	if err := p.registry.FinalizeMarket(tx, adapter, market, outcome); err != nil {
		return FinalizeResult{}, err
	}
	r.IsFinalized = true
	r.FinalOutcome = outcome
	if err := ProposalAccount.Save(tx, addr, r); err != nil {
		return FinalizeResult{}, err
	}
	res := FinalizeResult{Winner: winner, Bonds: bonds, Reward: reward}
	return res, tx.Emit(domain.ProgramResolution, domain.EventOutcomeFinalized, market, domain.OutcomeFinalized{
		Market:  market,
		Outcome: outcome,
		Winner:  winner,
		Bonds:   bonds,
		Reward:  reward,
	})
}

// EmergencyResolve finalizes without the oracle flow. Every recorded bond
// goes back to its depositor. No proposal is required. On a market already
// resolved in the registry (cancelled or emergency-finalized there) the
// registry outcome wins and the outcome argument is ignored.
func (p *Program) EmergencyResolve(tx *ledger.Tx, admin, market common.Address, outcome domain.Outcome, reason string) error {
	addr, r, err := Load(tx, market)
	if err != nil {
		return err
	}
	m, err := registry.Load(tx, market)
	if err != nil {
		return err
	}
	if admin != m.Creator {
		return domain.ErrUnauthorized
	}
	if err := tx.RequireSigner(admin); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" || utf8.RuneCountInString(reason) > domain.MaxEmergencyReasonLength {
		return domain.ErrInvalidOutcome
	}
	if !outcome.Valid() {
		return domain.ErrInvalidOutcome
	}
	if r.IsFinalized {
		return domain.ErrAlreadyFinalized
	}

	var refunded uint64
	refund := func(to common.Address, amount uint64) error {
		if amount == 0 {
			return nil
		}
		dest, err := token.EnsureAssociated(tx, to, r.BondMint)
		if err != nil {
			return err
		}
		if err := p.signAsProposal(tx, r, func() error {
			return token.Transfer(tx, r.BondVault, dest, amount)
		}); err != nil {
			return err
		}
		refunded += amount
		return nil
	}
	if r.HasProposal() {
		if err := refund(r.Proposer, r.BondAmount); err != nil {
			return err
		}
	}
	for _, d := range r.ActiveDisputes() {
		if err := refund(d.Disputer, d.BondAmount); err != nil {
			return err
		}
	}

	// A market the admin already settled through the registry keeps its
	// recorded outcome; only the bonds are released here.
	if m.IsResolved() {
		outcome = m.ResolutionOutcome
	} else if err := p.registry.EmergencyFinalizeMarket(tx, admin, market, outcome, reason); err != nil {
		return err
	}
	r.IsFinalized = true
	r.IsEmergencyResolved = true
	r.FinalOutcome = outcome
	if err := ProposalAccount.Save(tx, addr, r); err != nil {
		return err
	}
	return tx.Emit(domain.ProgramResolution, domain.EventEmergencyResolution, market, domain.EmergencyResolution{
		Market:   market,
		Outcome:  outcome,
		Reason:   reason,
		Refunded: refunded,
	})
}
