package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Capacities of the fixed-size collections inside a ResolutionProposal.
const (
	MaxDataSources         = 5
	MaxDisputes            = 3
	MaxSourceNameLength    = 66
	MaxDisputeReasonLength = 100
)

// Category selects which proposal variant a resolution accepts.
type Category uint8

const (
	CategoryCrypto Category = iota
	CategorySports
)

func (c Category) String() string {
	switch c {
	case CategoryCrypto:
		return "crypto"
	case CategorySports:
		return "sports"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "crypto":
		return CategoryCrypto, nil
	case "sports":
		return CategorySports, nil
	default:
		return 0, fmt.Errorf("category %q: %w", s, ErrInvalidMarketCategory)
	}
}

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// OracleType names the provider behind a data source.
type OracleType uint8

const (
	OraclePyth OracleType = iota
	OracleSwitchboard
	OracleAPI3
	OracleRapidAPI
	OracleManual
)

var oracleTypeNames = [...]string{"pyth", "switchboard", "api3", "rapidapi", "manual"}

func (t OracleType) String() string {
	if int(t) < len(oracleTypeNames) {
		return oracleTypeNames[t]
	}
	return fmt.Sprintf("oracle(%d)", uint8(t))
}

func (t OracleType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *OracleType) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for i, name := range oracleTypeNames {
		if name == s {
			*t = OracleType(i)
			return nil
		}
	}
	return fmt.Errorf("oracle type %q: %w", s, ErrInvalidDataSource)
}

// ConditionKind tags the variant held by a PriceCondition.
type ConditionKind uint8

const (
	ConditionGreaterOrEqual ConditionKind = iota
	ConditionLessOrEqual
	ConditionBetween
)

// PriceCondition is the claim a crypto market resolves on. Prices use
// PriceDecimals fixed-point units. Target is used by the comparison
// variants, Min and Max by Between.
type PriceCondition struct {
	Kind   ConditionKind `json:"kind"`
	Target uint64        `json:"target,omitempty"`
	Min    uint64        `json:"min,omitempty"`
	Max    uint64        `json:"max,omitempty"`
}

func GreaterOrEqual(target uint64) PriceCondition {
	return PriceCondition{Kind: ConditionGreaterOrEqual, Target: target}
}

func LessOrEqual(target uint64) PriceCondition {
	return PriceCondition{Kind: ConditionLessOrEqual, Target: target}
}

func Between(min, max uint64) PriceCondition {
	return PriceCondition{Kind: ConditionBetween, Min: min, Max: max}
}

// IsMet evaluates the condition against price.
func (c PriceCondition) IsMet(price uint64) bool {
	switch c.Kind {
	case ConditionGreaterOrEqual:
		return price >= c.Target
	case ConditionLessOrEqual:
		return price <= c.Target
	case ConditionBetween:
		return price >= c.Min && price <= c.Max
	default:
		return false
	}
}

// Validate rejects unknown variants and empty ranges.
func (c PriceCondition) Validate() error {
	switch c.Kind {
	case ConditionGreaterOrEqual, ConditionLessOrEqual:
		return nil
	case ConditionBetween:
		if c.Min > c.Max {
			return fmt.Errorf("between condition min %d > max %d: %w", c.Min, c.Max, ErrInvalidOraclePrice)
		}
		return nil
	default:
		return fmt.Errorf("condition kind %d: %w", c.Kind, ErrInvalidOraclePrice)
	}
}

func (k ConditionKind) MarshalText() ([]byte, error) {
	switch k {
	case ConditionGreaterOrEqual:
		return []byte("greater_or_equal"), nil
	case ConditionLessOrEqual:
		return []byte("less_or_equal"), nil
	case ConditionBetween:
		return []byte("between"), nil
	default:
		return nil, fmt.Errorf("condition kind %d: %w", k, ErrInvalidOraclePrice)
	}
}

func (k *ConditionKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "greater_or_equal", "gte":
		*k = ConditionGreaterOrEqual
	case "less_or_equal", "lte":
		*k = ConditionLessOrEqual
	case "between":
		*k = ConditionBetween
	default:
		return fmt.Errorf("condition kind %q: %w", text, ErrInvalidOraclePrice)
	}
	return nil
}

// SportsEventType decides how an agreed sports result maps to an outcome.
type SportsEventType uint8

const (
	SportsWinner SportsEventType = iota
	SportsScoreThreshold
	SportsYesNo
)

func (t SportsEventType) MarshalText() ([]byte, error) {
	switch t {
	case SportsWinner:
		return []byte("winner"), nil
	case SportsScoreThreshold:
		return []byte("score_threshold"), nil
	case SportsYesNo:
		return []byte("yes_no"), nil
	default:
		return nil, fmt.Errorf("sports event type %d: %w", t, ErrInvalidEventOutcome)
	}
}

func (t *SportsEventType) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "winner":
		*t = SportsWinner
	case "score_threshold":
		*t = SportsScoreThreshold
	case "yes_no":
		*t = SportsYesNo
	default:
		return fmt.Errorf("sports event type %q: %w", text, ErrInvalidEventOutcome)
	}
	return nil
}

// DataSource is one piece of evidence recorded with a proposal. Crypto
// sources carry a normalised Price, sports sources a Result string.
type DataSource struct {
	SourceType    OracleType     `json:"source_type"`
	SourceName    string         `json:"source_name"`
	OracleAccount common.Address `json:"oracle_account"`
	Result        string         `json:"result,omitempty"`
	Price         uint64         `json:"price,omitempty"`
	Timestamp     uint64         `json:"timestamp"`
}

// Dispute is a bonded challenge of the proposed outcome.
type Dispute struct {
	Disputer       common.Address `json:"disputer"`
	CounterOutcome Outcome        `json:"counter_outcome"`
	Reason         string         `json:"reason"`
	BondAmount     uint64         `json:"bond_amount"`
	Timestamp      uint64         `json:"timestamp"`
}

// ResolutionProposal is the optimistic-oracle account of one market.
// DataSources and Disputes are fixed-capacity; the count fields say how many
// leading entries are in use.
type ResolutionProposal struct {
	Market              common.Address
	Category            Category
	BondVault           common.Address
	BondMint            common.Address
	RewardAuthority     common.Address
	Proposer            common.Address
	ProposedOutcome     Outcome
	BondAmount          uint64
	ProposalTimestamp   uint64
	DisputeDeadline     uint64
	Subject             string
	Condition           PriceCondition
	SportsEventType     SportsEventType
	DataSourceCount     uint8
	DataSources         [MaxDataSources]DataSource
	DisputeCount        uint8
	Disputes            [MaxDisputes]Dispute
	IsDisputed          bool
	IsFinalized         bool
	IsEmergencyResolved bool
	FinalOutcome        Outcome
	Bump                uint8
}

// HasProposal reports whether a proposal has been accepted.
func (r *ResolutionProposal) HasProposal() bool { return r.BondAmount > 0 }

// ActiveDataSources returns the populated data-source entries.
func (r *ResolutionProposal) ActiveDataSources() []DataSource {
	return append([]DataSource(nil), r.DataSources[:r.DataSourceCount]...)
}

// ActiveDisputes returns the recorded disputes in submission order.
func (r *ResolutionProposal) ActiveDisputes() []Dispute {
	return append([]Dispute(nil), r.Disputes[:r.DisputeCount]...)
}

// SetDataSources replaces the evidence list.
func (r *ResolutionProposal) SetDataSources(sources []DataSource) error {
	if len(sources) > MaxDataSources {
		return ErrTooManyDataSources
	}
	r.DataSources = [MaxDataSources]DataSource{}
	copy(r.DataSources[:], sources)
	r.DataSourceCount = uint8(len(sources))
	return nil
}

// AddDispute appends d, failing once the capacity is exhausted.
func (r *ResolutionProposal) AddDispute(d Dispute) error {
	if int(r.DisputeCount) >= MaxDisputes {
		return ErrMaxDisputesReached
	}
	r.Disputes[r.DisputeCount] = d
	r.DisputeCount++
	r.IsDisputed = true
	return nil
}

// IsDisputeWindowOpen reports whether disputes are still accepted at now.
func (r *ResolutionProposal) IsDisputeWindowOpen(now uint64) bool {
	return r.HasProposal() && now < r.DisputeDeadline
}

// TotalBonded sums every bond deposited into the bond vault.
func (r *ResolutionProposal) TotalBonded() uint64 {
	total := r.BondAmount
	for _, d := range r.Disputes[:r.DisputeCount] {
		total += d.BondAmount
	}
	return total
}

type resolutionJSON struct {
	Market              common.Address   `json:"market"`
	Category            Category         `json:"category"`
	BondVault           common.Address   `json:"bond_vault"`
	BondMint            common.Address   `json:"bond_mint"`
	RewardAuthority     common.Address   `json:"reward_authority"`
	Proposer            common.Address   `json:"proposer"`
	ProposedOutcome     Outcome          `json:"proposed_outcome"`
	BondAmount          uint64           `json:"bond_amount"`
	ProposalTimestamp   uint64           `json:"proposal_timestamp"`
	DisputeDeadline     uint64           `json:"dispute_deadline"`
	Subject             string           `json:"subject"`
	Condition           *PriceCondition  `json:"condition,omitempty"`
	SportsEventType     *SportsEventType `json:"sports_event_type,omitempty"`
	DataSources         []DataSource     `json:"data_sources"`
	Disputes            []Dispute        `json:"disputes"`
	IsDisputed          bool             `json:"is_disputed"`
	IsFinalized         bool             `json:"is_finalized"`
	IsEmergencyResolved bool             `json:"is_emergency_resolved"`
	FinalOutcome        Outcome          `json:"final_outcome"`
}

// MarshalJSON renders only the populated entries of the fixed-size lists.
func (r ResolutionProposal) MarshalJSON() ([]byte, error) {
	out := resolutionJSON{
		Market:              r.Market,
		Category:            r.Category,
		BondVault:           r.BondVault,
		BondMint:            r.BondMint,
		RewardAuthority:     r.RewardAuthority,
		Proposer:            r.Proposer,
		ProposedOutcome:     r.ProposedOutcome,
		BondAmount:          r.BondAmount,
		ProposalTimestamp:   r.ProposalTimestamp,
		DisputeDeadline:     r.DisputeDeadline,
		Subject:             r.Subject,
		DataSources:         r.ActiveDataSources(),
		Disputes:            r.ActiveDisputes(),
		IsDisputed:          r.IsDisputed,
		IsFinalized:         r.IsFinalized,
		IsEmergencyResolved: r.IsEmergencyResolved,
		FinalOutcome:        r.FinalOutcome,
	}
	if r.HasProposal() {
		switch r.Category {
		case CategoryCrypto:
			cond := r.Condition
			out.Condition = &cond
		case CategorySports:
			kind := r.SportsEventType
			out.SportsEventType = &kind
		}
	}
	return json.Marshal(out)
}
