package domain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Field bounds shared by the programs and the account codec.
const (
	MaxQuestionLength         = 200
	MaxDescriptionLength      = 1000
	MaxCategoryLength         = 50
	MaxResolutionSourceLength = 100
	MaxEmergencyReasonLength  = 200
)

// MarketID is the creator-chosen 32-byte market identifier.
type MarketID [32]byte

// MarketIDFromString derives a MarketID from a human readable slug by
// left-aligning its bytes. Slugs longer than 32 bytes are rejected.
func MarketIDFromString(s string) (MarketID, error) {
	var id MarketID
	if strings.HasPrefix(s, "0x") && len(s) == 66 {
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return id, fmt.Errorf("market id: %w", err)
		}
		copy(id[:], b)
		return id, nil
	}
	if len(s) == 0 || len(s) > len(id) {
		return id, fmt.Errorf("market id: %q must be 1-32 bytes or 0x-prefixed hex", s)
	}
	copy(id[:], s)
	return id, nil
}

func (id MarketID) Bytes() []byte { return id[:] }

func (id MarketID) String() string { return "0x" + hex.EncodeToString(id[:]) }

func (id MarketID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *MarketID) UnmarshalText(text []byte) error {
	parsed, err := MarketIDFromString(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarketState is the lifecycle state of a Market.
type MarketState uint8

const (
	MarketCreated MarketState = iota
	MarketOpen
	MarketPaused
	MarketResolving
	MarketResolved
)

var marketStateNames = [...]string{"created", "open", "paused", "resolving", "resolved"}

func (s MarketState) String() string {
	if int(s) < len(marketStateNames) {
		return marketStateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

func (s MarketState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *MarketState) UnmarshalText(text []byte) error {
	parsed, err := ParseMarketState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseMarketState parses a state name, case-insensitively.
func ParseMarketState(name string) (MarketState, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range marketStateNames {
		if n == name {
			return MarketState(i), nil
		}
	}
	return 0, fmt.Errorf("market state %q: %w", name, ErrInvalidMarketState)
}

// Outcome is the resolved result of a market. OutcomeNone marks an
// unresolved market and is never a valid argument to a resolving operation.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeYes
	OutcomeNo
	OutcomeInvalid
)

// Valid reports whether o is one of the three settlement outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeYes, OutcomeNo, OutcomeInvalid:
		return true
	default:
		return false
	}
}

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeYes:
		return "yes"
	case OutcomeNo:
		return "no"
	case OutcomeInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// ParseOutcome accepts "yes", "no" or "invalid" in any case.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes":
		return OutcomeYes, nil
	case "no":
		return OutcomeNo, nil
	case "invalid":
		return OutcomeInvalid, nil
	default:
		return OutcomeNone, fmt.Errorf("outcome %q: %w", s, ErrInvalidOutcome)
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(text []byte) error {
	parsed, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Market is the registry account, one per MarketID.
type Market struct {
	MarketID          MarketID       `json:"market_id"`
	Question          string         `json:"question"`
	Description       string         `json:"description"`
	Category          string         `json:"category"`
	ResolutionSource  string         `json:"resolution_source"`
	Creator           common.Address `json:"creator"`
	ExpireAt          uint64         `json:"expire_at"`
	YesTokenMint      common.Address `json:"yes_token_mint"`
	NoTokenMint       common.Address `json:"no_token_mint"`
	EscrowVault       common.Address `json:"escrow_vault"`
	ResolutionAdapter common.Address `json:"resolution_adapter"`
	State             MarketState    `json:"state"`
	ResolutionOutcome Outcome        `json:"resolution_outcome"`
	ResolvedAt        uint64         `json:"resolved_at"`
	CreatedAt         uint64         `json:"created_at"`
	Bump              uint8          `json:"bump"`
}

func (m *Market) IsResolved() bool { return m.State == MarketResolved }

func (m *Market) CanTrade() bool { return m.State == MarketOpen }

// IsExpired reports whether now has reached the market's expiry.
func (m *Market) IsExpired(now uint64) bool { return now >= m.ExpireAt }

// InResolutionWindow reports whether now lies in [expire_at, expire_at+window].
func (m *Market) InResolutionWindow(now, window uint64) bool {
	end := m.ExpireAt + window
	if end < m.ExpireAt {
		end = ^uint64(0)
	}
	return now >= m.ExpireAt && now <= end
}

// Resolve records the final outcome. Callers check the source state first.
func (m *Market) Resolve(outcome Outcome, now uint64) {
	m.ResolutionOutcome = outcome
	m.ResolvedAt = now
	m.State = MarketResolved
}
