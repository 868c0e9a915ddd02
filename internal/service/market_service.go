package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
	"github.com/alanyoungcy/marketvault/internal/registry"
	"github.com/alanyoungcy/marketvault/internal/resolution"
	"github.com/alanyoungcy/marketvault/internal/vault"
)

// MarketService runs the registry lifecycle operations.
type MarketService struct {
	runner
	reg   *registry.Program
	vault *vault.Program
	res   *resolution.Program
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	l *ledger.Ledger,
	reg *registry.Program,
	v *vault.Program,
	res *resolution.Program,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		runner: runner{ledger: l, logger: logger.With(slog.String("component", "market_service"))},
		reg:    reg,
		vault:  v,
		res:    res,
	}
}

// MarketView is a market account together with its address.
type MarketView struct {
	Address common.Address `json:"address"`
	*domain.Market
}

// InitializeMarket creates the market account and its outcome mints. The
// escrow vault address is derived from the market address when unset.
func (s *MarketService) InitializeMarket(ctx context.Context, signers Signers, args registry.InitializeMarketArgs) (common.Address, *ledger.Receipt, error) {
	if args.EscrowVault == (common.Address{}) {
		addr, _ := registry.MarketAddress(args.MarketID)
		args.EscrowVault, _ = vault.Address(addr)
	}
	var market common.Address
	receipt, err := s.run(ctx, "initialize_market", signers, func(tx *ledger.Tx, caller common.Address) error {
		var err error
		market, err = s.reg.InitializeMarket(tx, caller, args)
		return err
	})
	if err != nil {
		return common.Address{}, nil, err
	}
	s.logger.InfoContext(ctx, "market initialized",
		slog.String("market", market.Hex()),
		slog.String("market_id", args.MarketID.String()),
	)
	return market, receipt, nil
}

// CreateMarketArgs bundle everything needed to stand up a tradeable market.
type CreateMarketArgs struct {
	MarketID           domain.MarketID
	Question           string
	Description        string
	Category           string
	ResolutionSource   string
	ExpireAt           uint64
	ResolutionAdapter  common.Address
	SettlementWorker   common.Address
	CollateralMint     common.Address
	ResolutionCategory domain.Category
	// BondMint defaults to CollateralMint.
	BondMint common.Address
}

// CreatedMarket lists the accounts CreateMarket allocated.
type CreatedMarket struct {
	Market     common.Address  `json:"market"`
	Vault      common.Address  `json:"vault"`
	Resolution common.Address  `json:"resolution"`
	Receipt    *ledger.Receipt `json:"receipt"`
}

// CreateMarket initializes the market, its escrow vault and its resolution
// proposal in one transaction. The caller becomes admin of all three.
func (s *MarketService) CreateMarket(ctx context.Context, signers Signers, args CreateMarketArgs) (*CreatedMarket, error) {
	marketAddr, _ := registry.MarketAddress(args.MarketID)
	vaultAddr, _ := vault.Address(marketAddr)
	bondMint := args.BondMint
	if bondMint == (common.Address{}) {
		bondMint = args.CollateralMint
	}
	out := &CreatedMarket{Market: marketAddr, Vault: vaultAddr}
	receipt, err := s.run(ctx, "create_market", signers, func(tx *ledger.Tx, caller common.Address) error {
		if _, err := s.reg.InitializeMarket(tx, caller, registry.InitializeMarketArgs{
			MarketID:          args.MarketID,
			Question:          args.Question,
			Description:       args.Description,
			Category:          args.Category,
			ResolutionSource:  args.ResolutionSource,
			ExpireAt:          args.ExpireAt,
			EscrowVault:       vaultAddr,
			ResolutionAdapter: args.ResolutionAdapter,
		}); err != nil {
			return err
		}
		yes, no := registry.OutcomeMints(marketAddr)
		if _, err := s.vault.InitializeVault(tx, caller, vault.InitializeVaultArgs{
			Market:           marketAddr,
			YesTokenMint:     yes,
			NoTokenMint:      no,
			CollateralMint:   args.CollateralMint,
			SettlementWorker: args.SettlementWorker,
		}); err != nil {
			return err
		}
		var err error
		out.Resolution, err = s.res.InitializeResolution(tx, caller, marketAddr, args.ResolutionCategory, bondMint)
		return err
	})
	if err != nil {
		return nil, err
	}
	out.Receipt = receipt
	s.logger.InfoContext(ctx, "market created",
		slog.String("market", marketAddr.Hex()),
		slog.String("market_id", args.MarketID.String()),
		slog.Uint64("expire_at", args.ExpireAt),
	)
	return out, nil
}

func (s *MarketService) OpenMarket(ctx context.Context, signers Signers, market common.Address) (*ledger.Receipt, error) {
	return s.run(ctx, "open_market", signers, func(tx *ledger.Tx, caller common.Address) error {
		return s.reg.OpenMarket(tx, caller, market)
	})
}

func (s *MarketService) PauseMarket(ctx context.Context, signers Signers, market common.Address) (*ledger.Receipt, error) {
	return s.run(ctx, "pause_market", signers, func(tx *ledger.Tx, caller common.Address) error {
		return s.reg.PauseMarket(tx, caller, market)
	})
}

func (s *MarketService) ResumeMarket(ctx context.Context, signers Signers, market common.Address) (*ledger.Receipt, error) {
	return s.run(ctx, "resume_market", signers, func(tx *ledger.Tx, caller common.Address) error {
		return s.reg.ResumeMarket(tx, caller, market)
	})
}

func (s *MarketService) ResolvingMarket(ctx context.Context, signers Signers, market common.Address) (*ledger.Receipt, error) {
	return s.run(ctx, "resolving_market", signers, func(tx *ledger.Tx, caller common.Address) error {
		return s.reg.ResolvingMarket(tx, caller, market)
	})
}

// FinalizeMarket records an outcome directly; the caller must be the
// market's resolution adapter.
func (s *MarketService) FinalizeMarket(ctx context.Context, signers Signers, market common.Address, outcome domain.Outcome) (*ledger.Receipt, error) {
	return s.run(ctx, "finalize_market", signers, func(tx *ledger.Tx, caller common.Address) error {
		return s.reg.FinalizeMarket(tx, caller, market, outcome)
	})
}

func (s *MarketService) EmergencyFinalizeMarket(ctx context.Context, signers Signers, market common.Address, outcome domain.Outcome, reason string) (*ledger.Receipt, error) {
	receipt, err := s.run(ctx, "emergency_finalize_market", signers, func(tx *ledger.Tx, caller common.Address) error {
		return s.reg.EmergencyFinalizeMarket(tx, caller, market, outcome, reason)
	})
	if err == nil {
		s.logger.WarnContext(ctx, "market emergency finalized",
			slog.String("market", market.Hex()),
			slog.String("outcome", outcome.String()),
			slog.String("reason", reason),
		)
	}
	return receipt, err
}

func (s *MarketService) CancelMarket(ctx context.Context, signers Signers, market common.Address) (*ledger.Receipt, error) {
	return s.run(ctx, "cancel_market", signers, func(tx *ledger.Tx, caller common.Address) error {
		return s.reg.CancelMarket(tx, caller, market)
	})
}

// UpdateMarketMetadata changes the description and/or category; nil leaves
// a field unchanged.
func (s *MarketService) UpdateMarketMetadata(ctx context.Context, signers Signers, market common.Address, description, category *string) (*ledger.Receipt, error) {
	return s.run(ctx, "update_market_metadata", signers, func(tx *ledger.Tx, caller common.Address) error {
		return s.reg.UpdateMarketMetadata(tx, caller, market, description, category)
	})
}

// GetMarket reads one market.
func (s *MarketService) GetMarket(ctx context.Context, market common.Address) (*MarketView, error) {
	var m *domain.Market
	err := s.view(ctx, "get_market", func(tx *ledger.Tx) error {
		var err error
		m, err = registry.Load(tx, market)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &MarketView{Address: market, Market: m}, nil
}

// ListMarkets returns committed markets, optionally only those in state.
func (s *MarketService) ListMarkets(ctx context.Context, state *domain.MarketState, opts domain.ListOpts) ([]MarketView, error) {
	accts, err := s.ledger.Accounts(ctx, registry.ProgramID, opts)
	if err != nil {
		return nil, fmt.Errorf("list_markets: %w", err)
	}
	out := make([]MarketView, 0, len(accts))
	for _, a := range accts {
		if !registry.MarketAccount.Matches(a.Data) {
			continue
		}
		m, err := registry.MarketAccount.Decode(a.Data)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable market",
				slog.String("address", a.Address.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if state != nil && m.State != *state {
			continue
		}
		out = append(out, MarketView{Address: a.Address, Market: m})
	}
	return out, nil
}
