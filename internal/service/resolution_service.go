package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
	"github.com/alanyoungcy/marketvault/internal/resolution"
	"github.com/alanyoungcy/marketvault/internal/token"
)

// ResolutionService runs the optimistic-oracle flow. Crypto proposals read
// their feeds from the price oracle before the transaction starts.
type ResolutionService struct {
	runner
	res    *resolution.Program
	oracle domain.PriceOracle
}

// NewResolutionService creates a ResolutionService. oracle may be nil when
// only sports markets are served.
func NewResolutionService(l *ledger.Ledger, res *resolution.Program, oracle domain.PriceOracle, logger *slog.Logger) *ResolutionService {
	return &ResolutionService{
		runner: runner{ledger: l, logger: logger.With(slog.String("component", "resolution_service"))},
		res:    res,
		oracle: oracle,
	}
}

// ResolutionView is a proposal account with its address and bonded total.
type ResolutionView struct {
	Address          common.Address             `json:"address"`
	BondVaultBalance uint64                     `json:"bond_vault_balance"`
	Proposal         *domain.ResolutionProposal `json:"proposal"`
}

func (s *ResolutionService) InitializeResolution(ctx context.Context, signers Signers, market common.Address, category domain.Category, bondMint common.Address) (common.Address, *ledger.Receipt, error) {
	var addr common.Address
	receipt, err := s.run(ctx, "initialize_resolution", signers, func(tx *ledger.Tx, caller common.Address) error {
		var err error
		addr, err = s.res.InitializeResolution(tx, caller, market, category, bondMint)
		return err
	})
	return addr, receipt, err
}

// ProposeCryptoRequest is a crypto proposal before its quotes are fetched.
type ProposeCryptoRequest struct {
	Market     common.Address
	Subject    string
	Condition  domain.PriceCondition
	Oracle     domain.OracleType
	FeedIDs    []string
	BondAmount uint64
}

// ProposeCryptoOutcome fetches one quote per feed and submits the proposal.
func (s *ResolutionService) ProposeCryptoOutcome(ctx context.Context, signers Signers, req ProposeCryptoRequest) (domain.Outcome, *ledger.Receipt, error) {
	quotes, err := s.fetchQuotes(ctx, req.FeedIDs)
	if err != nil {
		return domain.OutcomeNone, nil, fmt.Errorf("propose_crypto_outcome: %w", err)
	}
	var outcome domain.Outcome
	receipt, err := s.run(ctx, "propose_crypto_outcome", signers, func(tx *ledger.Tx, caller common.Address) error {
		var err error
		outcome, err = s.res.ProposeCryptoOutcome(tx, caller, resolution.ProposeCryptoArgs{
			Market:     req.Market,
			Subject:    req.Subject,
			Condition:  req.Condition,
			Oracle:     req.Oracle,
			FeedIDs:    req.FeedIDs,
			Quotes:     quotes,
			BondAmount: req.BondAmount,
		})
		return err
	})
	if err != nil {
		return domain.OutcomeNone, nil, err
	}
	s.logger.InfoContext(ctx, "crypto outcome proposed",
		slog.String("market", req.Market.Hex()),
		slog.String("outcome", outcome.String()),
		slog.Int("feeds", len(req.FeedIDs)),
	)
	return outcome, receipt, nil
}

// fetchQuotes reads every feed concurrently. Feed-count limits are left to
// the program so the error is the protocol one.
func (s *ResolutionService) fetchQuotes(ctx context.Context, feeds []string) ([]domain.PriceQuote, error) {
	if len(feeds) == 0 || len(feeds) > domain.MaxDataSources {
		return nil, nil
	}
	if s.oracle == nil {
		return nil, fmt.Errorf("no price oracle configured: %w", domain.ErrInvalidDataSource)
	}
	quotes := make([]domain.PriceQuote, len(feeds))
	g, gctx := errgroup.WithContext(ctx)
	for i, feed := range feeds {
		g.Go(func() error {
			q, err := s.oracle.Quote(gctx, feed)
			if err != nil {
				return fmt.Errorf("quote %s: %w", feed, err)
			}
			quotes[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return quotes, nil
}

func (s *ResolutionService) ProposeSportsOutcome(ctx context.Context, signers Signers, args resolution.ProposeSportsArgs) (domain.Outcome, *ledger.Receipt, error) {
	var outcome domain.Outcome
	receipt, err := s.run(ctx, "propose_sports_outcome", signers, func(tx *ledger.Tx, caller common.Address) error {
		var err error
		outcome, err = s.res.ProposeSportsOutcome(tx, caller, args)
		return err
	})
	if err != nil {
		return domain.OutcomeNone, nil, err
	}
	s.logger.InfoContext(ctx, "sports outcome proposed",
		slog.String("market", args.Market.Hex()),
		slog.String("outcome", outcome.String()),
		slog.Int("sources", len(args.Sources)),
	)
	return outcome, receipt, nil
}

func (s *ResolutionService) DisputeProposal(ctx context.Context, signers Signers, args resolution.DisputeArgs) (*ledger.Receipt, error) {
	receipt, err := s.run(ctx, "dispute_proposal", signers, func(tx *ledger.Tx, caller common.Address) error {
		return s.res.DisputeProposal(tx, caller, args)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "proposal disputed",
		slog.String("market", args.Market.Hex()),
		slog.String("counter_outcome", args.CounterOutcome.String()),
	)
	return receipt, nil
}

// FinalizeOutcome closes the proposal. The caller is the resolution
// adapter; the reward authority must co-sign.
func (s *ResolutionService) FinalizeOutcome(ctx context.Context, signers Signers, market common.Address, outcome domain.Outcome) (resolution.FinalizeResult, *ledger.Receipt, error) {
	var res resolution.FinalizeResult
	receipt, err := s.run(ctx, "finalize_outcome", signers, func(tx *ledger.Tx, caller common.Address) error {
		var err error
		res, err = s.res.FinalizeOutcome(tx, caller, market, outcome)
		return err
	})
	if err != nil {
		return resolution.FinalizeResult{}, nil, err
	}
	s.logger.InfoContext(ctx, "outcome finalized",
		slog.String("market", market.Hex()),
		slog.String("outcome", outcome.String()),
		slog.String("winner", res.Winner.Hex()),
		slog.Uint64("bonds", res.Bonds),
	)
	return res, receipt, nil
}

func (s *ResolutionService) EmergencyResolve(ctx context.Context, signers Signers, market common.Address, outcome domain.Outcome, reason string) (*ledger.Receipt, error) {
	receipt, err := s.run(ctx, "emergency_resolve", signers, func(tx *ledger.Tx, caller common.Address) error {
		return s.res.EmergencyResolve(tx, caller, market, outcome, reason)
	})
	if err != nil {
		return nil, err
	}
	s.logger.WarnContext(ctx, "emergency resolution",
		slog.String("market", market.Hex()),
		slog.String("outcome", outcome.String()),
		slog.String("reason", reason),
	)
	return receipt, nil
}

// GetResolution reads the proposal of market.
func (s *ResolutionService) GetResolution(ctx context.Context, market common.Address) (*ResolutionView, error) {
	out := &ResolutionView{}
	err := s.view(ctx, "get_resolution", func(tx *ledger.Tx) error {
		addr, r, err := resolution.Load(tx, market)
		if err != nil {
			return err
		}
		out.Address = addr
		out.Proposal = r
		out.BondVaultBalance, err = token.Balance(tx, r.BondVault)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
