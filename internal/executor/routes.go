package executor

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
	"github.com/alanyoungcy/marketvault/internal/registry"
	"github.com/alanyoungcy/marketvault/internal/resolution"
	"github.com/alanyoungcy/marketvault/internal/service"
	"github.com/alanyoungcy/marketvault/internal/token"
	"github.com/alanyoungcy/marketvault/internal/vault"
)

type addressOutput struct {
	Address common.Address `json:"address"`
}

func (e *Executor) routes() map[string]handler {
	v := e.validate
	m, vs, rs, ts := e.svc.Markets, e.svc.Vaults, e.svc.Resolutions, e.svc.Tokens

	return map[string]handler{
		OpCreateMarket: bind(v, func(ctx context.Context, s service.Signers, a CreateMarketArgs) (any, *ledger.Receipt, error) {
			out, err := m.CreateMarket(ctx, s, service.CreateMarketArgs{
				MarketID:           a.MarketID,
				Question:           a.Question,
				Description:        a.Description,
				Category:           a.Category,
				ResolutionSource:   a.ResolutionSource,
				ExpireAt:           a.ExpireAt,
				ResolutionAdapter:  a.ResolutionAdapter,
				SettlementWorker:   a.SettlementWorker,
				CollateralMint:     a.CollateralMint,
				ResolutionCategory: a.ResolutionCategory,
				BondMint:           a.BondMint,
			})
			if err != nil {
				return nil, nil, err
			}
			return out, out.Receipt, nil
		}),
		OpInitializeMarket: bind(v, func(ctx context.Context, s service.Signers, a InitializeMarketArgs) (any, *ledger.Receipt, error) {
			addr, r, err := m.InitializeMarket(ctx, s, registry.InitializeMarketArgs{
				MarketID:          a.MarketID,
				Question:          a.Question,
				Description:       a.Description,
				Category:          a.Category,
				ResolutionSource:  a.ResolutionSource,
				ExpireAt:          a.ExpireAt,
				EscrowVault:       a.EscrowVault,
				ResolutionAdapter: a.ResolutionAdapter,
			})
			return addressOutput{addr}, r, err
		}),
		OpOpenMarket: bind(v, func(ctx context.Context, s service.Signers, a MarketArgs) (any, *ledger.Receipt, error) {
			return receiptOnly(m.OpenMarket(ctx, s, a.Market))
		}),
		OpPauseMarket: bind(v, func(ctx context.Context, s service.Signers, a MarketArgs) (any, *ledger.Receipt, error) {
			return receiptOnly(m.PauseMarket(ctx, s, a.Market))
		}),
		OpResumeMarket: bind(v, func(ctx context.Context, s service.Signers, a MarketArgs) (any, *ledger.Receipt, error) {
			return receiptOnly(m.ResumeMarket(ctx, s, a.Market))
		}),
		OpResolvingMarket: bind(v, func(ctx context.Context, s service.Signers, a MarketArgs) (any, *ledger.Receipt, error) {
			return receiptOnly(m.ResolvingMarket(ctx, s, a.Market))
		}),
		OpFinalizeMarket: bind(v, func(ctx context.Context, s service.Signers, a OutcomeArgs) (any, *ledger.Receipt, error) {
			return receiptOnly(m.FinalizeMarket(ctx, s, a.Market, a.Outcome))
		}),
		OpEmergencyFinalizeMarket: bind(v, func(ctx context.Context, s service.Signers, a EmergencyArgs) (any, *ledger.Receipt, error) {
			return receiptOnly(m.EmergencyFinalizeMarket(ctx, s, a.Market, a.Outcome, a.Reason))
		}),
		OpCancelMarket: bind(v, func(ctx context.Context, s service.Signers, a MarketArgs) (any, *ledger.Receipt, error) {
			return receiptOnly(m.CancelMarket(ctx, s, a.Market))
		}),
		OpUpdateMarketMetadata: bind(v, func(ctx context.Context, s service.Signers, a UpdateMetadataArgs) (any, *ledger.Receipt, error) {
			return receiptOnly(m.UpdateMarketMetadata(ctx, s, a.Market, a.Description, a.Category))
		}),

		OpInitializeVault: bind(v, func(ctx context.Context, s service.Signers, a InitializeVaultArgs) (any, *ledger.Receipt, error) {
			yes, no := a.YesTokenMint, a.NoTokenMint
			if yes == (common.Address{}) && no == (common.Address{}) {
				yes, no = registry.OutcomeMints(a.Market)
			}
			addr, r, err := vs.InitializeVault(ctx, s, vault.InitializeVaultArgs{
				Market:           a.Market,
				YesTokenMint:     yes,
				NoTokenMint:      no,
				CollateralMint:   a.CollateralMint,
				SettlementWorker: a.SettlementWorker,
			})
			return addressOutput{addr}, r, err
		}),
		OpMintPairs: bind(v, func(ctx context.Context, s service.Signers, a MintPairsArgs) (any, *ledger.Receipt, error) {
			src := a.Source
			if src == (common.Address{}) {
				vv, err := vs.GetVault(ctx, a.Market)
				if err != nil {
					return nil, nil, err
				}
				src = token.AssociatedAddress(s[0], vv.CollateralMint)
			}
			return receiptOnly(vs.MintPairs(ctx, s, vault.MintPairsArgs{
				Market:       a.Market,
				Pairs:        a.Pairs,
				Source:       src,
				YesRecipient: a.YesRecipient,
				NoRecipient:  a.NoRecipient,
			}))
		}),
		OpSettle: bind(v, func(ctx context.Context, s service.Signers, a MarketArgs) (any, *ledger.Receipt, error) {
			return receiptOnly(vs.Settle(ctx, s, a.Market))
		}),
		OpClaimPayout: bind(v, func(ctx context.Context, s service.Signers, a MarketArgs) (any, *ledger.Receipt, error) {
			p, r, err := vs.ClaimPayout(ctx, s, a.Market)
			return p, r, err
		}),
		OpPauseMinting: bind(v, func(ctx context.Context, s service.Signers, a MarketArgs) (any, *ledger.Receipt, error) {
			return receiptOnly(vs.PauseMinting(ctx, s, a.Market))
		}),
		OpResumeMinting: bind(v, func(ctx context.Context, s service.Signers, a MarketArgs) (any, *ledger.Receipt, error) {
			return receiptOnly(vs.ResumeMinting(ctx, s, a.Market))
		}),

		OpInitializeResolution: bind(v, func(ctx context.Context, s service.Signers, a InitializeResolutionArgs) (any, *ledger.Receipt, error) {
			addr, r, err := rs.InitializeResolution(ctx, s, a.Market, a.Category, a.BondMint)
			return addressOutput{addr}, r, err
		}),
		OpProposeCrypto: bind(v, func(ctx context.Context, s service.Signers, a ProposeCryptoArgs) (any, *ledger.Receipt, error) {
			o, r, err := rs.ProposeCryptoOutcome(ctx, s, service.ProposeCryptoRequest{
				Market:     a.Market,
				Subject:    a.Subject,
				Condition:  a.Condition,
				Oracle:     a.Oracle,
				FeedIDs:    a.FeedIDs,
				BondAmount: a.BondAmount,
			})
			return outcomeOutput{o}, r, err
		}),
		OpProposeSports: bind(v, func(ctx context.Context, s service.Signers, a ProposeSportsArgs) (any, *ledger.Receipt, error) {
			o, r, err := rs.ProposeSportsOutcome(ctx, s, resolution.ProposeSportsArgs{
				Market:     a.Market,
				Subject:    a.Subject,
				EventType:  a.EventType,
				Sources:    a.Sources,
				BondAmount: a.BondAmount,
			})
			return outcomeOutput{o}, r, err
		}),
		OpDisputeProposal: bind(v, func(ctx context.Context, s service.Signers, a DisputeArgs) (any, *ledger.Receipt, error) {
			return receiptOnly(rs.DisputeProposal(ctx, s, resolution.DisputeArgs{
				Market:         a.Market,
				CounterOutcome: a.CounterOutcome,
				Reason:         a.Reason,
				BondAmount:     a.BondAmount,
			}))
		}),
		OpFinalizeOutcome: bind(v, func(ctx context.Context, s service.Signers, a OutcomeArgs) (any, *ledger.Receipt, error) {
			res, r, err := rs.FinalizeOutcome(ctx, s, a.Market, a.Outcome)
			return res, r, err
		}),
		OpEmergencyResolve: bind(v, func(ctx context.Context, s service.Signers, a EmergencyArgs) (any, *ledger.Receipt, error) {
			return receiptOnly(rs.EmergencyResolve(ctx, s, a.Market, a.Outcome, a.Reason))
		}),

		OpCreateTokenAccount: bind(v, func(ctx context.Context, s service.Signers, a TokenAccountArgs) (any, *ledger.Receipt, error) {
			owner := a.Owner
			if owner == (common.Address{}) {
				owner = s[0]
			}
			addr, r, err := ts.CreateTokenAccount(ctx, s, owner, a.Mint)
			return addressOutput{addr}, r, err
		}),
		OpMintCollateral: bind(v, func(ctx context.Context, s service.Signers, a MintCollateralArgs) (any, *ledger.Receipt, error) {
			return receiptOnly(ts.MintCollateral(ctx, s, a.Mint, a.Owner, a.Amount))
		}),
		OpTransfer: bind(v, func(ctx context.Context, s service.Signers, a TransferArgs) (any, *ledger.Receipt, error) {
			return receiptOnly(ts.Transfer(ctx, s, a.Mint, a.To, a.Amount))
		}),
	}
}

type outcomeOutput struct {
	Outcome domain.Outcome `json:"outcome"`
}
