package service

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
	"github.com/alanyoungcy/marketvault/internal/token"
	"github.com/alanyoungcy/marketvault/internal/vault"
)

// VaultService runs escrow operations: pair minting, settlement, claims.
type VaultService struct {
	runner
	vault *vault.Program
}

// NewVaultService creates a VaultService.
func NewVaultService(l *ledger.Ledger, v *vault.Program, logger *slog.Logger) *VaultService {
	return &VaultService{
		runner: runner{ledger: l, logger: logger.With(slog.String("component", "vault_service"))},
		vault:  v,
	}
}

// VaultView is a vault account with its address and live collateral balance.
type VaultView struct {
	Address           common.Address `json:"address"`
	CollateralBalance uint64         `json:"collateral_balance"`
	*domain.EscrowVault
}

func (s *VaultService) InitializeVault(ctx context.Context, signers Signers, args vault.InitializeVaultArgs) (common.Address, *ledger.Receipt, error) {
	var addr common.Address
	receipt, err := s.run(ctx, "initialize_vault", signers, func(tx *ledger.Tx, caller common.Address) error {
		var err error
		addr, err = s.vault.InitializeVault(tx, caller, args)
		return err
	})
	return addr, receipt, err
}

// MintPairs deposits pairs*unit_price collateral from args.Source and mints
// the matching YES and NO tokens. The caller must be the settlement worker.
func (s *VaultService) MintPairs(ctx context.Context, signers Signers, args vault.MintPairsArgs) (*ledger.Receipt, error) {
	receipt, err := s.run(ctx, "mint_pairs", signers, func(tx *ledger.Tx, caller common.Address) error {
		return s.vault.MintPairs(tx, caller, args)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "pairs minted",
		slog.String("market", args.Market.Hex()),
		slog.Uint64("pairs", args.Pairs),
	)
	return receipt, nil
}

func (s *VaultService) Settle(ctx context.Context, signers Signers, market common.Address) (*ledger.Receipt, error) {
	return s.run(ctx, "settle", signers, func(tx *ledger.Tx, caller common.Address) error {
		return s.vault.Settle(tx, caller, market)
	})
}

// ClaimPayout redeems the caller's outcome tokens.
func (s *VaultService) ClaimPayout(ctx context.Context, signers Signers, market common.Address) (vault.Payout, *ledger.Receipt, error) {
	var p vault.Payout
	receipt, err := s.run(ctx, "claim_payout", signers, func(tx *ledger.Tx, caller common.Address) error {
		var err error
		p, err = s.vault.ClaimPayout(tx, caller, market)
		return err
	})
	return p, receipt, err
}

func (s *VaultService) PauseMinting(ctx context.Context, signers Signers, market common.Address) (*ledger.Receipt, error) {
	return s.run(ctx, "pause_minting", signers, func(tx *ledger.Tx, caller common.Address) error {
		return s.vault.PauseMinting(tx, caller, market)
	})
}

func (s *VaultService) ResumeMinting(ctx context.Context, signers Signers, market common.Address) (*ledger.Receipt, error) {
	return s.run(ctx, "resume_minting", signers, func(tx *ledger.Tx, caller common.Address) error {
		return s.vault.ResumeMinting(tx, caller, market)
	})
}

// GetVault reads the vault of market.
func (s *VaultService) GetVault(ctx context.Context, market common.Address) (*VaultView, error) {
	out := &VaultView{}
	err := s.view(ctx, "get_vault", func(tx *ledger.Tx) error {
		addr, v, err := vault.Load(tx, market)
		if err != nil {
			return err
		}
		out.Address = addr
		out.EscrowVault = v
		out.CollateralBalance, err = token.Balance(tx, v.CollateralVault)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
