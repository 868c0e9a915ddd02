package service

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketvault/internal/ledger"
	"github.com/alanyoungcy/marketvault/internal/token"
)

// TokenService manages the collateral mint and plain token movements.
type TokenService struct {
	runner
}

func NewTokenService(l *ledger.Ledger, logger *slog.Logger) *TokenService {
	return &TokenService{
		runner: runner{ledger: l, logger: logger.With(slog.String("component", "token_service"))},
	}
}

// EnsureMint creates the program-derived mint called name on first start
// and returns its address on every start after.
func (s *TokenService) EnsureMint(ctx context.Context, name string, authority common.Address, decimals uint8) (common.Address, error) {
	var addr common.Address
	if err := s.view(ctx, "ensure_mint", func(tx *ledger.Tx) error {
		exists, err := token.MintAccount.Exists(tx, token.DerivedMint(name))
		if err != nil || !exists {
			return err
		}
		addr, err = token.EnsureDerivedMint(tx, name, authority, decimals)
		return err
	}); err != nil {
		return common.Address{}, err
	}
	if addr != (common.Address{}) {
		return addr, nil
	}
	_, err := s.run(ctx, "ensure_mint", Signers{authority}, func(tx *ledger.Tx, _ common.Address) error {
		var err error
		addr, err = token.EnsureDerivedMint(tx, name, authority, decimals)
		return err
	})
	if err != nil {
		return common.Address{}, err
	}
	s.logger.InfoContext(ctx, "mint created",
		slog.String("name", name),
		slog.String("mint", addr.Hex()),
		slog.String("authority", authority.Hex()),
	)
	return addr, nil
}

// CreateTokenAccount creates the associated account of owner for mint.
func (s *TokenService) CreateTokenAccount(ctx context.Context, signers Signers, owner, mint common.Address) (common.Address, *ledger.Receipt, error) {
	var addr common.Address
	receipt, err := s.run(ctx, "create_token_account", signers, func(tx *ledger.Tx, _ common.Address) error {
		var err error
		addr, err = token.EnsureAssociated(tx, owner, mint)
		return err
	})
	return addr, receipt, err
}

// MintCollateral issues amount of mint to owner. The caller must be the
// mint authority.
func (s *TokenService) MintCollateral(ctx context.Context, signers Signers, mint, owner common.Address, amount uint64) (*ledger.Receipt, error) {
	return s.run(ctx, "mint_collateral", signers, func(tx *ledger.Tx, _ common.Address) error {
		acct, err := token.EnsureAssociated(tx, owner, mint)
		if err != nil {
			return err
		}
		return token.MintTo(tx, mint, acct, amount)
	})
}

// Transfer moves amount of mint from the caller's associated account to
// the associated account of to.
func (s *TokenService) Transfer(ctx context.Context, signers Signers, mint, to common.Address, amount uint64) (*ledger.Receipt, error) {
	return s.run(ctx, "transfer", signers, func(tx *ledger.Tx, caller common.Address) error {
		dest, err := token.EnsureAssociated(tx, to, mint)
		if err != nil {
			return err
		}
		return token.Transfer(tx, token.AssociatedAddress(caller, mint), dest, amount)
	})
}

// Balance is the amount of mint held in owner's associated account.
func (s *TokenService) Balance(ctx context.Context, owner, mint common.Address) (uint64, error) {
	var bal uint64
	err := s.view(ctx, "balance", func(tx *ledger.Tx) error {
		var err error
		bal, err = token.Balance(tx, token.AssociatedAddress(owner, mint))
		return err
	})
	return bal, err
}
