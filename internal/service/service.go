// Package service exposes every protocol operation as one atomic ledger
// transaction, plus the read queries the API serves.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
)

// Signers is the set of identities that signed a transaction. The first
// entry acts as the caller of the operation; the rest co-sign.
type Signers []common.Address

// Caller returns the acting identity.
func (s Signers) Caller() (common.Address, error) {
	if len(s) == 0 {
		return common.Address{}, domain.ErrMissingSigner
	}
	return s[0], nil
}

// runner is embedded by every service.
type runner struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

// run executes fn as one transaction and prefixes failures with op.
func (r runner) run(ctx context.Context, op string, signers Signers, fn func(tx *ledger.Tx, caller common.Address) error) (*ledger.Receipt, error) {
	caller, err := signers.Caller()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	receipt, err := r.ledger.Execute(ctx, signers, func(tx *ledger.Tx) error {
		return fn(tx, caller)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	r.logger.DebugContext(ctx, op,
		slog.String("tx", receipt.ID),
		slog.String("caller", caller.Hex()),
	)
	return receipt, nil
}

func (r runner) view(ctx context.Context, op string, fn func(tx *ledger.Tx) error) error {
	if err := r.ledger.View(ctx, fn); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
