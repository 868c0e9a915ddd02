package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

// BalanceReader reads associated token account balances.
type BalanceReader interface {
	Balance(ctx context.Context, owner, mint common.Address) (uint64, error)
}

// BalanceHandler serves token balances.
type BalanceHandler struct {
	tokens   BalanceReader
	decimals uint8
	logger   *slog.Logger
}

// NewBalanceHandler creates a BalanceHandler. decimals controls the
// "display" rendering of amounts.
func NewBalanceHandler(tokens BalanceReader, decimals uint8, logger *slog.Logger) *BalanceHandler {
	return &BalanceHandler{tokens: tokens, decimals: decimals, logger: logger}
}

type balanceResponse struct {
	Owner   common.Address `json:"owner"`
	Mint    common.Address `json:"mint"`
	Amount  uint64         `json:"amount"`
	Display string         `json:"display"`
}

// GetBalance returns owner's balance of mint. An owner without an
// associated account has a zero balance.
// GET /api/balances/{owner}/{mint}
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := addressParam(r, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mint, err := addressParam(r, "mint")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := h.tokens.Balance(r.Context(), owner, mint)
	if err != nil && StatusFor(err) != http.StatusNotFound {
		writeServiceError(w, r, h.logger, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Owner:   owner,
		Mint:    mint,
		Amount:  amount,
		Display: domain.FormatAmount(amount, h.decimals),
	})
}
