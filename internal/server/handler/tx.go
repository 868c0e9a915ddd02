package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketvault/internal/executor"
)

const maxEnvelopeBytes = 64 << 10

// Submitter runs signed envelopes.
type Submitter interface {
	Submit(ctx context.Context, env *executor.Envelope) (*executor.Result, error)
	Types() []string
}

// TxHandler accepts signed transactions.
type TxHandler struct {
	exec   Submitter
	logger *slog.Logger
}

func NewTxHandler(exec Submitter, logger *slog.Logger) *TxHandler {
	return &TxHandler{exec: exec, logger: logger}
}

// Submit executes one signed envelope and returns its receipt.
// POST /api/tx
func (h *TxHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var env executor.Envelope
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEnvelopeBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid envelope: "+err.Error())
		return
	}

	res, err := h.exec.Submit(r.Context(), &env)
	if err != nil {
		writeServiceError(w, r, h.logger, "submit", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Types lists the accepted instruction types.
// GET /api/tx/types
func (h *TxHandler) Types(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"types": h.exec.Types()})
}
