package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports the node's run mode and ledger position.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	now       func() uint64
}

// NewStatusHandler creates a StatusHandler. now returns the ledger clock.
func NewStatusHandler(mode string, startedAt time.Time, now func() uint64) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, now: now}
}

// GetStatus responds with the mode, uptime and ledger clock.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"ledger_time":    h.now(),
	})
}
