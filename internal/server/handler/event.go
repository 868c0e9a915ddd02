package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

// EventLister reads the event journal.
type EventLister interface {
	ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.EventRecord, error)
}

// EventHandler serves committed events.
type EventHandler struct {
	events EventLister
	logger *slog.Logger
}

func NewEventHandler(events EventLister, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

type listEventsResponse struct {
	Events []domain.EventRecord `json:"events"`
	// Next is the cursor for the following page; zero when the page is empty.
	Next int64 `json:"next"`
}

// ListEvents returns events in commit order after an optional cursor.
// GET /api/events?market=0x..&name=PairsMinted&program=vault&after=120&limit=100
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.EventFilter{
		Name:    q.Get("name"),
		Program: q.Get("program"),
	}
	if v := q.Get("market"); v != "" {
		m, err := parseAddress(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Market = &m
	}
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid after cursor")
			return
		}
		f.AfterID = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	evs, err := h.events.ListEvents(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	resp := listEventsResponse{Events: evs}
	if len(evs) > 0 {
		resp.Next = evs[len(evs)-1].ID
	}
	if resp.Events == nil {
		resp.Events = []domain.EventRecord{}
	}
	writeJSON(w, http.StatusOK, resp)
}
