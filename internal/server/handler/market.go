package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/service"
)

// MarketReader is the read side of the market, vault and resolution
// services. It is declared locally so the handler package does not depend
// on how they are built.
type MarketReader interface {
	GetMarket(ctx context.Context, market common.Address) (*service.MarketView, error)
	ListMarkets(ctx context.Context, state *domain.MarketState, opts domain.ListOpts) ([]service.MarketView, error)
	GetVault(ctx context.Context, market common.Address) (*service.VaultView, error)
	GetResolution(ctx context.Context, market common.Address) (*service.ResolutionView, error)
}

// Readers adapts the three services to MarketReader.
type Readers struct {
	*service.MarketService
	*service.VaultService
	*service.ResolutionService
}

// MarketHandler serves market, vault and resolution views. Per-market views
// are read through cache when one is set.
type MarketHandler struct {
	reader MarketReader
	cache  domain.ViewCache
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler. cache may be nil.
func NewMarketHandler(reader MarketReader, cache domain.ViewCache, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{reader: reader, cache: cache, logger: logger}
}

type listMarketsResponse struct {
	Markets []service.MarketView `json:"markets"`
	Count   int                  `json:"count"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// ListMarkets returns markets, optionally filtered by lifecycle state.
// GET /api/markets?state=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var state *domain.MarketState
	if s := r.URL.Query().Get("state"); s != "" {
		parsed, err := domain.ParseMarketState(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		state = &parsed
	}

	markets, err := h.reader.ListMarkets(r.Context(), state, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Count:   len(markets),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns one market.
// GET /api/markets/{address}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	serveView(h, w, r, "market", func(ctx context.Context, m common.Address) (*service.MarketView, error) {
		return h.reader.GetMarket(ctx, m)
	})
}

// GetVault returns the market's escrow vault.
// GET /api/markets/{address}/vault
func (h *MarketHandler) GetVault(w http.ResponseWriter, r *http.Request) {
	serveView(h, w, r, "vault", func(ctx context.Context, m common.Address) (*service.VaultView, error) {
		return h.reader.GetVault(ctx, m)
	})
}

// GetResolution returns the market's resolution proposal.
// GET /api/markets/{address}/resolution
func (h *MarketHandler) GetResolution(w http.ResponseWriter, r *http.Request) {
	serveView(h, w, r, "resolution", func(ctx context.Context, m common.Address) (*service.ResolutionView, error) {
		return h.reader.GetResolution(ctx, m)
	})
}

// serveView answers from the cache when possible and fills it on a miss.
// Cache failures fall back to the ledger.
func serveView[V any](h *MarketHandler, w http.ResponseWriter, r *http.Request, view string, load func(context.Context, common.Address) (*V, error)) {
	market, err := addressParam(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()

	if h.cache != nil {
		var cached V
		err := h.cache.Get(ctx, market, view, &cached)
		if err == nil {
			writeJSON(w, http.StatusOK, &cached)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(ctx, "view cache read failed",
				slog.String("view", view),
				slog.String("error", err.Error()),
			)
		}
	}

	v, err := load(ctx, market)
	if err != nil {
		writeServiceError(w, r, h.logger, "get "+view, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, market, view, v); err != nil {
			h.logger.WarnContext(ctx, "view cache write failed",
				slog.String("view", view),
				slog.String("error", err.Error()),
			)
		}
	}
	writeJSON(w, http.StatusOK, v)
}
