package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rediscache "github.com/alanyoungcy/marketvault/internal/cache/redis"
	"github.com/alanyoungcy/marketvault/internal/crypto"
	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/executor"
	"github.com/alanyoungcy/marketvault/internal/ledger"
	"github.com/alanyoungcy/marketvault/internal/registry"
	"github.com/alanyoungcy/marketvault/internal/resolution"
	"github.com/alanyoungcy/marketvault/internal/server"
	"github.com/alanyoungcy/marketvault/internal/server/handler"
	"github.com/alanyoungcy/marketvault/internal/service"
	"github.com/alanyoungcy/marketvault/internal/store/memory"
	"github.com/alanyoungcy/marketvault/internal/vault"
)

const (
	t0   = 1_700_000_000
	unit = 1_000_000
)

type node struct {
	srv   *httptest.Server
	mr    *miniredis.Miniredis
	usdc  common.Address
	nonce uint64

	admin, worker, minter *crypto.Signer
}

func newNode(t *testing.T, cfg server.Config) *node {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	rc := rediscache.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	cache := rediscache.NewMarketCache(rc, time.Minute, logger)

	store := memory.New()
	l, err := ledger.New(ctx, store, ledger.NewManualClock(time.Unix(t0, 0)), logger, ledger.WithObserver(cache))
	require.NoError(t, err)

	params := domain.DefaultParams()
	reg := registry.New(params)
	v := vault.New(params)
	rp := resolution.New(params, reg)

	n := &node{mr: mr}
	for _, s := range []**crypto.Signer{&n.admin, &n.worker, &n.minter} {
		*s, err = crypto.GenerateSigner()
		require.NoError(t, err)
	}

	markets := service.NewMarketService(l, reg, v, rp, logger)
	vaults := service.NewVaultService(l, v, logger)
	resolutions := service.NewResolutionService(l, rp, nil, logger)
	tokens := service.NewTokenService(l, logger)
	n.usdc, err = tokens.EnsureMint(ctx, "usdc", n.minter.Address(), 6)
	require.NoError(t, err)

	exec := executor.New(executor.Services{
		Markets:     markets,
		Vaults:      vaults,
		Resolutions: resolutions,
		Tokens:      tokens,
	}, executor.NewMemoryReplay(time.Hour), store.AuditLog(), logger)

	h := server.Routes(cfg, server.Handlers{
		Health:   handler.NewHealthHandler(logger, handler.Check{Name: "redis", Probe: rc.Ping}),
		Status:   handler.NewStatusHandler("node", time.Now(), l.Now),
		Markets:  handler.NewMarketHandler(handler.Readers{MarketService: markets, VaultService: vaults, ResolutionService: resolutions}, cache, logger),
		Balances: handler.NewBalanceHandler(tokens, 6, logger),
		Events:   handler.NewEventHandler(service.NewEventService(store, logger), logger),
		Tx:       handler.NewTxHandler(exec, logger),
	}, nil, rediscache.NewRateLimiter(rc), logger)

	n.srv = httptest.NewServer(h)
	t.Cleanup(n.srv.Close)
	return n
}

func (n *node) do(t *testing.T, method, path string, body any, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, n.srv.URL+path, rd)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (n *node) submit(t *testing.T, typ string, args any, signers ...*crypto.Signer) (*http.Response, map[string]any) {
	t.Helper()
	n.nonce++
	env, err := executor.NewEnvelope(typ, args, n.nonce, signers...)
	require.NoError(t, err)
	return n.do(t, http.MethodPost, "/api/tx", env)
}

func (n *node) createMarket(t *testing.T) common.Address {
	t.Helper()
	id, err := domain.MarketIDFromString("api-test")
	require.NoError(t, err)
	resp, body := n.submit(t, executor.OpCreateMarket, executor.CreateMarketArgs{
		MarketID:           id,
		Question:           "Will BTC close above 100k?",
		Category:           "crypto",
		ExpireAt:           t0 + 3600,
		ResolutionAdapter:  n.admin.Address(),
		SettlementWorker:   n.worker.Address(),
		CollateralMint:     n.usdc,
		ResolutionCategory: domain.CategoryCrypto,
	}, n.admin)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	output := body["output"].(map[string]any)
	return common.HexToAddress(output["market"].(string))
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	n := newNode(t, server.Config{})
	market := n.createMarket(t)

	resp, body := n.do(t, http.MethodGet, "/api/markets?state=created", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = n.do(t, http.MethodGet, "/api/markets/"+market.Hex(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "created", body["state"])
	assert.True(t, n.mr.Exists("view:"+market.Hex()), "market view should be cached")

	resp, _ = n.submit(t, executor.OpOpenMarket, executor.MarketArgs{Market: market}, n.admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, n.mr.Exists("view:"+market.Hex()), "commit should invalidate the cached view")

	_, body = n.do(t, http.MethodGet, "/api/markets/"+market.Hex(), nil)
	assert.Equal(t, "open", body["state"])

	resp, body = n.do(t, http.MethodGet, "/api/markets/"+market.Hex()+"/vault", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["collateral_balance"])

	resp, _ = n.do(t, http.MethodGet, "/api/markets/"+market.Hex()+"/resolution", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = n.do(t, http.MethodGet, "/api/events?market="+market.Hex(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["events"])
	assert.NotZero(t, body["next"])
}

func TestSubmitMapsErrorsToStatus(t *testing.T) {
	n := newNode(t, server.Config{})
	market := n.createMarket(t)

	resp, body := n.submit(t, executor.OpPauseMarket, executor.MarketArgs{Market: market}, n.worker)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Unauthorized", body["name"])
	assert.Equal(t, "authorization", body["kind"])

	resp, body = n.submit(t, executor.OpPauseMarket, executor.MarketArgs{Market: market}, n.admin)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "state", body["kind"])

	env, err := executor.NewEnvelope(executor.OpOpenMarket, executor.MarketArgs{Market: market}, 99, n.admin)
	require.NoError(t, err)
	resp, _ = n.do(t, http.MethodPost, "/api/tx", env)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = n.do(t, http.MethodPost, "/api/tx", env)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = n.do(t, http.MethodPost, "/api/tx", map[string]any{"bogus": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = n.submit(t, "launch_rocket", map[string]any{}, n.admin)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueryValidation(t *testing.T) {
	n := newNode(t, server.Config{})

	cases := []struct {
		path string
		want int
	}{
		{"/api/markets?state=bogus", http.StatusBadRequest},
		{"/api/markets/not-an-address", http.StatusBadRequest},
		{"/api/markets/" + common.HexToAddress("0xdead").Hex(), http.StatusNotFound},
		{"/api/events?after=-1", http.StatusBadRequest},
		{"/api/events?market=0x12", http.StatusBadRequest},
		{"/api/balances/0x1/0x2", http.StatusBadRequest},
		{"/api/tx/types", http.StatusOK},
		{"/api/status", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			resp, _ := n.do(t, http.MethodGet, tc.path, nil)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestBalances(t *testing.T) {
	n := newNode(t, server.Config{})
	owner := n.worker.Address().Hex()

	_, body := n.do(t, http.MethodGet, "/api/balances/"+owner+"/"+n.usdc.Hex(), nil)
	assert.EqualValues(t, 0, body["amount"])

	resp, _ := n.submit(t, executor.OpMintCollateral, executor.MintCollateralArgs{
		Mint:   n.usdc,
		Owner:  n.worker.Address(),
		Amount: 50 * unit,
	}, n.minter)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = n.do(t, http.MethodGet, "/api/balances/"+owner+"/"+n.usdc.Hex(), nil)
	assert.EqualValues(t, 50*unit, body["amount"])
	assert.Equal(t, "50.000000", body["display"])
}

func TestAuthAndRateLimit(t *testing.T) {
	n := newNode(t, server.Config{APIKey: "secret", RateLimit: 3, RateWindow: time.Minute})

	resp, body := n.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, _ = n.do(t, http.MethodGet, "/api/markets", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = n.do(t, http.MethodGet, "/api/markets", nil, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Three requests so far from this client; the fourth is over the limit.
	resp, _ = n.do(t, http.MethodGet, "/api/markets", nil, "X-API-Key", "secret")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestHealthDegradesWhenRedisIsDown(t *testing.T) {
	n := newNode(t, server.Config{})
	n.mr.Close()

	resp, body := n.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
}
