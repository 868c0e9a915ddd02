package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
)

// MarketCache holds JSON views of a market's accounts for the read API.
// Entries expire after ttl and are dropped as soon as a committed
// transaction emits an event for the market.
//
// Key schema:
//
//	view:{market}  - hash, one field per view ("market", "vault", "resolution")
type MarketCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewMarketCache creates a MarketCache backed by c.
func NewMarketCache(c *Client, ttl time.Duration, logger *slog.Logger) *MarketCache {
	return &MarketCache{
		rdb:    c.Underlying(),
		ttl:    ttl,
		logger: logger.With(slog.String("component", "market_cache")),
	}
}

func viewKey(market common.Address) string {
	return "view:" + market.Hex()
}

// Set stores v as the named view of market.
func (mc *MarketCache) Set(ctx context.Context, market common.Address, view string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal %s view %s: %w", view, market.Hex(), err)
	}
	key := viewKey(market)
	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, view, data)
	pipe.Expire(ctx, key, mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set %s view %s: %w", view, market.Hex(), err)
	}
	return nil
}

// Get decodes the named view of market into dst, or returns
// domain.ErrNotFound.
func (mc *MarketCache) Get(ctx context.Context, market common.Address, view string, dst any) error {
	data, err := mc.rdb.HGet(ctx, viewKey(market), view).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("redis: get %s view %s: %w", view, market.Hex(), err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("redis: unmarshal %s view %s: %w", view, market.Hex(), err)
	}
	return nil
}

// Invalidate drops every cached view of the given markets.
func (mc *MarketCache) Invalidate(ctx context.Context, markets ...common.Address) error {
	if len(markets) == 0 {
		return nil
	}
	keys := make([]string, len(markets))
	for i, m := range markets {
		keys[i] = viewKey(m)
	}
	if err := mc.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate views: %w", err)
	}
	return nil
}

// OnCommit invalidates the markets touched by r.
func (mc *MarketCache) OnCommit(ctx context.Context, r *ledger.Receipt) {
	seen := make(map[common.Address]bool)
	var markets []common.Address
	for _, ev := range r.Events {
		if ev.Market == (common.Address{}) || seen[ev.Market] {
			continue
		}
		seen[ev.Market] = true
		markets = append(markets, ev.Market)
	}
	if err := mc.Invalidate(ctx, markets...); err != nil {
		mc.logger.WarnContext(ctx, "invalidate failed", slog.String("error", err.Error()))
	}
}

var (
	_ domain.ViewCache = (*MarketCache)(nil)
	_ ledger.Observer  = (*MarketCache)(nil)
)
