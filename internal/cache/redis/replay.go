package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// ReplayWindow remembers transaction digests for ttl so that every node
// sharing the Redis instance rejects a replayed envelope.
type ReplayWindow struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewReplayWindow creates a ReplayWindow backed by c.
func NewReplayWindow(c *Client, ttl time.Duration) *ReplayWindow {
	return &ReplayWindow{rdb: c.Underlying(), ttl: ttl}
}

// Claim reports whether digest was unseen, recording it if so.
func (w *ReplayWindow) Claim(ctx context.Context, digest common.Hash) (bool, error) {
	ok, err := w.rdb.SetNX(ctx, "replay:"+digest.Hex(), 1, w.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim digest: %w", err)
	}
	return ok, nil
}
