package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// PriceQuote is one price-feed reading. The price is Price * 10^Exponent,
// the confidence interval is expressed in the same units as Price.
type PriceQuote struct {
	FeedID      string `json:"feed_id"`
	Price       int64  `json:"price"`
	Confidence  uint64 `json:"confidence"`
	Exponent    int32  `json:"exponent"`
	PublishTime uint64 `json:"publish_time"`
}

// PriceOracle supplies price-feed readings to crypto proposals.
type PriceOracle interface {
	Quote(ctx context.Context, feedID string) (PriceQuote, error)
}

// ViewCache caches per-market read views. Get returns ErrNotFound on a miss.
type ViewCache interface {
	Get(ctx context.Context, market common.Address, view string, dst any) error
	Set(ctx context.Context, market common.Address, view string, v any) error
	Invalidate(ctx context.Context, markets ...common.Address) error
}
