package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

// PriceFeed implements domain.PriceOracle over quotes pushed into Redis by
// an external publisher. Each feed is a hash at "oracle:{feedID}" with the
// fields price, conf, expo and publish_time.
type PriceFeed struct {
	rdb *redis.Client
}

// NewPriceFeed creates a PriceFeed backed by c.
func NewPriceFeed(c *Client) *PriceFeed {
	return &PriceFeed{rdb: c.Underlying()}
}

func feedKey(feedID string) string {
	return "oracle:" + feedID
}

// SetQuote stores the latest quote of a feed.
func (pf *PriceFeed) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	fields := map[string]any{
		"price":        strconv.FormatInt(q.Price, 10),
		"conf":         strconv.FormatUint(q.Confidence, 10),
		"expo":         strconv.FormatInt(int64(q.Exponent), 10),
		"publish_time": strconv.FormatUint(q.PublishTime, 10),
	}
	if err := pf.rdb.HSet(ctx, feedKey(q.FeedID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.FeedID, err)
	}
	return nil
}

// Quote returns the latest quote of feedID, or domain.ErrNotFound.
func (pf *PriceFeed) Quote(ctx context.Context, feedID string) (domain.PriceQuote, error) {
	vals, err := pf.rdb.HGetAll(ctx, feedKey(feedID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s: %w", feedID, err)
	}
	if len(vals) == 0 {
		return domain.PriceQuote{}, fmt.Errorf("redis: quote %s: %w", feedID, domain.ErrNotFound)
	}
	return parseQuote(feedID, vals)
}

// Quotes fetches several feeds in one pipeline. Missing feeds are omitted.
func (pf *PriceFeed) Quotes(ctx context.Context, feedIDs []string) (map[string]domain.PriceQuote, error) {
	out := make(map[string]domain.PriceQuote, len(feedIDs))
	if len(feedIDs) == 0 {
		return out, nil
	}

	pipe := pf.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(feedIDs))
	for _, id := range feedIDs {
		cmds[id] = pipe.HGetAll(ctx, feedKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := parseQuote(id, vals)
		if err != nil {
			return nil, err
		}
		out[id] = q
	}
	return out, nil
}

func parseQuote(feedID string, vals map[string]string) (domain.PriceQuote, error) {
	q := domain.PriceQuote{FeedID: feedID}
	var err error
	if q.Price, err = strconv.ParseInt(vals["price"], 10, 64); err != nil {
		return q, fmt.Errorf("redis: quote %s: price: %w", feedID, err)
	}
	if q.Confidence, err = strconv.ParseUint(vals["conf"], 10, 64); err != nil {
		return q, fmt.Errorf("redis: quote %s: conf: %w", feedID, err)
	}
	expo, err := strconv.ParseInt(vals["expo"], 10, 32)
	if err != nil {
		return q, fmt.Errorf("redis: quote %s: expo: %w", feedID, err)
	}
	q.Exponent = int32(expo)
	if q.PublishTime, err = strconv.ParseUint(vals["publish_time"], 10, 64); err != nil {
		return q, fmt.Errorf("redis: quote %s: publish_time: %w", feedID, err)
	}
	return q, nil
}

var _ domain.PriceOracle = (*PriceFeed)(nil)
