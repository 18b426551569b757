package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fanclash/settlement/internal/domain"
)

const marketTTL = 30 * time.Second

// MarketCache implements domain.MarketCache using Redis hashes with JSON-
// serialized Market data and a secondary event-ref-to-market index. The TTL
// is short: pool totals change on every stake, so stale reads age out fast.
//
// Key schema:
//
//	market:{id}           - hash with field "data" containing JSON
//	market:event:{ref}    - string value of the market ID
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(id string) string       { return "market:" + id }
func marketEventKey(ref string) string { return "market:event:" + ref }

// Set stores a Market in the cache and indexes it by event reference.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.ID, err)
	}

	key := marketKey(market.ID)

	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, marketTTL)

	if market.EventRef != "" {
		pipe.Set(ctx, marketEventKey(market.EventRef), market.ID, marketTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.ID, err)
	}
	return nil
}

// Get retrieves a Market by its ID from the cache.
// It returns domain.ErrNotFound when the key does not exist.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.Market, error) {
	data, err := mc.rdb.HGet(ctx, marketKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return market, nil
}

// GetByEventRef looks up a Market by its upstream event reference.
// It returns domain.ErrNotFound if the index entry or market does not exist.
func (mc *MarketCache) GetByEventRef(ctx context.Context, eventRef string) (domain.Market, error) {
	marketID, err := mc.rdb.Get(ctx, marketEventKey(eventRef)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market by event %s: %w", eventRef, err)
	}

	return mc.Get(ctx, marketID)
}

// Invalidate removes a Market and its event index entry from the cache.
// Called after every status transition and pool change.
func (mc *MarketCache) Invalidate(ctx context.Context, id string) error {
	market, err := mc.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}

	pipe := mc.rdb.TxPipeline()
	pipe.Del(ctx, marketKey(id))

	// Only delete the event mapping if we successfully read the market.
	if err == nil && market.EventRef != "" {
		pipe.Del(ctx, marketEventKey(market.EventRef))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
