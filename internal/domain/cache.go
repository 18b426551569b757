package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking. Resolution is single-writer:
// the settler takes a per-market lock before transitioning it out of Locked.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// MarketCache is a read-through cache for market snapshots. Misses return
// ErrNotFound; callers fall back to the store and repopulate.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id string) (Market, error)
	GetByEventRef(ctx context.Context, eventRef string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// StreamMessage represents a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub delivery of settlement events plus a durable
// ordered stream for consumers that must not miss entries.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
