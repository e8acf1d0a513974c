package db

import (
	"context"
	"time"
)

// Store is the key-value facade shared by the response cache, the embedding
// cache and the budget tracker.
type Store interface {
	Pinger
	KVStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides simple key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Sweeper is implemented by stores that expire entries in-process
// and need a periodic pass to reclaim memory.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Counter is implemented by stores that can increment a counter and start its
// expiry atomically. With it, a counter never outlives its window without a TTL.
type Counter interface {
	IncrByWithTTL(ctx context.Context, key string, val int64, ttl time.Duration) error
}
