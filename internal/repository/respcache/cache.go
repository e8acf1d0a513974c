// Package respcache memoizes upstream search responses keyed by query fingerprint.
package respcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/oppfinder/internal/db"
	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/logger"
)

// DefaultTTL is the freshness window for cached responses.
const DefaultTTL = 30 * time.Minute

var keyPrefix = domain.KeyPrefix + "resp:"

// store is the consumer interface for the response cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// envelope is the stored form of a cache entry.
type envelope struct {
	Payload  json.RawMessage `json:"payload"`
	StoredAt time.Time       `json:"storedAt"`
	TTLMs    int64           `json:"ttlMs"`
}

func (e *envelope) fresh(now time.Time) bool {
	return now.Sub(e.StoredAt) < time.Duration(e.TTLMs)*time.Millisecond
}

// Result is what GetOrCompute hands back.
type Result[T any] struct {
	Value    T
	Cached   bool
	StoredAt time.Time
}

// ComputeFunc produces a fresh value on a miss.
type ComputeFunc[T any] func(ctx context.Context) (T, error)

// Option configures a Cache.
type Option func(*options)

type options struct {
	now        func() time.Time
	cacheTotal *prometheus.CounterVec
}

// WithClock overrides the time source used for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithCounter attaches a counter vec with label "result" (hit/miss/store_error).
func WithCounter(c *prometheus.CounterVec) Option {
	return func(o *options) { o.cacheTotal = c }
}

// Cache is a read-through cache over a KV store.
//
// Entries are only written after a successful compute, so failures are never
// memoized. Concurrent misses for the same fingerprint share one compute call.
// Store failures degrade to a miss and never fail the request.
type Cache[T any] struct {
	store store
	group singleflight.Group
	opts  options
}

// New creates a response cache over s.
func New[T any](s store, opts ...Option) *Cache[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{store: s, opts: o}
}

// GetOrCompute returns the live entry for fingerprint, or runs compute and stores
// its result for ttl. Compute errors are returned unchanged and nothing is stored.
func (c *Cache[T]) GetOrCompute(
	ctx context.Context, fingerprint string, ttl time.Duration, compute ComputeFunc[T],
) (Result[T], error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := keyPrefix + fingerprint

	if res, ok := c.lookup(ctx, key); ok {
		c.inc("hit")
		return res, nil
	}
	c.inc("miss")

	// The shared call must not die with whichever caller happened to start it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(key, func() (any, error) {
		val, err := compute(shared)
		if err != nil {
			return nil, err
		}
		storedAt := c.opts.now()
		c.put(shared, key, val, storedAt, ttl)
		return Result[T]{Value: val, StoredAt: storedAt}, nil
	})
	if err != nil {
		return Result[T]{}, err //nolint:wrapcheck // compute errors carry their own context
	}
	return v.(Result[T]), nil
}

func (c *Cache[T]) lookup(ctx context.Context, key string) (Result[T], bool) {
	log := logger.FromContext(ctx)

	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.inc("store_error")
			log.Warn("Response cache read failed", zap.String("key", key), zap.Error(err))
		}
		return Result[T]{}, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn("Response cache entry corrupt", zap.String("key", key), zap.Error(err))
		return Result[T]{}, false
	}
	if !env.fresh(c.opts.now()) {
		return Result[T]{}, false
	}

	var val T
	if err := json.Unmarshal(env.Payload, &val); err != nil {
		log.Warn("Response cache payload corrupt", zap.String("key", key), zap.Error(err))
		return Result[T]{}, false
	}
	return Result[T]{Value: val, Cached: true, StoredAt: env.StoredAt}, true
}

func (c *Cache[T]) put(ctx context.Context, key string, val T, storedAt time.Time, ttl time.Duration) {
	log := logger.FromContext(ctx)

	payload, err := json.Marshal(val)
	if err != nil {
		log.Warn("Response cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	data, err := json.Marshal(envelope{Payload: payload, StoredAt: storedAt, TTLMs: ttl.Milliseconds()})
	if err != nil {
		log.Warn("Response cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.SetWithTTL(ctx, key, data, ttl); err != nil {
		c.inc("store_error")
		log.Warn("Response cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache[T]) inc(result string) {
	if c.opts.cacheTotal != nil {
		c.opts.cacheTotal.WithLabelValues(result).Inc()
	}
}
