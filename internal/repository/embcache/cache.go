package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/oppfinder/internal/db"
	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/provider"
)

// DefaultCapacity is the L1 soft limit when none is configured.
const DefaultCapacity = 10000

var cacheKeyPrefix = domain.KeyPrefix + "emb_cache:"

// store is the consumer interface for the L2 tier (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache maps (provider, text) to an embedding vector.
//
// L1 is an in-process map with insertion-order eviction: once it grows past
// capacity the oldest half is dropped. L2 is an optional KV store shared across
// restarts; an L2 hit is promoted into L1. Returned vectors are shared and must
// not be modified.
type Cache struct {
	mu       sync.Mutex
	entries  map[string][]float32
	order    []string
	capacity int

	l2         store
	l2TTL      time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a cache. l2 may be nil. cacheTotal has labels "tier" and "result"
// and may be nil.
func New(
	capacity int,
	l2 store,
	l2TTL time.Duration,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		entries:    make(map[string][]float32),
		capacity:   capacity,
		l2:         l2,
		l2TTL:      l2TTL,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Get looks the vector up in L1, then L2.
func (c *Cache) Get(ctx context.Context, p provider.Provider, text string) ([]float32, bool) {
	key := cacheKey(p, text)

	c.mu.Lock()
	vec, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		c.inc("l1", "hit")
		return vec, true
	}
	c.inc("l1", "miss")

	if c.l2 == nil {
		return nil, false
	}
	vec, ok = c.getFromStore(ctx, key)
	if !ok {
		c.inc("l2", "miss")
		return nil, false
	}
	c.inc("l2", "hit")
	c.putLocal(key, vec)
	return vec, true
}

// Put stores the vector in both tiers. L2 failures are logged and ignored.
func (c *Cache) Put(ctx context.Context, p provider.Provider, text string, vec []float32) {
	key := cacheKey(p, text)
	c.putLocal(key, vec)

	if c.l2 == nil {
		return
	}
	if err := c.l2.SetWithTTL(ctx, key, vectorToCacheBytes(vec), c.l2TTL); err != nil {
		c.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
}

// Len returns the number of L1 entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) putLocal(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = vec

	if len(c.entries) > c.capacity {
		half := len(c.order) / 2
		for _, k := range c.order[:half] {
			delete(c.entries, k)
		}
		c.order = append([]string(nil), c.order[half:]...)
	}
}

func (c *Cache) getFromStore(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.l2.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	vec, err := bytesToVector(data)
	if err != nil {
		c.logger.Warn("Failed to parse cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return vec, true
}

func (c *Cache) inc(tier, result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(tier, result).Inc()
	}
}

func cacheKey(p provider.Provider, text string) string {
	h := sha256.Sum256([]byte(text))
	return cacheKeyPrefix + string(p) + ":" + hex.EncodeToString(h[:])
}

func vectorToCacheBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
