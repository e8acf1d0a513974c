package embcache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/oppfinder/internal/db"
	"github.com/kailas-cloud/oppfinder/internal/domain/provider"
)

func newCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_emb_cache_total"}, []string{"tier", "result"})
}

func TestCache_L1RoundTrip(t *testing.T) {
	c := New(10, nil, 0, nil, zap.NewNop())
	ctx := context.Background()

	if _, ok := c.Get(ctx, provider.OpenAI, "hello"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Put(ctx, provider.OpenAI, "hello", []float32{1, 2})

	vec, ok := c.Get(ctx, provider.OpenAI, "hello")
	if !ok || len(vec) != 2 || vec[1] != 2 {
		t.Fatalf("Get = %v, %v", vec, ok)
	}
}

func TestCache_KeyedByProvider(t *testing.T) {
	c := New(10, nil, 0, nil, zap.NewNop())
	ctx := context.Background()

	c.Put(ctx, provider.OpenAI, "hello", []float32{1})
	if _, ok := c.Get(ctx, provider.Voyage, "hello"); ok {
		t.Error("vector leaked across providers")
	}
}

func TestCache_EvictsOldestHalf(t *testing.T) {
	c := New(4, nil, 0, nil, zap.NewNop())
	ctx := context.Background()

	for i := range 5 {
		c.Put(ctx, provider.OpenAI, fmt.Sprintf("t%d", i), []float32{float32(i)})
	}

	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 after evicting oldest half", c.Len())
	}
	for _, text := range []string{"t0", "t1"} {
		if _, ok := c.Get(ctx, provider.OpenAI, text); ok {
			t.Errorf("%s should have been evicted", text)
		}
	}
	for _, text := range []string{"t2", "t3", "t4"} {
		if _, ok := c.Get(ctx, provider.OpenAI, text); !ok {
			t.Errorf("%s should be retained", text)
		}
	}
}

func TestCache_OverwriteDoesNotGrowOrder(t *testing.T) {
	c := New(2, nil, 0, nil, zap.NewNop())
	ctx := context.Background()

	for range 10 {
		c.Put(ctx, provider.OpenAI, "same", []float32{1})
	}
	if c.Len() != 1 || len(c.order) != 1 {
		t.Errorf("Len() = %d, order = %d", c.Len(), len(c.order))
	}
}

func TestCache_L2HitPromotes(t *testing.T) {
	ms := &mockKVStore{
		getFn: func(_ context.Context, _ string) ([]byte, error) {
			return vectorToCacheBytes([]float32{0.5, 0.25}), nil
		},
	}
	counter := newCounter()
	c := New(10, ms, time.Hour, counter, zap.NewNop())
	ctx := context.Background()

	vec, ok := c.Get(ctx, provider.Voyage, "q")
	if !ok || vec[0] != 0.5 || vec[1] != 0.25 {
		t.Fatalf("Get = %v, %v", vec, ok)
	}
	if c.Len() != 1 {
		t.Error("L2 hit should be promoted into L1")
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("l2", "hit")); got != 1 {
		t.Errorf("l2 hit counter = %v", got)
	}
}

func TestCache_L2CorruptIsMiss(t *testing.T) {
	ms := &mockKVStore{
		getFn: func(_ context.Context, _ string) ([]byte, error) {
			return []byte{1, 2, 3}, nil
		},
	}
	c := New(10, ms, time.Hour, nil, zap.NewNop())

	if _, ok := c.Get(context.Background(), provider.OpenAI, "q"); ok {
		t.Error("corrupt L2 payload must be treated as a miss")
	}
}

func TestCache_PutWritesL2WithTTL(t *testing.T) {
	var gotKey string
	var gotTTL time.Duration
	ms := &mockKVStore{
		setFn: func(_ context.Context, key string, value []byte, ttl time.Duration) error {
			gotKey, gotTTL = key, ttl
			if len(value) != 8 {
				t.Errorf("value len = %d, want 8", len(value))
			}
			return nil
		},
	}
	c := New(10, ms, 24*time.Hour, nil, zap.NewNop())
	c.Put(context.Background(), provider.OpenAI, "q", []float32{1, 2})

	if gotTTL != 24*time.Hour {
		t.Errorf("ttl = %v", gotTTL)
	}
	if gotKey != cacheKey(provider.OpenAI, "q") {
		t.Errorf("key = %q", gotKey)
	}
}

func TestCache_L2SetErrorIgnored(t *testing.T) {
	ms := &mockKVStore{
		setFn: func(_ context.Context, _ string, _ []byte, _ time.Duration) error {
			return errors.New("connection refused")
		},
	}
	c := New(10, ms, time.Hour, nil, zap.NewNop())
	ctx := context.Background()

	c.Put(ctx, provider.OpenAI, "q", []float32{1})
	if _, ok := c.Get(ctx, provider.OpenAI, "q"); !ok {
		t.Error("L1 should still hold the vector")
	}
}

func TestVectorBytes_RoundTrip(t *testing.T) {
	in := []float32{0, -1.5, 3.25}
	out, err := bytesToVector(vectorToCacheBytes(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestGetFromStore_NotFoundQuiet(t *testing.T) {
	ms := &mockKVStore{getFn: func(_ context.Context, _ string) ([]byte, error) {
		return nil, db.ErrKeyNotFound
	}}
	c := New(10, ms, 0, nil, zap.NewNop())
	if _, ok := c.getFromStore(context.Background(), "k"); ok {
		t.Error("expected miss")
	}
}
