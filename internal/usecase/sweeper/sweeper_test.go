package sweeper

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kailas-cloud/oppfinder/internal/db/memory"
	"github.com/kailas-cloud/oppfinder/internal/metrics"
	"github.com/kailas-cloud/oppfinder/internal/usecase/ratelimit"
)

func TestMain(m *testing.M) {
	metrics.RegisterSearchMetrics()
	os.Exit(m.Run())
}

type countingTarget struct {
	mu    sync.Mutex
	calls []time.Time
	n     int
}

func (c *countingTarget) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, now)
	return c.n
}

func (c *countingTarget) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func TestRunOnce_RealTargets(t *testing.T) {
	epoch := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	now := epoch
	clock := func() time.Time { return now }

	store := memory.NewStore(memory.WithClock(clock))
	require.NoError(t, store.SetWithTTL(context.Background(), "short", []byte("x"), time.Minute))
	require.NoError(t, store.SetWithTTL(context.Background(), "long", []byte("y"), time.Hour))

	limiter := ratelimit.New(time.Minute, 10, ratelimit.WithClock(clock))
	limiter.Admit("a")
	limiter.Admit("b")

	s := New(map[string]Sweepable{"memory_store": store, "rate_limiter": limiter}, time.Minute, zap.NewNop())

	before := testutil.ToFloat64(metrics.SweptEntriesTotal.WithLabelValues("memory_store"))
	removed := s.RunOnce(epoch.Add(2 * time.Minute))

	assert.Equal(t, 1, removed["memory_store"])
	assert.Equal(t, 2, removed["rate_limiter"])
	assert.Equal(t, 1, store.Len())
	assert.Zero(t, limiter.Len())
	assert.InDelta(t, before+1, testutil.ToFloat64(metrics.SweptEntriesTotal.WithLabelValues("memory_store")), 1e-9)
}

func TestStartStop(t *testing.T) {
	target := &countingTarget{n: 1}
	s := New(map[string]Sweepable{"t": target}, 10*time.Millisecond, zap.NewNop())

	s.Start(context.Background())
	s.Start(context.Background())

	require.Eventually(t, func() bool { return target.count() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	after := target.count()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, target.count(), "no sweeps after Stop")

	s.Stop()
}

func TestStart_StopsWithContext(t *testing.T) {
	target := &countingTarget{}
	s := New(map[string]Sweepable{"t": target}, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancel")
	}
}

func TestNew_DefaultInterval(t *testing.T) {
	s := New(nil, 0, zap.NewNop())
	assert.Equal(t, DefaultInterval, s.interval)
	assert.Empty(t, s.RunOnce(time.Now()))
}
