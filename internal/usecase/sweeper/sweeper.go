// Package sweeper periodically reclaims expired entries from in-process maps.
package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/oppfinder/internal/metrics"
)

// DefaultInterval is the pause between sweeps.
const DefaultInterval = 5 * time.Minute

// Sweepable drops entries that are stale at now and reports how many it removed.
type Sweepable interface {
	Sweep(now time.Time) int
}

// Sweeper runs every registered target on a fixed interval in its own goroutine.
type Sweeper struct {
	targets  map[string]Sweepable
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time passed to targets.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New creates a sweeper over named targets.
func New(targets map[string]Sweepable, interval time.Duration, logger *zap.Logger, opts ...Option) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Sweeper{
		targets:  targets,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RunOnce sweeps every target at now and returns the removed count per target.
func (s *Sweeper) RunOnce(now time.Time) map[string]int {
	removed := make(map[string]int, len(s.targets))
	for name, t := range s.targets {
		n := t.Sweep(now)
		removed[name] = n
		if n > 0 {
			metrics.SweptEntriesTotal.WithLabelValues(name).Add(float64(n))
		}
	}
	return removed
}

// Start launches the background loop. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.RunOnce(s.now())
			s.logger.Debug("Sweep completed", zap.Any("removed", removed))
		}
	}
}
