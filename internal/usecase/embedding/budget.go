package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/provider"
)

// BudgetAction is what happens once a provider's budget is spent.
type BudgetAction string

const (
	BudgetActionWarn   BudgetAction = "warn"   // log and keep embedding
	BudgetActionReject BudgetAction = "reject" // fail with domain.ErrEmbeddingQuotaExceeded
)

const persistTimeout = 2 * time.Second

// BudgetStore persists token counters. IncrBy may be called repeatedly for the same key.
type BudgetStore interface {
	IncrBy(ctx context.Context, key string, val int64) error
	Get(ctx context.Context, key string) (int64, error)
}

// window is one budget period. Its counter resets when the period starts over.
type window struct {
	name     string // daily, monthly
	layout   string // key suffix format
	truncate func(time.Time) time.Time
	limit    int64
	used     int64
	start    time.Time
}

func (w *window) roll(now time.Time) {
	if s := w.truncate(now); s.After(w.start) {
		w.start, w.used = s, 0
	}
}

func (w *window) spent() bool { return w.limit > 0 && w.used >= w.limit }

// remaining returns tokens left, or -1 when unlimited.
func (w *window) remaining() int64 {
	if w.limit == 0 {
		return -1
	}
	return max(w.limit-w.used, 0)
}

func (w *window) key(p provider.Provider, t time.Time) string {
	return fmt.Sprintf("%sbudget:%s:%s:%s", domain.KeyPrefix, p, w.name, t.Format(w.layout))
}

// BudgetTracker counts embedding tokens for one provider against daily and
// monthly caps. Check reads memory only; Record updates memory and writes
// through to the store when one is attached.
type BudgetTracker struct {
	provider provider.Provider
	action   BudgetAction
	now      func() time.Time
	logger   *zap.Logger

	mu      sync.Mutex
	daily   window
	monthly window
	store   BudgetStore
}

// BudgetOption configures a BudgetTracker.
type BudgetOption func(*BudgetTracker)

// WithBudgetClock overrides the tracker clock.
func WithBudgetClock(now func() time.Time) BudgetOption {
	return func(b *BudgetTracker) { b.now = now }
}

// NewBudgetTracker creates a tracker. A zero limit means unlimited.
func NewBudgetTracker(
	p provider.Provider, dailyLimit, monthlyLimit int64,
	action BudgetAction, logger *zap.Logger, opts ...BudgetOption,
) *BudgetTracker {
	b := &BudgetTracker{
		provider: p,
		action:   action,
		now:      time.Now,
		logger:   logger.With(zap.String("provider", string(p))),
		daily:    window{name: "daily", layout: "2006-01-02", truncate: startOfDay, limit: dailyLimit},
		monthly:  window{name: "monthly", layout: "2006-01", truncate: startOfMonth, limit: monthlyLimit},
	}
	for _, o := range opts {
		o(b)
	}
	now := b.clock()
	b.daily.start, b.monthly.start = startOfDay(now), startOfMonth(now)
	return b
}

// WithStore attaches a persistence store and loads the current counters from
// it, so a restart does not hand out a fresh budget.
func (b *BudgetTracker) WithStore(ctx context.Context, store BudgetStore) *BudgetTracker {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.store = store
	now := b.clock()
	for _, w := range []*window{&b.daily, &b.monthly} {
		val, err := store.Get(ctx, w.key(b.provider, now))
		if err != nil {
			b.logger.Warn("Failed to load budget counter", zap.String("window", w.name), zap.Error(err))
			continue
		}
		w.used = val
	}

	b.logger.Info("Budget loaded",
		zap.Int64("daily_used", b.daily.used),
		zap.Int64("monthly_used", b.monthly.used),
	)
	return b
}

// Check returns domain.ErrEmbeddingQuotaExceeded when a cap is reached and the
// action is reject. With warn the overrun is only logged.
func (b *BudgetTracker) Check(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.roll()
	for _, w := range []*window{&b.daily, &b.monthly} {
		if !w.spent() {
			continue
		}
		if b.action == BudgetActionReject {
			return fmt.Errorf("%w: %s %s limit of %d tokens", domain.ErrEmbeddingQuotaExceeded, b.provider, w.name, w.limit)
		}
		b.logger.Warn("Token budget exceeded",
			zap.String("window", w.name),
			zap.Int64("used", w.used),
			zap.Int64("limit", w.limit),
		)
		return nil
	}
	return nil
}

// Record adds consumed tokens.
func (b *BudgetTracker) Record(tokens int64) {
	if tokens <= 0 {
		return
	}

	b.mu.Lock()
	b.roll()
	b.daily.used += tokens
	b.monthly.used += tokens
	store := b.store
	now := b.clock()
	keys := []string{b.daily.key(b.provider, now), b.monthly.key(b.provider, now)}
	b.mu.Unlock()

	if store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	for _, key := range keys {
		if err := store.IncrBy(ctx, key, tokens); err != nil {
			b.logger.Warn("Failed to persist budget", zap.String("key", key), zap.Error(err))
		}
	}
}

// DailyLimit returns the daily cap (0 means unlimited).
func (b *BudgetTracker) DailyLimit() int64 { return b.daily.limit }

// MonthlyLimit returns the monthly cap (0 means unlimited).
func (b *BudgetTracker) MonthlyLimit() int64 { return b.monthly.limit }

// RemainingDaily returns tokens left today, or -1 when unlimited.
func (b *BudgetTracker) RemainingDaily() int64 {
	return b.read(func() int64 { return b.daily.remaining() })
}

// RemainingMonthly returns tokens left this month, or -1 when unlimited.
func (b *BudgetTracker) RemainingMonthly() int64 {
	return b.read(func() int64 { return b.monthly.remaining() })
}

// DailyUsed returns tokens consumed today.
func (b *BudgetTracker) DailyUsed() int64 {
	return b.read(func() int64 { return b.daily.used })
}

// MonthlyUsed returns tokens consumed this month.
func (b *BudgetTracker) MonthlyUsed() int64 {
	return b.read(func() int64 { return b.monthly.used })
}

func (b *BudgetTracker) read(f func() int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()
	return f()
}

func (b *BudgetTracker) clock() time.Time { return b.now().UTC() }

// roll starts new windows when the day or month changed. Caller holds mu.
func (b *BudgetTracker) roll() {
	now := b.clock()
	b.daily.roll(now)
	b.monthly.roll(now)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
