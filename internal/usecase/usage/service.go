// Package usage reports embedding token consumption against configured budgets.
package usage

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/kailas-cloud/oppfinder/internal/domain"
	"github.com/kailas-cloud/oppfinder/internal/domain/provider"
)

// Period selects the budget window of a report.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// ParsePeriod maps a client-supplied period; empty means PeriodDay.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodDay:
		return PeriodDay, nil
	case PeriodMonth:
		return PeriodMonth, nil
	default:
		return "", domain.NewValidationError("period must be day or month")
	}
}

// ProviderUsage is one provider's standing in the period. Limit 0 and
// Remaining -1 mean unlimited.
type ProviderUsage struct {
	Provider  provider.Provider `json:"provider"`
	Limit     int64             `json:"tokensLimit"`
	Used      int64             `json:"tokensUsed"`
	Remaining int64             `json:"tokensRemaining"`
	Exhausted bool              `json:"exhausted"`
}

// Report covers every budgeted provider for one period.
type Report struct {
	Period      Period          `json:"period"`
	PeriodStart time.Time       `json:"periodStart"`
	PeriodEnd   time.Time       `json:"periodEnd"`
	Providers   []ProviderUsage `json:"providers"`
}

// Service handles usage reporting.
type Service struct {
	readers map[provider.Provider]BudgetReader
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for period boundaries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service over the providers that have a budget. readers may be empty.
func New(readers map[provider.Provider]BudgetReader, opts ...Option) *Service {
	s := &Service{readers: readers, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetReport builds a usage report for the given period, providers sorted by name.
func (s *Service) GetReport(_ context.Context, period Period) Report {
	now := s.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	if period == PeriodMonth {
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	}

	out := make([]ProviderUsage, 0, len(s.readers))
	for p, br := range s.readers {
		u := ProviderUsage{Provider: p}
		if period == PeriodMonth {
			u.Limit, u.Used, u.Remaining = br.MonthlyLimit(), br.MonthlyUsed(), br.RemainingMonthly()
		} else {
			u.Limit, u.Used, u.Remaining = br.DailyLimit(), br.DailyUsed(), br.RemainingDaily()
		}
		u.Exhausted = u.Limit > 0 && u.Remaining <= 0
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b ProviderUsage) int {
		return strings.Compare(string(a.Provider), string(b.Provider))
	})

	return Report{Period: period, PeriodStart: start, PeriodEnd: end, Providers: out}
}
