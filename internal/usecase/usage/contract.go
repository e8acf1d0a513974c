package usage

// BudgetReader is one provider's token budget as seen by the report.
// Limits of 0 are unlimited and report -1 remaining; reads consume nothing.
type BudgetReader interface {
	DailyLimit() int64
	DailyUsed() int64
	RemainingDaily() int64

	MonthlyLimit() int64
	MonthlyUsed() int64
	RemainingMonthly() int64
}
