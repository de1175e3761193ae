package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/payday"
)

// Summary is the dashboard view of the current period.
type Summary struct {
	MonthKey         string          `json:"month_key"`
	Budget           decimal.Decimal `json:"budget"`
	TotalSpent       decimal.Decimal `json:"total_spent"`
	Remaining        decimal.Decimal `json:"remaining"`
	RemainingDisplay string          `json:"remaining_display"`
	NextPayday       time.Time       `json:"next_payday"`
	DaysUntilPayday  int             `json:"days_until_payday"`
	Transactions     int             `json:"transactions"`
	Breakdown        Breakdown       `json:"breakdown"`
}

// Summarize builds the summary of the active set for today.
func Summarize(us api.UserSettings, transactions []api.Transaction, categories []api.Category, today time.Time) Summary {
	total := TotalSpent(transactions)
	remaining := Remaining(us.MonthlyBudget, total)
	return Summary{
		MonthKey:         api.MonthKey(today),
		Budget:           us.MonthlyBudget,
		TotalSpent:       total,
		Remaining:        remaining,
		RemainingDisplay: FormatRemaining(remaining),
		NextPayday:       payday.Next(us.Payday, today),
		DaysUntilPayday:  payday.DaysUntilNext(us.Payday, today),
		Transactions:     len(transactions),
		Breakdown:        CategoryBreakdown(transactions, categories, us.ThresholdPercent),
	}
}
