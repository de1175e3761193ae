// Package ledger computes presentation values over the active transaction set.
package ledger

import (
	"cmp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/moneytracker/pkg/api"
)

// Synthetic bucket names produced by CategoryBreakdown.
const (
	Uncategorized = "Uncategorized"
	Others        = "Others"
)

var hundred = decimal.NewFromInt(100)

// TotalSpent sums the cost of all transactions.
func TotalSpent(transactions []api.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range transactions {
		total = total.Add(t.Cost)
	}
	return total
}

// Remaining returns what is left of the budget.
func Remaining(budget, totalSpent decimal.Decimal) decimal.Decimal {
	return budget.Sub(totalSpent)
}

// FormatRemaining renders the remaining budget for display. Amounts below 10
// (including negative ones) are shown in full; larger amounts only reveal
// their leading digit, followed by one dash per remaining integer digit, up
// to four dashes.
func FormatRemaining(amount decimal.Decimal) string {
	if amount.LessThan(decimal.NewFromInt(10)) {
		return "$" + amount.StringFixed(2)
	}

	intPart := amount.Truncate(0).String()
	dashes := min(len(intPart)-1, 4)
	return "$" + intPart[:1] + strings.Repeat("-", dashes)
}

// Slice is one bucket of a category breakdown.
type Slice struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
	// Synthetic is set for the Uncategorized and Others buckets created by
	// the breakdown itself, as opposed to user categories with those names.
	Synthetic bool `json:"synthetic"`
}

// Breakdown is the per-category split of spending, largest bucket first.
type Breakdown struct {
	Slices []Slice         `json:"slices"`
	Total  decimal.Decimal `json:"total"`
}

// CategoryBreakdown groups transactions by category name. Transactions whose
// category cannot be resolved go to Uncategorized. Buckets whose share of the
// total is below thresholdPercent are merged into Others, which only exists
// when at least one bucket was merged.
func CategoryBreakdown(transactions []api.Transaction, categories []api.Category, thresholdPercent int) Breakdown {
	names := make(map[int64]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}

	type bucketKey struct {
		name      string
		synthetic bool
	}
	sums := make(map[bucketKey]decimal.Decimal)
	var order []bucketKey
	total := decimal.Zero

	for _, t := range transactions {
		key := bucketKey{name: Uncategorized, synthetic: true}
		if t.CategoryID != nil {
			if name, ok := names[*t.CategoryID]; ok {
				key = bucketKey{name: name}
			}
		}
		if _, seen := sums[key]; !seen {
			order = append(order, key)
		}
		sums[key] = sums[key].Add(t.Cost)
		total = total.Add(t.Cost)
	}

	b := Breakdown{Total: total}
	if total.IsZero() {
		return b
	}

	threshold := decimal.NewFromInt(int64(thresholdPercent))
	others := decimal.Zero
	merged := false
	for _, key := range order {
		amount := sums[key]
		// share >= threshold  <=>  amount*100 >= threshold*total
		if amount.Mul(hundred).GreaterThanOrEqual(threshold.Mul(total)) {
			b.Slices = append(b.Slices, Slice{Name: key.name, Amount: amount, Synthetic: key.synthetic})
			continue
		}
		others = others.Add(amount)
		merged = true
	}
	if merged {
		b.Slices = append(b.Slices, Slice{Name: Others, Amount: others, Synthetic: true})
	}

	slices.SortStableFunc(b.Slices, func(x, y Slice) int {
		if c := y.Amount.Cmp(x.Amount); c != 0 {
			return c
		}
		return cmp.Compare(x.Name, y.Name)
	})
	return b
}

// Map returns the breakdown as name -> amount. A user category literally
// named like a synthetic bucket shares its entry.
func (b Breakdown) Map() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(b.Slices))
	for _, s := range b.Slices {
		out[s.Name] = out[s.Name].Add(s.Amount)
	}
	return out
}

// Legend returns the names of the labeled slices: every slice except the
// synthetic Uncategorized and Others buckets.
func (b Breakdown) Legend() []string {
	var names []string
	for _, s := range b.Slices {
		if s.Synthetic {
			continue
		}
		names = append(names, s.Name)
	}
	return names
}

// ResolveCategory returns the category name for id, or Uncategorized when id
// is nil or refers to a category that no longer exists.
func ResolveCategory(id *int64, categories []api.Category) string {
	if id == nil {
		return Uncategorized
	}
	for _, c := range categories {
		if c.ID == *id {
			return c.Name
		}
	}
	return Uncategorized
}
