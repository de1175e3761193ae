package review

import (
	"context"
	"fmt"
	"time"

	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/ledger"
)

// Summary aggregates the active set under us as of today.
func (s *Service) Summary(ctx context.Context, us api.UserSettings, today time.Time) (ledger.Summary, error) {
	txs, err := s.store.ListTransactions(ctx)
	if err != nil {
		return ledger.Summary{}, fmt.Errorf("listing transactions: %w", err)
	}
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return ledger.Summary{}, fmt.Errorf("listing categories: %w", err)
	}
	return ledger.Summarize(us, txs, cats, today), nil
}

// PastMonths lists month records newest first, leaving out the month of today.
func (s *Service) PastMonths(ctx context.Context, today time.Time) ([]api.MonthlyRecord, error) {
	records, err := s.store.ListMonthlyRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing months: %w", err)
	}
	current := api.MonthKey(today)
	past := records[:0]
	for _, r := range records {
		if r.MonthKey != current {
			past = append(past, r)
		}
	}
	return past, nil
}

// Month returns the record for monthKey.
func (s *Service) Month(ctx context.Context, monthKey string) (api.MonthlyRecord, error) {
	if _, _, err := api.ParseMonthKey(monthKey); err != nil {
		return api.MonthlyRecord{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	rec, err := s.store.GetMonthlyRecord(ctx, monthKey)
	if err != nil {
		return api.MonthlyRecord{}, fmt.Errorf("getting month %s: %w", monthKey, err)
	}
	return rec, nil
}

// MonthBreakdown aggregates an archived month against the current categories.
func (s *Service) MonthBreakdown(ctx context.Context, rec api.MonthlyRecord, thresholdPercent int) (ledger.Breakdown, error) {
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return ledger.Breakdown{}, fmt.Errorf("listing categories: %w", err)
	}
	return ledger.CategoryBreakdown(rec.Transactions, cats, thresholdPercent), nil
}
