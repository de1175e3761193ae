// Package budget runs the monthly budget cycle: on the day after payday the
// active transactions are archived into the month's record and the ledger
// starts empty.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/payday"
	"github.com/ArionMiles/moneytracker/pkg/store"
)

// ErrRetryable marks a check that failed without changing anything and can
// be run again.
var ErrRetryable = errors.New("rollover check failed")

// Store is the subset of store.Store the engine needs.
type Store interface {
	EnsureMonthlyRecord(ctx context.Context, monthKey string) (bool, error)
	GetMonthlyRecord(ctx context.Context, monthKey string) (api.MonthlyRecord, error)
	ArchiveMonth(ctx context.Context, monthKey string, budget decimal.Decimal) (api.MonthlyRecord, error)
}

// SettingsLoader provides the current settings.
type SettingsLoader interface {
	Load(ctx context.Context) (api.UserSettings, error)
}

// Outcome describes what a check did.
type Outcome struct {
	// CurrentMonth is the key of today's record, which is always ensured.
	CurrentMonth string `json:"current_month"`
	// ResetDay is set when today is the day after a payday.
	ResetDay bool `json:"reset_day"`
	// ArchivedMonth is the record filled by this check, if any.
	ArchivedMonth string `json:"archived_month,omitempty"`
	// ArchivedCount is the number of transactions moved into the archive.
	ArchivedCount int `json:"archived_count"`
}

// Engine performs rollover checks. Checks are serialized.
type Engine struct {
	store    Store
	settings SettingsLoader
	logger   *slog.Logger
	now      func() time.Time

	// mu is held for the whole check. It can be shared with other writers of
	// the active set through WithLedgerLock.
	mu sync.Locker
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLedgerLock makes checks hold l instead of a private mutex.
func WithLedgerLock(l sync.Locker) Option {
	return func(e *Engine) { e.mu = l }
}

// NewEngine creates an engine.
func NewEngine(s Store, settings SettingsLoader, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:    s,
		settings: settings,
		logger:   logger.With("component", "budget"),
		now:      time.Now,
		mu:       &sync.Mutex{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckNow runs Check for the engine's current time.
func (e *Engine) CheckNow(ctx context.Context) (Outcome, error) {
	return e.Check(ctx, e.now())
}

// Check ensures today's month record exists and, when today is a reset day,
// archives the period that just ended. Calling it again on the same day is a
// no-op. Errors wrap ErrRetryable; a failed check leaves the ledger untouched.
func (e *Engine) Check(ctx context.Context, today time.Time) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := Outcome{CurrentMonth: api.MonthKey(today)}

	created, err := e.store.EnsureMonthlyRecord(ctx, out.CurrentMonth)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrRetryable, err)
	}
	if created {
		e.logger.Info("created month record", "month_key", out.CurrentMonth)
	}

	us, err := e.settings.Load(ctx)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrRetryable, err)
	}

	if !payday.IsResetDay(us.Payday, today) {
		return out, nil
	}
	out.ResetDay = true

	// Archive under the month of yesterday's payday, not today's month. The two
	// keys differ only when the payday is the last day of a month: a payday of
	// 31 resets on the 1st, and that record is the previous month's.
	monthKey := api.MonthKey(today.AddDate(0, 0, -1))

	record, err := e.store.GetMonthlyRecord(ctx, monthKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		e.logger.Info("no record for finished period, skipping rollover", "month_key", monthKey)
		return out, nil
	case err != nil:
		return out, fmt.Errorf("%w: %w", ErrRetryable, err)
	case record.Archived():
		e.logger.Debug("period already archived", "month_key", monthKey)
		return out, nil
	}

	if us.MonthlyBudget.IsZero() {
		e.logger.Warn("archiving with a zero budget; the record will still read as not archived",
			"month_key", monthKey)
	}

	archived, err := e.store.ArchiveMonth(ctx, monthKey, us.MonthlyBudget)
	if errors.Is(err, store.ErrAlreadyArchived) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("%w: archiving %s: %w", ErrRetryable, monthKey, err)
	}

	out.ArchivedMonth = monthKey
	out.ArchivedCount = len(archived.Transactions)
	e.logger.Info("archived budget period",
		"month_key", monthKey,
		"transactions", out.ArchivedCount,
		"budget", us.MonthlyBudget.String(),
	)
	return out, nil
}

// Run checks immediately and then every interval until ctx is done. Failed
// checks are retried a few times before waiting for the next tick.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		e.checkWithRetry(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) checkWithRetry(ctx context.Context) {
	err := retry.Do(
		func() error {
			_, err := e.CheckNow(ctx)
			return err
		},
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrRetryable) && ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Warn("rollover check failed, retrying", "attempt", n+1, "error", err)
		}),
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(5*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil && ctx.Err() == nil {
		e.logger.Error("rollover check failed", "error", err)
	}
}
