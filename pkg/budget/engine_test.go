package budget

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/settings"
	"github.com/ArionMiles/moneytracker/pkg/store"
	"github.com/ArionMiles/moneytracker/pkg/store/sqlite"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func newTestEngine(t *testing.T, day int) (*Engine, *sqlite.Store) {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "budget.db"), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	svc := settings.NewService(s, nil)
	us := settings.Defaults()
	us.Payday = day
	if err := svc.Save(t.Context(), us); err != nil {
		t.Fatalf("failed to save settings: %v", err)
	}
	return NewEngine(s, svc, nil), s
}

func addTransactions(t *testing.T, s store.Store, n int) {
	t.Helper()
	for i := range n {
		_, err := s.InsertTransaction(t.Context(), api.Transaction{
			Item:       "item",
			Cost:       decimal.NewFromInt(int64(i + 1)),
			Bank:       "DBS",
			OccurredAt: date(2025, time.March, 10),
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func TestCheck_ArchivesOnceOnResetDay(t *testing.T) {
	e, s := newTestEngine(t, 28)
	ctx := t.Context()

	if _, err := e.Check(ctx, date(2025, time.March, 10)); err != nil {
		t.Fatalf("check: %v", err)
	}
	addTransactions(t, s, 3)

	first, err := e.Check(ctx, date(2025, time.March, 29))
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if !first.ResetDay || first.ArchivedMonth != "03-2025" || first.ArchivedCount != 3 {
		t.Errorf("first check: got %+v, want 3 archived into 03-2025", first)
	}

	second, err := e.Check(ctx, date(2025, time.March, 29))
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if second.ArchivedMonth != "" || second.ArchivedCount != 0 {
		t.Errorf("second check: got %+v, want no archive", second)
	}

	active, _ := s.ListTransactions(ctx)
	if len(active) != 0 {
		t.Errorf("active after rollover: got %d, want 0", len(active))
	}
	record, err := s.GetMonthlyRecord(ctx, "03-2025")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if len(record.Transactions) != 3 || !record.Budget.Equal(settings.DefaultMonthlyBudget) {
		t.Errorf("record: got %d transactions and budget %s, want 3 and 800", len(record.Transactions), record.Budget)
	}
}

func TestCheck_Payday28Scenario(t *testing.T) {
	tests := []struct {
		today       time.Time
		wantReset   bool
		wantArchive bool
	}{
		{date(2025, time.March, 28), false, false},
		{date(2025, time.March, 30), false, false},
		{date(2025, time.March, 29), true, true},
	}

	e, s := newTestEngine(t, 28)
	if _, err := s.EnsureMonthlyRecord(t.Context(), "03-2025"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	addTransactions(t, s, 2)

	for _, tc := range tests {
		t.Run(tc.today.Format(time.DateOnly), func(t *testing.T) {
			got, err := e.Check(t.Context(), tc.today)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if got.ResetDay != tc.wantReset {
				t.Errorf("reset day: got %v, want %v", got.ResetDay, tc.wantReset)
			}
			if (got.ArchivedCount > 0) != tc.wantArchive {
				t.Errorf("archived: got %+v, want archive %v", got, tc.wantArchive)
			}
		})
	}
}

func TestCheck_EnsuresCurrentMonth(t *testing.T) {
	e, s := newTestEngine(t, 28)

	got, err := e.Check(t.Context(), date(2025, time.June, 3))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if got.CurrentMonth != "06-2025" || got.ResetDay {
		t.Errorf("got %+v, want current month 06-2025 without reset", got)
	}
	record, err := s.GetMonthlyRecord(t.Context(), "06-2025")
	if err != nil {
		t.Fatalf("record was not created: %v", err)
	}
	if record.Archived() {
		t.Error("fresh record should not be archived")
	}
}

func TestCheck_EndOfMonthPayday(t *testing.T) {
	e, s := newTestEngine(t, 31)
	ctx := t.Context()

	// Without a January record the reset on Feb 1 is a no-op.
	got, err := e.Check(ctx, date(2025, time.February, 1))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !got.ResetDay || got.ArchivedMonth != "" {
		t.Errorf("missing record: got %+v, want reset day without archive", got)
	}

	if _, err := e.Check(ctx, date(2025, time.February, 15)); err != nil {
		t.Fatalf("check: %v", err)
	}
	addTransactions(t, s, 2)

	// February has 28 days, so payday 31 falls on the 28th and resets on March 1.
	got, err = e.Check(ctx, date(2025, time.March, 1))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if got.ArchivedMonth != "02-2025" || got.ArchivedCount != 2 {
		t.Errorf("got %+v, want 2 archived into 02-2025", got)
	}
	if got.CurrentMonth != "03-2025" {
		t.Errorf("current month: got %s, want 03-2025", got.CurrentMonth)
	}
}

type failingStore struct {
	Store
	err error
}

func (f failingStore) EnsureMonthlyRecord(context.Context, string) (bool, error) {
	return false, nil
}

func (f failingStore) GetMonthlyRecord(_ context.Context, key string) (api.MonthlyRecord, error) {
	return api.MonthlyRecord{MonthKey: key}, nil
}

func (f failingStore) ArchiveMonth(context.Context, string, decimal.Decimal) (api.MonthlyRecord, error) {
	return api.MonthlyRecord{}, f.err
}

type fixedSettings api.UserSettings

func (f fixedSettings) Load(context.Context) (api.UserSettings, error) {
	return api.UserSettings(f), nil
}

func TestCheck_StoreFailureIsRetryable(t *testing.T) {
	storeErr := errors.New("disk full")
	e := NewEngine(failingStore{err: storeErr}, fixedSettings(settings.Defaults()), nil)

	_, err := e.Check(t.Context(), date(2025, time.March, 29))
	if !errors.Is(err, ErrRetryable) {
		t.Errorf("got %v, want ErrRetryable", err)
	}
	if !errors.Is(err, storeErr) {
		t.Errorf("got %v, want wrapped store error", err)
	}
}

func TestCheckNow_UsesClock(t *testing.T) {
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "clock.db"), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	e := NewEngine(s, fixedSettings(settings.Defaults()), nil,
		WithClock(func() time.Time { return date(2024, time.December, 24) }))

	got, err := e.CheckNow(t.Context())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if got.CurrentMonth != "12-2024" {
		t.Errorf("current month: got %s, want 12-2024", got.CurrentMonth)
	}
}
