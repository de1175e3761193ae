// Package storetest holds the behavioural checks every store.Store backend
// must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/store"
)

// Opener returns an empty store. It is called once per subtest.
type Opener func(t *testing.T) store.Store

// Run executes the full suite against the backend returned by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Transactions", testTransactions},
		{"BulkTransactions", testBulkTransactions},
		{"Candidates", testCandidates},
		{"PromoteCandidate", testPromoteCandidate},
		{"Categories", testCategories},
		{"MonthlyRecords", testMonthlyRecords},
		{"ArchiveMonth", testArchiveMonth},
		{"Settings", testSettings},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := open(t)
			tc.fn(t, s)
		})
	}
}

func at(day int) time.Time {
	return time.Date(2025, time.March, day, 10, 30, 0, 0, time.UTC)
}

func ptr(id int64) *int64 { return &id }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()

	older, err := s.InsertTransaction(ctx, api.Transaction{Item: "Coffee", Cost: dec("4.50"), Bank: "DBS", OccurredAt: at(1)})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	newer, err := s.InsertTransaction(ctx, api.Transaction{Item: "Rent", Cost: dec("1234.56"), Bank: "OCBC", OccurredAt: at(2), CategoryID: ptr(7)})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.ListTransactions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("list: got %d transactions, want 2", len(got))
	}
	if got[0].ID != newer || got[1].ID != older {
		t.Errorf("order: got ids %d,%d, want %d,%d", got[0].ID, got[1].ID, newer, older)
	}
	if !got[0].Cost.Equal(dec("1234.56")) {
		t.Errorf("cost: got %s, want 1234.56", got[0].Cost)
	}
	if !got[0].OccurredAt.Equal(at(2)) {
		t.Errorf("occurred at: got %s, want %s", got[0].OccurredAt, at(2))
	}
	if got[0].CategoryID == nil || *got[0].CategoryID != 7 {
		t.Errorf("category: got %v, want 7", got[0].CategoryID)
	}
	if got[1].CategoryID != nil {
		t.Errorf("category: got %v, want nil", *got[1].CategoryID)
	}

	if err := s.UpdateTransactionCategory(ctx, older, ptr(3)); err != nil {
		t.Fatalf("update category: %v", err)
	}
	if err := s.UpdateTransactionCategory(ctx, newer, nil); err != nil {
		t.Fatalf("clear category: %v", err)
	}
	got, _ = s.ListTransactions(ctx)
	if got[1].CategoryID == nil || *got[1].CategoryID != 3 {
		t.Errorf("updated category: got %v, want 3", got[1].CategoryID)
	}
	if got[0].CategoryID != nil {
		t.Errorf("cleared category: got %v, want nil", *got[0].CategoryID)
	}

	if err := s.UpdateTransactionCategory(ctx, 9999, nil); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("update missing: got %v, want ErrNotFound", err)
	}
	if err := s.DeleteTransaction(ctx, older); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteTransaction(ctx, older); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("delete twice: got %v, want ErrNotFound", err)
	}

	if err := s.ClearTransactions(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got, _ := s.ListTransactions(ctx); len(got) != 0 {
		t.Errorf("after clear: got %d transactions, want 0", len(got))
	}
}

func testBulkTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()

	batch := []api.Transaction{
		{Item: "A", Cost: dec("1"), Bank: "DBS", OccurredAt: at(1)},
		{Item: "B", Cost: dec("2"), Bank: "DBS", OccurredAt: at(2)},
	}
	n, err := s.InsertTransactions(ctx, batch)
	if err != nil || n != 2 {
		t.Fatalf("bulk insert: got %d, %v, want 2, nil", n, err)
	}
	if n, err = s.InsertTransactions(ctx, batch); err != nil || n != 2 {
		t.Fatalf("second bulk insert: got %d, %v, want 2, nil", n, err)
	}
	if got, _ := s.ListTransactions(ctx); len(got) != 4 {
		t.Errorf("after append: got %d transactions, want 4", len(got))
	}

	replacement := []api.Transaction{{Item: "C", Cost: dec("3"), Bank: "UOB", OccurredAt: at(3)}}
	if n, err = s.ReplaceTransactions(ctx, replacement); err != nil || n != 1 {
		t.Fatalf("replace: got %d, %v, want 1, nil", n, err)
	}
	got, _ := s.ListTransactions(ctx)
	if len(got) != 1 || got[0].Item != "C" {
		t.Errorf("after replace: got %+v, want only C", got)
	}

	if n, err = s.InsertTransactions(ctx, nil); err != nil || n != 0 {
		t.Errorf("empty bulk insert: got %d, %v, want 0, nil", n, err)
	}
}

func testCandidates(t *testing.T, s store.Store) {
	ctx := context.Background()

	id, err := s.InsertCandidate(ctx, api.Candidate{Item: "KOO KEE", Cost: dec("17.90"), Bank: "GP 2468", DetectedAt: at(5)})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	c, err := s.GetCandidate(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Item != "KOO KEE" || c.Bank != "GP 2468" || !c.Cost.Equal(dec("17.9")) || !c.DetectedAt.Equal(at(5)) {
		t.Errorf("get: got %+v", c)
	}

	list, err := s.ListCandidates(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: got %d, %v, want 1, nil", len(list), err)
	}

	if err := s.DeleteCandidate(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetCandidate(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("get deleted: got %v, want ErrNotFound", err)
	}
	if err := s.DeleteCandidate(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("delete twice: got %v, want ErrNotFound", err)
	}
}

func testPromoteCandidate(t *testing.T, s store.Store) {
	ctx := context.Background()

	id, err := s.InsertCandidate(ctx, api.Candidate{Item: "Grab", Cost: dec("12.5"), Bank: "DBS", DetectedAt: at(9)})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	tx, err := s.PromoteCandidate(ctx, id, ptr(2))
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if tx.ID == 0 || tx.Item != "Grab" || !tx.OccurredAt.Equal(at(9)) {
		t.Errorf("promote: got %+v", tx)
	}

	if _, err := s.GetCandidate(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("candidate after promote: got %v, want ErrNotFound", err)
	}
	active, _ := s.ListTransactions(ctx)
	if len(active) != 1 || active[0].ID != tx.ID || *active[0].CategoryID != 2 {
		t.Errorf("active after promote: got %+v", active)
	}

	if _, err := s.PromoteCandidate(ctx, id, nil); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("promote twice: got %v, want ErrNotFound", err)
	}
	if active, _ := s.ListTransactions(ctx); len(active) != 1 {
		t.Errorf("failed promote must not insert: got %d transactions", len(active))
	}
}

func testCategories(t *testing.T, s store.Store) {
	ctx := context.Background()

	food, err := s.InsertCategory(ctx, "Food")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertCategory(ctx, "Transport"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.RenameCategory(ctx, food, "Dining"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	list, err := s.ListCategories(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("list: got %d, %v, want 2, nil", len(list), err)
	}
	if list[0].ID != food || list[0].Name != "Dining" {
		t.Errorf("renamed: got %+v, want Dining", list[0])
	}

	if err := s.DeleteCategory(ctx, food); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.RenameCategory(ctx, food, "x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("rename deleted: got %v, want ErrNotFound", err)
	}
	if err := s.DeleteCategory(ctx, food); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("delete twice: got %v, want ErrNotFound", err)
	}
}

func testMonthlyRecords(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.GetMonthlyRecord(ctx, "03-2025"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("get missing: got %v, want ErrNotFound", err)
	}

	created, err := s.EnsureMonthlyRecord(ctx, "03-2025")
	if err != nil || !created {
		t.Fatalf("ensure: got %v, %v, want true, nil", created, err)
	}
	created, err = s.EnsureMonthlyRecord(ctx, "03-2025")
	if err != nil || created {
		t.Fatalf("ensure again: got %v, %v, want false, nil", created, err)
	}

	r, err := s.GetMonthlyRecord(ctx, "03-2025")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Archived() || len(r.Transactions) != 0 {
		t.Errorf("fresh record: got %+v, want empty and unarchived", r)
	}

	for _, key := range []string{"11-2024", "01-2025", "12-2024"} {
		if _, err := s.EnsureMonthlyRecord(ctx, key); err != nil {
			t.Fatalf("ensure %s: %v", key, err)
		}
	}
	list, err := s.ListMonthlyRecords(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"03-2025", "01-2025", "12-2024", "11-2024"}
	if len(list) != len(want) {
		t.Fatalf("list: got %d records, want %d", len(list), len(want))
	}
	for i, key := range want {
		if list[i].MonthKey != key {
			t.Errorf("list[%d]: got %s, want %s", i, list[i].MonthKey, key)
		}
	}
}

func testArchiveMonth(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.ArchiveMonth(ctx, "02-2025", dec("800")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("archive missing: got %v, want ErrNotFound", err)
	}

	if _, err := s.EnsureMonthlyRecord(ctx, "02-2025"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	active := []api.Transaction{
		{Item: "A", Cost: dec("10.10"), Bank: "DBS", OccurredAt: at(1), CategoryID: ptr(1)},
		{Item: "B", Cost: dec("0.99"), Bank: "GP 1234", OccurredAt: at(2)},
	}
	if _, err := s.InsertTransactions(ctx, active); err != nil {
		t.Fatalf("insert: %v", err)
	}

	r, err := s.ArchiveMonth(ctx, "02-2025", dec("800"))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(r.Transactions) != 2 || !r.Budget.Equal(dec("800")) {
		t.Errorf("archive result: got %+v", r)
	}

	stored, err := s.GetMonthlyRecord(ctx, "02-2025")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.Archived() || len(stored.Transactions) != 2 {
		t.Fatalf("stored record: got %+v", stored)
	}
	byItem := map[string]api.Transaction{}
	for _, tx := range stored.Transactions {
		byItem[tx.Item] = tx
	}
	if a := byItem["A"]; !a.Cost.Equal(dec("10.10")) || a.CategoryID == nil || *a.CategoryID != 1 || !a.OccurredAt.Equal(at(1)) {
		t.Errorf("snapshot A: got %+v", a)
	}
	if b := byItem["B"]; b.Bank != "GP 1234" || b.CategoryID != nil {
		t.Errorf("snapshot B: got %+v", b)
	}

	if got, _ := s.ListTransactions(ctx); len(got) != 0 {
		t.Errorf("active after archive: got %d, want 0", len(got))
	}

	if _, err := s.InsertTransaction(ctx, api.Transaction{Item: "late", Cost: dec("1"), Bank: "DBS", OccurredAt: at(3)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.ArchiveMonth(ctx, "02-2025", dec("900")); !errors.Is(err, store.ErrAlreadyArchived) {
		t.Errorf("archive twice: got %v, want ErrAlreadyArchived", err)
	}
	if got, _ := s.ListTransactions(ctx); len(got) != 1 {
		t.Errorf("rejected archive must not clear: got %d transactions, want 1", len(got))
	}
}

func testSettings(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.LoadSettings(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("load empty: got %v, want ErrNotFound", err)
	}

	want := api.UserSettings{Payday: 28, MonthlyBudget: dec("800"), ThresholdPercent: 5}
	if err := s.SaveSettings(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	want.Payday = 15
	want.MonthlyBudget = dec("1250.50")
	if err := s.SaveSettings(ctx, want); err != nil {
		t.Fatalf("save again: %v", err)
	}

	got, err := s.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Payday != 15 || !got.MonthlyBudget.Equal(want.MonthlyBudget) || got.ThresholdPercent != 5 {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
