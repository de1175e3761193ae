// Package store defines the persistence contract shared by the SQLite and
// PostgreSQL backends.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/moneytracker/pkg/api"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyArchived is returned by ArchiveMonth when the record already
	// holds a snapshot.
	ErrAlreadyArchived = errors.New("month already archived")
)

// Store persists the ledger. Every method is safe for concurrent use.
type Store interface {
	ListTransactions(ctx context.Context) ([]api.Transaction, error)
	InsertTransaction(ctx context.Context, t api.Transaction) (int64, error)
	// InsertTransactions adds all rows in one database transaction.
	InsertTransactions(ctx context.Context, ts []api.Transaction) (int, error)
	// ReplaceTransactions clears the active set and inserts ts atomically.
	ReplaceTransactions(ctx context.Context, ts []api.Transaction) (int, error)
	UpdateTransactionCategory(ctx context.Context, id int64, categoryID *int64) error
	DeleteTransaction(ctx context.Context, id int64) error
	ClearTransactions(ctx context.Context) error

	ListCandidates(ctx context.Context) ([]api.Candidate, error)
	GetCandidate(ctx context.Context, id int64) (api.Candidate, error)
	InsertCandidate(ctx context.Context, c api.Candidate) (int64, error)
	DeleteCandidate(ctx context.Context, id int64) error
	// PromoteCandidate turns a candidate into a transaction dated at its
	// detection time and removes the candidate, atomically.
	PromoteCandidate(ctx context.Context, id int64, categoryID *int64) (api.Transaction, error)

	ListCategories(ctx context.Context) ([]api.Category, error)
	InsertCategory(ctx context.Context, name string) (int64, error)
	RenameCategory(ctx context.Context, id int64, name string) error
	DeleteCategory(ctx context.Context, id int64) error

	GetMonthlyRecord(ctx context.Context, monthKey string) (api.MonthlyRecord, error)
	// EnsureMonthlyRecord creates an unarchived record for monthKey if none
	// exists and reports whether it did.
	EnsureMonthlyRecord(ctx context.Context, monthKey string) (bool, error)
	// ListMonthlyRecords returns all records, newest month first.
	ListMonthlyRecords(ctx context.Context) ([]api.MonthlyRecord, error)
	// ArchiveMonth snapshots the active transactions into the record for
	// monthKey, stores budget on it and clears the active set, all in one
	// database transaction. It fails with ErrNotFound when the record does not
	// exist and ErrAlreadyArchived when its budget is already non-zero.
	ArchiveMonth(ctx context.Context, monthKey string, budget decimal.Decimal) (api.MonthlyRecord, error)

	// LoadSettings returns ErrNotFound when settings were never saved.
	LoadSettings(ctx context.Context) (api.UserSettings, error)
	SaveSettings(ctx context.Context, s api.UserSettings) error

	Close() error
}

// EncodeSnapshot serializes archived transactions for storage.
func EncodeSnapshot(ts []api.Transaction) ([]byte, error) {
	if ts == nil {
		ts = []api.Transaction{}
	}
	data, err := json.Marshal(ts)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a stored snapshot. An empty input is an empty snapshot.
func DecodeSnapshot(data []byte) ([]api.Transaction, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var ts []api.Transaction
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return ts, nil
}

// SortNewestFirst orders records by month key, newest first.
func SortNewestFirst(records []api.MonthlyRecord) {
	slices.SortStableFunc(records, func(a, b api.MonthlyRecord) int {
		switch {
		case api.MonthKeyLess(b.MonthKey, a.MonthKey):
			return -1
		case api.MonthKeyLess(a.MonthKey, b.MonthKey):
			return 1
		}
		return 0
	})
}
