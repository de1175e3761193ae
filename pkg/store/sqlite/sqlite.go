// Package sqlite implements store.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/store"
)

const pragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a SQLite-backed store.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := path + pragmas
	if err := RunMigrations(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection serializes writers; SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("opened SQLite store", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Transactions

const transactionColumns = `id, item, cost, bank, occurred_at, category_id`

func scanTransaction(row interface{ Scan(...any) error }) (api.Transaction, error) {
	var (
		t        api.Transaction
		cost     string
		occurred int64
		category sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.Item, &cost, &t.Bank, &occurred, &category); err != nil {
		return api.Transaction{}, err
	}
	amount, err := decimal.NewFromString(cost)
	if err != nil {
		return api.Transaction{}, fmt.Errorf("transaction %d: invalid cost %q: %w", t.ID, cost, err)
	}
	t.Cost = amount
	t.OccurredAt = fromMillis(occurred)
	if category.Valid {
		id := category.Int64
		t.CategoryID = &id
	}
	return t, nil
}

func listTransactions(ctx context.Context, q querier) ([]api.Transaction, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions ORDER BY occurred_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var out []api.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func insertTransaction(ctx context.Context, q querier, t api.Transaction) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO transactions (item, cost, bank, occurred_at, category_id) VALUES (?, ?, ?, ?, ?)`,
		t.Item, t.Cost.String(), t.Bank, toMillis(t.OccurredAt), nullableID(t.CategoryID),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting transaction: %w", err)
	}
	return res.LastInsertId()
}

// ListTransactions returns the active set, newest first.
func (s *Store) ListTransactions(ctx context.Context) ([]api.Transaction, error) {
	return listTransactions(ctx, s.db)
}

func (s *Store) InsertTransaction(ctx context.Context, t api.Transaction) (int64, error) {
	return insertTransaction(ctx, s.db, t)
}

func (s *Store) InsertTransactions(ctx context.Context, ts []api.Transaction) (int, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i, t := range ts {
			if _, err := insertTransaction(ctx, tx, t); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ts), nil
}

func (s *Store) ReplaceTransactions(ctx context.Context, ts []api.Transaction) (int, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
			return fmt.Errorf("clearing transactions: %w", err)
		}
		for i, t := range ts {
			if _, err := insertTransaction(ctx, tx, t); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ts), nil
}

func (s *Store) UpdateTransactionCategory(ctx context.Context, id int64, categoryID *int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE transactions SET category_id = ? WHERE id = ?`, nullableID(categoryID), id)
	if err != nil {
		return fmt.Errorf("updating transaction %d: %w", id, err)
	}
	return expectOne(res)
}

func (s *Store) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting transaction %d: %w", id, err)
	}
	return expectOne(res)
}

func (s *Store) ClearTransactions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
		return fmt.Errorf("clearing transactions: %w", err)
	}
	return nil
}

// Candidates

func scanCandidate(row interface{ Scan(...any) error }) (api.Candidate, error) {
	var (
		c        api.Candidate
		cost     string
		detected int64
	)
	if err := row.Scan(&c.ID, &c.Item, &cost, &c.Bank, &detected); err != nil {
		return api.Candidate{}, err
	}
	amount, err := decimal.NewFromString(cost)
	if err != nil {
		return api.Candidate{}, fmt.Errorf("candidate %d: invalid cost %q: %w", c.ID, cost, err)
	}
	c.Cost = amount
	c.DetectedAt = fromMillis(detected)
	return c, nil
}

func getCandidate(ctx context.Context, q querier, id int64) (api.Candidate, error) {
	row := q.QueryRowContext(ctx, `SELECT id, item, cost, bank, detected_at FROM candidates WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Candidate{}, store.ErrNotFound
	}
	if err != nil {
		return api.Candidate{}, fmt.Errorf("reading candidate %d: %w", id, err)
	}
	return c, nil
}

func (s *Store) ListCandidates(ctx context.Context) ([]api.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, item, cost, bank, detected_at FROM candidates ORDER BY detected_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying candidates: %w", err)
	}
	defer rows.Close()

	var out []api.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCandidate(ctx context.Context, id int64) (api.Candidate, error) {
	return getCandidate(ctx, s.db, id)
}

func (s *Store) InsertCandidate(ctx context.Context, c api.Candidate) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO candidates (item, cost, bank, detected_at) VALUES (?, ?, ?, ?)`,
		c.Item, c.Cost.String(), c.Bank, toMillis(c.DetectedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting candidate: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) DeleteCandidate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM candidates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting candidate %d: %w", id, err)
	}
	return expectOne(res)
}

func (s *Store) PromoteCandidate(ctx context.Context, id int64, categoryID *int64) (api.Transaction, error) {
	var t api.Transaction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getCandidate(ctx, tx, id)
		if err != nil {
			return err
		}
		t = api.Transaction{
			Item:       c.Item,
			Cost:       c.Cost,
			Bank:       c.Bank,
			OccurredAt: c.DetectedAt,
			CategoryID: categoryID,
		}
		if t.ID, err = insertTransaction(ctx, tx, t); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM candidates WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting candidate %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return api.Transaction{}, err
	}
	return t, nil
}

// Categories

func (s *Store) ListCategories(ctx context.Context) ([]api.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	defer rows.Close()

	var out []api.Category
	for rows.Next() {
		var c api.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) InsertCategory(ctx context.Context, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO categories (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("inserting category: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) RenameCategory(ctx context.Context, id int64, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE categories SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("renaming category %d: %w", id, err)
	}
	return expectOne(res)
}

func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting category %d: %w", id, err)
	}
	return expectOne(res)
}

// Monthly records

func scanRecord(row interface{ Scan(...any) error }) (api.MonthlyRecord, error) {
	var (
		r        api.MonthlyRecord
		snapshot string
		budget   string
	)
	if err := row.Scan(&r.MonthKey, &snapshot, &budget); err != nil {
		return api.MonthlyRecord{}, err
	}
	ts, err := store.DecodeSnapshot([]byte(snapshot))
	if err != nil {
		return api.MonthlyRecord{}, fmt.Errorf("month %s: %w", r.MonthKey, err)
	}
	amount, err := decimal.NewFromString(budget)
	if err != nil {
		return api.MonthlyRecord{}, fmt.Errorf("month %s: invalid budget %q: %w", r.MonthKey, budget, err)
	}
	r.Transactions = ts
	r.Budget = amount
	return r, nil
}

func getMonthlyRecord(ctx context.Context, q querier, monthKey string) (api.MonthlyRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT month_key, transactions, budget FROM monthly_records WHERE month_key = ?`, monthKey)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return api.MonthlyRecord{}, store.ErrNotFound
	}
	if err != nil {
		return api.MonthlyRecord{}, fmt.Errorf("reading month %s: %w", monthKey, err)
	}
	return r, nil
}

func (s *Store) GetMonthlyRecord(ctx context.Context, monthKey string) (api.MonthlyRecord, error) {
	return getMonthlyRecord(ctx, s.db, monthKey)
}

func (s *Store) EnsureMonthlyRecord(ctx context.Context, monthKey string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO monthly_records (month_key) VALUES (?) ON CONFLICT (month_key) DO NOTHING`, monthKey)
	if err != nil {
		return false, fmt.Errorf("creating month %s: %w", monthKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListMonthlyRecords(ctx context.Context) ([]api.MonthlyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT month_key, transactions, budget FROM monthly_records`)
	if err != nil {
		return nil, fmt.Errorf("querying monthly records: %w", err)
	}
	defer rows.Close()

	var out []api.MonthlyRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning monthly record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	store.SortNewestFirst(out)
	return out, nil
}

func (s *Store) ArchiveMonth(ctx context.Context, monthKey string, budget decimal.Decimal) (api.MonthlyRecord, error) {
	var r api.MonthlyRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getMonthlyRecord(ctx, tx, monthKey)
		if err != nil {
			return err
		}
		if current.Archived() {
			return store.ErrAlreadyArchived
		}

		active, err := listTransactions(ctx, tx)
		if err != nil {
			return err
		}
		snapshot, err := store.EncodeSnapshot(active)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE monthly_records SET transactions = ?, budget = ? WHERE month_key = ?`,
			string(snapshot), budget.String(), monthKey,
		); err != nil {
			return fmt.Errorf("writing month %s: %w", monthKey, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
			return fmt.Errorf("clearing transactions: %w", err)
		}

		r = api.MonthlyRecord{MonthKey: monthKey, Transactions: active, Budget: budget}
		return nil
	})
	if err != nil {
		return api.MonthlyRecord{}, err
	}
	return r, nil
}

// Settings

func (s *Store) LoadSettings(ctx context.Context) (api.UserSettings, error) {
	var (
		us     api.UserSettings
		budget string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payday, monthly_budget, threshold_percent FROM settings WHERE id = ?`, api.SettingsID,
	).Scan(&us.Payday, &budget, &us.ThresholdPercent)
	if errors.Is(err, sql.ErrNoRows) {
		return api.UserSettings{}, store.ErrNotFound
	}
	if err != nil {
		return api.UserSettings{}, fmt.Errorf("reading settings: %w", err)
	}
	if us.MonthlyBudget, err = decimal.NewFromString(budget); err != nil {
		return api.UserSettings{}, fmt.Errorf("invalid stored budget %q: %w", budget, err)
	}
	return us, nil
}

func (s *Store) SaveSettings(ctx context.Context, us api.UserSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, payday, monthly_budget, threshold_percent) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			payday = excluded.payday,
			monthly_budget = excluded.monthly_budget,
			threshold_percent = excluded.threshold_percent`,
		api.SettingsID, us.Payday, us.MonthlyBudget.String(), us.ThresholdPercent,
	)
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}
