// Package postgres implements store.Store on PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/store"
)

//go:embed 001_create_ledger.sql
var migrationSQL string

// Config holds the PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int
}

// ConnString builds a keyword/value connection string, applying defaults.
func (c Config) ConnString() string {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New connects using cfg and runs migrations.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 10
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxPoolSize)

	s, err := NewWithConfig(poolConfig, logger)
	if err != nil {
		return nil, err
	}
	s.logger.Info("connected to PostgreSQL",
		"host", cfg.Host,
		"port", poolConfig.ConnConfig.Port,
		"database", cfg.Database,
	)
	return s, nil
}

// NewFromURL connects using a postgres:// URL or keyword/value string.
func NewFromURL(connString string, logger *slog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	return NewWithConfig(poolConfig, logger)
}

// NewWithConfig connects using a prepared pool configuration.
func NewWithConfig(poolConfig *pgxpool.Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{pool: pool, logger: logger}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	s.logger.Info("running database migrations")
	if _, err := s.pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	s.logger.Info("migrations completed successfully")
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info("closed PostgreSQL connection pool")
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func expectOne(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func parseDecimal(what string, text string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s %q: %w", what, text, err)
	}
	return d, nil
}

// Transactions

const selectTransactions = `SELECT id, item, cost::text, bank, occurred_at, category_id FROM transactions`

func scanTransaction(row pgx.Row) (api.Transaction, error) {
	var (
		t    api.Transaction
		cost string
	)
	if err := row.Scan(&t.ID, &t.Item, &cost, &t.Bank, &t.OccurredAt, &t.CategoryID); err != nil {
		return api.Transaction{}, err
	}
	amount, err := parseDecimal("cost", cost)
	if err != nil {
		return api.Transaction{}, err
	}
	t.Cost = amount
	t.OccurredAt = t.OccurredAt.UTC()
	return t, nil
}

func listTransactions(ctx context.Context, q querier) ([]api.Transaction, error) {
	rows, err := q.Query(ctx, selectTransactions+` ORDER BY occurred_at DESC, id DESC`)
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

const insertTransactionSQL = `
	INSERT INTO transactions (item, cost, bank, occurred_at, category_id)
	VALUES ($1, $2::numeric, $3, $4, $5)
	RETURNING id`

func insertTransaction(ctx context.Context, q querier, t api.Transaction) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, insertTransactionSQL, t.Item, t.Cost.String(), t.Bank, t.OccurredAt, t.CategoryID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting transaction: %w", err)
	}
	return id, nil
}

// insertBatch queues every row on one pgx.Batch inside tx.
func insertBatch(ctx context.Context, tx pgx.Tx, ts []api.Transaction) error {
	if len(ts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range ts {
		batch.Queue(insertTransactionSQL, t.Item, t.Cost.String(), t.Bank, t.OccurredAt, t.CategoryID)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range ts {
		var id int64
		if err := results.QueryRow().Scan(&id); err != nil {
			results.Close()
			return fmt.Errorf("inserting transaction %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("closing batch: %w", err)
	}
	return nil
}

// ListTransactions returns the active set, newest first.
func (s *Store) ListTransactions(ctx context.Context) ([]api.Transaction, error) {
	return listTransactions(ctx, s.pool)
}

func (s *Store) InsertTransaction(ctx context.Context, t api.Transaction) (int64, error) {
	return insertTransaction(ctx, s.pool, t)
}

func (s *Store) InsertTransactions(ctx context.Context, ts []api.Transaction) (int, error) {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		return insertBatch(ctx, tx, ts)
	})
	if err != nil {
		return 0, err
	}
	return len(ts), nil
}

func (s *Store) ReplaceTransactions(ctx context.Context, ts []api.Transaction) (int, error) {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM transactions`); err != nil {
			return fmt.Errorf("clearing transactions: %w", err)
		}
		return insertBatch(ctx, tx, ts)
	})
	if err != nil {
		return 0, err
	}
	return len(ts), nil
}

func (s *Store) UpdateTransactionCategory(ctx context.Context, id int64, categoryID *int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE transactions SET category_id = $1 WHERE id = $2`, categoryID, id)
	if err != nil {
		return fmt.Errorf("updating transaction %d: %w", id, err)
	}
	return expectOne(tag)
}

func (s *Store) DeleteTransaction(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting transaction %d: %w", id, err)
	}
	return expectOne(tag)
}

func (s *Store) ClearTransactions(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM transactions`); err != nil {
		return fmt.Errorf("clearing transactions: %w", err)
	}
	return nil
}

// Candidates

const selectCandidates = `SELECT id, item, cost::text, bank, detected_at FROM candidates`

func scanCandidate(row pgx.Row) (api.Candidate, error) {
	var (
		c    api.Candidate
		cost string
	)
	if err := row.Scan(&c.ID, &c.Item, &cost, &c.Bank, &c.DetectedAt); err != nil {
		return api.Candidate{}, err
	}
	amount, err := parseDecimal("cost", cost)
	if err != nil {
		return api.Candidate{}, err
	}
	c.Cost = amount
	c.DetectedAt = c.DetectedAt.UTC()
	return c, nil
}

func getCandidate(ctx context.Context, q querier, id int64, forUpdate bool) (api.Candidate, error) {
	query := selectCandidates + ` WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanCandidate(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return api.Candidate{}, store.ErrNotFound
	}
	if err != nil {
		return api.Candidate{}, fmt.Errorf("reading candidate %d: %w", id, err)
	}
	return c, nil
}

func (s *Store) ListCandidates(ctx context.Context) ([]api.Candidate, error) {
	rows, err := s.pool.Query(ctx, selectCandidates+` ORDER BY detected_at DESC, id DESC`)
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
	return getCandidate(ctx, s.pool, id, false)
}

func (s *Store) InsertCandidate(ctx context.Context, c api.Candidate) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO candidates (item, cost, bank, detected_at)
		VALUES ($1, $2::numeric, $3, $4)
		RETURNING id`,
		c.Item, c.Cost.String(), c.Bank, c.DetectedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting candidate: %w", err)
	}
	return id, nil
}

func (s *Store) DeleteCandidate(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM candidates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting candidate %d: %w", id, err)
	}
	return expectOne(tag)
}

func (s *Store) PromoteCandidate(ctx context.Context, id int64, categoryID *int64) (api.Transaction, error) {
	var t api.Transaction
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		c, err := getCandidate(ctx, tx, id, true)
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
		if _, err := tx.Exec(ctx, `DELETE FROM candidates WHERE id = $1`, id); err != nil {
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
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM categories ORDER BY id`)
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
	var id int64
	if err := s.pool.QueryRow(ctx, `INSERT INTO categories (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("inserting category: %w", err)
	}
	return id, nil
}

func (s *Store) RenameCategory(ctx context.Context, id int64, name string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE categories SET name = $1 WHERE id = $2`, name, id)
	if err != nil {
		return fmt.Errorf("renaming category %d: %w", id, err)
	}
	return expectOne(tag)
}

func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting category %d: %w", id, err)
	}
	return expectOne(tag)
}

// Monthly records

const selectRecords = `SELECT month_key, transactions::text, budget::text FROM monthly_records`

func scanRecord(row pgx.Row) (api.MonthlyRecord, error) {
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
	amount, err := parseDecimal("budget", budget)
	if err != nil {
		return api.MonthlyRecord{}, fmt.Errorf("month %s: %w", r.MonthKey, err)
	}
	r.Transactions = ts
	r.Budget = amount
	return r, nil
}

func getMonthlyRecord(ctx context.Context, q querier, monthKey string, forUpdate bool) (api.MonthlyRecord, error) {
	query := selectRecords + ` WHERE month_key = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	r, err := scanRecord(q.QueryRow(ctx, query, monthKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return api.MonthlyRecord{}, store.ErrNotFound
	}
	if err != nil {
		return api.MonthlyRecord{}, fmt.Errorf("reading month %s: %w", monthKey, err)
	}
	return r, nil
}

func (s *Store) GetMonthlyRecord(ctx context.Context, monthKey string) (api.MonthlyRecord, error) {
	return getMonthlyRecord(ctx, s.pool, monthKey, false)
}

func (s *Store) EnsureMonthlyRecord(ctx context.Context, monthKey string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO monthly_records (month_key) VALUES ($1) ON CONFLICT (month_key) DO NOTHING`, monthKey)
	if err != nil {
		return false, fmt.Errorf("creating month %s: %w", monthKey, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListMonthlyRecords(ctx context.Context) ([]api.MonthlyRecord, error) {
	rows, err := s.pool.Query(ctx, selectRecords)
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
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		// Blocks concurrent inserts until the active set has been moved.
		if _, err := tx.Exec(ctx, `LOCK TABLE transactions IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("locking transactions: %w", err)
		}

		current, err := getMonthlyRecord(ctx, tx, monthKey, true)
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

		if _, err := tx.Exec(ctx,
			`UPDATE monthly_records SET transactions = $1::jsonb, budget = $2::numeric WHERE month_key = $3`,
			string(snapshot), budget.String(), monthKey,
		); err != nil {
			return fmt.Errorf("writing month %s: %w", monthKey, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM transactions`); err != nil {
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
	err := s.pool.QueryRow(ctx,
		`SELECT payday, monthly_budget::text, threshold_percent FROM settings WHERE id = $1`, api.SettingsID,
	).Scan(&us.Payday, &budget, &us.ThresholdPercent)
	if errors.Is(err, pgx.ErrNoRows) {
		return api.UserSettings{}, store.ErrNotFound
	}
	if err != nil {
		return api.UserSettings{}, fmt.Errorf("reading settings: %w", err)
	}
	if us.MonthlyBudget, err = parseDecimal("budget", budget); err != nil {
		return api.UserSettings{}, err
	}
	return us, nil
}

func (s *Store) SaveSettings(ctx context.Context, us api.UserSettings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (id, payday, monthly_budget, threshold_percent)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (id) DO UPDATE SET
			payday = EXCLUDED.payday,
			monthly_budget = EXCLUDED.monthly_budget,
			threshold_percent = EXCLUDED.threshold_percent`,
		api.SettingsID, us.Payday, us.MonthlyBudget.String(), us.ThresholdPercent,
	)
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}
