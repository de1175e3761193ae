package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/store"
)

// Mode selects how an import treats the existing active set.
type Mode string

// Import modes.
const (
	// ModeAppend adds the imported rows to the active set.
	ModeAppend Mode = "append"
	// ModeReplace clears the active set and inserts the imported rows.
	ModeReplace Mode = "replace"
)

// ParseMode validates an import mode name.
func ParseMode(name string) (Mode, error) {
	switch m := Mode(name); m {
	case ModeAppend, ModeReplace:
		return m, nil
	}
	return "", fmt.Errorf("unsupported import mode %q (want append or replace)", name)
}

// Result reports what an import did.
type Result struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Service moves transactions between the store and files.
type Service struct {
	store    store.Store
	lock     sync.Locker
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a transfer service. lock must be the ledger lock shared
// with the budget engine so an import never interleaves with a rollover.
func NewService(s store.Store, lock sync.Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Service{
		store:    s,
		lock:     lock,
		location: time.Local,
		logger:   logger.With("component", "transfer"),
		now:      time.Now,
	}
}

// Import reads r in format f and adds its rows to the active set.
func (s *Service) Import(ctx context.Context, r io.Reader, f Format, mode Mode) (Result, error) {
	rows, err := Decode(r, f)
	if err != nil {
		return Result{}, err
	}

	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("listing categories: %w", err)
	}
	txs, skipped := Converter{Categories: cats, Location: s.location, Now: s.now().UTC()}.Convert(rows)

	s.lock.Lock()
	defer s.lock.Unlock()

	var n int
	switch mode {
	case ModeReplace:
		n, err = s.store.ReplaceTransactions(ctx, txs)
	case ModeAppend, "":
		n, err = s.store.InsertTransactions(ctx, txs)
	default:
		return Result{}, fmt.Errorf("unsupported import mode %q", mode)
	}
	if err != nil {
		return Result{}, fmt.Errorf("storing imported transactions: %w", err)
	}

	s.logger.Info("imported transactions", "format", f, "mode", mode, "imported", n, "skipped", skipped)
	return Result{Imported: n, Skipped: skipped}, nil
}

// ExportActive writes the active set to w.
func (s *Service) ExportActive(ctx context.Context, w io.Writer, f Format) (int, error) {
	txs, err := s.store.ListTransactions(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing transactions: %w", err)
	}
	if err := Encode(w, f, ToRows(txs, s.location)); err != nil {
		return 0, err
	}
	return len(txs), nil
}

// ExportMonth writes the archived snapshot of monthKey to w.
func (s *Service) ExportMonth(ctx context.Context, monthKey string, w io.Writer, f Format) (int, error) {
	if _, _, err := api.ParseMonthKey(monthKey); err != nil {
		return 0, err
	}
	rec, err := s.store.GetMonthlyRecord(ctx, monthKey)
	if err != nil {
		return 0, fmt.Errorf("getting month %s: %w", monthKey, err)
	}
	if err := Encode(w, f, ToRows(rec.Transactions, s.location)); err != nil {
		return 0, err
	}
	return len(rec.Transactions), nil
}
