// Package review holds the user-facing operations on candidates, committed
// transactions and categories. Input is validated here, before anything
// reaches the store.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/store"
)

var (
	// ErrInvalidInput is returned for blank items, bad costs or blank names.
	ErrInvalidInput = errors.New("invalid input")
	// ErrReservedName is returned when a category name is reserved for
	// synthetic buckets or UI placeholders.
	ErrReservedName = errors.New("reserved category name")
)

var reservedNames = []string{"new category", "others", "other", "uncategorized"}

// IsReservedName reports whether name may not be used for a category.
func IsReservedName(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, r := range reservedNames {
		if n == r {
			return true
		}
	}
	return false
}

// ParseCost parses a user-entered cost. It must be numeric and non-negative.
func ParseCost(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: cost is required", ErrInvalidInput)
	}
	cost, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: cost %q is not a number", ErrInvalidInput, raw)
	}
	if cost.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: cost %s must not be negative", ErrInvalidInput, cost)
	}
	return cost, nil
}

// CategoryChoice selects the category for a confirmed candidate: an existing
// ID, a new category to create, or neither for uncategorized.
type CategoryChoice struct {
	ID      *int64 `json:"id,omitempty"`
	NewName string `json:"new_name,omitempty"`
}

// ManualEntry is a transaction typed in by the user.
type ManualEntry struct {
	Item       string     `json:"item"`
	Cost       string     `json:"cost"`
	Bank       string     `json:"bank"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
	CategoryID *int64     `json:"category_id,omitempty"`
}

// Service implements the review operations. Writes that add to or remove
// from the active set hold lock, which is shared with the rollover engine.
type Service struct {
	store  store.Store
	lock   sync.Locker
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a review service. A nil lock gets a private mutex.
func NewService(s store.Store, lock sync.Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Service{
		store:  s,
		lock:   lock,
		logger: logger.With("component", "review"),
		now:    time.Now,
	}
}

// Candidates returns the pending candidates, newest first.
func (s *Service) Candidates(ctx context.Context) ([]api.Candidate, error) {
	return s.store.ListCandidates(ctx)
}

// Confirm commits candidate id as a transaction. A category requested by
// name is only kept when the candidate was promoted.
func (s *Service) Confirm(ctx context.Context, id int64, choice CategoryChoice) (api.Transaction, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, err := s.store.GetCandidate(ctx, id); err != nil {
		return api.Transaction{}, fmt.Errorf("confirming candidate %d: %w", id, err)
	}

	categoryID := choice.ID
	var created *api.Category
	if name := strings.TrimSpace(choice.NewName); name != "" {
		c, err := s.CreateCategory(ctx, name)
		if err != nil {
			return api.Transaction{}, err
		}
		created, categoryID = &c, &c.ID
	}

	t, err := s.store.PromoteCandidate(ctx, id, categoryID)
	if err != nil {
		if created != nil {
			if derr := s.store.DeleteCategory(ctx, created.ID); derr != nil {
				s.logger.Error("failed to remove category after failed confirm",
					"category_id", created.ID, "error", derr)
			}
		}
		return api.Transaction{}, fmt.Errorf("confirming candidate %d: %w", id, err)
	}
	s.logger.Info("candidate confirmed", "candidate_id", id, "transaction_id", t.ID)
	return t, nil
}

// Dismiss drops candidate id.
func (s *Service) Dismiss(ctx context.Context, id int64) error {
	if err := s.store.DeleteCandidate(ctx, id); err != nil {
		return fmt.Errorf("dismissing candidate %d: %w", id, err)
	}
	s.logger.Info("candidate dismissed", "candidate_id", id)
	return nil
}

// AddManual validates e and commits it. A missing date means now.
func (s *Service) AddManual(ctx context.Context, e ManualEntry) (api.Transaction, error) {
	item := strings.TrimSpace(e.Item)
	if item == "" {
		return api.Transaction{}, fmt.Errorf("%w: item is required", ErrInvalidInput)
	}
	cost, err := ParseCost(e.Cost)
	if err != nil {
		return api.Transaction{}, err
	}

	t := api.Transaction{
		Item:       item,
		Cost:       cost,
		Bank:       strings.TrimSpace(e.Bank),
		OccurredAt: s.now(),
		CategoryID: e.CategoryID,
	}
	if e.OccurredAt != nil {
		t.OccurredAt = *e.OccurredAt
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if t.ID, err = s.store.InsertTransaction(ctx, t); err != nil {
		return api.Transaction{}, fmt.Errorf("adding transaction: %w", err)
	}
	s.logger.Info("transaction added", "transaction_id", t.ID, "cost", t.Cost.String())
	return t, nil
}

// Transactions returns the active set, newest first.
func (s *Service) Transactions(ctx context.Context) ([]api.Transaction, error) {
	return s.store.ListTransactions(ctx)
}

// Recategorize moves transaction id to categoryID (nil for uncategorized).
func (s *Service) Recategorize(ctx context.Context, id int64, categoryID *int64) error {
	if err := s.store.UpdateTransactionCategory(ctx, id, categoryID); err != nil {
		return fmt.Errorf("recategorizing transaction %d: %w", id, err)
	}
	return nil
}

// DeleteTransaction removes transaction id from the active set.
func (s *Service) DeleteTransaction(ctx context.Context, id int64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.store.DeleteTransaction(ctx, id); err != nil {
		return fmt.Errorf("deleting transaction %d: %w", id, err)
	}
	s.logger.Info("transaction deleted", "transaction_id", id)
	return nil
}

// Categories returns all categories.
func (s *Service) Categories(ctx context.Context) ([]api.Category, error) {
	return s.store.ListCategories(ctx)
}

func validCategoryName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: category name is required", ErrInvalidInput)
	}
	if IsReservedName(name) {
		return "", fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	return name, nil
}

// CreateCategory adds a category.
func (s *Service) CreateCategory(ctx context.Context, name string) (api.Category, error) {
	name, err := validCategoryName(name)
	if err != nil {
		return api.Category{}, err
	}
	id, err := s.store.InsertCategory(ctx, name)
	if err != nil {
		return api.Category{}, fmt.Errorf("creating category: %w", err)
	}
	s.logger.Info("category created", "category_id", id, "name", name)
	return api.Category{ID: id, Name: name}, nil
}

// RenameCategory renames category id.
func (s *Service) RenameCategory(ctx context.Context, id int64, name string) error {
	name, err := validCategoryName(name)
	if err != nil {
		return err
	}
	if err := s.store.RenameCategory(ctx, id, name); err != nil {
		return fmt.Errorf("renaming category %d: %w", id, err)
	}
	return nil
}

// DeleteCategory removes category id. Transactions keep the dangling ID and
// show up as uncategorized.
func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return fmt.Errorf("deleting category %d: %w", id, err)
	}
	s.logger.Info("category deleted", "category_id", id)
	return nil
}
