// Package settings manages the singleton user settings row.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/payday"
	"github.com/ArionMiles/moneytracker/pkg/store"
)

// Defaults applied the first time settings are loaded.
const (
	DefaultPayday           = 28
	DefaultThresholdPercent = 5
)

// DefaultMonthlyBudget is the budget applied the first time settings are loaded.
var DefaultMonthlyBudget = decimal.NewFromInt(800)

// ErrInvalid is returned when settings fail validation.
var ErrInvalid = errors.New("invalid settings")

// Defaults returns the initial settings.
func Defaults() api.UserSettings {
	return api.UserSettings{
		Payday:           DefaultPayday,
		MonthlyBudget:    DefaultMonthlyBudget,
		ThresholdPercent: DefaultThresholdPercent,
	}
}

// Validate checks that s can be stored.
func Validate(s api.UserSettings) error {
	if !payday.Valid(s.Payday) {
		return fmt.Errorf("%w: payday %d must be between 1 and 31", ErrInvalid, s.Payday)
	}
	if s.MonthlyBudget.IsNegative() {
		return fmt.Errorf("%w: monthly budget %s must not be negative", ErrInvalid, s.MonthlyBudget)
	}
	if s.ThresholdPercent < 0 || s.ThresholdPercent > 100 {
		return fmt.Errorf("%w: threshold %d must be between 0 and 100", ErrInvalid, s.ThresholdPercent)
	}
	return nil
}

// Store is the subset of store.Store used by the service.
type Store interface {
	LoadSettings(ctx context.Context) (api.UserSettings, error)
	SaveSettings(ctx context.Context, s api.UserSettings) error
}

// Service reads and updates settings.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a settings service.
func NewService(s Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, logger: logger.With("component", "settings")}
}

// Load returns the stored settings, persisting the defaults on first use.
func (s *Service) Load(ctx context.Context) (api.UserSettings, error) {
	us, err := s.store.LoadSettings(ctx)
	if err == nil {
		return us, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return api.UserSettings{}, fmt.Errorf("loading settings: %w", err)
	}

	us = Defaults()
	if err := s.store.SaveSettings(ctx, us); err != nil {
		return api.UserSettings{}, fmt.Errorf("initializing settings: %w", err)
	}
	s.logger.Info("initialized default settings",
		"payday", us.Payday,
		"monthly_budget", us.MonthlyBudget.String(),
		"threshold_percent", us.ThresholdPercent,
	)
	return us, nil
}

// Save validates and stores us.
func (s *Service) Save(ctx context.Context, us api.UserSettings) error {
	if err := Validate(us); err != nil {
		return err
	}
	if err := s.store.SaveSettings(ctx, us); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

// Update holds optional changes; nil fields are left as they are.
type Update struct {
	Payday           *int             `json:"payday,omitempty"`
	MonthlyBudget    *decimal.Decimal `json:"monthly_budget,omitempty"`
	ThresholdPercent *int             `json:"threshold_percent,omitempty"`
}

// Apply merges u into the stored settings and returns the result.
func (s *Service) Apply(ctx context.Context, u Update) (api.UserSettings, error) {
	us, err := s.Load(ctx)
	if err != nil {
		return api.UserSettings{}, err
	}
	if u.Payday != nil {
		us.Payday = *u.Payday
	}
	if u.MonthlyBudget != nil {
		us.MonthlyBudget = *u.MonthlyBudget
	}
	if u.ThresholdPercent != nil {
		us.ThresholdPercent = *u.ThresholdPercent
	}
	if err := s.Save(ctx, us); err != nil {
		return api.UserSettings{}, err
	}
	s.logger.Info("settings updated",
		"payday", us.Payday,
		"monthly_budget", us.MonthlyBudget.String(),
		"threshold_percent", us.ThresholdPercent,
	)
	return us, nil
}
