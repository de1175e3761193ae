package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ArionMiles/moneytracker/internal/plugins"
	"github.com/ArionMiles/moneytracker/pkg/budget"
	"github.com/ArionMiles/moneytracker/pkg/config"
	"github.com/ArionMiles/moneytracker/pkg/extract"
	"github.com/ArionMiles/moneytracker/pkg/review"
	"github.com/ArionMiles/moneytracker/pkg/settings"
	amqpsource "github.com/ArionMiles/moneytracker/pkg/source/amqp"
	gmailsource "github.com/ArionMiles/moneytracker/pkg/source/gmail"
	mboxsource "github.com/ArionMiles/moneytracker/pkg/source/mbox"
	"github.com/ArionMiles/moneytracker/pkg/store"
	"github.com/ArionMiles/moneytracker/pkg/store/postgres"
	"github.com/ArionMiles/moneytracker/pkg/store/sqlite"
	"github.com/ArionMiles/moneytracker/pkg/transfer"
)

// app holds the services shared by every command. All writers to the active
// transaction set share one lock.
type app struct {
	store    store.Store
	settings *settings.Service
	engine   *budget.Engine
	review   *review.Service
	transfer *transfer.Service
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store {
	case "postgres":
		s, err := postgres.New(cfg.Postgres.Store(), logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store at %s: %w", cfg.SQLitePath, err)
		}
		return s, nil
	}
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	s, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	lock := &sync.Mutex{}
	settingsSvc := settings.NewService(s, logger)
	return &app{
		store:    s,
		settings: settingsSvc,
		engine:   budget.NewEngine(s, settingsSvc, logger, budget.WithLedgerLock(lock)),
		review:   review.NewService(s, lock, logger),
		transfer: transfer.NewService(s, lock, logger),
	}, nil
}

func (a *app) Close(logger *slog.Logger) {
	if err := a.store.Close(); err != nil {
		logger.Warn("failed to close store", "error", err)
	}
}

// ensureSettings loads settings once so defaults are persisted on first start.
func (a *app) ensureSettings(ctx context.Context) error {
	if _, err := a.settings.Load(ctx); err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	return nil
}

func newRegistry() (*plugins.Registry, error) {
	registry := plugins.NewRegistry()
	for _, p := range []plugins.SourcePlugin{
		&gmailsource.Plugin{},
		&mboxsource.Plugin{},
		&amqpsource.Plugin{},
	} {
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func newExtractor(cfg *config.Config, logger *slog.Logger) (*extract.Extractor, error) {
	if cfg.BankRulesFile == "" {
		banks, err := extract.DefaultBankResolver()
		if err != nil {
			return nil, fmt.Errorf("loading built-in bank rules: %w", err)
		}
		return extract.New(banks, logger), nil
	}

	data, err := os.ReadFile(cfg.BankRulesFile)
	if err != nil {
		return nil, fmt.Errorf("reading bank rules: %w", err)
	}
	rules, err := extract.ParseBankRules(data)
	if err != nil {
		return nil, fmt.Errorf("parsing bank rules %s: %w", cfg.BankRulesFile, err)
	}
	logger.Info("loaded bank rules", "path", cfg.BankRulesFile, "rules", len(rules))
	return extract.New(extract.NewBankResolver(rules), logger), nil
}
