package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/moneytracker/internal/daemon"
	"github.com/ArionMiles/moneytracker/pkg/client"
	"github.com/ArionMiles/moneytracker/pkg/config"
	"github.com/ArionMiles/moneytracker/pkg/httpapi"
	"github.com/ArionMiles/moneytracker/pkg/ingest"
)

// runDaemon starts ingestion, the rollover ticker and the HTTP API.
func runDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := newFlagSet("run")
	noHTTP := fs.Bool("no-http", false, "do not serve the HTTP API")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(logger)
	if err := a.ensureSettings(ctx); err != nil {
		return err
	}

	registry, err := newRegistry()
	if err != nil {
		return fmt.Errorf("registering source plugins: %w", err)
	}
	logger.Info("plugins registered", "sources", registry.Names())

	extractor, err := newExtractor(cfg, logger)
	if err != nil {
		return err
	}
	queue := ingest.NewQueue(cfg.QueueSize)
	worker := ingest.NewWorker(extractor, a.store, logger)

	var httpClient *http.Client
	if cfg.Source != "" {
		scopes, err := registry.Scopes(cfg.Source)
		if err != nil {
			return err
		}
		if len(scopes) > 0 {
			logger.Info("OAuth scopes required", "scopes", scopes)
			httpClient, err = client.New(ctx, client.Config{
				SecretFile: cfg.Google.ClientSecretFile,
				TokenFile:  cfg.Google.TokenFile,
			}, logger, scopes...)
			if err != nil {
				return fmt.Errorf("creating http client (run 'moneytracker auth' first): %w", err)
			}
		}
	}

	components := daemon.Components{
		Queue:    queue,
		Worker:   worker,
		Rollover: a.engine,
	}
	if !*noHTTP {
		components.Handler = httpapi.New(httpapi.Deps{
			Review:   a.review,
			Settings: a.settings,
			Transfer: a.transfer,
			Rollover: a.engine,
			Queue:    queue,
			Stats:    worker,
			Registry: registry,
		}, logger).Router()
	}

	logger.Info("configuration loaded",
		"store", cfg.Store,
		"source", cfg.Source,
		"http_addr", cfg.HTTPAddr,
		"rollover_interval", cfg.RolloverInterval,
	)

	return daemon.New(registry, logger).Run(ctx, daemon.Config{
		Source:           cfg.Source,
		SourceConfig:     cfg.SourceConfig,
		HTTPClient:       httpClient,
		HTTPAddr:         cfg.HTTPAddr,
		RolloverInterval: cfg.RolloverInterval,
	}, components)
}
