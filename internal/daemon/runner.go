// Package daemon runs the long-lived moneytracker processes together.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ArionMiles/moneytracker/internal/plugins"
	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/ingest"
)

const shutdownTimeout = 10 * time.Second

// Worker consumes the ingestion queue.
type Worker interface {
	Run(ctx context.Context, in <-chan *api.Notification, ackChan chan<- api.Ack) error
}

// Rollover runs the periodic budget-cycle check.
type Rollover interface {
	Run(ctx context.Context, interval time.Duration) error
}

// Config selects what the daemon runs.
type Config struct {
	// Source is the source plugin name. Empty runs without a source; the
	// HTTP API can still push notifications.
	Source       string
	SourceConfig json.RawMessage
	// HTTPClient is passed to source plugins that need OAuth.
	HTTPClient *http.Client

	HTTPAddr         string
	RolloverInterval time.Duration
}

// Components are the already wired pieces the daemon supervises.
type Components struct {
	Queue    *ingest.Queue
	Worker   Worker
	Rollover Rollover
	// Handler serves the HTTP API. Nil disables the server.
	Handler http.Handler
}

// Runner manages the moneytracker daemon lifecycle.
type Runner struct {
	registry *plugins.Registry
	logger   *slog.Logger
}

// New creates a new daemon runner.
func New(registry *plugins.Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry: registry,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled or one of the processes fails, then
// stops the rest.
func (r *Runner) Run(ctx context.Context, cfg Config, c Components) error {
	var source api.Source
	if cfg.Source != "" {
		var err error
		source, err = r.registry.Create(
			cfg.Source,
			cfg.HTTPClient,
			cfg.SourceConfig,
			r.logger.With("component", "source", "plugin", cfg.Source),
		)
		if err != nil {
			return fmt.Errorf("creating source: %w", err)
		}
	}

	r.logger.Info("starting moneytracker daemon",
		"source", cfg.Source,
		"http_addr", cfg.HTTPAddr,
		"rollover_interval", cfg.RolloverInterval,
	)

	ackChan := make(chan api.Ack, 100)
	g, ctx := errgroup.WithContext(ctx)

	if source != nil {
		g.Go(func() error {
			if err := source.Read(ctx, c.Queue.In(), ackChan); err != nil {
				return ignoreCanceled(err, "source")
			}
			r.logger.Info("source finished")
			drain(ctx, ackChan)
			return nil
		})
	} else {
		g.Go(func() error {
			drain(ctx, ackChan)
			return nil
		})
	}

	g.Go(func() error {
		return ignoreCanceled(c.Worker.Run(ctx, c.Queue.Out(), ackChan), "ingest worker")
	})

	if c.Rollover != nil {
		g.Go(func() error {
			return ignoreCanceled(c.Rollover.Run(ctx, cfg.RolloverInterval), "rollover")
		})
	}

	if c.Handler != nil {
		g.Go(func() error {
			return r.serve(ctx, cfg.HTTPAddr, c.Handler)
		})
	}

	err := g.Wait()
	r.logger.Info("daemon stopped")
	return err
}

func (r *Runner) serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// drain discards acknowledgments when no source is there to receive them.
func drain(ctx context.Context, ackChan <-chan api.Ack) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ackChan:
		}
	}
}

func ignoreCanceled(err error, what string) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}
