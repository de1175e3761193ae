// Command moneytracker runs the expense tracker daemon and its one-shot
// maintenance commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ArionMiles/moneytracker/pkg/config"
	"github.com/ArionMiles/moneytracker/pkg/logging"
)

const usage = `Usage: moneytracker <command> [flags]

Commands:
  run           start the ingestion daemon, rollover checks and the HTTP API
  check         run one rollover check now
  summary       print the current budget summary
  months        list past months
  import        import transactions from a csv, json or xlsx file
  export        export the active transactions to a file
  export-month  export an archived month to a file or Google Sheets
  status        show configuration, store and token status
  auth          run the Google OAuth flow and cache the token
`

type command func(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error

var commands = map[string]command{
	"run":          runDaemon,
	"check":        runCheck,
	"summary":      runSummary,
	"months":       runMonths,
	"import":       runImport,
	"export":       runExport,
	"export-month": runExportMonth,
	"status":       runStatus,
	"auth":         runAuth,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		fmt.Print(usage)
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(logging.FromSettings(cfg.LogLevel, cfg.LogJSON))
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := cmd(ctx, cfg, logger, os.Args[2:]); err != nil {
		logger.Error("command failed", "command", name, "error", err)
		cancel()
		os.Exit(1)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: moneytracker %s [flags]\n", name)
		fs.PrintDefaults()
	}
	return fs
}
