package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ArionMiles/moneytracker/pkg/client"
	"github.com/ArionMiles/moneytracker/pkg/config"
	"github.com/ArionMiles/moneytracker/pkg/ledger"
	"github.com/ArionMiles/moneytracker/pkg/transfer"
	"github.com/ArionMiles/moneytracker/pkg/transfer/sheets"
)

var printer = message.NewPrinter(language.English)

func money(d decimal.Decimal) string {
	return printer.Sprintf("$%.2f", d.InexactFloat64())
}

// runCheck performs a single rollover check.
func runCheck(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if err := newFlagSet("check").Parse(args); err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(logger)

	out, err := a.engine.CheckNow(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Current month: %s\n", out.CurrentMonth)
	switch {
	case out.ArchivedMonth != "":
		printer.Printf("Archived %s with %d transactions\n", out.ArchivedMonth, out.ArchivedCount)
	case out.ResetDay:
		fmt.Println("Reset day, nothing to archive")
	default:
		fmt.Println("Not a reset day")
	}
	return nil
}

// runSummary prints the spending summary of the active period.
func runSummary(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := newFlagSet("summary")
	exact := fs.Bool("exact", false, "print the exact remaining amount")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(logger)

	us, err := a.settings.Load(ctx)
	if err != nil {
		return err
	}
	sum, err := a.review.Summary(ctx, us, time.Now())
	if err != nil {
		return err
	}

	remaining := sum.RemainingDisplay
	if *exact {
		remaining = money(sum.Remaining)
	}
	fmt.Printf("Month:        %s\n", sum.MonthKey)
	fmt.Printf("Budget:       %s\n", money(sum.Budget))
	fmt.Printf("Spent:        %s (%d transactions)\n", money(sum.TotalSpent), sum.Transactions)
	fmt.Printf("Remaining:    %s\n", remaining)
	fmt.Printf("Next payday:  %s (in %d days)\n", sum.NextPayday.Format("Mon 2 Jan 2006"), sum.DaysUntilPayday)
	printBreakdown(os.Stdout, sum.Breakdown)
	return nil
}

func printBreakdown(w io.Writer, b ledger.Breakdown) {
	if len(b.Slices) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, s := range b.Slices {
		share := s.Amount.Div(b.Total).Mul(decimal.NewFromInt(100))
		printer.Fprintf(w, "  %-20s %12s %5.1f%%\n", s.Name, money(s.Amount), share.InexactFloat64())
	}
}

// runMonths lists months other than the current one.
func runMonths(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if err := newFlagSet("months").Parse(args); err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(logger)

	months, err := a.review.PastMonths(ctx, time.Now())
	if err != nil {
		return err
	}
	if len(months) == 0 {
		fmt.Println("No past months")
		return nil
	}
	for _, m := range months {
		state := "open"
		if m.Archived() {
			state = "archived"
		}
		spent := ledger.TotalSpent(m.Transactions)
		fmt.Printf("%s  %-8s  %4d transactions  spent %s of %s\n",
			m.MonthKey, state, len(m.Transactions), money(spent), money(m.Budget))
	}
	return nil
}

// runImport loads transactions from a file into the active set.
func runImport(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := newFlagSet("import")
	path := fs.String("file", "", "file to import (required)")
	format := fs.String("format", "", "csv, json or xlsx (default: from the file extension)")
	mode := fs.String("mode", string(transfer.ModeAppend), "append or replace")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("-file is required")
	}
	f, err := resolveFormat(*path, *format)
	if err != nil {
		return err
	}
	m, err := transfer.ParseMode(*mode)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(logger)

	in, err := os.Open(*path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", *path, err)
	}
	defer in.Close()

	res, err := a.transfer.Import(ctx, in, f, m)
	if err != nil {
		return err
	}
	printer.Printf("Imported %d transactions, skipped %d rows\n", res.Imported, res.Skipped)
	return nil
}

// runExport writes the active set to a file.
func runExport(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := newFlagSet("export")
	path := fs.String("file", "", "output file (default: money_tracker_export_<timestamp>.<format>)")
	format := fs.String("format", "", "csv, json or xlsx (default: from the file extension, else csv)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	f, err := resolveFormat(*path, *format)
	if err != nil {
		return err
	}
	if *path == "" {
		*path = "money_tracker_export_" + time.Now().Format("20060102_150405") + "." + string(f)
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(logger)

	n, err := writeFile(*path, func(w io.Writer) (int, error) {
		return a.transfer.ExportActive(ctx, w, f)
	})
	if err != nil {
		return err
	}
	printer.Printf("Exported %d transactions to %s\n", n, *path)
	return nil
}

// runExportMonth exports one month to a file or to Google Sheets.
func runExportMonth(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := newFlagSet("export-month")
	key := fs.String("month", "", "month key MM-YYYY (required)")
	path := fs.String("file", "", "output file (default: money_tracker_<month>.<format>)")
	format := fs.String("format", "", "csv, json or xlsx (default: from the file extension, else csv)")
	toSheets := fs.Bool("sheets", false, "write to Google Sheets instead of a file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("-month is required")
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(logger)

	if *toSheets {
		return exportMonthToSheets(ctx, a, cfg, logger, *key)
	}

	f, err := resolveFormat(*path, *format)
	if err != nil {
		return err
	}
	if *path == "" {
		*path = "money_tracker_" + *key + "." + string(f)
	}
	// Resolve the month before creating the output file.
	if _, err := a.review.Month(ctx, *key); err != nil {
		return err
	}
	n, err := writeFile(*path, func(w io.Writer) (int, error) {
		return a.transfer.ExportMonth(ctx, *key, w, f)
	})
	if err != nil {
		return err
	}
	printer.Printf("Exported %d transactions of %s to %s\n", n, *key, *path)
	return nil
}

func exportMonthToSheets(ctx context.Context, a *app, cfg *config.Config, logger *slog.Logger, key string) error {
	rec, err := a.review.Month(ctx, key)
	if err != nil {
		return err
	}

	httpClient, err := client.New(ctx, client.Config{
		SecretFile: cfg.Google.ClientSecretFile,
		TokenFile:  cfg.Google.TokenFile,
	}, logger, sheets.Scopes()...)
	if err != nil {
		return fmt.Errorf("creating http client (run 'moneytracker auth' first): %w", err)
	}

	exporter, err := sheets.New(httpClient, sheets.Config{
		SheetTitle: cfg.Google.SheetTitle,
		SheetID:    cfg.Google.SheetID,
		SheetName:  cfg.Google.SheetName,
	}, logger)
	if err != nil {
		return err
	}
	id, err := exporter.Export(ctx, transfer.ToRows(rec.Transactions, time.Local))
	if err != nil {
		return err
	}
	printer.Printf("Exported %d transactions of %s to https://docs.google.com/spreadsheets/d/%s\n",
		len(rec.Transactions), key, id)
	return nil
}

func resolveFormat(path, name string) (transfer.Format, error) {
	switch {
	case name != "":
		return transfer.ParseFormat(name)
	case path != "":
		return transfer.FormatFromPath(path)
	default:
		return transfer.FormatCSV, nil
	}
}

// writeFile creates path, runs write and removes the file again on failure.
func writeFile(path string, write func(io.Writer) (int, error)) (int, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}
	n, err := write(out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	return n, nil
}
