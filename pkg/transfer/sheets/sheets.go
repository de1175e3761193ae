// Package sheets exports ledger rows to a Google Sheets spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/moneytracker/pkg/transfer"
)

// Default configuration values.
const (
	DefaultSheetTitle = "moneytracker"
	DefaultSheetName  = "Expenses"
	DefaultRetryDelay = 60 * time.Second
)

// Exporter writes transfer rows to a spreadsheet.
type Exporter struct {
	client     *sheets.Service
	cfg        Config
	logger     *slog.Logger
	retryDelay time.Duration
}

// Config holds configuration for the Sheets exporter.
type Config struct {
	// SheetTitle is the title for a new spreadsheet (if SheetID is empty).
	SheetTitle string
	// SheetID is the ID of an existing spreadsheet to use.
	SheetID string
	// SheetName is the name of the sheet within the spreadsheet.
	SheetName string
}

// Scopes returns the OAuth scopes needed by the exporter.
func Scopes() []string {
	return []string{sheets.SpreadsheetsScope}
}

// New creates a Sheets exporter. opts are passed to the Sheets client.
func New(httpClient *http.Client, cfg Config, logger *slog.Logger, opts ...option.ClientOption) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SheetTitle == "" {
		cfg.SheetTitle = DefaultSheetTitle
	}
	if cfg.SheetName == "" {
		cfg.SheetName = DefaultSheetName
	}

	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	client, err := sheets.NewService(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	return &Exporter{
		client:     client,
		cfg:        cfg,
		logger:     logger.With("component", "sheets"),
		retryDelay: DefaultRetryDelay,
	}, nil
}

// Export replaces the sheet contents with a header and rows and returns the
// spreadsheet ID. A new spreadsheet is created when SheetID is empty or
// cannot be opened.
func (e *Exporter) Export(ctx context.Context, rows []transfer.Row) (string, error) {
	id, err := e.spreadsheetID(ctx)
	if err != nil {
		return "", fmt.Errorf("initializing spreadsheet: %w", err)
	}

	values := make([][]any, 0, len(rows)+1)
	header := make([]any, len(transfer.Header))
	for i, h := range transfer.Header {
		header[i] = h
	}
	values = append(values, header)
	for _, r := range rows {
		values = append(values, []any{deref(r.Date), deref(r.Item), deref(r.Cost), deref(r.Bank), deref(r.Category)})
	}

	sheetRange := e.cfg.SheetName + "!A:E"
	err = e.withRetry(ctx, func() error {
		_, err := e.client.Spreadsheets.Values.Clear(id, sheetRange, &sheets.ClearValuesRequest{}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("clearing sheet: %w", err)
	}

	writeReq := &sheets.ValueRange{Values: values}
	err = e.withRetry(ctx, func() error {
		_, err := e.client.Spreadsheets.Values.Update(id, e.cfg.SheetName+"!A1", writeReq).
			ValueInputOption("USER_ENTERED").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("writing rows to sheet: %w", err)
	}

	e.logger.Info("exported rows to spreadsheet", "spreadsheet_id", id, "count", len(rows))
	return id, nil
}

func (e *Exporter) spreadsheetID(ctx context.Context) (string, error) {
	if e.cfg.SheetID != "" {
		spreadsheet, err := e.client.Spreadsheets.Get(e.cfg.SheetID).Context(ctx).Do()
		if err == nil {
			e.logger.Info("using existing spreadsheet", "title", spreadsheet.Properties.Title, "id", e.cfg.SheetID)
			return e.cfg.SheetID, nil
		}
		e.logger.Warn("failed to get spreadsheet, will create new one", "id", e.cfg.SheetID, "error", err)
	}

	spreadsheet, err := e.client.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: e.cfg.SheetTitle},
		Sheets: []*sheets.Sheet{
			{Properties: &sheets.SheetProperties{Title: e.cfg.SheetName}},
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("creating spreadsheet: %w", err)
	}

	e.logger.Info("created new spreadsheet", "title", e.cfg.SheetTitle, "id", spreadsheet.SpreadsheetId)
	e.cfg.SheetID = spreadsheet.SpreadsheetId
	return spreadsheet.SpreadsheetId, nil
}

// withRetry retries fn while the API answers 429.
func (e *Exporter) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.RetryIf(func(err error) bool {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
				e.logger.Warn("rate limited, will retry", "error", err)
				return true
			}
			return false
		}),
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(e.retryDelay),
		retry.LastErrorOnly(true),
	)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
