// Package transfer imports and exports ledger transactions as CSV, JSON or
// XLSX. Every format carries the same five columns: date, item, cost, bank
// and category (the category ID).
package transfer

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/ArionMiles/moneytracker/pkg/api"
)

// DateLayout is the timestamp layout written by every format. The stores keep
// millisecond precision, so exports do too.
const DateLayout = "2006-01-02 15:04:05.000"

// dateLayouts are accepted on import, in order. The seconds-only layout reads
// files written by older exports and by hand.
var dateLayouts = []string{DateLayout, "2006-01-02 15:04:05", time.RFC3339Nano}

// Header is the column order of tabular formats.
var Header = []string{"Date", "Item", "Cost", "Bank", "Category"}

// Format is a serialization of transaction rows.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("unsupported format %q (want csv, json or xlsx)", name)
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "txt" {
		return FormatJSON, nil
	}
	return ParseFormat(ext)
}

// Row is one transaction as it appears in a file. Nil fields were absent.
type Row struct {
	Date     *string `json:"date,omitempty"`
	Item     *string `json:"item,omitempty"`
	Cost     *string `json:"cost,omitempty"`
	Bank     *string `json:"bank,omitempty"`
	Category *string `json:"category,omitempty"`
}

// ToRows renders transactions for export. Times are written in loc.
func ToRows(txs []api.Transaction, loc *time.Location) []Row {
	rows := make([]Row, 0, len(txs))
	for _, t := range txs {
		category := ""
		if t.CategoryID != nil {
			category = strconv.FormatInt(*t.CategoryID, 10)
		}
		rows = append(rows, Row{
			Date:     ptr(t.OccurredAt.In(loc).Format(DateLayout)),
			Item:     ptr(t.Item),
			Cost:     ptr(t.Cost.String()),
			Bank:     ptr(t.Bank),
			Category: ptr(category),
		})
	}
	return rows
}

// Converter turns imported rows into transactions.
type Converter struct {
	// Categories resolves category names when the column is not an ID.
	Categories []api.Category
	// Location interprets dates. Defaults to time.Local.
	Location *time.Location
	// Now is the fallback for missing or unreadable dates.
	Now time.Time
}

// Convert returns the transactions for rows that carry an item, a cost and a
// bank, and the number of rows skipped. Item and bank are kept verbatim. A
// bad date falls back to c.Now, a bad cost to zero and an unknown category to
// uncategorized.
func (c Converter) Convert(rows []Row) ([]api.Transaction, int) {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}

	var (
		txs     []api.Transaction
		skipped int
	)
	for _, r := range rows {
		if r.Item == nil || strings.TrimSpace(*r.Item) == "" || r.Cost == nil || r.Bank == nil {
			skipped++
			continue
		}
		txs = append(txs, api.Transaction{
			Item:       *r.Item,
			Cost:       parseCost(*r.Cost),
			Bank:       *r.Bank,
			OccurredAt: c.parseDate(r.Date, loc),
			CategoryID: c.resolveCategory(r.Category),
		})
	}
	return txs, skipped
}

func (c Converter) parseDate(raw *string, loc *time.Location) time.Time {
	if raw == nil {
		return c.Now
	}
	s := strings.TrimSpace(*raw)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC()
		}
	}
	// Spreadsheet applications may rewrite the column as a date serial.
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc).UTC()
		}
	}
	return c.Now
}

func parseCost(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (c Converter) resolveCategory(raw *string) *int64 {
	if raw == nil {
		return nil
	}
	s := strings.TrimSpace(*raw)
	if s == "" {
		return nil
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &id
	}
	// Excel stores whole numbers as floats.
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		id := int64(f)
		return &id
	}
	for _, cat := range c.Categories {
		if strings.EqualFold(cat.Name, s) {
			id := cat.ID
			return &id
		}
	}
	return nil
}

func ptr(s string) *string { return &s }
