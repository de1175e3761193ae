// Package api defines the core interfaces and data structures for moneytracker.
package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a committed expense in the active ledger or inside a month archive.
type Transaction struct {
	ID         int64           `json:"id"`
	Item       string          `json:"item"`
	Cost       decimal.Decimal `json:"cost"`
	Bank       string          `json:"bank"`
	OccurredAt time.Time       `json:"occurred_at"`
	// CategoryID is a weak reference; it may point at a deleted category.
	CategoryID *int64 `json:"category_id,omitempty"`
}

// Candidate is a transaction inferred from a notification, waiting for review.
type Candidate struct {
	ID         int64           `json:"id"`
	Item       string          `json:"item"`
	Cost       decimal.Decimal `json:"cost"`
	Bank       string          `json:"bank"`
	DetectedAt time.Time       `json:"detected_at"`
}

// Category is a user-defined spending category.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// MonthlyRecord is the archive of one budget period.
// A zero Budget means the period has not been archived yet.
type MonthlyRecord struct {
	MonthKey     string          `json:"month_key"`
	Transactions []Transaction   `json:"transactions"`
	Budget       decimal.Decimal `json:"budget"`
}

// Archived reports whether the record already holds a rollover snapshot.
func (r MonthlyRecord) Archived() bool {
	return !r.Budget.IsZero()
}

// SettingsID is the fixed primary key of the settings row.
const SettingsID = 0

// UserSettings is the singleton configuration of the tracker.
type UserSettings struct {
	Payday           int             `json:"payday"`
	MonthlyBudget    decimal.Decimal `json:"monthly_budget"`
	ThresholdPercent int             `json:"threshold_percent"`
}

// Notification is a raw event observed from a banking or e-wallet app.
type Notification struct {
	// ID identifies the notification at its source (used for acknowledgment).
	ID         string    `json:"id"`
	SourceApp  string    `json:"source_app"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Ack reports that the consumer is done with notification ID. Failed means it
// could not be handled and the source should deliver it again.
type Ack struct {
	ID     string
	Failed bool
}

// Source delivers notifications to the provided channel until the context is canceled.
// Acks received on ackChan settle notifications upstream: successful ones are
// acknowledged, failed ones are released for redelivery.
// Sources must not close out; the caller owns it.
type Source interface {
	Read(ctx context.Context, out chan<- *Notification, ackChan <-chan Ack) error
}

// MonthKeyLayout is the time layout of a month key ("MM-YYYY").
const MonthKeyLayout = "01-2006"

// MonthKey returns the zero-padded "MM-YYYY" key for t.
func MonthKey(t time.Time) string {
	return t.Format(MonthKeyLayout)
}

// ParseMonthKey splits a "MM-YYYY" key into year and month.
func ParseMonthKey(key string) (int, time.Month, error) {
	mm, yyyy, ok := strings.Cut(key, "-")
	if !ok || len(mm) != 2 || len(yyyy) != 4 {
		return 0, 0, fmt.Errorf("invalid month key %q", key)
	}
	month, err := strconv.Atoi(mm)
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("invalid month in key %q", key)
	}
	year, err := strconv.Atoi(yyyy)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid year in key %q", key)
	}
	return year, time.Month(month), nil
}

// MonthKeyLess orders month keys chronologically. Unparseable keys sort first.
func MonthKeyLess(a, b string) bool {
	ay, am, aerr := ParseMonthKey(a)
	by, bm, berr := ParseMonthKey(b)
	switch {
	case aerr != nil || berr != nil:
		if aerr != nil && berr != nil {
			return a < b
		}
		return aerr != nil
	case ay != by:
		return ay < by
	default:
		return am < bm
	}
}
