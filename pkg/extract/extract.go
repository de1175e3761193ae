// Package extract turns raw payment notifications into candidate transactions.
//
// Extraction is heuristic: a notification qualifies when its body mentions a
// currency marker, the first currency amount becomes the cost, and the source
// app decides the bank. Anything that does not fit is discarded silently.
package extract

import (
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/width"

	"github.com/ArionMiles/moneytracker/pkg/api"
)

var (
	amountRegex    = regexp.MustCompile(`(?i)(?:SGD|\$)\s?(\d+(?:\.\d{1,2})?)`)
	fourDigitRegex = regexp.MustCompile(`\b\d{4}\b`)
)

// Details holds the fields parsed out of a notification body.
type Details struct {
	Amount       decimal.Decimal
	MaskedSuffix string
}

// Extractor converts notifications into candidates.
type Extractor struct {
	banks  *BankResolver
	logger *slog.Logger
}

// New creates an extractor using the given bank resolver.
func New(banks *BankResolver, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{banks: banks, logger: logger}
}

// Extract returns a candidate for n, or false when the notification is not a
// recognizable payment. The candidate has no ID yet.
func (e *Extractor) Extract(n *api.Notification, detectedAt time.Time) (*api.Candidate, bool) {
	details, ok := ParseBody(n.Body)
	if !ok {
		e.logger.Debug("notification has no amount", "source_app", n.SourceApp, "notification_id", n.ID)
		return nil, false
	}

	bank := e.banks.Resolve(n.SourceApp, details.MaskedSuffix)
	if bank == "" {
		e.logger.Debug("notification from unrecognized source", "source_app", n.SourceApp, "notification_id", n.ID)
		return nil, false
	}

	return &api.Candidate{
		Item:       n.Title,
		Cost:       details.Amount,
		Bank:       bank,
		DetectedAt: detectedAt,
	}, true
}

// ParseBody extracts the amount and masked card suffix from a notification
// body. It returns false when the body carries no currency marker or no
// parseable amount.
func ParseBody(body string) (Details, bool) {
	body = width.Narrow.String(body)
	if !HasCurrencyMarker(body) {
		return Details{}, false
	}

	amount, ok := ParseAmount(body)
	if !ok {
		return Details{}, false
	}

	return Details{
		Amount:       amount,
		MaskedSuffix: MaskedSuffix(body),
	}, true
}

// HasCurrencyMarker reports whether body mentions "$" or "SGD" (any case).
func HasCurrencyMarker(body string) bool {
	return strings.Contains(body, "$") || strings.Contains(strings.ToUpper(body), "SGD")
}

// ParseAmount returns the first currency amount in body.
func ParseAmount(body string) (decimal.Decimal, bool) {
	m := amountRegex.FindStringSubmatch(body)
	if len(m) < 2 {
		return decimal.Decimal{}, false
	}
	amount, err := decimal.NewFromString(m[1])
	if err != nil {
		return decimal.Decimal{}, false
	}
	return amount, true
}

// MaskedSuffix returns the rightmost standalone four-digit run of body,
// provided no digit appears anywhere after it. It returns "" otherwise.
func MaskedSuffix(body string) string {
	matches := fourDigitRegex.FindAllStringIndex(body, -1)
	if len(matches) == 0 {
		return ""
	}

	last := matches[len(matches)-1]
	if strings.ContainsAny(body[last[1]:], "0123456789") {
		return ""
	}
	return body[last[0]:last[1]]
}
