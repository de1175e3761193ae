package extract

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/moneytracker/pkg/api"
)

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	banks, err := DefaultBankResolver()
	if err != nil {
		t.Fatalf("failed to load bank rules: %v", err)
	}
	return New(banks, nil)
}

func TestExtract(t *testing.T) {
	detectedAt := time.Date(2025, 3, 15, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name         string
		notification api.Notification
		wantOK       bool
		wantItem     string
		wantCost     string
		wantBank     string
	}{
		{
			name: "google wallet card payment",
			notification: api.Notification{
				SourceApp: "com.google.android.apps.walletnfcrel",
				Title:     "KOO KEE - AMK",
				Body:      "SGD17.90 paid with Mastercard ... 2468",
			},
			wantOK:   true,
			wantItem: "KOO KEE - AMK",
			wantCost: "17.9",
			wantBank: "GP 2468",
		},
		{
			name: "dbs dollar amount",
			notification: api.Notification{
				SourceApp: "com.dbs.sg.digibank",
				Title:     "Card Transaction Alert",
				Body:      "You made a transaction of $12.50 at SHOPEE",
			},
			wantOK:   true,
			wantItem: "Card Transaction Alert",
			wantCost: "12.5",
			wantBank: "DBS",
		},
		{
			name: "lower-case currency token",
			notification: api.Notification{
				SourceApp: "com.uob.mighty",
				Title:     "Payment",
				Body:      "sgd 4 spent at NTUC",
			},
			wantOK:   true,
			wantItem: "Payment",
			wantCost: "4",
			wantBank: "UOB",
		},
		{
			name: "title kept verbatim",
			notification: api.Notification{
				SourceApp: "sg.com.gxs.app",
				Title:     "  McDonald's  ",
				Body:      "$3.20 paid",
			},
			wantOK:   true,
			wantItem: "  McDonald's  ",
			wantCost: "3.2",
			wantBank: "GXS",
		},
		{
			name: "full-width characters are folded",
			notification: api.Notification{
				SourceApp: "com.ocbc.mobile",
				Title:     "Payment",
				Body:      "ＳＧＤ１２.３４ charged",
			},
			wantOK:   true,
			wantItem: "Payment",
			wantCost: "12.34",
			wantBank: "OCBC",
		},
		{
			name: "no currency marker",
			notification: api.Notification{
				SourceApp: "com.dbs.sg.digibank",
				Title:     "Login",
				Body:      "You logged in from a new device 1234",
			},
			wantOK: false,
		},
		{
			name: "currency marker without amount",
			notification: api.Notification{
				SourceApp: "com.dbs.sg.digibank",
				Title:     "Promo",
				Body:      "Save more $ this month",
			},
			wantOK: false,
		},
		{
			name: "unrecognized source app",
			notification: api.Notification{
				SourceApp: "com.whatsapp",
				Title:     "Alice",
				Body:      "Can you send me $20?",
			},
			wantOK: false,
		},
	}

	e := newTestExtractor(t)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := e.Extract(&tc.notification, detectedAt)
			if ok != tc.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				if got != nil {
					t.Errorf("expected nil candidate, got %+v", got)
				}
				return
			}

			if got.Item != tc.wantItem {
				t.Errorf("item: got %q, want %q", got.Item, tc.wantItem)
			}
			if !got.Cost.Equal(decimal.RequireFromString(tc.wantCost)) {
				t.Errorf("cost: got %s, want %s", got.Cost, tc.wantCost)
			}
			if got.Bank != tc.wantBank {
				t.Errorf("bank: got %q, want %q", got.Bank, tc.wantBank)
			}
			if !got.DetectedAt.Equal(detectedAt) {
				t.Errorf("detected at: got %s, want %s", got.DetectedAt, detectedAt)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		body   string
		want   string
		wantOK bool
	}{
		{"SGD17.90 paid", "17.9", true},
		{"$ 5 paid", "5", true},
		{"Sgd 100.5 received", "100.5", true},
		{"$12.345 truncated to two decimals", "12.34", true},
		{"first wins: $1.00 then SGD2.00", "1", true},
		{"$  5 two spaces", "", false},
		{"no amount here", "", false},
		{"USD 4.00", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.body, func(t *testing.T) {
			got, ok := ParseAmount(tc.body)
			if ok != tc.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tc.wantOK)
			}
			if ok && !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Errorf("amount: got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestMaskedSuffix(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{"SGD17.90 paid with Mastercard ... 2468", "2468"},
		{"card 1111 and card 2222", "2222"},
		{"card 1234 used for $5.00", ""},
		{"card ending 12345", ""},
		{"no digits", ""},
		{"$1234.00 charged", ""},
		{"$5.00 on card 9876.", "9876"},
		{"card 4321\nsecond line without digits", "4321"},
	}

	for _, tc := range tests {
		t.Run(tc.body, func(t *testing.T) {
			if got := MaskedSuffix(tc.body); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestHasCurrencyMarker(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{"$5", true},
		{"SGD5", true},
		{"sgd5", true},
		{"5 dollars", false},
	}

	for _, tc := range tests {
		if got := HasCurrencyMarker(tc.body); got != tc.want {
			t.Errorf("HasCurrencyMarker(%q): got %v, want %v", tc.body, got, tc.want)
		}
	}
}
