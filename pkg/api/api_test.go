package api

import (
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMonthKey(t *testing.T) {
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Date(2025, 1, 31, 23, 59, 0, 0, time.UTC), "01-2025"},
		{time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), "12-2025"},
		{time.Date(999, 7, 4, 0, 0, 0, 0, time.UTC), "07-0999"},
	}

	for _, tc := range tests {
		if got := MonthKey(tc.t); got != tc.want {
			t.Errorf("MonthKey(%s): got %q, want %q", tc.t, got, tc.want)
		}
	}
}

func TestParseMonthKey(t *testing.T) {
	tests := []struct {
		key       string
		wantYear  int
		wantMonth time.Month
		wantErr   bool
	}{
		{"03-2025", 2025, time.March, false},
		{"12-1999", 1999, time.December, false},
		{"13-2025", 0, 0, true},
		{"3-2025", 0, 0, true},
		{"2025-03", 0, 0, true},
		{"", 0, 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			year, month, err := ParseMonthKey(tc.key)
			if (err != nil) != tc.wantErr {
				t.Fatalf("error: got %v, wantErr %v", err, tc.wantErr)
			}
			if year != tc.wantYear || month != tc.wantMonth {
				t.Errorf("got %d-%d, want %d-%d", year, month, tc.wantYear, tc.wantMonth)
			}
		})
	}
}

func TestMonthKeyLess_Chronological(t *testing.T) {
	keys := []string{"01-2026", "12-2025", "02-2025", "11-2024"}

	slices.SortFunc(keys, func(a, b string) int {
		switch {
		case MonthKeyLess(a, b):
			return -1
		case MonthKeyLess(b, a):
			return 1
		}
		return 0
	})

	want := []string{"11-2024", "02-2025", "12-2025", "01-2026"}
	if !slices.Equal(keys, want) {
		t.Errorf("got %v, want %v", keys, want)
	}
}

func TestMonthlyRecord_Archived(t *testing.T) {
	r := MonthlyRecord{MonthKey: "03-2025"}
	if r.Archived() {
		t.Error("zero budget record should not be archived")
	}

	r.Budget = decimal.NewFromInt(800)
	if !r.Archived() {
		t.Error("record with budget should be archived")
	}
}
