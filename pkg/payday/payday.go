// Package payday implements the calendar arithmetic around a monthly payday.
//
// All functions work on civil dates: the clock time and location of the
// arguments only decide which calendar day "today" is.
package payday

import "time"

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Effective returns the day the payday falls on in the given month: payday,
// or the last day of the month when the month is shorter.
func Effective(year int, month time.Month, payday int) int {
	return min(payday, DaysIn(year, month))
}

// Next returns the next payday after today.
//
// This month's payday is used only when it has not been reached yet and the
// month actually has that day; otherwise the (clamped) payday of the
// following month is returned.
func Next(payday int, today time.Time) time.Time {
	day := civil(today)
	year, month, current := day.Date()

	candidate := Effective(year, month, payday)
	if current < payday && candidate == payday {
		return time.Date(year, month, candidate, 0, 0, 0, 0, time.UTC)
	}

	following := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	fy, fm, _ := following.Date()
	return time.Date(fy, fm, Effective(fy, fm, payday), 0, 0, 0, 0, time.UTC)
}

// DaysUntilNext returns the number of days between today and Next.
func DaysUntilNext(payday int, today time.Time) int {
	return int(Next(payday, today).Sub(civil(today)).Hours() / 24)
}

// ResetDay returns the day after the clamped payday of the given month.
// For a payday on the last day of the month this is the 1st of the next month.
func ResetDay(year int, month time.Month, payday int) time.Time {
	return time.Date(year, month, Effective(year, month, payday)+1, 0, 0, 0, 0, time.UTC)
}

// IsResetDay reports whether today is the day after a payday. Both this
// month's payday and the previous month's are considered, so a payday that
// falls on the last day of a month triggers on the 1st of the next one.
func IsResetDay(payday int, today time.Time) bool {
	day := civil(today)
	year, month, _ := day.Date()
	if ResetDay(year, month, payday).Equal(day) {
		return true
	}
	prev := time.Date(year, month-1, 1, 0, 0, 0, 0, time.UTC)
	py, pm, _ := prev.Date()
	return ResetDay(py, pm, payday).Equal(day)
}

// Valid reports whether payday is a day of month.
func Valid(payday int) bool {
	return payday >= 1 && payday <= 31
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
