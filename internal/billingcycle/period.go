// Package billingcycle holds the calendar arithmetic shared by adjustments,
// expirations and charge generation. Every value it returns is a UTC
// midnight date.
package billingcycle

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPeriod = errors.New("invalid_period")

// DateOf truncates t to its calendar day as seen in loc.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the current calendar day in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	return DateOf(now, loc)
}

// AddMonths moves date by months, clamping the day to the last valid day of
// the target month. Jan 31 + 1 month is Feb 28, or Feb 29 in leap years.
func AddMonths(date time.Time, months int) time.Time {
	y, m, d := date.Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
	last := DaysIn(first.Year(), first.Month())
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

// AddDays moves date by days.
func AddDays(date time.Time, days int) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d+days, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days of month in year.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Period is the YYYY-MM key of a monthly charge.
func Period(month, year int) (string, error) {
	if month < 1 || month > 12 || year < 1900 || year > 9999 {
		return "", ErrInvalidPeriod
	}
	return fmt.Sprintf("%04d-%02d", year, month), nil
}

// DueDate places dueDay inside the month, clamped to its last day.
func DueDate(month, year, dueDay int) time.Time {
	if dueDay < 1 {
		dueDay = 1
	}
	if last := DaysIn(year, time.Month(month)); dueDay > last {
		dueDay = last
	}
	return time.Date(year, time.Month(month), dueDay, 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
