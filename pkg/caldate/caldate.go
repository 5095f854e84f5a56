// Package caldate handles calendar dates stored as midnight UTC, which is
// how pgx scans DATE columns.
package caldate

import (
	"fmt"
	"time"
)

const Layout = "2006-01-02"

// Of returns the calendar date of t as observed in loc.
func Of(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Normalize drops the clock part of a date that is already in UTC.
func Normalize(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func Parse(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// ParseOptional returns nil for an empty string.
func ParseOptional(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func Format(t time.Time) string { return t.UTC().Format(Layout) }

func SameDay(a, b time.Time) bool {
	return Normalize(a).Equal(Normalize(b))
}

// MonthRange returns the first and last calendar day of the month.
func MonthRange(year, month int) (time.Time, time.Time) {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return first, first.AddDate(0, 1, -1)
}

// DaysBetween returns to - from in whole days.
func DaysBetween(from, to time.Time) int {
	return int(Normalize(to).Sub(Normalize(from)).Hours() / 24)
}

// Within reports from <= d <= to; a nil to is open-ended.
func Within(d, from time.Time, to *time.Time) bool {
	d = Normalize(d)
	if d.Before(Normalize(from)) {
		return false
	}
	return to == nil || !d.After(Normalize(*to))
}

// AgeOn returns the completed years between birth and on.
func AgeOn(birth, on time.Time) int {
	by, bm, bd := birth.UTC().Date()
	oy, om, od := on.UTC().Date()
	age := oy - by
	if om < bm || (om == bm && od < bd) {
		age--
	}
	return age
}
