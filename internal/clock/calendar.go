package clock

import (
	"fmt"
	"time"
)

// DefaultLayout is the stable default format for Format/Parse.
// It is part of the package contract; do not change it casually.
const DefaultLayout = "2006-01-02 15:04:05"

// Format renders t under DefaultLayout.
func Format(t time.Time) string { return t.Format(DefaultLayout) }

// FormatAs renders t under an explicit layout.
func FormatAs(t time.Time, layout string) string { return t.Format(layout) }

// Parse reads s under DefaultLayout in the given location.
func Parse(s string, loc *time.Location) (time.Time, error) {
	return ParseAs(s, DefaultLayout, loc)
}

// ParseAs reads s under an explicit layout in the given location.
func ParseAs(s, layout string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(layout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("clock: parse %q as %q: %w", s, layout, err)
	}
	return t, nil
}

// AddDays returns t shifted by n calendar days. t is never mutated.
func AddDays(t time.Time, n int) time.Time { return t.AddDate(0, 0, n) }

// AddHours returns t shifted by n hours.
func AddHours(t time.Time, n int) time.Time { return t.Add(time.Duration(n) * time.Hour) }

// AddMinutes returns t shifted by n minutes.
func AddMinutes(t time.Time, n int) time.Time { return t.Add(time.Duration(n) * time.Minute) }

// DiffInMinutes is the truncated (not rounded) number of whole minutes in a - b.
func DiffInMinutes(a, b time.Time) int64 { return int64(a.Sub(b) / time.Minute) }

// DiffInHours is the truncated number of whole hours in a - b.
func DiffInHours(a, b time.Time) int64 { return int64(a.Sub(b) / time.Hour) }

// DiffInDays is the truncated number of whole 24h days in a - b.
func DiffInDays(a, b time.Time) int64 { return int64(a.Sub(b) / (24 * time.Hour)) }

// IsWeekend reports whether t falls on Saturday or Sunday in its location.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsBusinessDay is the complement of IsWeekend. Exchange holidays are not
// modeled here; callers that care consult their venue calendar.
func IsBusinessDay(t time.Time) bool { return !IsWeekend(t) }
