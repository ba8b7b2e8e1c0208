package calendar

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a civil calendar date with no time-of-day and no zone.
// Ledger keys are Dates, never timestamps.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the civil date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// MustDate builds a Date and normalizes overflow (e.g. day 32).
func MustDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

func (d Date) String() string { return d.midnight().Format(dateLayout) }

func (d Date) IsZero() bool { return d.Year == 0 && d.Month == 0 && d.Day == 0 }

func (d Date) Weekday() time.Weekday { return d.midnight().Weekday() }

func (d Date) AddDays(n int) Date { return DateOf(d.midnight().AddDate(0, 0, n)) }

func (d Date) Before(o Date) bool { return d.midnight().Before(o.midnight()) }

func (d Date) After(o Date) bool { return d.midnight().After(o.midnight()) }

// MonthKey returns "YYYY-MM".
func (d Date) MonthKey() string { return fmt.Sprintf("%04d-%02d", d.Year, int(d.Month)) }

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) midnight() time.Time { return d.In(time.UTC) }

// DaysBetween returns the number of days from a to b; negative when b is
// before a.
func DaysBetween(a, b Date) int {
	return int(b.midnight().Sub(a.midnight()).Hours() / 24)
}

// MonthWindow returns the first and last day of d's month.
func MonthWindow(d Date) (first, last Date) {
	first = Date{Year: d.Year, Month: d.Month, Day: 1}
	last = DateOf(first.midnight().AddDate(0, 1, -1))
	return first, last
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	v, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
