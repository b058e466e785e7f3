package core

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage layout for calendar dates.
const DateLayout = "2006-01-02"

const secondsPerDay = 24 * 60 * 60

// LastDate is the latest date a schedule may reach.
var LastDate = NewDate(9999, 12, 31)

// Date is a calendar date at UTC midnight.
type Date struct {
	time.Time
}

// NewDate creates a new Date from year, month, day. Out of range values
// are normalized the way time.Date does.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// DaysIn returns the number of days in the given month.
func DaysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampedDate builds a date for year/month with day capped at the month's
// last day, so day 31 in February yields Feb 28 or 29.
func ClampedDate(year, month, day int) Date {
	// normalize month overflow first so DaysIn sees the real month
	first := NewDate(year, month, 1)
	y, m := first.Year(), first.Month()
	if last := DaysIn(y, m); day > last {
		day = last
	}
	return NewDate(y, m, day)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: date cannot be zero", ErrInvalidDate)
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// Weekday returns the day of the week
func (d Date) Weekday() time.Weekday {
	return d.Time.Weekday()
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// Before reports whether d is strictly before o.
func (d Date) Before(o Date) bool {
	return d.Time.Before(o.Time)
}

// After reports whether d is strictly after o.
func (d Date) After(o Date) bool {
	return d.Time.After(o.Time)
}

// Equal reports whether d and o are the same calendar date.
func (d Date) Equal(o Date) bool {
	return d.Time.Equal(o.Time)
}

// DaysUntil returns the whole number of days from d to o. It works on Unix
// seconds so spans longer than time.Duration can hold stay exact.
func (d Date) DaysUntil(o Date) int {
	return int((o.Unix() - d.Unix()) / secondsPerDay)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// MinDate returns the earlier of a and b.
func MinDate(a, b Date) Date {
	if b.Before(a) {
		return b
	}
	return a
}

// MaxDate returns the later of a and b.
func MaxDate(a, b Date) Date {
	if b.After(a) {
		return b
	}
	return a
}
