package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Granularity of a budget period.
type Granularity string

const (
	MonthGranularity Granularity = "month"
	YearGranularity  Granularity = "year"
)

// Period is a calendar month or a calendar year.
type Period struct {
	Granularity Granularity
	Year        int
	Month       int // 1-12, zero for yearly periods
}

// MonthPeriod returns the period covering the given month.
func MonthPeriod(year, month int) Period {
	return Period{Granularity: MonthGranularity, Year: year, Month: month}
}

// YearPeriod returns the period covering the given year.
func YearPeriod(year int) Period {
	return Period{Granularity: YearGranularity, Year: year}
}

// PeriodOf returns the period of the given granularity containing d.
func PeriodOf(g Granularity, d Date) Period {
	if g == YearGranularity {
		return YearPeriod(d.Year())
	}
	return MonthPeriod(d.Year(), d.Month())
}

// ParsePeriod parses "2024-02" as a month period and "2024" as a year period.
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	year, month, hasMonth := strings.Cut(s, "-")
	y, err := strconv.Atoi(year)
	if err != nil || len(year) != 4 {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	if !hasMonth {
		return YearPeriod(y), nil
	}
	m, err := strconv.Atoi(month)
	if err != nil || len(month) != 2 {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	p := MonthPeriod(y, m)
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

func (p Period) Validate() error {
	switch p.Granularity {
	case MonthGranularity:
		if p.Month < 1 || p.Month > 12 {
			return fmt.Errorf("%w: month %d out of range", ErrInvalidPeriod, p.Month)
		}
	case YearGranularity:
		if p.Month != 0 {
			return fmt.Errorf("%w: yearly period with month %d", ErrInvalidPeriod, p.Month)
		}
	default:
		return fmt.Errorf("%w: unknown granularity %q", ErrInvalidPeriod, p.Granularity)
	}
	if p.Year < 1 || p.Year > 9999 {
		return fmt.Errorf("%w: year %d out of range", ErrInvalidPeriod, p.Year)
	}
	return nil
}

// Start returns the first day of the period.
func (p Period) Start() Date {
	if p.Granularity == YearGranularity {
		return NewDate(p.Year, 1, 1)
	}
	return NewDate(p.Year, p.Month, 1)
}

// End returns the last day of the period (inclusive).
func (p Period) End() Date {
	if p.Granularity == YearGranularity {
		return NewDate(p.Year, 12, 31)
	}
	return NewDate(p.Year, p.Month, DaysIn(p.Year, p.Month))
}

// Contains reports whether d falls inside the period.
func (p Period) Contains(d Date) bool {
	if d.Year() != p.Year {
		return false
	}
	return p.Granularity == YearGranularity || d.Month() == p.Month
}

func (p Period) String() string {
	if p.Granularity == YearGranularity {
		return fmt.Sprintf("%04d", p.Year)
	}
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}
