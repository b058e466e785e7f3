// Package core provides money parsing and handling utilities.
//
// Amounts are stored as integer minor units (cents). Parsing and formatting
// go through shopspring/decimal so no float is ever involved.
package core

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var maxCents = decimal.NewFromInt(math.MaxInt64)

// Money is an amount in minor currency units.
type Money struct {
	Cents int64
}

// Cents is a shorthand constructor.
func Cents(c int64) Money {
	return Money{Cents: c}
}

// ParseMoney converts a decimal string to Money with half-up rounding on the
// third fractional digit.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Signs,
// exponents and thousand separators are rejected. Zero is accepted; use
// Money.Validate where a strictly positive amount is required.
//
// Examples:
//
//	ParseMoney("12.34")  -> 1234
//	ParseMoney("12,34")  -> 1234
//	ParseMoney("12.346") -> 1235
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	if s == "." {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	cents := d.Round(2).Shift(2)
	if cents.GreaterThan(maxCents) {
		return Money{}, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, s)
	}
	return Money{Cents: cents.IntPart()}, nil
}

// ParseDecimalToCents is ParseMoney for callers that need a strictly
// positive raw cent value.
func ParseDecimalToCents(s string) (int64, error) {
	m, err := ParseMoney(s)
	if err != nil {
		return 0, err
	}
	if err := m.Validate(); err != nil {
		return 0, err
	}
	return m.Cents, nil
}

// Validate requires a strictly positive amount.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	return nil
}

// Add returns m+o, or ErrInvalidAmount when the sum overflows int64 cents.
func (m Money) Add(o Money) (Money, error) {
	sum := m.Cents + o.Cents
	if (o.Cents > 0 && sum < m.Cents) || (o.Cents < 0 && sum > m.Cents) {
		return Money{}, fmt.Errorf("%w: %s + %s overflows", ErrInvalidAmount, m, o)
	}
	return Money{Cents: sum}, nil
}

// Sub returns m-o, or ErrInvalidAmount when the difference overflows.
func (m Money) Sub(o Money) (Money, error) {
	diff := m.Cents - o.Cents
	if (o.Cents > 0 && diff > m.Cents) || (o.Cents < 0 && diff < m.Cents) {
		return Money{}, fmt.Errorf("%w: %s - %s overflows", ErrInvalidAmount, m, o)
	}
	return Money{Cents: diff}, nil
}

// Cmp returns -1, 0 or +1.
func (m Money) Cmp(o Money) int {
	switch {
	case m.Cents < o.Cents:
		return -1
	case m.Cents > o.Cents:
		return 1
	}
	return 0
}

func (m Money) IsZero() bool     { return m.Cents == 0 }
func (m Money) IsNegative() bool { return m.Cents < 0 }

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount with exactly two decimals, e.g. "-12.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}
