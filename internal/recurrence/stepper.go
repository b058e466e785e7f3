// Package recurrence materializes recurring rules into dated occurrences.
//
// This file implements the Strategy Pattern for schedule stepping. Each
// frequency (daily, weekly, monthly, yearly) has its own stepper that knows
// where the schedule starts, how to reach the n-th date and how to jump
// close to an arbitrary date without walking the whole schedule.
package recurrence

import (
	"fmt"

	"spese/internal/core"
)

// Stepper is the strategy interface for a recurrence frequency.
//
// Dates are always derived from the schedule base, never from the previous
// (possibly clamped) date, so a Jan 31 monthly schedule returns to the 31st
// after February.
type Stepper interface {
	// Base returns the first scheduled date of the rule, on or after its start date.
	Base(rule core.RecurringRule) core.Date
	// Nth returns the n-th scheduled date (n >= 0) counted from base.
	Nth(rule core.RecurringRule, base core.Date, n int) core.Date
	// Skip returns an index whose date is not after the first scheduled date >= d.
	Skip(rule core.RecurringRule, base core.Date, d core.Date) int
}

// DailyStepper steps by Interval days.
type DailyStepper struct{}

func (DailyStepper) Base(rule core.RecurringRule) core.Date {
	return rule.StartDate
}

func (DailyStepper) Nth(rule core.RecurringRule, base core.Date, n int) core.Date {
	return base.AddDays(n * rule.Interval)
}

func (DailyStepper) Skip(rule core.RecurringRule, base core.Date, d core.Date) int {
	return skipDays(base, d, rule.Interval)
}

// WeeklyStepper steps by Interval weeks, optionally anchored on a weekday.
type WeeklyStepper struct{}

// Base moves the start date forward to the anchor weekday when one is set.
func (WeeklyStepper) Base(rule core.RecurringRule) core.Date {
	if rule.Weekday == nil {
		return rule.StartDate
	}
	shift := (int(*rule.Weekday) - int(rule.StartDate.Weekday()) + 7) % 7
	return rule.StartDate.AddDays(shift)
}

func (WeeklyStepper) Nth(rule core.RecurringRule, base core.Date, n int) core.Date {
	return base.AddDays(7 * n * rule.Interval)
}

func (WeeklyStepper) Skip(rule core.RecurringRule, base core.Date, d core.Date) int {
	return skipDays(base, d, 7*rule.Interval)
}

// MonthlyStepper steps by Interval months, clamping the anchor day to the
// length of each month.
type MonthlyStepper struct{}

// Base returns the anchor day in the start month, or in the following month
// when the anchor has already passed.
func (MonthlyStepper) Base(rule core.RecurringRule) core.Date {
	day := anchorDay(rule)
	first := core.ClampedDate(rule.StartDate.Year(), rule.StartDate.Month(), day)
	if first.Before(rule.StartDate) {
		first = core.ClampedDate(rule.StartDate.Year(), rule.StartDate.Month()+1, day)
	}
	return first
}

func (MonthlyStepper) Nth(rule core.RecurringRule, base core.Date, n int) core.Date {
	return core.ClampedDate(base.Year(), base.Month()+n*rule.Interval, anchorDay(rule))
}

func (MonthlyStepper) Skip(rule core.RecurringRule, base core.Date, d core.Date) int {
	months := (d.Year()-base.Year())*12 + d.Month() - base.Month()
	if months <= 0 {
		return 0
	}
	return months / rule.Interval
}

// YearlyStepper steps by Interval years on the start month.
type YearlyStepper struct{}

func (YearlyStepper) Base(rule core.RecurringRule) core.Date {
	day := anchorDay(rule)
	first := core.ClampedDate(rule.StartDate.Year(), rule.StartDate.Month(), day)
	if first.Before(rule.StartDate) {
		first = core.ClampedDate(rule.StartDate.Year()+1, rule.StartDate.Month(), day)
	}
	return first
}

func (YearlyStepper) Nth(rule core.RecurringRule, base core.Date, n int) core.Date {
	return core.ClampedDate(base.Year()+n*rule.Interval, base.Month(), anchorDay(rule))
}

func (YearlyStepper) Skip(rule core.RecurringRule, base core.Date, d core.Date) int {
	years := d.Year() - base.Year()
	if years <= 0 {
		return 0
	}
	return years / rule.Interval
}

func anchorDay(rule core.RecurringRule) int {
	if rule.DayOfMonth > 0 {
		return rule.DayOfMonth
	}
	return rule.StartDate.Day()
}

// skipDays returns the first index whose date is >= d for fixed-length steps.
func skipDays(base, d core.Date, step int) int {
	days := base.DaysUntil(d)
	if days <= 0 {
		return 0
	}
	return (days + step - 1) / step
}

// steppers maps frequencies to their strategies.
var steppers = map[core.Frequency]Stepper{
	core.Daily:   DailyStepper{},
	core.Weekly:  WeeklyStepper{},
	core.Monthly: MonthlyStepper{},
	core.Yearly:  YearlyStepper{},
}

// StepperFor returns the stepper for a frequency.
func StepperFor(frequency core.Frequency) (Stepper, error) {
	s, ok := steppers[frequency]
	if !ok {
		return nil, fmt.Errorf("%w: unknown frequency %q", core.ErrInvalidRule, frequency)
	}
	return s, nil
}
