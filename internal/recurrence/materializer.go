package recurrence

import (
	"fmt"
	"iter"
	"slices"

	"spese/internal/core"
)

// schedule is a validated rule bound to its stepper and base date.
type schedule struct {
	rule    core.RecurringRule
	stepper Stepper
	base    core.Date
}

// newSchedule normalizes the rule dates to calendar dates before validating,
// so rules built as literals with a time of day schedule whole days.
func newSchedule(rule core.RecurringRule) (schedule, error) {
	rule, err := core.NewRecurringRule(rule)
	if err != nil {
		return schedule{}, err
	}
	stepper, err := StepperFor(rule.Frequency)
	if err != nil {
		return schedule{}, err
	}
	return schedule{rule: rule, stepper: stepper, base: stepper.Base(rule)}, nil
}

func (s schedule) at(n int) core.Date {
	return s.stepper.Nth(s.rule, s.base, n)
}

// first returns the index of the first scheduled date >= d.
func (s schedule) first(d core.Date) int {
	n := s.stepper.Skip(s.rule, s.base, d)
	for s.at(n).Before(d) {
		n++
	}
	return n
}

// upperBound returns the last date the rule may produce inside a window
// ending at windowEnd.
func (s schedule) upperBound(windowEnd core.Date) core.Date {
	if s.rule.EndDate.IsZero() {
		return windowEnd
	}
	return core.MinDate(windowEnd, s.rule.EndDate)
}

// Materialize returns the occurrences of rule that fall inside
// [windowStart, windowEnd], both inclusive.
//
// The returned sequence is lazy and restartable: each range over it walks
// the schedule again from the first date in the window and yields the same
// occurrences. A rule starting after the window yields an empty sequence.
func Materialize(rule core.RecurringRule, windowStart, windowEnd core.Date) (iter.Seq[core.Occurrence], error) {
	if windowStart.IsZero() || windowEnd.IsZero() {
		return nil, fmt.Errorf("%w: window bounds must be set", core.ErrInvalidWindow)
	}
	windowStart, windowEnd = core.DateOf(windowStart.Time), core.DateOf(windowEnd.Time)
	if windowEnd.Before(windowStart) {
		return nil, fmt.Errorf("%w: end %s before start %s", core.ErrInvalidWindow, windowEnd, windowStart)
	}

	s, err := newSchedule(rule)
	if err != nil {
		return nil, err
	}

	rule = s.rule
	lower := core.MaxDate(rule.StartDate, windowStart)
	upper := s.upperBound(windowEnd)
	if lower.After(upper) {
		return func(func(core.Occurrence) bool) {}, nil
	}
	start := s.first(lower)

	return func(yield func(core.Occurrence) bool) {
		var prev core.Date
		for n := start; ; n++ {
			d := s.at(n)
			// a date that does not move forward means the step arithmetic wrapped
			if d.After(upper) || d.Before(lower) || (n > start && !d.After(prev)) {
				return
			}
			prev = d
			occ := core.Occurrence{
				RuleID:     rule.ID,
				CategoryID: rule.CategoryID,
				Date:       d,
				Amount:     rule.Amount,
			}
			if !yield(occ) {
				return
			}
		}
	}, nil
}

// Collect materializes the window into a slice.
func Collect(rule core.RecurringRule, windowStart, windowEnd core.Date) ([]core.Occurrence, error) {
	seq, err := Materialize(rule, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// NextAfter returns the first scheduled date strictly after d. The boolean
// is false when the rule has ended by then.
func NextAfter(rule core.RecurringRule, d core.Date) (core.Date, bool, error) {
	s, err := newSchedule(rule)
	if err != nil {
		return core.Date{}, false, err
	}
	rule = s.rule
	lower := core.MaxDate(rule.StartDate, core.DateOf(d.Time).AddDays(1))
	next := s.at(s.first(lower))
	if next.Before(lower) || (!rule.EndDate.IsZero() && next.After(rule.EndDate)) {
		return core.Date{}, false, nil
	}
	return next, true, nil
}
