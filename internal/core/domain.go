package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

const (
	maxNameLen        = 100
	maxRuleNameLen    = 120
	maxNoteLen        = 255
	maxDescriptionLen = 255
)

type (
	Frequency string

	Category struct {
		ID          int64
		OwnerID     int64
		Name        string // unique per owner
		Description string
		Active      bool
	}

	Expense struct {
		ID         int64
		OwnerID    int64
		CategoryID int64
		Amount     Money
		OccurredOn Date
		Note       string
		RuleID     int64 // rule that generated the expense, 0 if entered by hand
	}

	RecurringRule struct {
		ID         int64
		OwnerID    int64
		Name       string
		CategoryID int64
		Amount     Money
		Frequency  Frequency
		Interval   int // every N frequency units, at least 1
		StartDate  Date
		EndDate    Date // zero when open-ended
		DayOfMonth int  // monthly/yearly anchor, 0 when unset
		Weekday    *time.Weekday
	}

	Budget struct {
		ID         int64
		OwnerID    int64
		CategoryID int64 // 0 for the overall budget
		Name       string
		Period     Period
		Allocated  Money
	}

	// Occurrence is a materialized instance of a recurring rule. It is
	// derived on demand and never persisted as such.
	Occurrence struct {
		RuleID     int64
		CategoryID int64
		Date       Date
		Amount     Money
	}
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// ParseFrequency accepts the lowercase frequency names.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, s)
	}
	return f, nil
}

// NewCategory trims the name and description and validates the result, so
// names that differ only by surrounding whitespace collide.
func NewCategory(c Category) (Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Description = strings.TrimSpace(c.Description)
	if err := c.Validate(); err != nil {
		return Category{}, err
	}
	return c, nil
}

func (c Category) Validate() error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidCategory)
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("%w: name too long (max %d characters)", ErrInvalidCategory, maxNameLen)
	}
	if len(c.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description too long (max %d characters)", ErrInvalidCategory, maxDescriptionLen)
	}
	return nil
}

func (e Expense) Validate() error {
	if err := e.OccurredOn.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpense, err)
	}
	if err := e.Amount.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpense, err)
	}
	if e.CategoryID <= 0 {
		return fmt.Errorf("%w: missing category", ErrInvalidExpense)
	}
	if len(e.Note) > maxNoteLen {
		return fmt.Errorf("%w: note too long (max %d characters)", ErrInvalidExpense, maxNoteLen)
	}
	return nil
}

// NewRecurringRule normalizes the rule dates to calendar dates and rejects
// malformed rules, so a constructed rule is always safe to materialize.
func NewRecurringRule(r RecurringRule) (RecurringRule, error) {
	if !r.StartDate.IsZero() {
		r.StartDate = DateOf(r.StartDate.Time)
	}
	if !r.EndDate.IsZero() {
		r.EndDate = DateOf(r.EndDate.Time)
	}
	if err := r.Validate(); err != nil {
		return RecurringRule{}, err
	}
	return r, nil
}

func (r RecurringRule) Validate() error {
	if err := r.StartDate.Validate(); err != nil {
		return fmt.Errorf("%w: start date: %v", ErrInvalidRule, err)
	}
	if !r.EndDate.IsZero() && r.EndDate.Before(r.StartDate) {
		return fmt.Errorf("%w: end date %s before start date %s", ErrInvalidRule, r.EndDate, r.StartDate)
	}
	if !r.Frequency.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, r.Frequency)
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w: interval %d must be at least 1", ErrInvalidRule, r.Interval)
	}
	if r.Interval > r.maxInterval() {
		return fmt.Errorf("%w: interval %d reaches past %s", ErrInvalidRule, r.Interval, LastDate)
	}
	if r.DayOfMonth != 0 {
		if r.Frequency != Monthly && r.Frequency != Yearly {
			return fmt.Errorf("%w: day-of-month anchor requires monthly or yearly frequency", ErrInvalidRule)
		}
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return fmt.Errorf("%w: day of month %d out of range", ErrInvalidRule, r.DayOfMonth)
		}
	}
	if r.Weekday != nil {
		if r.Frequency != Weekly {
			return fmt.Errorf("%w: weekday anchor requires weekly frequency", ErrInvalidRule)
		}
		if *r.Weekday < time.Sunday || *r.Weekday > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidRule, *r.Weekday)
		}
	}
	if err := r.Amount.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if r.CategoryID <= 0 {
		return fmt.Errorf("%w: missing category", ErrInvalidRule)
	}
	if len(r.Name) > maxRuleNameLen {
		return fmt.Errorf("%w: name too long (max %d characters)", ErrInvalidRule, maxRuleNameLen)
	}
	return nil
}

// maxInterval is the largest interval whose first step from the start date
// stays on or before LastDate.
func (r RecurringRule) maxInterval() int {
	start := DateOf(r.StartDate.Time)
	if start.After(LastDate) {
		return 0
	}
	switch r.Frequency {
	case Daily:
		return start.DaysUntil(LastDate)
	case Weekly:
		return start.DaysUntil(LastDate) / 7
	case Monthly:
		return (LastDate.Year()-start.Year())*12 + LastDate.Month() - start.Month()
	case Yearly:
		return LastDate.Year() - start.Year()
	}
	return 0
}

// Active reports whether the rule can still produce occurrences on or after d.
func (r RecurringRule) Active(d Date) bool {
	return r.EndDate.IsZero() || !r.EndDate.Before(d)
}

func (b Budget) Validate() error {
	if err := b.Period.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBudget, err)
	}
	if b.Allocated.IsNegative() {
		return fmt.Errorf("%w: allocated amount %s is negative", ErrInvalidBudget, b.Allocated)
	}
	if b.CategoryID < 0 {
		return fmt.Errorf("%w: category id %d", ErrInvalidBudget, b.CategoryID)
	}
	return nil
}

// IsOverall reports whether the budget caps total spending rather than a category.
func (b Budget) IsOverall() bool {
	return b.CategoryID == 0
}

// Expense turns the occurrence into an expense owned by ownerID.
func (o Occurrence) Expense(ownerID int64, note string) Expense {
	return Expense{
		OwnerID:    ownerID,
		CategoryID: o.CategoryID,
		Amount:     o.Amount,
		OccurredOn: o.Date,
		Note:       note,
		RuleID:     o.RuleID,
	}
}
