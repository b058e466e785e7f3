package core

import "errors"

// Error kinds reported by the recurrence and budget engines. Callers match
// them with errors.Is; details are attached with fmt.Errorf("%w: ...").
var (
	ErrInvalidRule     = errors.New("invalid recurring rule")
	ErrInvalidWindow   = errors.New("invalid window")
	ErrAmbiguousPeriod = errors.New("ambiguous period")
	ErrInvalidBudget   = errors.New("invalid budget")
	ErrDuplicateBudget = errors.New("duplicate budget")
	ErrInvalidPeriod   = errors.New("invalid period")
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidExpense  = errors.New("invalid expense")
)
