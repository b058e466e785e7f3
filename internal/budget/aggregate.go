// Package budget computes spent-versus-allocated status for a period.
package budget

import (
	"fmt"
	"maps"
	"slices"

	"spese/internal/core"
)

// OverallKey addresses the overall row in a Report.
const OverallKey int64 = 0

// State summarizes where spending sits relative to the allocation.
type State string

const (
	Under State = "under"
	Met   State = "met"
	Over  State = "over"
)

// Status is the budget status of one category or of the overall total.
type Status struct {
	Allocated core.Money
	Spent     core.Money
	Remaining core.Money // may be negative
	IsOver    bool
	State     State
	HasBudget bool // false when no budget entry matched
}

// Report maps categories to their status for one period.
type Report struct {
	Period     core.Period
	ByCategory map[int64]Status
	Overall    Status
}

// Lookup returns the status for a category, or the overall row for OverallKey.
func (r Report) Lookup(categoryID int64) (Status, bool) {
	if categoryID == OverallKey {
		return r.Overall, true
	}
	s, ok := r.ByCategory[categoryID]
	return s, ok
}

// Categories returns the category ids present in the report in ascending order.
func (r Report) Categories() []int64 {
	return slices.Sorted(maps.Keys(r.ByCategory))
}

// OverBudget returns the ids of over-budget categories in ascending order,
// followed by OverallKey when the overall row is over.
func (r Report) OverBudget() []int64 {
	var ids []int64
	for _, id := range r.Categories() {
		if r.ByCategory[id].IsOver {
			ids = append(ids, id)
		}
	}
	if r.Overall.IsOver {
		ids = append(ids, OverallKey)
	}
	return ids
}

type tally struct {
	allocated core.Money
	spent     core.Money
	hasBudget bool
}

func (t tally) status() (Status, error) {
	remaining, err := t.allocated.Sub(t.spent)
	if err != nil {
		return Status{}, err
	}
	state := Met
	switch remaining.Cmp(core.Money{}) {
	case 1:
		state = Under
	case -1:
		state = Over
	}
	return Status{
		Allocated: t.allocated,
		Spent:     t.spent,
		Remaining: remaining,
		IsOver:    t.spent.Cmp(t.allocated) > 0,
		State:     state,
		HasBudget: t.hasBudget,
	}, nil
}

// Aggregate computes the budget status of every category touched by the
// expenses or budgets, plus the overall row.
//
// All inputs must belong to period: an expense dated outside it, or a budget
// for another period, fails with core.ErrAmbiguousPeriod. A category without
// a budget is reported with a zero allocation. The overall allocation is the
// sum of every category budget plus the overall budget, if any, counted once.
func Aggregate(expenses []core.Expense, budgets []core.Budget, period core.Period) (Report, error) {
	if err := period.Validate(); err != nil {
		return Report{}, err
	}

	tallies := make(map[int64]tally)
	var overall tally

	for _, b := range budgets {
		if err := b.Validate(); err != nil {
			return Report{}, err
		}
		if b.Period != period {
			return Report{}, fmt.Errorf("%w: budget %d is for %s, requested %s",
				core.ErrAmbiguousPeriod, b.ID, b.Period, period)
		}
		var err error
		if overall.allocated, err = overall.allocated.Add(b.Allocated); err != nil {
			return Report{}, fmt.Errorf("overall allocation for %s: %w", period, err)
		}

		if b.IsOverall() {
			if overall.hasBudget {
				return Report{}, fmt.Errorf("%w: more than one overall budget for %s", core.ErrDuplicateBudget, period)
			}
			overall.hasBudget = true
			continue
		}
		t := tallies[b.CategoryID]
		if t.hasBudget {
			return Report{}, fmt.Errorf("%w: category %d has more than one budget for %s",
				core.ErrDuplicateBudget, b.CategoryID, period)
		}
		t.allocated = b.Allocated
		t.hasBudget = true
		tallies[b.CategoryID] = t
	}

	for _, e := range expenses {
		if !period.Contains(e.OccurredOn) {
			return Report{}, fmt.Errorf("%w: expense %d on %s is outside %s",
				core.ErrAmbiguousPeriod, e.ID, e.OccurredOn, period)
		}
		if e.CategoryID <= 0 {
			return Report{}, fmt.Errorf("%w: expense %d has no category", core.ErrInvalidExpense, e.ID)
		}
		t := tallies[e.CategoryID]
		var err error
		if t.spent, err = t.spent.Add(e.Amount); err != nil {
			return Report{}, fmt.Errorf("spent in category %d: %w", e.CategoryID, err)
		}
		tallies[e.CategoryID] = t
		if overall.spent, err = overall.spent.Add(e.Amount); err != nil {
			return Report{}, fmt.Errorf("overall spent for %s: %w", period, err)
		}
	}

	overallStatus, err := overall.status()
	if err != nil {
		return Report{}, err
	}
	report := Report{
		Period:     period,
		ByCategory: make(map[int64]Status, len(tallies)),
		Overall:    overallStatus,
	}
	for id, t := range tallies {
		if report.ByCategory[id], err = t.status(); err != nil {
			return Report{}, fmt.Errorf("category %d: %w", id, err)
		}
	}
	return report, nil
}
