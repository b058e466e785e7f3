package recurrence

import (
	"fmt"
	"slices"

	"spese/internal/cache"
	"spese/internal/core"
)

// CachedMaterializer memoizes Collect results. Materialization is a pure
// function of the rule and window, so the cache key covers every rule field
// that influences the schedule and entries never need invalidation beyond TTL.
type CachedMaterializer struct {
	cache cache.Cache[[]core.Occurrence]
}

// NewCachedMaterializer wraps c, which must be safe for concurrent use.
func NewCachedMaterializer(c cache.Cache[[]core.Occurrence]) *CachedMaterializer {
	return &CachedMaterializer{cache: c}
}

// Occurrences returns the occurrences of rule in [from, to]. The returned
// slice is a copy and may be modified by the caller.
func (m *CachedMaterializer) Occurrences(rule core.RecurringRule, from, to core.Date) ([]core.Occurrence, error) {
	key := cacheKey(rule, from, to)
	if occ, ok := m.cache.Get(key); ok {
		return slices.Clone(occ), nil
	}

	occ, err := Collect(rule, from, to)
	if err != nil {
		return nil, err
	}
	m.cache.Set(key, occ)
	return slices.Clone(occ), nil
}

func cacheKey(rule core.RecurringRule, from, to core.Date) string {
	weekday := -1
	if rule.Weekday != nil {
		weekday = int(*rule.Weekday)
	}
	return fmt.Sprintf("%d|%d|%d|%s|%d|%s|%s|%d|%d|%s|%s",
		rule.ID, rule.CategoryID, rule.Amount.Cents, rule.Frequency, rule.Interval,
		rule.StartDate, rule.EndDate, rule.DayOfMonth, weekday,
		core.DateOf(from.Time), core.DateOf(to.Time))
}
