package budget

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"spese/internal/core"
)

// GroupBy selects how Summarize buckets expenses.
type GroupBy string

const (
	ByCategory GroupBy = "category"
	ByMonth    GroupBy = "month"
)

// ErrInvalidGrouping is returned for an unknown GroupBy.
var ErrInvalidGrouping = errors.New("invalid grouping")

// UncategorizedLabel names categories missing from the names map.
const UncategorizedLabel = "Uncategorized"

// ParseGroupBy defaults to ByCategory for an empty string.
func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return ByCategory, nil
	case ByCategory, ByMonth:
		return g, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidGrouping, s)
}

// SummaryRow is one bucket of a Summary.
type SummaryRow struct {
	Group      string // category name or YYYY-MM
	CategoryID int64  // set when grouping by category
	Count      int
	Total      core.Money
}

// Summary totals expenses by category or by month.
type Summary struct {
	GroupBy GroupBy
	Rows    []SummaryRow
	Total   core.Money
	Count   int
}

// Summarize buckets expenses and sorts the rows by group label. names maps
// category ids to display names; missing ids are labelled Uncategorized.
func Summarize(expenses []core.Expense, groupBy GroupBy, names map[int64]string) (Summary, error) {
	if groupBy != ByCategory && groupBy != ByMonth {
		return Summary{}, fmt.Errorf("%w: %q", ErrInvalidGrouping, groupBy)
	}

	type bucketKey struct {
		group      string
		categoryID int64
	}
	buckets := make(map[bucketKey]*SummaryRow)
	s := Summary{GroupBy: groupBy}

	for _, e := range expenses {
		var key bucketKey
		if groupBy == ByMonth {
			key.group = core.PeriodOf(core.MonthGranularity, e.OccurredOn).String()
		} else {
			key.categoryID = e.CategoryID
			key.group = UncategorizedLabel
			if name, ok := names[e.CategoryID]; ok {
				key.group = name
			}
		}

		row, ok := buckets[key]
		if !ok {
			row = &SummaryRow{Group: key.group, CategoryID: key.categoryID}
			buckets[key] = row
		}
		var err error
		if row.Total, err = row.Total.Add(e.Amount); err != nil {
			return Summary{}, fmt.Errorf("total of %s: %w", row.Group, err)
		}
		if s.Total, err = s.Total.Add(e.Amount); err != nil {
			return Summary{}, fmt.Errorf("grand total: %w", err)
		}
		row.Count++
		s.Count++
	}

	s.Rows = make([]SummaryRow, 0, len(buckets))
	for _, row := range buckets {
		s.Rows = append(s.Rows, *row)
	}
	slices.SortFunc(s.Rows, func(a, b SummaryRow) int {
		return cmp.Or(cmp.Compare(a.Group, b.Group), cmp.Compare(a.CategoryID, b.CategoryID))
	})
	return s, nil
}
