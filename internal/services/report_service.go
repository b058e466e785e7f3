package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"spese/internal/amqp"
	"spese/internal/budget"
	"spese/internal/core"
	"spese/internal/log"
	"spese/internal/recurrence"
	"spese/internal/storage"
)

// ReportService builds budget status and expense summaries from stored data.
type ReportService struct {
	store        ReportStore
	materializer *recurrence.CachedMaterializer
	publisher    EventPublisher
}

type BudgetStatusOptions struct {
	// Projected adds the occurrences of every rule that are not stored yet
	// for the rest of the period.
	Projected bool
	// Notify publishes a budget.exceeded event for every over-budget row.
	Notify bool
}

type SummaryOptions struct {
	GroupBy budget.GroupBy
	// CategoryID restricts the summary to one category; 0 keeps all of them.
	CategoryID int64
}

type BudgetStatus struct {
	Report    budget.Report
	Projected []core.Occurrence // occurrences counted on top of stored expenses
	Notified  int
}

// NewReportService creates the service. publisher may be nil.
func NewReportService(store ReportStore, materializer *recurrence.CachedMaterializer, publisher EventPublisher) *ReportService {
	return &ReportService{
		store:        store,
		materializer: materializer,
		publisher:    publisher,
	}
}

// BudgetStatus computes the status of every budgeted or spent category of
// ownerID in period.
func (s *ReportService) BudgetStatus(ctx context.Context, ownerID int64, period core.Period, opts BudgetStatusOptions) (BudgetStatus, error) {
	start := time.Now()

	snap, err := s.store.Snapshot(ctx, ownerID, period)
	if err != nil {
		return BudgetStatus{}, fmt.Errorf("load snapshot: %w", err)
	}

	var result BudgetStatus
	expenses := snap.Expenses
	if opts.Projected {
		if result.Projected, err = s.project(snap); err != nil {
			return BudgetStatus{}, err
		}
		expenses = make([]core.Expense, 0, len(snap.Expenses)+len(result.Projected))
		expenses = append(expenses, snap.Expenses...)
		for _, o := range result.Projected {
			expenses = append(expenses, o.Expense(ownerID, ""))
		}
	}

	result.Report, err = budget.Aggregate(expenses, snap.Budgets, period)
	if err != nil {
		return BudgetStatus{}, fmt.Errorf("aggregate %s: %w", period, err)
	}

	slog.InfoContext(ctx, "Budget status computed",
		log.FieldOperation, log.OpAggregate,
		log.FieldOwnerID, ownerID,
		log.FieldPeriod, period.String(),
		"expenses", len(snap.Expenses),
		"projected", len(result.Projected),
		"over_budget", len(result.Report.OverBudget()),
		log.FieldDuration, time.Since(start).Milliseconds())

	if opts.Notify {
		result.Notified = s.notifyExceeded(ctx, ownerID, result.Report, opts.Projected)
	}
	return result, nil
}

// project returns the occurrences in the period that come after each rule's
// watermark, i.e. those not yet stored as expenses.
func (s *ReportService) project(snap storage.Snapshot) ([]core.Occurrence, error) {
	var projected []core.Occurrence
	for _, st := range snap.Rules {
		from := snap.Period.Start()
		if !st.LastMaterialized.IsZero() {
			from = core.MaxDate(from, st.LastMaterialized.AddDays(1))
		}
		to := snap.Period.End()
		if from.After(to) {
			continue
		}
		occ, err := s.materializer.Occurrences(st.Rule, from, to)
		if err != nil {
			return nil, fmt.Errorf("project rule %d: %w", st.Rule.ID, err)
		}
		projected = append(projected, occ...)
	}
	return projected, nil
}

func (s *ReportService) notifyExceeded(ctx context.Context, ownerID int64, report budget.Report, projected bool) int {
	if s.publisher == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping budget notifications")
		return 0
	}

	sent := 0
	for _, id := range report.OverBudget() {
		st, _ := report.Lookup(id)
		msg := amqp.BudgetExceeded{
			OwnerID:        ownerID,
			Period:         report.Period.String(),
			CategoryID:     id,
			Overall:        id == budget.OverallKey,
			AllocatedCents: st.Allocated.Cents,
			SpentCents:     st.Spent.Cents,
			RemainingCents: st.Remaining.Cents,
			Projected:      projected,
		}
		if err := s.publisher.PublishBudgetExceeded(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "Failed to publish budget exceeded event",
				log.FieldOperation, log.OpPublish,
				log.FieldOwnerID, ownerID,
				log.FieldCategoryID, id,
				log.FieldError, err)
			continue
		}
		sent++
	}
	return sent
}

// Summary totals ownerID's stored expenses in period by category or month,
// optionally for a single category.
func (s *ReportService) Summary(ctx context.Context, ownerID int64, period core.Period, opts SummaryOptions) (budget.Summary, error) {
	snap, err := s.store.Snapshot(ctx, ownerID, period)
	if err != nil {
		return budget.Summary{}, fmt.Errorf("load snapshot: %w", err)
	}

	names := make(map[int64]string, len(snap.Categories))
	for _, c := range snap.Categories {
		names[c.ID] = c.Name
	}

	expenses := snap.Expenses
	if opts.CategoryID != 0 {
		if _, ok := names[opts.CategoryID]; !ok {
			return budget.Summary{}, fmt.Errorf("category %d of owner %d: %w", opts.CategoryID, ownerID, storage.ErrNotFound)
		}
		expenses = make([]core.Expense, 0, len(snap.Expenses))
		for _, e := range snap.Expenses {
			if e.CategoryID == opts.CategoryID {
				expenses = append(expenses, e)
			}
		}
	}

	summary, err := budget.Summarize(expenses, opts.GroupBy, names)
	if err != nil {
		return budget.Summary{}, err
	}

	slog.DebugContext(ctx, "Summary computed",
		log.FieldOperation, log.OpSummarize,
		log.FieldOwnerID, ownerID,
		log.FieldPeriod, period.String(),
		log.FieldCategoryID, opts.CategoryID,
		"group_by", string(opts.GroupBy),
		"rows", len(summary.Rows))

	return summary, nil
}
