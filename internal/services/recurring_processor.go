package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"spese/internal/amqp"
	"spese/internal/core"
	"spese/internal/log"
	"spese/internal/recurrence"
	"spese/internal/storage"
)

type RecurringProcessorConfig struct {
	// LookbackDays bounds how far back a rule that has never been processed
	// is materialized.
	LookbackDays int
	// Concurrency is the number of owners processed in parallel by ProcessAll.
	Concurrency int
}

func DefaultRecurringProcessorConfig() RecurringProcessorConfig {
	return RecurringProcessorConfig{
		LookbackDays: 31,
		Concurrency:  4,
	}
}

// RecurringProcessor turns recurring rules into stored expenses up to a given day.
type RecurringProcessor struct {
	store        RuleStore
	materializer *recurrence.CachedMaterializer
	publisher    EventPublisher
	config       RecurringProcessorConfig
}

// RunResult counts what a processing run did.
type RunResult struct {
	Owners  int
	Rules   int
	Created int // expenses stored
	Skipped int // occurrences already stored by an earlier run
	Failed  int // rules that failed and will be retried next run
}

func (r *RunResult) add(o RunResult) {
	r.Owners += o.Owners
	r.Rules += o.Rules
	r.Created += o.Created
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// NewRecurringProcessor creates a processor. publisher may be nil, in which
// case no events are sent.
func NewRecurringProcessor(store RuleStore, materializer *recurrence.CachedMaterializer, publisher EventPublisher, config RecurringProcessorConfig) *RecurringProcessor {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &RecurringProcessor{
		store:        store,
		materializer: materializer,
		publisher:    publisher,
		config:       config,
	}
}

// Process materializes every pending rule of ownerID through now's date.
// A failing rule is logged and counted; the others still run.
func (p *RecurringProcessor) Process(ctx context.Context, ownerID int64, now time.Time) (RunResult, error) {
	if p.store == nil || p.materializer == nil {
		return RunResult{}, fmt.Errorf("processor not properly initialized")
	}

	today := core.DateOf(now)
	rules, err := p.store.ListPendingRules(ctx, ownerID, today)
	if err != nil {
		return RunResult{}, fmt.Errorf("list pending rules: %w", err)
	}

	result := RunResult{Owners: 1, Rules: len(rules)}
	for _, st := range rules {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		created, skipped, err := p.processRule(ctx, ownerID, st, today)
		if err != nil {
			result.Failed++
			fields := log.NewFields().
				WithOperation(log.OpMaterialize).
				WithOwner(ownerID).
				WithRule(st.Rule.ID, string(st.Rule.Frequency), st.Rule.Amount.Cents).
				WithError(err)
			slog.ErrorContext(ctx, "Failed to materialize recurring rule", fields.ToSlice()...)
			continue
		}
		result.Created += len(created)
		result.Skipped += skipped

		for _, e := range created {
			p.publishMaterialized(ctx, e)
		}
	}

	slog.InfoContext(ctx, "Recurring rule processing complete",
		log.FieldOwnerID, ownerID,
		"date", today.String(),
		"rules", result.Rules,
		log.FieldCreated, result.Created,
		"skipped", result.Skipped,
		"failed", result.Failed)

	return result, nil
}

// ProcessAll runs Process for every owner with pending rules.
func (p *RecurringProcessor) ProcessAll(ctx context.Context, now time.Time) (RunResult, error) {
	if p.store == nil {
		return RunResult{}, fmt.Errorf("processor not properly initialized")
	}

	owners, err := p.store.ListOwnersWithPendingRules(ctx, core.DateOf(now))
	if err != nil {
		return RunResult{}, fmt.Errorf("list owners: %w", err)
	}

	var (
		mu    sync.Mutex
		total RunResult
		errs  []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)

	for _, owner := range owners {
		g.Go(func() error {
			res, err := p.Process(gctx, owner, now)
			mu.Lock()
			defer mu.Unlock()
			total.add(res)
			if err != nil {
				errs = append(errs, fmt.Errorf("owner %d: %w", owner, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return total, errors.Join(errs...)
}

// processRule stores the rule's occurrences between its watermark and today
// and returns the created expenses with the number of already-stored dates.
func (p *RecurringProcessor) processRule(ctx context.Context, ownerID int64, st storage.RuleState, today core.Date) ([]core.Expense, int, error) {
	rule := st.Rule
	from := st.LastMaterialized.AddDays(1)
	if st.LastMaterialized.IsZero() {
		from = core.MaxDate(rule.StartDate, today.AddDays(-p.config.LookbackDays))
	}
	if from.After(today) {
		return nil, 0, nil
	}

	occ, err := p.materializer.Occurrences(rule, from, today)
	if err != nil {
		return nil, 0, fmt.Errorf("materialize %s..%s: %w", from, today, err)
	}

	note := rule.Name
	if note == "" {
		note = "recurring"
	}
	created, err := p.store.RecordOccurrences(ctx, ownerID, rule.ID, occ, note, today)
	if err != nil {
		return nil, 0, fmt.Errorf("record occurrences: %w", err)
	}

	fields := log.NewFields().
		WithOperation(log.OpMaterialize).
		WithOwner(ownerID).
		WithRule(rule.ID, string(rule.Frequency), rule.Amount.Cents).
		WithWindow(from.String(), today.String())
	fields["occurrences"] = len(occ)
	fields[log.FieldCreated] = len(created)
	if next, ok, err := recurrence.NextAfter(rule, today); err == nil && ok {
		fields["next_due"] = next.String()
	}
	slog.DebugContext(ctx, "Materialized recurring rule", fields.ToSlice()...)

	return created, len(occ) - len(created), nil
}

func (p *RecurringProcessor) publishMaterialized(ctx context.Context, e core.Expense) {
	if p.publisher == nil {
		return
	}
	msg := amqp.ExpenseMaterialized{
		ExpenseID:   e.ID,
		OwnerID:     e.OwnerID,
		RuleID:      e.RuleID,
		CategoryID:  e.CategoryID,
		AmountCents: e.Amount.Cents,
		OccurredOn:  e.OccurredOn.String(),
	}
	if err := p.publisher.PublishExpenseMaterialized(ctx, msg); err != nil {
		// the expense is stored; the event is best effort
		slog.ErrorContext(ctx, "Failed to publish materialized expense",
			log.FieldOperation, log.OpPublish,
			log.FieldExpenseID, e.ID,
			log.FieldRuleID, e.RuleID,
			log.FieldError, err)
	}
}
