package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spese/internal/amqp"
	"spese/internal/budget"
	"spese/internal/cache"
	"spese/internal/core"
	"spese/internal/recurrence"
	"spese/internal/storage"
)

type fakePublisher struct {
	mu       sync.Mutex
	expenses []amqp.ExpenseMaterialized
	exceeded []amqp.BudgetExceeded
	err      error
}

func (f *fakePublisher) PublishExpenseMaterialized(_ context.Context, msg amqp.ExpenseMaterialized) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.expenses = append(f.expenses, msg)
	return nil
}

func (f *fakePublisher) PublishBudgetExceeded(_ context.Context, msg amqp.BudgetExceeded) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.exceeded = append(f.exceeded, msg)
	return nil
}

type fixture struct {
	repo         *storage.SQLiteRepository
	materializer *recurrence.CachedMaterializer
	publisher    *fakePublisher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "spese.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return fixture{
		repo:         repo,
		materializer: recurrence.NewCachedMaterializer(cache.NewLRUCache[[]core.Occurrence](64, time.Minute)),
		publisher:    &fakePublisher{},
	}
}

func (f fixture) category(t *testing.T, owner int64, name string) core.Category {
	t.Helper()
	c, err := f.repo.CreateCategory(context.Background(), core.Category{OwnerID: owner, Name: name, Active: true})
	require.NoError(t, err)
	return c
}

func (f fixture) rule(t *testing.T, r core.RecurringRule) core.RecurringRule {
	t.Helper()
	if r.Interval == 0 {
		r.Interval = 1
	}
	r, err := f.repo.CreateRule(context.Background(), r)
	require.NoError(t, err)
	return r
}

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 9, 30, 0, 0, time.UTC)
}

func TestRecurringProcessor_Process(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rent := f.category(t, 1, "Rent")
	f.rule(t, core.RecurringRule{
		OwnerID: 1, Name: "rent", CategoryID: rent.ID, Amount: core.Cents(90000),
		Frequency: core.Monthly, StartDate: core.NewDate(2024, 1, 31), DayOfMonth: 31,
	})

	config := DefaultRecurringProcessorConfig()
	config.LookbackDays = 365
	p := NewRecurringProcessor(f.repo, f.materializer, f.publisher, config)

	res, err := p.Process(ctx, 1, day(2024, 3, 15))
	require.NoError(t, err)
	require.Equal(t, RunResult{Owners: 1, Rules: 1, Created: 2}, res)

	expenses, err := f.repo.ListExpenses(ctx, 1, core.NewDate(2024, 1, 1), core.NewDate(2024, 12, 31))
	require.NoError(t, err)
	require.Len(t, expenses, 2)
	require.Equal(t, "2024-01-31", expenses[0].OccurredOn.String())
	require.Equal(t, "2024-02-29", expenses[1].OccurredOn.String())
	require.Equal(t, "rent", expenses[0].Note)

	require.Len(t, f.publisher.expenses, 2)
	require.Equal(t, int64(90000), f.publisher.expenses[1].AmountCents)
	require.Equal(t, "2024-02-29", f.publisher.expenses[1].OccurredOn)

	// same day again is a no-op
	res, err = p.Process(ctx, 1, day(2024, 3, 15))
	require.NoError(t, err)
	require.Zero(t, res.Created)

	// the next run picks up from the watermark
	res, err = p.Process(ctx, 1, day(2024, 4, 30))
	require.NoError(t, err)
	require.Equal(t, 2, res.Created)

	expenses, err = f.repo.ListExpenses(ctx, 1, core.NewDate(2024, 3, 1), core.NewDate(2024, 4, 30))
	require.NoError(t, err)
	require.Len(t, expenses, 2)
	require.Equal(t, "2024-04-30", expenses[1].OccurredOn.String())
}

func TestRecurringProcessor_LookbackBoundsFirstRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cat := f.category(t, 1, "Coffee")
	f.rule(t, core.RecurringRule{
		OwnerID: 1, CategoryID: cat.ID, Amount: core.Cents(150),
		Frequency: core.Daily, StartDate: core.NewDate(2020, 1, 1),
	})

	config := DefaultRecurringProcessorConfig()
	config.LookbackDays = 6
	p := NewRecurringProcessor(f.repo, f.materializer, nil, config)

	res, err := p.Process(ctx, 1, day(2024, 1, 10))
	require.NoError(t, err)
	require.Equal(t, 7, res.Created, "lookback of 6 days plus today")

	expenses, err := f.repo.ListExpenses(ctx, 1, core.NewDate(2020, 1, 1), core.NewDate(2024, 12, 31))
	require.NoError(t, err)
	require.Equal(t, "2024-01-04", expenses[0].OccurredOn.String())
	require.Equal(t, "recurring", expenses[0].Note)
}

func TestRecurringProcessor_EndedRuleLeavesPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cat := f.category(t, 1, "Gym")
	f.rule(t, core.RecurringRule{
		OwnerID: 1, CategoryID: cat.ID, Amount: core.Cents(3000), Frequency: core.Weekly,
		StartDate: core.NewDate(2024, 1, 1), EndDate: core.NewDate(2024, 1, 20),
	})

	p := NewRecurringProcessor(f.repo, f.materializer, f.publisher, DefaultRecurringProcessorConfig())
	res, err := p.Process(ctx, 1, day(2024, 2, 1))
	require.NoError(t, err)
	require.Equal(t, 3, res.Created)

	owners, err := f.repo.ListOwnersWithPendingRules(ctx, core.NewDate(2024, 2, 2))
	require.NoError(t, err)
	require.Empty(t, owners)
}

func TestRecurringProcessor_PublishFailureDoesNotFailRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cat := f.category(t, 1, "Music")
	f.rule(t, core.RecurringRule{
		OwnerID: 1, CategoryID: cat.ID, Amount: core.Cents(999), Frequency: core.Monthly,
		StartDate: core.NewDate(2024, 1, 5),
	})
	f.publisher.err = errors.New("connection refused")

	p := NewRecurringProcessor(f.repo, f.materializer, f.publisher, DefaultRecurringProcessorConfig())
	res, err := p.Process(ctx, 1, day(2024, 1, 5))
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)
	require.Zero(t, res.Failed)
}

func TestRecurringProcessor_ProcessAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for owner := int64(1); owner <= 5; owner++ {
		cat := f.category(t, owner, "Bills")
		f.rule(t, core.RecurringRule{
			OwnerID: owner, CategoryID: cat.ID, Amount: core.Cents(owner * 100), Frequency: core.Daily,
			StartDate: core.NewDate(2024, 6, 1),
		})
	}
	// not started yet
	cat := f.category(t, 6, "Later")
	f.rule(t, core.RecurringRule{
		OwnerID: 6, CategoryID: cat.ID, Amount: core.Cents(1), Frequency: core.Daily,
		StartDate: core.NewDate(2025, 1, 1),
	})

	p := NewRecurringProcessor(f.repo, f.materializer, f.publisher, DefaultRecurringProcessorConfig())
	res, err := p.ProcessAll(ctx, day(2024, 6, 3))
	require.NoError(t, err)
	require.Equal(t, 5, res.Owners)
	require.Equal(t, 15, res.Created)
	require.Len(t, f.publisher.expenses, 15)
}

func TestRecurringProcessor_NotInitialized(t *testing.T) {
	p := NewRecurringProcessor(nil, nil, nil, DefaultRecurringProcessorConfig())
	_, err := p.Process(context.Background(), 1, time.Now())
	require.Error(t, err)
}

func TestReportService_BudgetStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	food := f.category(t, 1, "Food")
	feb := core.MonthPeriod(2024, 2)

	_, err := f.repo.CreateExpense(ctx, core.Expense{OwnerID: 1, CategoryID: food.ID, Amount: core.Cents(5000), OccurredOn: core.NewDate(2024, 2, 10)})
	require.NoError(t, err)
	_, err = f.repo.CreateBudget(ctx, core.Budget{OwnerID: 1, CategoryID: food.ID, Period: feb, Allocated: core.Cents(10000)})
	require.NoError(t, err)

	s := NewReportService(f.repo, f.materializer, f.publisher)
	got, err := s.BudgetStatus(ctx, 1, feb, BudgetStatusOptions{Notify: true})
	require.NoError(t, err)

	st, ok := got.Report.Lookup(food.ID)
	require.True(t, ok)
	require.Equal(t, core.Cents(10000), st.Allocated)
	require.Equal(t, core.Cents(5000), st.Spent)
	require.Equal(t, core.Cents(5000), st.Remaining)
	require.False(t, st.IsOver)
	require.Zero(t, got.Notified)
	require.Empty(t, f.publisher.exceeded)
}

func TestReportService_BudgetStatusProjected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	subs := f.category(t, 1, "Subscriptions")
	feb := core.MonthPeriod(2024, 2)

	f.rule(t, core.RecurringRule{
		OwnerID: 1, CategoryID: subs.ID, Amount: core.Cents(3000), Frequency: core.Weekly,
		StartDate: core.NewDate(2024, 2, 1),
	})
	_, err := f.repo.CreateBudget(ctx, core.Budget{OwnerID: 1, CategoryID: subs.ID, Period: feb, Allocated: core.Cents(10000)})
	require.NoError(t, err)

	// store the first two weeks, project the rest
	p := NewRecurringProcessor(f.repo, f.materializer, nil, DefaultRecurringProcessorConfig())
	_, err = p.Process(ctx, 1, day(2024, 2, 14))
	require.NoError(t, err)

	s := NewReportService(f.repo, f.materializer, f.publisher)

	stored, err := s.BudgetStatus(ctx, 1, feb, BudgetStatusOptions{})
	require.NoError(t, err)
	st, _ := stored.Report.Lookup(subs.ID)
	require.Equal(t, core.Cents(6000), st.Spent)
	require.False(t, st.IsOver)

	projected, err := s.BudgetStatus(ctx, 1, feb, BudgetStatusOptions{Projected: true, Notify: true})
	require.NoError(t, err)
	require.Len(t, projected.Projected, 3) // Feb 15, 22, 29
	st, _ = projected.Report.Lookup(subs.ID)
	require.Equal(t, core.Cents(15000), st.Spent)
	require.True(t, st.IsOver)
	require.Equal(t, budget.Over, st.State)

	// category row plus the overall row
	require.Equal(t, 2, projected.Notified)
	require.Len(t, f.publisher.exceeded, 2)
	require.Equal(t, subs.ID, f.publisher.exceeded[0].CategoryID)
	require.Equal(t, int64(-5000), f.publisher.exceeded[0].RemainingCents)
	require.True(t, f.publisher.exceeded[0].Projected)
	require.True(t, f.publisher.exceeded[1].Overall)
}

func TestReportService_BudgetStatusWithoutPublisher(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	food := f.category(t, 1, "Food")
	_, err := f.repo.CreateExpense(ctx, core.Expense{OwnerID: 1, CategoryID: food.ID, Amount: core.Cents(100), OccurredOn: core.NewDate(2024, 5, 1)})
	require.NoError(t, err)

	s := NewReportService(f.repo, f.materializer, nil)
	got, err := s.BudgetStatus(ctx, 1, core.MonthPeriod(2024, 5), BudgetStatusOptions{Notify: true})
	require.NoError(t, err)
	require.Zero(t, got.Notified)

	st, _ := got.Report.Lookup(food.ID)
	require.True(t, st.IsOver, "spending without a budget is over")
	require.False(t, st.HasBudget)
}

func TestReportService_Summary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	food := f.category(t, 1, "Food")
	rent := f.category(t, 1, "Rent")

	for _, e := range []core.Expense{
		{OwnerID: 1, CategoryID: food.ID, Amount: core.Cents(1000), OccurredOn: core.NewDate(2024, 1, 3)},
		{OwnerID: 1, CategoryID: food.ID, Amount: core.Cents(2500), OccurredOn: core.NewDate(2024, 2, 3)},
		{OwnerID: 1, CategoryID: rent.ID, Amount: core.Cents(90000), OccurredOn: core.NewDate(2024, 2, 1)},
	} {
		_, err := f.repo.CreateExpense(ctx, e)
		require.NoError(t, err)
	}

	s := NewReportService(f.repo, f.materializer, nil)

	byCat, err := s.Summary(ctx, 1, core.YearPeriod(2024), SummaryOptions{GroupBy: budget.ByCategory})
	require.NoError(t, err)
	require.Len(t, byCat.Rows, 2)
	require.Equal(t, "Food", byCat.Rows[0].Group)
	require.Equal(t, core.Cents(3500), byCat.Rows[0].Total)
	require.Equal(t, core.Cents(93500), byCat.Total)

	byMonth, err := s.Summary(ctx, 1, core.YearPeriod(2024), SummaryOptions{GroupBy: budget.ByMonth})
	require.NoError(t, err)
	require.Len(t, byMonth.Rows, 2)
	require.Equal(t, "2024-02", byMonth.Rows[1].Group)
	require.Equal(t, 2, byMonth.Rows[1].Count)

	foodOnly, err := s.Summary(ctx, 1, core.YearPeriod(2024), SummaryOptions{GroupBy: budget.ByMonth, CategoryID: food.ID})
	require.NoError(t, err)
	require.Len(t, foodOnly.Rows, 2)
	require.Equal(t, 2, foodOnly.Count)
	require.Equal(t, core.Cents(3500), foodOnly.Total)
	require.Equal(t, core.Cents(2500), foodOnly.Rows[1].Total)

	_, err = s.Summary(ctx, 1, core.YearPeriod(2024), SummaryOptions{GroupBy: budget.ByCategory, CategoryID: rent.ID + 100})
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.Summary(ctx, 1, core.YearPeriod(2024), SummaryOptions{GroupBy: budget.GroupBy("week")})
	require.ErrorIs(t, err, budget.ErrInvalidGrouping)
}
