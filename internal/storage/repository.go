package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"spese/internal/core"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist for the given owner.
var ErrNotFound = errors.New("not found")

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLiteRepository struct {
	db *sql.DB
}

// RuleState is a stored rule together with its materialization watermark.
type RuleState struct {
	Rule core.RecurringRule
	// LastMaterialized is the last date expenses were generated up to; zero
	// when the rule has never been processed.
	LastMaterialized core.Date
}

// Snapshot is a consistent read of one owner's data for a period.
type Snapshot struct {
	OwnerID    int64
	Period     core.Period
	Categories []core.Category
	Expenses   []core.Expense
	Budgets    []core.Budget
	Rules      []RuleState // rules active at some point in the period
}

func dsn(dbPath string) string {
	return dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// single writer: concurrent owners queue on the pool instead of SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Debug("SQLite schema ready", "path", dbPath, "version", version)

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateCategory stores a category and returns it with its id.
func (r *SQLiteRepository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	c, err := core.NewCategory(c)
	if err != nil {
		return core.Category{}, err
	}
	if err := r.db.QueryRowContext(ctx, insertCategorySQL,
		c.OwnerID, c.Name, c.Description, c.Active,
	).Scan(&c.ID); err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	return c, nil
}

// ListCategories returns the owner's categories ordered by name.
func (r *SQLiteRepository) ListCategories(ctx context.Context, ownerID int64) ([]core.Category, error) {
	return listCategories(ctx, r.db, ownerID)
}

// CategoryNames maps the owner's category ids to their names.
func (r *SQLiteRepository) CategoryNames(ctx context.Context, ownerID int64) (map[int64]string, error) {
	cats, err := r.ListCategories(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Name
	}
	return names, nil
}

// CreateExpense stores an expense entered by hand or generated elsewhere.
func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	ruleID := nullID(e.RuleID)
	err := r.db.QueryRowContext(ctx, insertExpenseSQL,
		e.OwnerID, e.CategoryID, e.Amount.Cents, e.OccurredOn.String(), e.Note, ruleID,
		e.CategoryID, e.OwnerID, ruleID, ruleID, e.OwnerID,
	).Scan(&e.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("create expense: category %d or rule %d of owner %d: %w",
			e.CategoryID, e.RuleID, e.OwnerID, ErrNotFound)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}

	slog.DebugContext(ctx, "Expense saved to SQLite",
		"id", e.ID,
		"owner_id", e.OwnerID,
		"amount_cents", e.Amount.Cents,
		"occurred_on", e.OccurredOn.String())

	return e, nil
}

// ListExpenses returns the owner's expenses dated within [from, to].
func (r *SQLiteRepository) ListExpenses(ctx context.Context, ownerID int64, from, to core.Date) ([]core.Expense, error) {
	return listExpenses(ctx, r.db, ownerID, from, to)
}

// CreateRule validates and stores a recurring rule.
func (r *SQLiteRepository) CreateRule(ctx context.Context, rule core.RecurringRule) (core.RecurringRule, error) {
	rule, err := core.NewRecurringRule(rule)
	if err != nil {
		return core.RecurringRule{}, err
	}

	var endDate sql.NullString
	if !rule.EndDate.IsZero() {
		endDate = sql.NullString{String: rule.EndDate.String(), Valid: true}
	}
	var weekday sql.NullInt64
	if rule.Weekday != nil {
		weekday = sql.NullInt64{Int64: int64(*rule.Weekday), Valid: true}
	}

	err = r.db.QueryRowContext(ctx, insertRuleSQL,
		rule.OwnerID, rule.Name, rule.CategoryID, rule.Amount.Cents, string(rule.Frequency), rule.Interval,
		rule.StartDate.String(), endDate, nullID(int64(rule.DayOfMonth)), weekday,
		rule.CategoryID, rule.OwnerID,
	).Scan(&rule.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringRule{}, fmt.Errorf("create recurring rule: category %d of owner %d: %w",
			rule.CategoryID, rule.OwnerID, ErrNotFound)
	}
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("create recurring rule: %w", err)
	}
	return rule, nil
}

// GetRule returns one rule with its watermark.
func (r *SQLiteRepository) GetRule(ctx context.Context, ownerID, id int64) (RuleState, error) {
	rows, err := r.db.QueryContext(ctx, getRuleSQL, ownerID, id)
	if err != nil {
		return RuleState{}, fmt.Errorf("get recurring rule: %w", err)
	}
	rules, err := scanRules(rows)
	if err != nil {
		return RuleState{}, fmt.Errorf("get recurring rule: %w", err)
	}
	if len(rules) == 0 {
		return RuleState{}, fmt.Errorf("recurring rule %d: %w", id, ErrNotFound)
	}
	return rules[0], nil
}

// ListPendingRules returns the owner's rules that started by asOf and still
// have dates left to materialize.
func (r *SQLiteRepository) ListPendingRules(ctx context.Context, ownerID int64, asOf core.Date) ([]RuleState, error) {
	rows, err := r.db.QueryContext(ctx, listPendingRulesSQL, ownerID, asOf.String())
	if err != nil {
		return nil, fmt.Errorf("list pending rules: %w", err)
	}
	rules, err := scanRules(rows)
	if err != nil {
		return nil, fmt.Errorf("list pending rules: %w", err)
	}
	return rules, nil
}

// ListOwnersWithPendingRules returns every owner that has work for the recurring processor.
func (r *SQLiteRepository) ListOwnersWithPendingRules(ctx context.Context, asOf core.Date) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, listOwnersWithPendingRulesSQL, asOf.String())
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()

	var owners []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

// RecordOccurrences stores occurrences of one rule as expenses and moves the
// rule watermark to through, all in one transaction. Occurrences already
// stored for the same rule and date are skipped, so reruns are idempotent.
// It returns the expenses that were actually created.
func (r *SQLiteRepository) RecordOccurrences(ctx context.Context, ownerID, ruleID int64, occ []core.Occurrence, note string, through core.Date) (created []core.Expense, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, o := range occ {
		if o.RuleID != ruleID {
			return nil, fmt.Errorf("occurrence of rule %d recorded under rule %d", o.RuleID, ruleID)
		}
		e := o.Expense(ownerID, note)
		err = tx.QueryRowContext(ctx, insertOccurrenceSQL,
			e.OwnerID, e.CategoryID, e.Amount.Cents, e.OccurredOn.String(), e.Note, ruleID,
		).Scan(&e.ID)
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert occurrence %s: %w", o.Date, err)
		}
		created = append(created, e)
	}

	if _, err = tx.ExecContext(ctx, updateRuleWatermarkSQL, through.String(), ownerID, ruleID, through.String()); err != nil {
		return nil, fmt.Errorf("update watermark: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit occurrences: %w", err)
	}
	return created, nil
}

// CreateBudget stores a budget; CategoryID 0 stores the overall budget.
func (r *SQLiteRepository) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	categoryID := nullID(b.CategoryID)
	err := r.db.QueryRowContext(ctx, insertBudgetSQL,
		b.OwnerID, categoryID, b.Name, string(b.Period.Granularity), b.Period.Year, b.Period.Month, b.Allocated.Cents,
		categoryID, categoryID, b.OwnerID,
	).Scan(&b.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, fmt.Errorf("create budget: category %d of owner %d: %w", b.CategoryID, b.OwnerID, ErrNotFound)
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("create budget: %w", err)
	}
	return b, nil
}

// ListBudgets returns the owner's budgets for exactly the given period.
func (r *SQLiteRepository) ListBudgets(ctx context.Context, ownerID int64, period core.Period) ([]core.Budget, error) {
	return listBudgets(ctx, r.db, ownerID, period)
}

// Snapshot reads categories, expenses, budgets and overlapping rules for
// one owner and period inside a single read transaction.
func (r *SQLiteRepository) Snapshot(ctx context.Context, ownerID int64, period core.Period) (Snapshot, error) {
	if err := period.Validate(); err != nil {
		return Snapshot{}, err
	}
	start := time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	snap := Snapshot{OwnerID: ownerID, Period: period}
	if snap.Categories, err = listCategories(ctx, tx, ownerID); err != nil {
		return Snapshot{}, err
	}
	if snap.Expenses, err = listExpenses(ctx, tx, ownerID, period.Start(), period.End()); err != nil {
		return Snapshot{}, err
	}
	if snap.Budgets, err = listBudgets(ctx, tx, ownerID, period); err != nil {
		return Snapshot{}, err
	}

	rows, err := tx.QueryContext(ctx, listRulesOverlappingSQL, ownerID, period.End().String(), period.Start().String())
	if err != nil {
		return Snapshot{}, fmt.Errorf("list rules: %w", err)
	}
	if snap.Rules, err = scanRules(rows); err != nil {
		return Snapshot{}, fmt.Errorf("list rules: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Snapshot{}, fmt.Errorf("commit snapshot: %w", err)
	}

	slog.DebugContext(ctx, "Snapshot loaded",
		"owner_id", ownerID,
		"period", period.String(),
		"expenses", len(snap.Expenses),
		"budgets", len(snap.Budgets),
		"rules", len(snap.Rules),
		"duration_ms", time.Since(start).Milliseconds())

	return snap, nil
}

func listCategories(ctx context.Context, q dbtx, ownerID int64) ([]core.Category, error) {
	rows, err := q.QueryContext(ctx, listCategoriesSQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var cats []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Description, &c.Active); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func listExpenses(ctx context.Context, q dbtx, ownerID int64, from, to core.Date) ([]core.Expense, error) {
	rows, err := q.QueryContext(ctx, listExpensesSQL, ownerID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		var (
			e          core.Expense
			occurredOn string
			ruleID     sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.CategoryID, &e.Amount.Cents, &occurredOn, &e.Note, &ruleID); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		if e.OccurredOn, err = core.ParseDate(occurredOn); err != nil {
			return nil, fmt.Errorf("expense %d: %w", e.ID, err)
		}
		e.RuleID = ruleID.Int64
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func listBudgets(ctx context.Context, q dbtx, ownerID int64, period core.Period) ([]core.Budget, error) {
	rows, err := q.QueryContext(ctx, listBudgetsSQL, ownerID, string(period.Granularity), period.Year, period.Month)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var budgets []core.Budget
	for rows.Next() {
		var (
			b           core.Budget
			categoryID  sql.NullInt64
			granularity string
		)
		if err := rows.Scan(&b.ID, &b.OwnerID, &categoryID, &b.Name, &granularity,
			&b.Period.Year, &b.Period.Month, &b.Allocated.Cents); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		b.CategoryID = categoryID.Int64
		b.Period.Granularity = core.Granularity(granularity)
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

// scanRules drains and closes rows.
func scanRules(rows *sql.Rows) ([]RuleState, error) {
	defer rows.Close()

	var rules []RuleState
	for rows.Next() {
		var (
			st                   RuleState
			frequency, startDate string
			endDate, lastRun     sql.NullString
			dayOfMonth, weekday  sql.NullInt64
		)
		rule := &st.Rule
		if err := rows.Scan(&rule.ID, &rule.OwnerID, &rule.Name, &rule.CategoryID, &rule.Amount.Cents,
			&frequency, &rule.Interval, &startDate, &endDate, &dayOfMonth, &weekday, &lastRun); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}

		var err error
		rule.Frequency = core.Frequency(frequency)
		rule.DayOfMonth = int(dayOfMonth.Int64)
		if weekday.Valid {
			wd := time.Weekday(weekday.Int64)
			rule.Weekday = &wd
		}
		if rule.StartDate, err = core.ParseDate(startDate); err != nil {
			return nil, fmt.Errorf("rule %d start date: %w", rule.ID, err)
		}
		if endDate.Valid {
			if rule.EndDate, err = core.ParseDate(endDate.String); err != nil {
				return nil, fmt.Errorf("rule %d end date: %w", rule.ID, err)
			}
		}
		if lastRun.Valid {
			if st.LastMaterialized, err = core.ParseDate(lastRun.String); err != nil {
				return nil, fmt.Errorf("rule %d watermark: %w", rule.ID, err)
			}
		}
		rules = append(rules, st)
	}
	return rules, rows.Err()
}

// nullID stores zero ids as NULL.
func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
