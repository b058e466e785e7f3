package storage

const (
	insertCategorySQL = `
INSERT INTO categories (owner_id, name, description, is_active)
VALUES (?, ?, ?, ?)
RETURNING id`

	listCategoriesSQL = `
SELECT id, owner_id, name, description, is_active
FROM categories
WHERE owner_id = ?
ORDER BY name`

	// inserts nothing unless the category, and the rule when set, belong to the owner;
	// params are owner, category, amount, date, note, rule, then category, owner, rule, rule, owner
	insertExpenseSQL = `
INSERT INTO expenses (owner_id, category_id, amount_cents, occurred_on, note, rule_id)
SELECT ?, ?, ?, ?, ?, ?
WHERE EXISTS (SELECT 1 FROM categories WHERE id = ? AND owner_id = ?)
  AND (? IS NULL OR EXISTS (SELECT 1 FROM recurring_rules WHERE id = ? AND owner_id = ?))
RETURNING id`

	// rule-generated expenses are unique per (rule_id, occurred_on); reruns skip them
	insertOccurrenceSQL = `
INSERT INTO expenses (owner_id, category_id, amount_cents, occurred_on, note, rule_id)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (rule_id, occurred_on) DO NOTHING
RETURNING id`

	listExpensesSQL = `
SELECT id, owner_id, category_id, amount_cents, occurred_on, note, rule_id
FROM expenses
WHERE owner_id = ? AND occurred_on BETWEEN ? AND ?
ORDER BY occurred_on, id`

	// trailing params are category, owner
	insertRuleSQL = `
INSERT INTO recurring_rules (owner_id, name, category_id, amount_cents, frequency, interval_count,
                             start_date, end_date, day_of_month, weekday)
SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
WHERE EXISTS (SELECT 1 FROM categories WHERE id = ? AND owner_id = ?)
RETURNING id`

	ruleColumns = `id, owner_id, name, category_id, amount_cents, frequency, interval_count,
       start_date, end_date, day_of_month, weekday, last_materialized_on`

	getRuleSQL = `
SELECT ` + ruleColumns + `
FROM recurring_rules
WHERE owner_id = ? AND id = ?`

	// rules active at some point inside [start, end]: params are end, start
	listRulesOverlappingSQL = `
SELECT ` + ruleColumns + `
FROM recurring_rules
WHERE owner_id = ? AND start_date <= ? AND (end_date IS NULL OR end_date >= ?)
ORDER BY id`

	// rules started by the given date that still have dates left to materialize
	pendingRuleFilter = `start_date <= ?
  AND (end_date IS NULL OR last_materialized_on IS NULL OR last_materialized_on < end_date)`

	listPendingRulesSQL = `
SELECT ` + ruleColumns + `
FROM recurring_rules
WHERE owner_id = ? AND ` + pendingRuleFilter + `
ORDER BY id`

	listOwnersWithPendingRulesSQL = `
SELECT DISTINCT owner_id
FROM recurring_rules
WHERE ` + pendingRuleFilter + `
ORDER BY owner_id`

	updateRuleWatermarkSQL = `
UPDATE recurring_rules
SET last_materialized_on = ?, updated_at = CURRENT_TIMESTAMP
WHERE owner_id = ? AND id = ?
  AND (last_materialized_on IS NULL OR last_materialized_on < ?)`

	// overall budgets have a NULL category; trailing params are category, category, owner
	insertBudgetSQL = `
INSERT INTO budgets (owner_id, category_id, name, granularity, period_year, period_month, allocated_cents)
SELECT ?, ?, ?, ?, ?, ?, ?
WHERE ? IS NULL OR EXISTS (SELECT 1 FROM categories WHERE id = ? AND owner_id = ?)
RETURNING id`

	listBudgetsSQL = `
SELECT id, owner_id, category_id, name, granularity, period_year, period_month, allocated_cents
FROM budgets
WHERE owner_id = ? AND granularity = ? AND period_year = ? AND period_month = ?
ORDER BY COALESCE(category_id, 0), id`
)
