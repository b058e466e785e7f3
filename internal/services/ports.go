package services

import (
	"context"

	"spese/internal/amqp"
	"spese/internal/core"
	"spese/internal/storage"
)

// RuleStore is the storage used by the recurring processor.
type RuleStore interface {
	ListPendingRules(ctx context.Context, ownerID int64, asOf core.Date) ([]storage.RuleState, error)
	ListOwnersWithPendingRules(ctx context.Context, asOf core.Date) ([]int64, error)
	RecordOccurrences(ctx context.Context, ownerID, ruleID int64, occ []core.Occurrence, note string, through core.Date) ([]core.Expense, error)
}

// ReportStore is the storage used by the report service.
type ReportStore interface {
	Snapshot(ctx context.Context, ownerID int64, period core.Period) (storage.Snapshot, error)
}

// EventPublisher sends domain events; *amqp.Client implements it.
type EventPublisher interface {
	PublishExpenseMaterialized(ctx context.Context, msg amqp.ExpenseMaterialized) error
	PublishBudgetExceeded(ctx context.Context, msg amqp.BudgetExceeded) error
}

var (
	_ RuleStore      = (*storage.SQLiteRepository)(nil)
	_ ReportStore    = (*storage.SQLiteRepository)(nil)
	_ EventPublisher = (*amqp.Client)(nil)
)
