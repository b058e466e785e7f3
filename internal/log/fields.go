package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldOwnerID     = "owner_id"
	FieldRuleID      = "rule_id"
	FieldExpenseID   = "expense_id"
	FieldCategoryID  = "category_id"
	FieldPeriod      = "period"
	FieldAmountCents = "amount_cents"
	FieldFrequency   = "frequency"
	FieldWindowStart = "window_start"
	FieldWindowEnd   = "window_end"
	FieldCreated     = "created"
	FieldDuration    = "duration_ms"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentRecurrence = "recurrence"
	ComponentCache      = "cache"
	ComponentCLI        = "cli"
)

// Operations defines standard operation names
const (
	OpMaterialize = "materialize"
	OpAggregate   = "aggregate"
	OpSummarize   = "summarize"
	OpPublish     = "publish"
	OpMigrate     = "migrate"
	OpShutdown    = "shutdown"
	OpStartup     = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithOwner adds the owner id
func (f LogFields) WithOwner(ownerID int64) LogFields {
	f[FieldOwnerID] = ownerID
	return f
}

// WithRule adds recurring-rule fields
func (f LogFields) WithRule(ruleID int64, frequency string, amountCents int64) LogFields {
	f[FieldRuleID] = ruleID
	f[FieldFrequency] = frequency
	f[FieldAmountCents] = amountCents
	return f
}

// WithWindow adds materialization window bounds
func (f LogFields) WithWindow(start, end string) LogFields {
	f[FieldWindowStart] = start
	f[FieldWindowEnd] = end
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
