package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	ExpenseMaterializedEvent EventType = "expense.materialized"
	BudgetExceededEvent      EventType = "budget.exceeded"
)

// Event is the envelope published for every domain event. Data holds the
// JSON of the typed payload named by Type.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ExpenseMaterialized is emitted when the recurring processor stores an
// expense generated from a rule.
type ExpenseMaterialized struct {
	ExpenseID   int64  `json:"expense_id"`
	OwnerID     int64  `json:"owner_id"`
	RuleID      int64  `json:"rule_id"`
	CategoryID  int64  `json:"category_id"`
	AmountCents int64  `json:"amount_cents"`
	OccurredOn  string `json:"occurred_on"`
}

// BudgetExceeded is emitted for a report row whose spending passed its allocation.
// CategoryID is 0 for the overall row.
type BudgetExceeded struct {
	OwnerID        int64  `json:"owner_id"`
	Period         string `json:"period"`
	CategoryID     int64  `json:"category_id"`
	Overall        bool   `json:"overall"`
	AllocatedCents int64  `json:"allocated_cents"`
	SpentCents     int64  `json:"spent_cents"`
	RemainingCents int64  `json:"remaining_cents"`
	Projected      bool   `json:"projected"`
}

// NewEvent wraps payload in an envelope with a fresh id.
func NewEvent(t EventType, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// ToJSON converts the event to JSON bytes
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON creates an event from JSON bytes
func EventFromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.Type == "" {
		return nil, errors.New("event without type")
	}
	return &e, nil
}

// ExpenseMaterialized decodes the payload of an expense.materialized event.
func (e *Event) ExpenseMaterialized() (*ExpenseMaterialized, error) {
	var msg ExpenseMaterialized
	if err := e.decode(ExpenseMaterializedEvent, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// BudgetExceeded decodes the payload of a budget.exceeded event.
func (e *Event) BudgetExceeded() (*BudgetExceeded, error) {
	var msg BudgetExceeded
	if err := e.decode(BudgetExceededEvent, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (e *Event) decode(want EventType, into any) error {
	if e.Type != want {
		return fmt.Errorf("event %s is %s, not %s", e.ID, e.Type, want)
	}
	if err := json.Unmarshal(e.Data, into); err != nil {
		return fmt.Errorf("decode %s payload: %w", want, err)
	}
	return nil
}
