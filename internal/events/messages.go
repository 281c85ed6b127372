package events

import (
	"encoding/json"
	"time"

	"tally/internal/core"
)

// Expense event types.
const (
	TypeExpenseCreated = "expense.created"
	TypeExpenseDeleted = "expense.deleted"
)

// ExpenseEvent announces an expense mutation on the event stream. Created
// events carry the id only and consumers refetch the row; deleted events
// carry the amount fields because the row is already gone.
type ExpenseEvent struct {
	Type        string    `json:"type"`
	ExpenseID   int64     `json:"expense_id"`
	UserID      int64     `json:"user_id"`
	SourceID    int64     `json:"source_id"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	Category    string    `json:"category,omitempty"`
	SourceName  string    `json:"source_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewExpenseCreated(e core.Expense) *ExpenseEvent {
	return &ExpenseEvent{
		Type:      TypeExpenseCreated,
		ExpenseID: e.ID,
		UserID:    e.UserID,
		SourceID:  e.SourceID,
		Timestamp: time.Now().UTC(),
	}
}

func NewExpenseDeleted(e core.Expense) *ExpenseEvent {
	return &ExpenseEvent{
		Type:        TypeExpenseDeleted,
		ExpenseID:   e.ID,
		UserID:      e.UserID,
		SourceID:    e.SourceID,
		AmountCents: e.Amount.Cents,
		Category:    string(e.Category),
		SourceName:  e.SourceName,
		Timestamp:   time.Now().UTC(),
	}
}

func (ev *ExpenseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(ev)
}

func ExpenseEventFromJSON(data []byte) (*ExpenseEvent, error) {
	var ev ExpenseEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
