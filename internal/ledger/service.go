// Package ledger is the balance engine: the only component that mutates
// source balances, always in the same store transaction as the expense
// mutation that triggered it.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/core"
	"tally/internal/events"
	"tally/internal/storage"
)

// Service validates caller input, drives the store and publishes expense
// events for downstream consumers. The event stream is best effort: a
// publish failure never rolls back a committed mutation.
type Service struct {
	store  *storage.SQLiteRepository
	events *events.Client
}

func New(store *storage.SQLiteRepository, eventsClient *events.Client) *Service {
	return &Service{
		store:  store,
		events: eventsClient,
	}
}

// GetOrCreateUser resolves a platform identity to a user, creating it on
// first contact. Idempotent.
func (s *Service) GetOrCreateUser(ctx context.Context, platformID int64, displayName string) (core.User, error) {
	return s.store.GetOrCreateUser(ctx, platformID, displayName)
}

// CreateSource creates a source whose initial balance becomes the baseline
// for the balance invariant.
func (s *Service) CreateSource(ctx context.Context, userID int64, name string, balanceCents int64, typ core.SourceType) (core.Source, error) {
	src := core.Source{
		UserID:  userID,
		Name:    name,
		Balance: core.Money{Cents: balanceCents},
		Type:    typ,
	}
	if err := src.ValidateNew(); err != nil {
		return core.Source{}, err
	}

	created, err := s.store.CreateSource(ctx, src)
	if err != nil {
		return core.Source{}, fmt.Errorf("create source: %w", err)
	}

	slog.InfoContext(ctx, "Source created",
		"source_id", created.ID,
		"user_id", userID,
		"type", string(created.Type),
		"balance_cents", created.Balance.Cents)
	return created, nil
}

// ListSources returns the user's sources, newest first.
func (s *Service) ListSources(ctx context.Context, userID int64) ([]core.Source, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListSources(ctx, userID)
}

// SetSourceBalance overrides a source's balance. The balance invariant
// restarts from the new value; earlier expenses no longer count against it.
func (s *Service) SetSourceBalance(ctx context.Context, userID, sourceID, newBalanceCents int64) error {
	if err := s.store.SetSourceBalance(ctx, userID, sourceID, newBalanceCents); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Source balance set",
		"source_id", sourceID,
		"user_id", userID,
		"balance_cents", newBalanceCents)
	return nil
}

// DeleteSource removes a source. Sources with live expenses are refused
// with core.ErrConflict; delete the expenses first.
func (s *Service) DeleteSource(ctx context.Context, userID, sourceID int64) error {
	if err := s.store.DeleteSource(ctx, userID, sourceID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Source deleted", "source_id", sourceID, "user_id", userID)
	return nil
}

// AddExpense records an expense and debits its source atomically. The
// balance may go negative; the source tracks spend, it does not enforce a
// floor.
func (s *Service) AddExpense(ctx context.Context, userID, sourceID, amountCents int64, category core.Category, note string) (core.Expense, error) {
	exp := core.Expense{
		UserID:   userID,
		SourceID: sourceID,
		Amount:   core.Money{Cents: amountCents},
		Category: category,
		Note:     note,
	}
	if err := exp.ValidateNew(); err != nil {
		return core.Expense{}, err
	}

	created, err := s.store.CreateExpense(ctx, exp)
	if err != nil {
		return core.Expense{}, err
	}

	slog.InfoContext(ctx, "Expense recorded",
		"expense_id", created.ID,
		"user_id", userID,
		"source_id", sourceID,
		"amount_cents", amountCents,
		"category", string(category))

	s.publish(ctx, events.NewExpenseCreated(created))
	return created, nil
}

// ListExpenses returns the user's expenses newest first, with source name
// and type joined in.
func (s *Service) ListExpenses(ctx context.Context, userID int64, filter storage.ExpenseFilter) ([]core.Expense, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", core.ErrInvalidInput, string(filter.Category))
	}
	return s.store.ListExpenses(ctx, userID, filter)
}

// DeleteExpense removes an expense and credits its source atomically,
// restoring the balance to its pre-add value.
func (s *Service) DeleteExpense(ctx context.Context, userID, expenseID int64) error {
	deleted, err := s.store.DeleteExpense(ctx, userID, expenseID)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Expense deleted",
		"expense_id", expenseID,
		"user_id", userID,
		"source_id", deleted.SourceID,
		"amount_cents", deleted.Amount.Cents)

	s.publish(ctx, events.NewExpenseDeleted(deleted))
	return nil
}

func (s *Service) publish(ctx context.Context, ev *events.ExpenseEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishExpenseEvent(ctx, ev); err != nil {
		// The mutation is already committed. Downstream consumers catch up
		// from the unmirrored backlog on their next startup scan.
		slog.ErrorContext(ctx, "Failed to publish expense event",
			"type", ev.Type, "expense_id", ev.ExpenseID, "error", err)
	}
}

// Close releases the store and event stream connections.
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("events: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %v", errs)
	}
	return nil
}
