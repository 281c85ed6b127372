// Package worker exports the expense stream to the ledger mirror. It
// consumes expense events and, on startup, backfills whatever the event
// stream missed from the unmirrored backlog.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"tally/internal/core"
	"tally/internal/events"
	"tally/internal/sheets"
	"tally/internal/storage"
)

type MirrorWorker struct {
	store     *storage.SQLiteRepository
	writer    sheets.MirrorWriter
	batchSize int

	// mu keeps backfill runs and event handling from interleaving, so the
	// same row cannot be appended by both paths at once.
	mu sync.Mutex
}

func NewMirrorWorker(store *storage.SQLiteRepository, writer sheets.MirrorWriter, batchSize int) *MirrorWorker {
	return &MirrorWorker{
		store:     store,
		writer:    writer,
		batchSize: batchSize,
	}
}

// HandleEvent mirrors one expense event. Created events refetch the row
// from the store; deleted events carry their own payload because the row
// is gone, and are mirrored as reversal lines.
func (w *MirrorWorker) HandleEvent(ev *events.ExpenseEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ctx := context.Background()

	switch ev.Type {
	case events.TypeExpenseCreated:
		return w.mirrorCreated(ctx, ev.ExpenseID)
	case events.TypeExpenseDeleted:
		return w.mirrorDeleted(ctx, ev)
	default:
		slog.WarnContext(ctx, "Ignoring unknown event type", "type", ev.Type)
		return nil
	}
}

func (w *MirrorWorker) mirrorCreated(ctx context.Context, expenseID int64) error {
	exp, err := w.store.GetExpense(ctx, expenseID)
	if errors.Is(err, core.ErrNotFound) {
		// Deleted before we got to it; the delete event mirrors the reversal.
		slog.InfoContext(ctx, "Expense gone before mirroring, skipping", "expense_id", expenseID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load expense %d: %w", expenseID, err)
	}
	if exp.Mirrored {
		// A backfill pass got here first.
		slog.DebugContext(ctx, "Expense already mirrored, skipping", "expense_id", expenseID)
		return nil
	}

	if err := w.writer.AppendRow(ctx, sheets.Row{
		When:     exp.CreatedAt,
		UserID:   exp.UserID,
		Source:   exp.SourceName,
		Category: string(exp.Category),
		Note:     exp.Note,
		Amount:   exp.Amount,
	}); err != nil {
		return fmt.Errorf("mirror expense %d: %w", expenseID, err)
	}

	if err := w.store.MarkMirrored(ctx, expenseID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Expense mirrored", "expense_id", expenseID)
	return nil
}

func (w *MirrorWorker) mirrorDeleted(ctx context.Context, ev *events.ExpenseEvent) error {
	if err := w.writer.AppendRow(ctx, sheets.Row{
		When:     ev.Timestamp,
		UserID:   ev.UserID,
		Source:   ev.SourceName,
		Category: ev.Category,
		Note:     fmt.Sprintf("reversal of expense %d", ev.ExpenseID),
		Amount:   core.Money{Cents: -ev.AmountCents},
	}); err != nil {
		return fmt.Errorf("mirror reversal for expense %d: %w", ev.ExpenseID, err)
	}
	slog.InfoContext(ctx, "Expense reversal mirrored", "expense_id", ev.ExpenseID)
	return nil
}

// StartupBackfill mirrors expenses whose events never arrived, a batch at
// a time. Append calls within a batch run concurrently. Backfill holds the
// worker lock for its whole run; event deliveries queue behind it.
func (w *MirrorWorker) StartupBackfill(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		pending, err := w.store.ListUnmirrored(ctx, w.batchSize)
		if err != nil {
			return fmt.Errorf("list unmirrored: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		slog.InfoContext(ctx, "Backfilling unmirrored expenses", "count", len(pending))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for _, exp := range pending {
			g.Go(func() error {
				if err := w.writer.AppendRow(gctx, sheets.Row{
					When:     exp.CreatedAt,
					UserID:   exp.UserID,
					Source:   exp.SourceName,
					Category: string(exp.Category),
					Note:     exp.Note,
					Amount:   exp.Amount,
				}); err != nil {
					return fmt.Errorf("mirror expense %d: %w", exp.ID, err)
				}
				return w.store.MarkMirrored(gctx, exp.ID)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if len(pending) < w.batchSize {
			return nil
		}
	}
}
