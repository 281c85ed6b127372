package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/internal/core"
	"tally/internal/events"
	"tally/internal/sheets"
	"tally/internal/storage"
)

type recordingWriter struct {
	mu   sync.Mutex
	rows []sheets.Row
	err  error
}

func (w *recordingWriter) AppendRow(ctx context.Context, row sheets.Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.rows = append(w.rows, row)
	return nil
}

func (w *recordingWriter) appended() []sheets.Row {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]sheets.Row(nil), w.rows...)
}

func newWorkerFixture(t *testing.T) (*storage.SQLiteRepository, core.User, core.Source) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	user, err := repo.GetOrCreateUser(ctx, 1, "tester")
	require.NoError(t, err)
	src, err := repo.CreateSource(ctx, core.Source{
		UserID:  user.ID,
		Name:    "Wallet",
		Balance: core.Money{Cents: 100000},
		Type:    core.SourceCash,
	})
	require.NoError(t, err)
	return repo, user, src
}

func TestHandleEventCreated(t *testing.T) {
	repo, user, src := newWorkerFixture(t)
	ctx := context.Background()

	exp, err := repo.CreateExpense(ctx, core.Expense{
		UserID:   user.ID,
		SourceID: src.ID,
		Amount:   core.Money{Cents: 1234},
		Category: core.CategoryFood,
		Note:     "lunch",
	})
	require.NoError(t, err)

	writer := &recordingWriter{}
	w := NewMirrorWorker(repo, writer, 10)

	require.NoError(t, w.HandleEvent(events.NewExpenseCreated(exp)))

	rows := writer.appended()
	require.Len(t, rows, 1)
	assert.Equal(t, "Wallet", rows[0].Source)
	assert.Equal(t, "Food", rows[0].Category)
	assert.Equal(t, int64(1234), rows[0].Amount.Cents)

	// Mirrored rows leave the backlog.
	pending, err := repo.ListUnmirrored(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestHandleEventCreatedAfterBackfillNotDuplicated(t *testing.T) {
	repo, user, src := newWorkerFixture(t)
	ctx := context.Background()

	exp, err := repo.CreateExpense(ctx, core.Expense{
		UserID:   user.ID,
		SourceID: src.ID,
		Amount:   core.Money{Cents: 900},
		Category: core.CategoryTransport,
	})
	require.NoError(t, err)

	writer := &recordingWriter{}
	w := NewMirrorWorker(repo, writer, 10)

	// Backfill lands the row first, then its event arrives late.
	require.NoError(t, w.StartupBackfill(ctx))
	require.Len(t, writer.appended(), 1)

	require.NoError(t, w.HandleEvent(events.NewExpenseCreated(exp)))
	assert.Len(t, writer.appended(), 1)
}

func TestHandleEventCreatedForGoneExpense(t *testing.T) {
	repo, _, _ := newWorkerFixture(t)

	writer := &recordingWriter{}
	w := NewMirrorWorker(repo, writer, 10)

	ev := &events.ExpenseEvent{Type: events.TypeExpenseCreated, ExpenseID: 999}
	require.NoError(t, w.HandleEvent(ev))
	assert.Empty(t, writer.appended())
}

func TestHandleEventDeletedWritesReversal(t *testing.T) {
	repo, user, src := newWorkerFixture(t)
	ctx := context.Background()

	exp, err := repo.CreateExpense(ctx, core.Expense{
		UserID:   user.ID,
		SourceID: src.ID,
		Amount:   core.Money{Cents: 2500},
		Category: core.CategoryBills,
	})
	require.NoError(t, err)
	deleted, err := repo.DeleteExpense(ctx, user.ID, exp.ID)
	require.NoError(t, err)

	writer := &recordingWriter{}
	w := NewMirrorWorker(repo, writer, 10)

	require.NoError(t, w.HandleEvent(events.NewExpenseDeleted(deleted)))

	rows := writer.appended()
	require.Len(t, rows, 1)
	assert.Equal(t, int64(-2500), rows[0].Amount.Cents)
	assert.Equal(t, "Wallet", rows[0].Source)
	assert.Contains(t, rows[0].Note, "reversal")
}

func TestHandleEventUnknownTypeIgnored(t *testing.T) {
	repo, _, _ := newWorkerFixture(t)
	writer := &recordingWriter{}
	w := NewMirrorWorker(repo, writer, 10)

	require.NoError(t, w.HandleEvent(&events.ExpenseEvent{Type: "expense.sneezed"}))
	assert.Empty(t, writer.appended())
}

func TestStartupBackfill(t *testing.T) {
	repo, user, src := newWorkerFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := repo.CreateExpense(ctx, core.Expense{
			UserID:   user.ID,
			SourceID: src.ID,
			Amount:   core.Money{Cents: int64(100 + i)},
			Category: core.CategoryOther,
		})
		require.NoError(t, err)
	}

	writer := &recordingWriter{}
	// Batch smaller than backlog to exercise the loop.
	w := NewMirrorWorker(repo, writer, 2)

	require.NoError(t, w.StartupBackfill(ctx))
	assert.Len(t, writer.appended(), 5)

	pending, err := repo.ListUnmirrored(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A second run finds nothing to do.
	require.NoError(t, w.StartupBackfill(ctx))
	assert.Len(t, writer.appended(), 5)
}

func TestStartupBackfillPropagatesWriterError(t *testing.T) {
	repo, user, src := newWorkerFixture(t)
	ctx := context.Background()

	_, err := repo.CreateExpense(ctx, core.Expense{
		UserID:   user.ID,
		SourceID: src.ID,
		Amount:   core.Money{Cents: 100},
		Category: core.CategoryOther,
	})
	require.NoError(t, err)

	boom := errors.New("sheet unavailable")
	w := NewMirrorWorker(repo, &recordingWriter{err: boom}, 10)

	err = w.StartupBackfill(ctx)
	assert.ErrorIs(t, err, boom)

	// The backlog is untouched for the next attempt.
	pending, listErr := repo.ListUnmirrored(ctx, 10)
	require.NoError(t, listErr)
	assert.Len(t, pending, 1)
}
