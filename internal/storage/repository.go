// Package storage persists the ledger in SQLite. Every balance-affecting
// mutation runs as a single transaction with a relative balance update,
// which serializes concurrent writers against the same source and keeps the
// expense row and the debit inseparable.
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

	"tally/internal/core"

	_ "modernc.org/sqlite"
)

// Timestamps are stored as RFC3339 UTC strings so lexicographic range
// scans line up with chronological order.
const timeLayout = time.RFC3339

// ExpenseFilter narrows ListExpenses. Zero values mean "no filter"; a zero
// Limit falls back to DefaultExpenseLimit.
type ExpenseFilter struct {
	SourceID int64
	Category core.Category
	Limit    int
}

// DefaultExpenseLimit bounds unfiltered expense listings.
const DefaultExpenseLimit = 50

type SQLiteRepository struct {
	db *sql.DB
}

// dsn carries the pragmas in the connection string so every pooled
// connection gets them, not just the one a bare PRAGMA exec happens to
// land on. Transactions start immediate to take the write lock up front
// instead of failing on a deferred upgrade.
func dsn(dbPath string) string {
	return "file:" + dbPath + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection makes
	// concurrent writers queue here instead of racing for the file lock.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// GetOrCreateUser resolves a platform identity to a user row, creating it
// on first contact. Repeat calls are idempotent; a non-empty display name
// refreshes the stored one.
func (r *SQLiteRepository) GetOrCreateUser(ctx context.Context, platformID int64, displayName string) (core.User, error) {
	u, err := r.userByPlatformID(ctx, platformID)
	switch {
	case err == nil:
		if displayName != "" && displayName != u.DisplayName {
			if _, err := r.db.ExecContext(ctx,
				"UPDATE users SET display_name = ? WHERE id = ?", displayName, u.ID); err != nil {
				return core.User{}, fmt.Errorf("update display name: %w", err)
			}
			u.DisplayName = displayName
		}
		return u, nil
	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().UTC()
		res, err := r.db.ExecContext(ctx,
			"INSERT INTO users (platform_id, display_name, created_at) VALUES (?, ?, ?)",
			platformID, displayName, now.Format(timeLayout))
		if err != nil {
			// A concurrent first contact may have won the insert.
			if u, selErr := r.userByPlatformID(ctx, platformID); selErr == nil {
				return u, nil
			}
			return core.User{}, fmt.Errorf("insert user: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return core.User{}, fmt.Errorf("user insert id: %w", err)
		}
		slog.InfoContext(ctx, "User created", "user_id", id, "platform_id", platformID)
		return core.User{ID: id, PlatformID: platformID, DisplayName: displayName, CreatedAt: now}, nil
	default:
		return core.User{}, fmt.Errorf("select user: %w", err)
	}
}

func (r *SQLiteRepository) userByPlatformID(ctx context.Context, platformID int64) (core.User, error) {
	var u core.User
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		"SELECT id, platform_id, display_name, created_at FROM users WHERE platform_id = ?",
		platformID,
	).Scan(&u.ID, &u.PlatformID, &u.DisplayName, &createdAt)
	if err != nil {
		return core.User{}, err
	}
	u.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return u, nil
}

// GetUser returns the user row for id, or core.ErrNotFound.
func (r *SQLiteRepository) GetUser(ctx context.Context, userID int64) (core.User, error) {
	var u core.User
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		"SELECT id, platform_id, display_name, created_at FROM users WHERE id = ?",
		userID,
	).Scan(&u.ID, &u.PlatformID, &u.DisplayName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, fmt.Errorf("%w: user %d", core.ErrNotFound, userID)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("select user: %w", err)
	}
	u.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return u, nil
}

// CreateSource inserts a source with its initial balance as the baseline.
func (r *SQLiteRepository) CreateSource(ctx context.Context, s core.Source) (core.Source, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO money_sources (user_id, name, balance_cents, type, created_at) VALUES (?, ?, ?, ?, ?)",
		s.UserID, s.Name, s.Balance.Cents, string(s.Type), now.Format(timeLayout))
	if err != nil {
		return core.Source{}, fmt.Errorf("insert source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Source{}, fmt.Errorf("source insert id: %w", err)
	}
	s.ID = id
	s.CreatedAt = now
	return s, nil
}

// GetSource returns a source scoped to its owner. A source owned by another
// user is reported as core.ErrNotFound, identical to a missing id.
func (r *SQLiteRepository) GetSource(ctx context.Context, userID, sourceID int64) (core.Source, error) {
	var s core.Source
	var typ, createdAt string
	err := r.db.QueryRowContext(ctx,
		"SELECT id, user_id, name, balance_cents, type, created_at FROM money_sources WHERE id = ? AND user_id = ?",
		sourceID, userID,
	).Scan(&s.ID, &s.UserID, &s.Name, &s.Balance.Cents, &typ, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Source{}, fmt.Errorf("%w: source %d", core.ErrNotFound, sourceID)
	}
	if err != nil {
		return core.Source{}, fmt.Errorf("select source: %w", err)
	}
	s.Type = core.SourceType(typ)
	s.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return s, nil
}

// ListSources returns the user's sources, newest first.
func (r *SQLiteRepository) ListSources(ctx context.Context, userID int64) ([]core.Source, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, user_id, name, balance_cents, type, created_at FROM money_sources WHERE user_id = ? ORDER BY created_at DESC, id DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("select sources: %w", err)
	}
	defer rows.Close()

	var sources []core.Source
	for rows.Next() {
		var s core.Source
		var typ, createdAt string
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &s.Balance.Cents, &typ, &createdAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		s.Type = core.SourceType(typ)
		s.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		sources = append(sources, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return sources, nil
}

// SetSourceBalance overrides a source's balance, re-baselining the
// balance invariant from the new value.
func (r *SQLiteRepository) SetSourceBalance(ctx context.Context, userID, sourceID, newBalanceCents int64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE money_sources SET balance_cents = ? WHERE id = ? AND user_id = ?",
		newBalanceCents, sourceID, userID)
	if err != nil {
		return fmt.Errorf("update source balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update source balance: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: source %d", core.ErrNotFound, sourceID)
	}
	return nil
}

// DeleteSource removes a source that has no expenses recorded against it.
// A source with live expenses yields core.ErrConflict; expenses are never
// silently orphaned.
func (r *SQLiteRepository) DeleteSource(ctx context.Context, userID, sourceID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM money_sources WHERE id = ? AND user_id = ?", sourceID, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: source %d", core.ErrNotFound, sourceID)
	}
	if err != nil {
		return fmt.Errorf("select source: %w", err)
	}

	var count int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM expenses WHERE source_id = ?", sourceID).Scan(&count); err != nil {
		return fmt.Errorf("count source expenses: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: source %d has %d expenses", core.ErrConflict, sourceID, count)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM money_sources WHERE id = ?", sourceID); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete source: %w", err)
	}
	return nil
}

// CreateExpense inserts an expense and debits its source in one
// transaction. The relative balance update means two concurrent inserts
// against the same source cannot lose each other's debit.
func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Expense{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var srcName, srcType string
	err = tx.QueryRowContext(ctx,
		"SELECT name, type FROM money_sources WHERE id = ? AND user_id = ?",
		e.SourceID, e.UserID).Scan(&srcName, &srcType)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("%w: source %d", core.ErrNotFound, e.SourceID)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("select source: %w", err)
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO expenses (user_id, source_id, amount_cents, category, note, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		e.UserID, e.SourceID, e.Amount.Cents, string(e.Category), e.Note, e.CreatedAt.Format(timeLayout))
	if err != nil {
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE money_sources SET balance_cents = balance_cents - ? WHERE id = ?",
		e.Amount.Cents, e.SourceID); err != nil {
		return core.Expense{}, fmt.Errorf("debit source: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Expense{}, fmt.Errorf("commit expense: %w", err)
	}

	e.ID = id
	e.SourceName = srcName
	e.SourceType = core.SourceType(srcType)
	return e, nil
}

// DeleteExpense removes an expense and credits its source in one
// transaction, returning the deleted row.
func (r *SQLiteRepository) DeleteExpense(ctx context.Context, userID, expenseID int64) (core.Expense, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Expense{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := scanExpense(tx.QueryRowContext(ctx, expenseQuery+" WHERE e.id = ? AND e.user_id = ?", expenseID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("%w: expense %d", core.ErrNotFound, expenseID)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("select expense: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE money_sources SET balance_cents = balance_cents + ? WHERE id = ?",
		e.Amount.Cents, e.SourceID); err != nil {
		return core.Expense{}, fmt.Errorf("credit source: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM expenses WHERE id = ?", expenseID); err != nil {
		return core.Expense{}, fmt.Errorf("delete expense: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Expense{}, fmt.Errorf("commit delete expense: %w", err)
	}
	return e, nil
}

const expenseQuery = `
SELECT e.id, e.user_id, e.source_id, e.amount_cents, e.category, e.note, e.created_at, e.mirrored, ms.name, ms.type
FROM expenses e
JOIN money_sources ms ON e.source_id = ms.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var e core.Expense
	var category, createdAt, srcType string
	var mirrored int64
	if err := row.Scan(&e.ID, &e.UserID, &e.SourceID, &e.Amount.Cents, &category, &e.Note, &createdAt, &mirrored, &e.SourceName, &srcType); err != nil {
		return core.Expense{}, err
	}
	e.Category = core.Category(category)
	e.SourceType = core.SourceType(srcType)
	e.Mirrored = mirrored != 0
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return e, nil
}

// ListExpenses returns the user's expenses newest first, with source name
// and type joined in.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, userID int64, filter ExpenseFilter) ([]core.Expense, error) {
	query := expenseQuery + " WHERE e.user_id = ?"
	args := []any{userID}
	if filter.SourceID != 0 {
		query += " AND e.source_id = ?"
		args = append(args, filter.SourceID)
	}
	if filter.Category != "" {
		query += " AND e.category = ?"
		args = append(args, string(filter.Category))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultExpenseLimit
	}
	query += " ORDER BY e.created_at DESC, e.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return expenses, nil
}

// GetExpense returns one expense row without user scoping. Used by the
// mirror worker, which acts on ids taken from the event stream.
func (r *SQLiteRepository) GetExpense(ctx context.Context, expenseID int64) (core.Expense, error) {
	e, err := scanExpense(r.db.QueryRowContext(ctx, expenseQuery+" WHERE e.id = ?", expenseID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("%w: expense %d", core.ErrNotFound, expenseID)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("select expense: %w", err)
	}
	return e, nil
}

// CategoryTotals sums live expense amounts per category inside [from, to),
// largest first. Categories with no spend are absent.
func (r *SQLiteRepository) CategoryTotals(ctx context.Context, userID int64, from, to time.Time) ([]core.CategoryAmount, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT category, SUM(amount_cents) AS total
FROM expenses
WHERE user_id = ? AND created_at >= ? AND created_at < ?
GROUP BY category
ORDER BY total DESC`,
		userID, from.UTC().Format(timeLayout), to.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("select category totals: %w", err)
	}
	defer rows.Close()

	var totals []core.CategoryAmount
	for rows.Next() {
		var category string
		var cents int64
		if err := rows.Scan(&category, &cents); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		totals = append(totals, core.CategoryAmount{
			Category: core.Category(category),
			Total:    core.Money{Cents: cents},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category totals: %w", err)
	}
	return totals, nil
}

// DailyTotals sums live expense amounts per UTC calendar day inside
// [from, to), keyed by "YYYY-MM-DD". Days without spend are absent.
func (r *SQLiteRepository) DailyTotals(ctx context.Context, userID int64, from, to time.Time) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT date(created_at) AS day, SUM(amount_cents) AS total
FROM expenses
WHERE user_id = ? AND created_at >= ? AND created_at < ?
GROUP BY day`,
		userID, from.UTC().Format(timeLayout), to.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("select daily totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var day string
		var cents int64
		if err := rows.Scan(&day, &cents); err != nil {
			return nil, fmt.Errorf("scan daily total: %w", err)
		}
		totals[day] = cents
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily totals: %w", err)
	}
	return totals, nil
}

// SourceTotals reports the live spend attributed to each of the user's
// sources, including sources with no expenses, largest spend first.
func (r *SQLiteRepository) SourceTotals(ctx context.Context, userID int64) ([]core.SourceTotal, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT ms.id, ms.name, ms.balance_cents, COALESCE(SUM(e.amount_cents), 0) AS spent
FROM money_sources ms
LEFT JOIN expenses e ON ms.id = e.source_id
WHERE ms.user_id = ?
GROUP BY ms.id, ms.name, ms.balance_cents
ORDER BY spent DESC, ms.id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("select source totals: %w", err)
	}
	defer rows.Close()

	var totals []core.SourceTotal
	for rows.Next() {
		var st core.SourceTotal
		if err := rows.Scan(&st.SourceID, &st.Name, &st.Balance.Cents, &st.Spent.Cents); err != nil {
			return nil, fmt.Errorf("scan source total: %w", err)
		}
		totals = append(totals, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source totals: %w", err)
	}
	return totals, nil
}

// ListUnmirrored returns expenses not yet exported to the ledger mirror,
// oldest first.
func (r *SQLiteRepository) ListUnmirrored(ctx context.Context, limit int) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		expenseQuery+" WHERE e.mirrored = 0 ORDER BY e.id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("select unmirrored expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unmirrored expenses: %w", err)
	}
	return expenses, nil
}

// MarkMirrored flags an expense as exported.
func (r *SQLiteRepository) MarkMirrored(ctx context.Context, expenseID int64) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE expenses SET mirrored = 1 WHERE id = ?", expenseID); err != nil {
		return fmt.Errorf("mark expense mirrored: %w", err)
	}
	return nil
}
