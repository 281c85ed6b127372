// Package stats is the read side of the tracker: aggregated views over the
// live expense set. It never mutates anything.
//
// All time bucketing uses UTC; expense timestamps are stored in UTC and a
// calendar day is a UTC day.
package stats

import (
	"context"
	"fmt"
	"time"

	"tally/internal/core"
	"tally/internal/storage"
)

type Aggregator struct {
	store *storage.SQLiteRepository
}

func New(store *storage.SQLiteRepository) *Aggregator {
	return &Aggregator{store: store}
}

// MonthlyByCategory sums live expense amounts per category for the given
// calendar month, largest first, with the month's grand total. Categories
// with no spend are omitted. An empty month for a known user is not an
// error.
func (a *Aggregator) MonthlyByCategory(ctx context.Context, userID int64, year, month int) (core.MonthOverview, error) {
	if month < 1 || month > 12 {
		return core.MonthOverview{}, fmt.Errorf("%w: month %d out of range", core.ErrInvalidInput, month)
	}
	if _, err := a.store.GetUser(ctx, userID); err != nil {
		return core.MonthOverview{}, err
	}

	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	totals, err := a.store.CategoryTotals(ctx, userID, from, to)
	if err != nil {
		return core.MonthOverview{}, err
	}

	overview := core.MonthOverview{
		Year:       year,
		Month:      month,
		ByCategory: totals,
	}
	for _, ca := range totals {
		overview.Total.Cents += ca.Total.Cents
	}
	return overview, nil
}

// WeeklyDaily returns one total per day for the 7 UTC days ending at
// referenceDate inclusive, oldest first. Days with no spend report zero.
func (a *Aggregator) WeeklyDaily(ctx context.Context, userID int64, referenceDate time.Time) ([]core.DayTotal, error) {
	if _, err := a.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	ref := referenceDate.UTC()
	last := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	from := last.AddDate(0, 0, -6)
	to := last.AddDate(0, 0, 1)

	byDay, err := a.store.DailyTotals(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	days := make([]core.DayTotal, 0, 7)
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		days = append(days, core.DayTotal{
			Day:   d,
			Total: core.Money{Cents: byDay[d.Format("2006-01-02")]},
		})
	}
	return days, nil
}

// BySource reports the live spend attributed to each of the user's
// sources, including sources with no expenses.
func (a *Aggregator) BySource(ctx context.Context, userID int64) ([]core.SourceTotal, error) {
	if _, err := a.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return a.store.SourceTotals(ctx, userID)
}
