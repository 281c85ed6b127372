package core

import "time"

// CategoryAmount is a spend total attributed to one category.
type CategoryAmount struct {
	Category Category
	Total    Money
}

// MonthOverview summarizes one calendar month of spending. Categories with
// no spend are omitted; ByCategory is ordered by total, largest first.
type MonthOverview struct {
	Year       int
	Month      int // 1-12
	Total      Money
	ByCategory []CategoryAmount
}

// DayTotal is the spend recorded on a single calendar day (UTC).
type DayTotal struct {
	Day   time.Time
	Total Money
}

// SourceTotal is the live spend attributed to one source, alongside its
// current balance. Sources with no expenses report a zero total.
type SourceTotal struct {
	SourceID int64
	Name     string
	Balance  Money
	Spent    Money
}
