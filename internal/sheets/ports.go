// Package sheets defines the outbound port for the ledger mirror: an
// append-only copy of the expense stream kept outside the tracker.
package sheets

import (
	"context"
	"time"

	"tally/internal/core"
)

// Row is one mirrored ledger line. Deletions are mirrored as reversal rows
// with a negative amount; the mirror itself is append-only.
type Row struct {
	When     time.Time
	UserID   int64
	Source   string
	Category string
	Note     string
	Amount   core.Money
}

// MirrorWriter appends rows to the ledger mirror.
type MirrorWriter interface {
	AppendRow(ctx context.Context, row Row) error
}
