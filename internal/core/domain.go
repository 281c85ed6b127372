package core

import (
	"fmt"
	"strings"
	"time"
)

// Expense categories form a closed set. Unknown categories are rejected at
// the validation boundary rather than stored as free text.
const (
	CategoryFood          Category = "Food"
	CategoryTransport     Category = "Transport"
	CategoryShopping      Category = "Shopping"
	CategoryBills         Category = "Bills"
	CategoryEntertainment Category = "Entertainment"
	CategoryHealth        Category = "Health"
	CategoryOther         Category = "Other"
)

// Source types mirror the payment methods the tracker knows about. They are
// descriptive only and never drive behavior.
const (
	SourceCash   SourceType = "cash"
	SourceCard   SourceType = "card"
	SourcePaypal SourceType = "paypal"
	SourceBank   SourceType = "bank"
	SourceOther  SourceType = "other"
)

type (
	Category   string
	SourceType string

	// Money is an amount in integer minor units (cents). All arithmetic is
	// exact; floats appear only at display boundaries.
	Money struct {
		Cents int64
	}

	// User is a tracker account keyed by the external platform identity.
	// Created on first contact, never deleted.
	User struct {
		ID          int64
		PlatformID  int64
		DisplayName string
		CreatedAt   time.Time
	}

	// Source is a named account or payment method with a tracked balance.
	// The balance always equals the baseline minus the sum of live expense
	// amounts recorded since the baseline was last set.
	Source struct {
		ID        int64
		UserID    int64
		Name      string
		Balance   Money
		Type      SourceType
		CreatedAt time.Time
	}

	// Expense is a single debit against a source. Expenses are immutable;
	// a correction is a delete followed by a re-add. SourceName and
	// SourceType are denormalized from the owning source on reads.
	// Mirrored reports whether the row has been exported to the ledger
	// mirror already.
	Expense struct {
		ID         int64
		UserID     int64
		SourceID   int64
		Amount     Money
		Category   Category
		Note       string
		CreatedAt  time.Time
		SourceName string
		SourceType SourceType
		Mirrored   bool
	}
)

// Categories returns the closed category set in display order.
func Categories() []Category {
	return []Category{
		CategoryFood, CategoryTransport, CategoryShopping, CategoryBills,
		CategoryEntertainment, CategoryHealth, CategoryOther,
	}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryFood, CategoryTransport, CategoryShopping, CategoryBills,
		CategoryEntertainment, CategoryHealth, CategoryOther:
		return true
	}
	return false
}

func (t SourceType) Valid() bool {
	switch t {
	case SourceCash, SourceCard, SourcePaypal, SourceBank, SourceOther:
		return true
	}
	return false
}

// Validate checks an amount used to debit a source. Balances themselves may
// go negative; only expense amounts must be strictly positive.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	return nil
}

// ValidateNew checks the fields a caller supplies when recording an expense.
// Ownership of the source is checked by the store, not here.
func (e Expense) ValidateNew() error {
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if !e.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, string(e.Category))
	}
	if len(e.Note) > 500 {
		return fmt.Errorf("%w: note too long (max 500 characters)", ErrInvalidInput)
	}
	return nil
}

// ValidateNew checks the fields a caller supplies when creating a source.
// The initial balance may be any signed value, including negative.
func (s Source) ValidateNew() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: source name must not be empty", ErrInvalidInput)
	}
	if len(s.Name) > 200 {
		return fmt.Errorf("%w: source name too long (max 200 characters)", ErrInvalidInput)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: unknown source type %q", ErrInvalidInput, string(s.Type))
	}
	return nil
}
