package core

import (
	"errors"
	"strings"
	"testing"
)

func TestExpenseValidateNew(t *testing.T) {
	valid := Expense{
		Amount:   Money{Cents: 1500},
		Category: CategoryFood,
		Note:     "groceries",
	}

	tests := []struct {
		name    string
		mutate  func(e *Expense)
		wantErr bool
	}{
		{name: "valid", mutate: func(e *Expense) {}},
		{name: "no note", mutate: func(e *Expense) { e.Note = "" }},
		{name: "note at limit", mutate: func(e *Expense) { e.Note = strings.Repeat("x", 500) }},
		{name: "zero amount", mutate: func(e *Expense) { e.Amount.Cents = 0 }, wantErr: true},
		{name: "negative amount", mutate: func(e *Expense) { e.Amount.Cents = -100 }, wantErr: true},
		{name: "unknown category", mutate: func(e *Expense) { e.Category = "Groceries" }, wantErr: true},
		{name: "empty category", mutate: func(e *Expense) { e.Category = "" }, wantErr: true},
		{name: "note too long", mutate: func(e *Expense) { e.Note = strings.Repeat("x", 501) }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := e.ValidateNew()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("ValidateNew() error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateNew() unexpected error: %v", err)
			}
		})
	}
}

func TestSourceValidateNew(t *testing.T) {
	valid := Source{Name: "Main card", Type: SourceCard}

	tests := []struct {
		name    string
		mutate  func(s *Source)
		wantErr bool
	}{
		{name: "valid", mutate: func(s *Source) {}},
		{name: "negative balance allowed", mutate: func(s *Source) { s.Balance.Cents = -5000 }},
		{name: "name at limit", mutate: func(s *Source) { s.Name = strings.Repeat("n", 200) }},
		{name: "empty name", mutate: func(s *Source) { s.Name = "" }, wantErr: true},
		{name: "whitespace name", mutate: func(s *Source) { s.Name = "   " }, wantErr: true},
		{name: "name too long", mutate: func(s *Source) { s.Name = strings.Repeat("n", 201) }, wantErr: true},
		{name: "unknown type", mutate: func(s *Source) { s.Type = "crypto" }, wantErr: true},
		{name: "empty type", mutate: func(s *Source) { s.Type = "" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			err := s.ValidateNew()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("ValidateNew() error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateNew() unexpected error: %v", err)
			}
		})
	}
}

func TestCategories(t *testing.T) {
	cats := Categories()
	if len(cats) != 7 {
		t.Fatalf("Categories() returned %d entries, want 7", len(cats))
	}
	for _, c := range cats {
		if !c.Valid() {
			t.Errorf("category %q from Categories() is not Valid", c)
		}
	}
}
