package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"tally/internal/core"
	"tally/internal/storage"
)

type expenseResponse struct {
	ID         int64  `json:"id"`
	SourceID   int64  `json:"source_id"`
	SourceName string `json:"source_name"`
	SourceType string `json:"source_type"`
	Amount     string `json:"amount"`
	Category   string `json:"category"`
	Note       string `json:"note,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func toExpenseResponse(e core.Expense) expenseResponse {
	return expenseResponse{
		ID:         e.ID,
		SourceID:   e.SourceID,
		SourceName: e.SourceName,
		SourceType: string(e.SourceType),
		Amount:     e.Amount.String(),
		Category:   string(e.Category),
		Note:       e.Note,
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type addExpenseRequest struct {
	PlatformID int64       `json:"platform_id"`
	SourceID   int64       `json:"source_id"`
	Amount     json.Number `json:"amount"`
	Category   string      `json:"category"`
	Note       string      `json:"note"`
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	var req addExpenseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, ok := s.resolveUser(w, r, req.PlatformID, "")
	if !ok {
		return
	}

	amountCents, err := parseCents(req.Amount, false)
	if err != nil {
		writeError(w, r, err)
		return
	}

	exp, err := s.ledger.AddExpense(r.Context(), user.ID, req.SourceID, amountCents, core.Category(req.Category), req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateUser(user.ID)
	writeJSON(w, http.StatusCreated, toExpenseResponse(exp))
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	user, ok := s.resolveUser(w, r, platformIDFromQuery(r), "")
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := storage.ExpenseFilter{
		Category: core.Category(q.Get("category")),
	}
	filter.SourceID, _ = strconv.ParseInt(q.Get("source_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	expenses, err := s.ledger.ListExpenses(r.Context(), user.ID, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		resp = append(resp, toExpenseResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	expenseID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, ok := s.resolveUser(w, r, platformIDFromQuery(r), "")
	if !ok {
		return
	}

	if err := s.ledger.DeleteExpense(r.Context(), user.ID, expenseID); err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateUser(user.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "expense deleted, balance restored"})
}
