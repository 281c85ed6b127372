package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"tally/internal/core"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError maps the core error kinds onto HTTP statuses. Anything that is
// not a caller-input problem is a 500 and gets logged with its cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		slog.ErrorContext(r.Context(), "Request failed",
			"error", err, "method", r.Method, "url", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// decodeBody decodes a JSON request body into dst, rejecting unknown junk
// bodies with a 400.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		badRequest(w, "malformed JSON body")
		return false
	}
	return true
}

// resolveUser turns the caller's platform id into a ledger user, creating
// the user on first contact.
func (s *Server) resolveUser(w http.ResponseWriter, r *http.Request, platformID int64, displayName string) (core.User, bool) {
	if platformID == 0 {
		badRequest(w, "platform_id is required")
		return core.User{}, false
	}
	user, err := s.ledger.GetOrCreateUser(r.Context(), platformID, displayName)
	if err != nil {
		writeError(w, r, err)
		return core.User{}, false
	}
	return user, true
}

// platformIDFromQuery reads platform_id for the GET/DELETE endpoints, where
// identity travels as a query parameter.
func platformIDFromQuery(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.URL.Query().Get("platform_id"), 10, 64)
	return id
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed id", core.ErrInvalidInput)
	}
	return id, nil
}

// parseCents reads a JSON amount field, which may arrive as a number or a
// string, into exact cents.
func parseCents(raw json.Number, signed bool) (int64, error) {
	if signed {
		return core.ParseSignedCents(raw.String())
	}
	return core.ParseDecimalToCents(raw.String())
}
