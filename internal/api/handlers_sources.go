package api

import (
	"encoding/json"
	"net/http"
	"time"

	"tally/internal/core"
)

type sourceResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Balance   string `json:"balance"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
}

func toSourceResponse(s core.Source) sourceResponse {
	return sourceResponse{
		ID:        s.ID,
		Name:      s.Name,
		Balance:   s.Balance.String(),
		Type:      string(s.Type),
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type initUserRequest struct {
	PlatformID  int64  `json:"platform_id"`
	DisplayName string `json:"display_name"`
}

func (s *Server) handleInitUser(w http.ResponseWriter, r *http.Request) {
	var req initUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, ok := s.resolveUser(w, r, req.PlatformID, req.DisplayName)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      user.ID,
		"display_name": user.DisplayName,
	})
}

type createSourceRequest struct {
	PlatformID  int64       `json:"platform_id"`
	DisplayName string      `json:"display_name"`
	Name        string      `json:"name"`
	Balance     json.Number `json:"balance"`
	Type        string      `json:"type"`
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, ok := s.resolveUser(w, r, req.PlatformID, req.DisplayName)
	if !ok {
		return
	}

	var balanceCents int64
	if req.Balance != "" {
		var err error
		balanceCents, err = parseCents(req.Balance, true)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}
	typ := core.SourceType(req.Type)
	if req.Type == "" {
		typ = core.SourceOther
	}

	src, err := s.ledger.CreateSource(r.Context(), user.ID, req.Name, balanceCents, typ)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateUser(user.ID)
	writeJSON(w, http.StatusCreated, toSourceResponse(src))
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	user, ok := s.resolveUser(w, r, platformIDFromQuery(r), "")
	if !ok {
		return
	}

	sources, err := s.ledger.ListSources(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]sourceResponse, 0, len(sources))
	for _, src := range sources {
		resp = append(resp, toSourceResponse(src))
	}
	writeJSON(w, http.StatusOK, resp)
}

type setBalanceRequest struct {
	PlatformID int64       `json:"platform_id"`
	Balance    json.Number `json:"balance"`
}

func (s *Server) handleSetSourceBalance(w http.ResponseWriter, r *http.Request) {
	sourceID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req setBalanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, ok := s.resolveUser(w, r, req.PlatformID, "")
	if !ok {
		return
	}

	balanceCents, err := parseCents(req.Balance, true)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.ledger.SetSourceBalance(r.Context(), user.ID, sourceID, balanceCents); err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateUser(user.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "source updated"})
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	sourceID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, ok := s.resolveUser(w, r, platformIDFromQuery(r), "")
	if !ok {
		return
	}

	if err := s.ledger.DeleteSource(r.Context(), user.ID, sourceID); err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateUser(user.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "source deleted"})
}
