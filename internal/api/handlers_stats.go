package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

type categoryTotal struct {
	Category string `json:"category"`
	Total    string `json:"total"`
}

type monthlyStatsResponse struct {
	Year       int             `json:"year"`
	Month      int             `json:"month"`
	Total      string          `json:"total"`
	Categories []categoryTotal `json:"categories"`
}

func (s *Server) handleMonthlyStats(w http.ResponseWriter, r *http.Request) {
	user, ok := s.resolveUser(w, r, platformIDFromQuery(r), "")
	if !ok {
		return
	}

	now := time.Now().UTC()
	year, month := now.Year(), int(now.Month())
	q := r.URL.Query()
	if v := q.Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, "malformed year, want a number")
			return
		}
		year = y
	}
	if v := q.Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, "malformed month, want a number")
			return
		}
		month = m
	}

	key := fmt.Sprintf("%d:%04d-%02d", user.ID, year, month)
	overview, hit := s.monthlyCache.Get(key)
	if !hit {
		var err error
		overview, err = s.stats.MonthlyByCategory(r.Context(), user.ID, year, month)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.monthlyCache.Set(key, overview)
	}

	resp := monthlyStatsResponse{
		Year:       overview.Year,
		Month:      overview.Month,
		Total:      overview.Total.String(),
		Categories: make([]categoryTotal, 0, len(overview.ByCategory)),
	}
	for _, ca := range overview.ByCategory {
		resp.Categories = append(resp.Categories, categoryTotal{
			Category: string(ca.Category),
			Total:    ca.Total.String(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type dayTotal struct {
	Date  string `json:"date"`
	Total string `json:"total"`
}

func (s *Server) handleWeeklyStats(w http.ResponseWriter, r *http.Request) {
	user, ok := s.resolveUser(w, r, platformIDFromQuery(r), "")
	if !ok {
		return
	}

	ref := time.Now().UTC()
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			badRequest(w, "malformed date, want YYYY-MM-DD")
			return
		}
		ref = parsed
	}

	key := fmt.Sprintf("%d:%s", user.ID, ref.Format("2006-01-02"))
	days, hit := s.weeklyCache.Get(key)
	if !hit {
		var err error
		days, err = s.stats.WeeklyDaily(r.Context(), user.ID, ref)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.weeklyCache.Set(key, days)
	}

	resp := make([]dayTotal, 0, len(days))
	for _, d := range days {
		resp = append(resp, dayTotal{
			Date:  d.Day.Format("2006-01-02"),
			Total: d.Total.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"daily": resp})
}

type sourceStat struct {
	SourceID int64  `json:"source_id"`
	Name     string `json:"name"`
	Balance  string `json:"balance"`
	Spent    string `json:"spent"`
}

func (s *Server) handleSourceStats(w http.ResponseWriter, r *http.Request) {
	user, ok := s.resolveUser(w, r, platformIDFromQuery(r), "")
	if !ok {
		return
	}

	key := fmt.Sprintf("%d:", user.ID)
	totals, hit := s.sourcesCache.Get(key)
	if !hit {
		var err error
		totals, err = s.stats.BySource(r.Context(), user.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.sourcesCache.Set(key, totals)
	}

	resp := make([]sourceStat, 0, len(totals))
	for _, st := range totals {
		resp = append(resp, sourceStat{
			SourceID: st.SourceID,
			Name:     st.Name,
			Balance:  st.Balance.String(),
			Spent:    st.Spent.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": resp})
}
