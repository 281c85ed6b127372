package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"tally/internal/ledger"
	"tally/internal/stats"
	"tally/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	svc := ledger.New(repo, nil)
	t.Cleanup(func() { svc.Close() })
	srv := NewServer(":0", svc, stats.New(repo))
	t.Cleanup(func() { srv.cacheManager.Stop() })
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := doJSON(t, srv, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
}

func TestInitUser(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/init", `{"platform_id": 77, "display_name": "Alice"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("init status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		UserID      int64  `json:"user_id"`
		DisplayName string `json:"display_name"`
	}
	decode(t, rr, &resp)
	if resp.UserID == 0 || resp.DisplayName != "Alice" {
		t.Fatalf("unexpected init response: %+v", resp)
	}

	// Missing platform id is a caller error.
	rr = doJSON(t, srv, http.MethodPost, "/api/init", `{"display_name": "Nobody"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("init without platform_id status=%d", rr.Code)
	}

	// Malformed body.
	rr = doJSON(t, srv, http.MethodPost, "/api/init", `{`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status=%d", rr.Code)
	}
}

func TestSourceLifecycle(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/sources",
		`{"platform_id": 1, "name": "Checking", "balance": "150.00", "type": "bank"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create source status=%d body=%s", rr.Code, rr.Body.String())
	}
	var src struct {
		ID      int64  `json:"id"`
		Name    string `json:"name"`
		Balance string `json:"balance"`
		Type    string `json:"type"`
	}
	decode(t, rr, &src)
	if src.Name != "Checking" || src.Balance != "150.00" || src.Type != "bank" {
		t.Fatalf("unexpected source: %+v", src)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/sources?platform_id=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list sources status=%d", rr.Code)
	}
	var list []struct {
		ID int64 `json:"id"`
	}
	decode(t, rr, &list)
	if len(list) != 1 || list[0].ID != src.ID {
		t.Fatalf("unexpected source list: %+v", list)
	}

	rr = doJSON(t, srv, http.MethodPut, fmt.Sprintf("/api/sources/%d", src.ID),
		`{"platform_id": 1, "balance": "-20.50"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("set balance status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/sources/%d?platform_id=1", src.ID), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete source status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/sources?platform_id=1", "")
	decode(t, rr, &list)
	if len(list) != 0 {
		t.Fatalf("source survived deletion: %+v", list)
	}
}

func TestSourceErrors(t *testing.T) {
	srv := newTestServer(t)

	// Empty name.
	rr := doJSON(t, srv, http.MethodPost, "/api/sources", `{"platform_id": 1, "name": ""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty name status=%d", rr.Code)
	}

	// Unparsable balance.
	rr = doJSON(t, srv, http.MethodPost, "/api/sources",
		`{"platform_id": 1, "name": "W", "balance": "lots"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad balance status=%d", rr.Code)
	}

	// Unknown source id.
	rr = doJSON(t, srv, http.MethodPut, "/api/sources/999", `{"platform_id": 1, "balance": "1.00"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown source status=%d", rr.Code)
	}
	rr = doJSON(t, srv, http.MethodDelete, "/api/sources/999?platform_id=1", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("delete unknown source status=%d", rr.Code)
	}
}

func TestExpenseLifecycle(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/sources",
		`{"platform_id": 1, "name": "Cash", "balance": "100.00", "type": "cash"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create source status=%d", rr.Code)
	}
	var src struct {
		ID int64 `json:"id"`
	}
	decode(t, rr, &src)

	rr = doJSON(t, srv, http.MethodPost, "/api/expenses",
		fmt.Sprintf(`{"platform_id": 1, "source_id": %d, "amount": "12.34", "category": "Food", "note": "lunch"}`, src.ID))
	if rr.Code != http.StatusCreated {
		t.Fatalf("add expense status=%d body=%s", rr.Code, rr.Body.String())
	}
	var exp struct {
		ID         int64  `json:"id"`
		Amount     string `json:"amount"`
		Category   string `json:"category"`
		SourceName string `json:"source_name"`
	}
	decode(t, rr, &exp)
	if exp.Amount != "12.34" || exp.Category != "Food" || exp.SourceName != "Cash" {
		t.Fatalf("unexpected expense: %+v", exp)
	}

	// Balance reflects the debit.
	rr = doJSON(t, srv, http.MethodGet, "/api/sources?platform_id=1", "")
	var sources []struct {
		Balance string `json:"balance"`
	}
	decode(t, rr, &sources)
	if len(sources) != 1 || sources[0].Balance != "87.66" {
		t.Fatalf("unexpected balance after expense: %+v", sources)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/expenses?platform_id=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list expenses status=%d", rr.Code)
	}
	var expenses []struct {
		ID int64 `json:"id"`
	}
	decode(t, rr, &expenses)
	if len(expenses) != 1 || expenses[0].ID != exp.ID {
		t.Fatalf("unexpected expense list: %+v", expenses)
	}

	rr = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/expenses/%d?platform_id=1", exp.ID), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete expense status=%d body=%s", rr.Code, rr.Body.String())
	}

	// Balance restored.
	rr = doJSON(t, srv, http.MethodGet, "/api/sources?platform_id=1", "")
	decode(t, rr, &sources)
	if sources[0].Balance != "100.00" {
		t.Fatalf("balance not restored: %+v", sources)
	}
}

func TestExpenseErrors(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/sources",
		`{"platform_id": 1, "name": "Cash", "type": "cash"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create source status=%d", rr.Code)
	}
	var src struct {
		ID int64 `json:"id"`
	}
	decode(t, rr, &src)

	tests := []struct {
		name string
		body string
		want int
	}{
		{
			name: "zero amount",
			body: fmt.Sprintf(`{"platform_id": 1, "source_id": %d, "amount": "0", "category": "Food"}`, src.ID),
			want: http.StatusBadRequest,
		},
		{
			name: "negative amount",
			body: fmt.Sprintf(`{"platform_id": 1, "source_id": %d, "amount": "-5.00", "category": "Food"}`, src.ID),
			want: http.StatusBadRequest,
		},
		{
			name: "unknown category",
			body: fmt.Sprintf(`{"platform_id": 1, "source_id": %d, "amount": "5.00", "category": "Luxury"}`, src.ID),
			want: http.StatusBadRequest,
		},
		{
			name: "unknown source",
			body: `{"platform_id": 1, "source_id": 999, "amount": "5.00", "category": "Food"}`,
			want: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, srv, http.MethodPost, "/api/expenses", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}

	rr = doJSON(t, srv, http.MethodDelete, "/api/expenses/999?platform_id=1", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("delete unknown expense status=%d", rr.Code)
	}
}

func TestDeleteSourceWithExpensesIsConflict(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/sources",
		`{"platform_id": 1, "name": "Cash", "balance": "50.00", "type": "cash"}`)
	var src struct {
		ID int64 `json:"id"`
	}
	decode(t, rr, &src)

	rr = doJSON(t, srv, http.MethodPost, "/api/expenses",
		fmt.Sprintf(`{"platform_id": 1, "source_id": %d, "amount": "1.00", "category": "Other"}`, src.ID))
	if rr.Code != http.StatusCreated {
		t.Fatalf("add expense status=%d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/sources/%d?platform_id=1", src.ID), "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("delete source with expenses status=%d, want 409", rr.Code)
	}
}

func TestStatisticsEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/sources",
		`{"platform_id": 1, "name": "Cash", "balance": "100.00", "type": "cash"}`)
	var src struct {
		ID int64 `json:"id"`
	}
	decode(t, rr, &src)

	rr = doJSON(t, srv, http.MethodPost, "/api/expenses",
		fmt.Sprintf(`{"platform_id": 1, "source_id": %d, "amount": "10.00", "category": "Food"}`, src.ID))
	if rr.Code != http.StatusCreated {
		t.Fatalf("add expense status=%d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/statistics/monthly?platform_id=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("monthly stats status=%d body=%s", rr.Code, rr.Body.String())
	}
	var monthly struct {
		Total      string `json:"total"`
		Categories []struct {
			Category string `json:"category"`
			Total    string `json:"total"`
		} `json:"categories"`
	}
	decode(t, rr, &monthly)
	if monthly.Total != "10.00" || len(monthly.Categories) != 1 {
		t.Fatalf("unexpected monthly stats: %+v", monthly)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/statistics/monthly?platform_id=1&month=13", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("month out of range status=%d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/statistics/monthly?platform_id=1&month=august", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric month status=%d", rr.Code)
	}
	rr = doJSON(t, srv, http.MethodGet, "/api/statistics/monthly?platform_id=1&year=last", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric year status=%d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/statistics/weekly?platform_id=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("weekly stats status=%d", rr.Code)
	}
	var weekly struct {
		Daily []struct {
			Date  string `json:"date"`
			Total string `json:"total"`
		} `json:"daily"`
	}
	decode(t, rr, &weekly)
	if len(weekly.Daily) != 7 {
		t.Fatalf("weekly stats returned %d days, want 7", len(weekly.Daily))
	}
	if weekly.Daily[6].Total != "10.00" {
		t.Fatalf("today's total = %q, want 10.00", weekly.Daily[6].Total)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/statistics/weekly?platform_id=1&date=yesterday", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed date status=%d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/statistics/sources?platform_id=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("source stats status=%d", rr.Code)
	}
	var bySource struct {
		Sources []struct {
			Name    string `json:"name"`
			Balance string `json:"balance"`
			Spent   string `json:"spent"`
		} `json:"sources"`
	}
	decode(t, rr, &bySource)
	if len(bySource.Sources) != 1 || bySource.Sources[0].Spent != "10.00" || bySource.Sources[0].Balance != "90.00" {
		t.Fatalf("unexpected source stats: %+v", bySource)
	}
}

func TestStatsCacheInvalidatedOnWrite(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/sources",
		`{"platform_id": 1, "name": "Cash", "balance": "100.00", "type": "cash"}`)
	var src struct {
		ID int64 `json:"id"`
	}
	decode(t, rr, &src)

	// Prime the cache with an empty month.
	rr = doJSON(t, srv, http.MethodGet, "/api/statistics/monthly?platform_id=1", "")
	var monthly struct {
		Total string `json:"total"`
	}
	decode(t, rr, &monthly)
	if monthly.Total != "0.00" {
		t.Fatalf("expected empty month, got %+v", monthly)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/expenses",
		fmt.Sprintf(`{"platform_id": 1, "source_id": %d, "amount": "7.00", "category": "Food"}`, src.ID))
	if rr.Code != http.StatusCreated {
		t.Fatalf("add expense status=%d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/statistics/monthly?platform_id=1", "")
	decode(t, rr, &monthly)
	if monthly.Total != "7.00" {
		t.Fatalf("stale stats after write: %+v", monthly)
	}
}
