// Package api is the HTTP access layer: it resolves platform identities,
// parses request payloads into typed inputs for the ledger and statistics
// components, and serializes results and errors to JSON.
package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tally/internal/cache"
	"tally/internal/core"
	"tally/internal/ledger"
	"tally/internal/stats"
)

type Server struct {
	http.Server

	ledger *ledger.Service
	stats  *stats.Aggregator

	// Per-user statistics caches, invalidated on every write.
	monthlyCache *cache.LRUCache[core.MonthOverview]
	weeklyCache  *cache.LRUCache[[]core.DayTotal]
	sourcesCache *cache.LRUCache[[]core.SourceTotal]
	cacheManager *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server.
func NewServer(addr string, ledgerSvc *ledger.Service, aggregator *stats.Aggregator) *Server {
	s := &Server{
		ledger:       ledgerSvc,
		stats:        aggregator,
		monthlyCache: cache.NewLRUCache[core.MonthOverview](200, 5*time.Minute),
		weeklyCache:  cache.NewLRUCache[[]core.DayTotal](200, 5*time.Minute),
		sourcesCache: cache.NewLRUCache[[]core.SourceTotal](200, 5*time.Minute),
		cacheManager: cache.NewManager(),
	}
	s.cacheManager.Register(s.monthlyCache)
	s.cacheManager.Register(s.weeklyCache)
	s.cacheManager.Register(s.sourcesCache)
	s.cacheManager.StartCleanup(time.Minute)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(s.trace, securityHeaders, metricsMiddleware)

	apiRouter.HandleFunc("/init", s.handleInitUser).Methods(http.MethodPost)

	apiRouter.HandleFunc("/sources", s.handleListSources).Methods(http.MethodGet)
	apiRouter.HandleFunc("/sources", s.handleCreateSource).Methods(http.MethodPost)
	apiRouter.HandleFunc("/sources/{id:[0-9]+}", s.handleSetSourceBalance).Methods(http.MethodPut)
	apiRouter.HandleFunc("/sources/{id:[0-9]+}", s.handleDeleteSource).Methods(http.MethodDelete)

	apiRouter.HandleFunc("/expenses", s.handleListExpenses).Methods(http.MethodGet)
	apiRouter.HandleFunc("/expenses", s.handleAddExpense).Methods(http.MethodPost)
	apiRouter.HandleFunc("/expenses/{id:[0-9]+}", s.handleDeleteExpense).Methods(http.MethodDelete)

	apiRouter.HandleFunc("/statistics/monthly", s.handleMonthlyStats).Methods(http.MethodGet)
	apiRouter.HandleFunc("/statistics/weekly", s.handleWeeklyStats).Methods(http.MethodGet)
	apiRouter.HandleFunc("/statistics/sources", s.handleSourceStats).Methods(http.MethodGet)

	s.Server = http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Shutdown stops the cache sweeper and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// invalidateUser drops every cached statistic for one user. Called after
// each write so reads never serve a stale aggregate past the write.
func (s *Server) invalidateUser(userID int64) {
	prefix := userPrefix(userID)
	s.monthlyCache.DeletePrefix(prefix)
	s.weeklyCache.DeletePrefix(prefix)
	s.sourcesCache.DeletePrefix(prefix)
}

// userPrefix is the leading segment of every cache key for a user.
func userPrefix(userID int64) string {
	return strconv.FormatInt(userID, 10) + ":"
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
