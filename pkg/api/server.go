package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/searchpulse/pkg/access"
	"github.com/platinummonkey/searchpulse/pkg/middleware"
	"github.com/platinummonkey/searchpulse/pkg/observability"
	"github.com/platinummonkey/searchpulse/pkg/registry"
	"github.com/platinummonkey/searchpulse/pkg/store"
)

// Scoper resolves per-principal site visibility
type Scoper interface {
	AccessibleSiteIDs(ctx context.Context, p access.Principal) ([]int64, error)
	FilterSiteIDs(ctx context.Context, p access.Principal, requested []int64) ([]int64, error)
}

// Aggregator builds on-demand reports
type Aggregator interface {
	Aggregate(ctx context.Context, siteID int64, periodStart, periodEnd time.Time, granularity string, topN int) (*store.Report, error)
	AggregateTrailing(ctx context.Context, siteID int64, days, topN int) (*store.Report, error)
}

// Reconciler triggers and exposes backfill jobs
type Reconciler interface {
	ReconcileWindow(ctx context.Context, sites []registry.Site, windowDays int, requestedBy string) (*store.ReconcileJob, error)
	GetJob(ctx context.Context, jobID string) (*store.ReconcileJob, error)
}

// Server is the HTTP read surface consumed by the dashboard layer. Every
// data route resolves the caller's principal and passes through the scoper
// before touching the store.
type Server struct {
	router     *mux.Router
	store      *store.Store
	registry   *registry.Store
	scoper     Scoper
	aggregator Aggregator
	reconciler Reconciler
	logger     *observability.Logger
	metrics    *observability.Metrics

	defaultWindowDays int
	defaultTaskCount  int
	tracingEnabled    bool
}

// NewServer creates the API server and registers all routes
func NewServer(st *store.Store, reg *registry.Store, scoper Scoper, agg Aggregator, rec Reconciler, logger *observability.Logger, metrics *observability.Metrics, defaultWindowDays, defaultTaskCount int, tracingEnabled bool) *Server {
	s := &Server{
		router:            mux.NewRouter(),
		store:             st,
		registry:          reg,
		scoper:            scoper,
		aggregator:        agg,
		reconciler:        rec,
		logger:            logger,
		metrics:           metrics,
		defaultWindowDays: defaultWindowDays,
		defaultTaskCount:  defaultTaskCount,
		tracingEnabled:    tracingEnabled,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(mux.MiddlewareFunc(middleware.RequestIDMiddleware))
	s.router.Use(mux.MiddlewareFunc(middleware.LoggingMiddleware(s.logger)))
	s.router.Use(mux.MiddlewareFunc(s.metrics.HTTPMiddleware))
	s.router.Use(mux.MiddlewareFunc(middleware.PrincipalMiddleware))

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/sites", s.listSites).Methods("GET")
	v1.HandleFunc("/sites/{id:[0-9]+}/metrics", s.getSiteMetrics).Methods("GET")
	v1.HandleFunc("/sites/{id:[0-9]+}/reports", s.listSiteReports).Methods("GET")
	v1.HandleFunc("/sites/{id:[0-9]+}/aggregate", s.aggregate).Methods("POST")
	v1.HandleFunc("/sites/{id:[0-9]+}/tasks", s.siteTasks).Methods("POST")
	v1.HandleFunc("/reports/{id}", s.getReport).Methods("GET")
	v1.HandleFunc("/reconcile", s.reconcile).Methods("POST")
	v1.HandleFunc("/reconcile/{jobID}", s.getReconcileJob).Methods("GET")
}

// Handler returns the server's HTTP handler, wrapped for tracing when OTel
// export is enabled.
func (s *Server) Handler() http.Handler {
	if s.tracingEnabled {
		return otelhttp.NewHandler(s.router, "searchpulse-api")
	}
	return s.router
}
