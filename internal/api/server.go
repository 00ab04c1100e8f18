package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/service"
)

// Server exposes the reconciliation and risk endpoints over HTTP.
type Server struct {
	mux  *chi.Mux
	http *http.Server
}

// NewServer mounts every route on a fresh chi router. /metrics is only
// mounted when m is non-nil.
func NewServer(cfg domain.ServerConfig, svc *service.Service, m *metrics.Metrics, version string) *Server {
	h := NewHandler(svc, version)
	mux := chi.NewRouter()

	// Order matters: CORS answers preflights before anything else runs, and
	// tracing must wrap logging so access lines carry the trace id.
	mux.Use(
		CORSMiddleware,
		RecoverMiddleware,
		TracingMiddleware,
		LoggingMiddleware,
		MetricsMiddleware(m),
		middleware.RealIP,
		middleware.Compress(5),
	)

	mux.Get("/health", h.Health)
	mux.Get("/ready", h.Ready)
	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	mux.Route("/reconciliation", func(r chi.Router) {
		r.Post("/run", h.RunReconciliation)
		r.Get("/summary", h.ReconciliationSummary)
		r.Get("/results", h.ReconciliationResults)
		r.Get("/circular-trading", h.CircularTrading)
	})
	mux.Route("/graph", func(r chi.Router) {
		r.Get("/stats", h.GraphStats)
		r.Get("/subgraph/{gstin}", h.Subgraph)
	})
	mux.Get("/invoices/{id}/eligibility", h.InvoiceEligibility)
	mux.Route("/risk", func(r chi.Router) {
		r.Post("/compute", h.ComputeRisk)
		r.Get("/scores", h.RiskScores)
		r.Get("/vendors/{id}", h.VendorRisk)
	})
	mux.Post("/recompute", h.Recompute)
	mux.Get("/dashboard/overview", h.Overview)

	return &Server{
		mux: mux,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           mux,
			ReadTimeout:       seconds(cfg.ReadTimeout),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      seconds(cfg.WriteTimeout),
			IdleTimeout:       2 * time.Minute,
		},
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Addr is the address Start listens on.
func (s *Server) Addr() string { return s.http.Addr }

// Start blocks serving requests until Shutdown, returning
// http.ErrServerClosed in that case.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router returns the chi router, for driving the API from tests.
func (s *Server) Router() *chi.Mux {
	return s.mux
}
