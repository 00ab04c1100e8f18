package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/seed"
	"github.com/opensource-finance/kestrel/internal/service"
)

type testServer struct {
	*Server
	anomalies *seed.Anomalies
	bus       *bus.ChannelBus
}

// createTestServer wires a seeded in-memory graph behind the router.
func createTestServer(t *testing.T, withBus bool) *testServer {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	_, an, err := seed.Load(context.Background(), repo, seed.DefaultOptions())
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	cfg := domain.DefaultConfig()
	cfg.Risk.Trees = 10
	cfg.Reconciliation.Workers = 4
	cfg.Risk.Workers = 4

	ts := &testServer{anomalies: an}
	deps := service.Deps{
		Graph:   repo,
		History: repo,
		Cache:   cache.NewLRUCache(1000),
		Metrics: metrics.New(),
	}
	if withBus {
		ts.bus = bus.NewChannelBus(100)
		t.Cleanup(func() { ts.bus.Close() })
		deps.Bus = ts.bus
	}

	svc, err := service.New(cfg, deps)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	ts.Server = NewServer(cfg.Server, svc, deps.Metrics, "test-v1")
	return ts
}

func (ts *testServer) do(t *testing.T, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	ts.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t, true)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := server.do(t, http.MethodGet, "/health", nil)
		expectStatus(t, rr, http.StatusOK)

		var resp map[string]string
		decode(t, rr, &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("DegradedWhenBusClosed", func(t *testing.T) {
		degraded := createTestServer(t, true)
		degraded.bus.Close()

		var resp map[string]string
		decode(t, degraded.do(t, http.MethodGet, "/health", nil), &resp)
		if resp["status"] != "degraded" {
			t.Errorf("expected status 'degraded', got '%s'", resp["status"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		expectStatus(t, server.do(t, http.MethodGet, "/ready", nil), http.StatusOK)
	})
}

func TestReconciliationEndpoints(t *testing.T) {
	server := createTestServer(t, true)

	t.Run("Run", func(t *testing.T) {
		rr := server.do(t, http.MethodPost, "/reconciliation/run", nil)
		expectStatus(t, rr, http.StatusOK)

		var resp RunResponse
		decode(t, rr, &resp)
		if resp.RunID == "" {
			t.Error("expected run id")
		}
		if resp.Summary.TotalInvoices == 0 {
			t.Error("expected reconciled invoices")
		}
		if resp.Summary.FraudRingSize < len(server.anomalies.Ring) {
			t.Errorf("expected ring of at least %d, got %d", len(server.anomalies.Ring), resp.Summary.FraudRingSize)
		}
	})

	t.Run("Summary", func(t *testing.T) {
		rr := server.do(t, http.MethodGet, "/reconciliation/summary", nil)
		expectStatus(t, rr, http.StatusOK)

		var resp SummaryResponse
		decode(t, rr, &resp)
		if resp.RunID == "" || resp.ReconciledAt.IsZero() {
			t.Errorf("expected run id and timestamp, got %+v", resp)
		}
	})

	t.Run("ResultsFilteredByStatus", func(t *testing.T) {
		rr := server.do(t, http.MethodGet, "/reconciliation/results?status=MISSING_IN_RETURN&limit=100", nil)
		expectStatus(t, rr, http.StatusOK)

		var page service.ResultPage
		decode(t, rr, &page)
		if page.Total == 0 {
			t.Fatal("expected MISSING_IN_RETURN results")
		}
		for _, r := range page.Results {
			if r.MatchStatus != domain.StatusMissingInReturn {
				t.Errorf("unexpected status %s for %s", r.MatchStatus, r.InvoiceID)
			}
		}
	})

	t.Run("ResultsPaging", func(t *testing.T) {
		var first, second service.ResultPage
		decode(t, server.do(t, http.MethodGet, "/reconciliation/results?page=1&limit=10", nil), &first)
		decode(t, server.do(t, http.MethodGet, "/reconciliation/results?page=2&limit=10", nil), &second)

		if len(first.Results) != 10 || len(second.Results) != 10 {
			t.Fatalf("expected two full pages, got %d and %d", len(first.Results), len(second.Results))
		}
		if first.Results[0].InvoiceID == second.Results[0].InvoiceID {
			t.Error("expected pages to differ")
		}
	})

	t.Run("ResultsPastEnd", func(t *testing.T) {
		var page service.ResultPage
		decode(t, server.do(t, http.MethodGet, "/reconciliation/results?page=1000&limit=100", nil), &page)
		if len(page.Results) != 0 || page.Total == 0 {
			t.Errorf("expected empty page with non-zero total, got %d/%d", len(page.Results), page.Total)
		}
	})

	t.Run("ResultsValidation", func(t *testing.T) {
		for _, q := range []string{
			"status=BOGUS",
			"page=0",
			"page=x",
			"limit=0",
			"limit=101",
			"limit=abc",
		} {
			rr := server.do(t, http.MethodGet, "/reconciliation/results?"+q, nil)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("%s: expected 400, got %d", q, rr.Code)
				continue
			}
			var resp map[string]string
			decode(t, rr, &resp)
			if resp["error"] == "" {
				t.Errorf("%s: expected error message", q)
			}
		}
	})

	t.Run("CircularTrading", func(t *testing.T) {
		rr := server.do(t, http.MethodGet, "/reconciliation/circular-trading", nil)
		expectStatus(t, rr, http.StatusOK)

		var resp struct {
			Cycles       []domain.InvoicingCycle `json:"cycles"`
			Participants []string                `json:"participants"`
			Count        int                     `json:"count"`
		}
		decode(t, rr, &resp)
		if resp.Count == 0 || resp.Count != len(resp.Cycles) {
			t.Fatalf("expected cycles, got count %d", resp.Count)
		}
		for _, id := range server.anomalies.Ring {
			if !slices.Contains(resp.Participants, id) {
				t.Errorf("expected ring member %s among participants", id)
			}
		}
	})
}

func TestEligibilityEndpoint(t *testing.T) {
	server := createTestServer(t, true)

	t.Run("UnknownInvoice", func(t *testing.T) {
		rr := server.do(t, http.MethodGet, "/invoices/does-not-exist/eligibility", nil)
		expectStatus(t, rr, http.StatusOK)

		var e domain.Eligibility
		decode(t, rr, &e)
		if e.Eligible || len(e.Reasons) != 1 {
			t.Errorf("expected single ineligibility reason, got %+v", e)
		}
	})

	t.Run("CancelledEInvoice", func(t *testing.T) {
		id := server.anomalies.CancelledEInvoices[0]
		rr := server.do(t, http.MethodGet, "/invoices/"+id+"/eligibility", nil)
		expectStatus(t, rr, http.StatusOK)

		var e domain.Eligibility
		decode(t, rr, &e)
		if e.InvoiceID != id || e.Eligible {
			t.Errorf("expected %s ineligible, got %+v", id, e)
		}
	})
}

func TestRiskEndpoints(t *testing.T) {
	server := createTestServer(t, true)

	t.Run("Compute", func(t *testing.T) {
		rr := server.do(t, http.MethodPost, "/risk/compute", nil)
		expectStatus(t, rr, http.StatusOK)

		var resp ComputeRiskResponse
		decode(t, rr, &resp)
		if resp.Vendors == 0 || resp.ReconciliationID == "" {
			t.Errorf("unexpected compute response: %+v", resp)
		}
		total := 0
		for _, n := range resp.TierCounts {
			total += n
		}
		if total != resp.Vendors {
			t.Errorf("tier counts sum to %d, expected %d", total, resp.Vendors)
		}
	})

	t.Run("ScoresSortedAndLimited", func(t *testing.T) {
		rr := server.do(t, http.MethodGet, "/risk/scores?limit=3", nil)
		expectStatus(t, rr, http.StatusOK)

		var resp struct {
			Scores []*domain.VendorRiskScore `json:"scores"`
			Count  int                       `json:"count"`
		}
		decode(t, rr, &resp)
		if resp.Count != 3 || len(resp.Scores) != 3 {
			t.Fatalf("expected 3 scores, got %d", resp.Count)
		}
		for i := 1; i < len(resp.Scores); i++ {
			if resp.Scores[i].CompositeScore > resp.Scores[i-1].CompositeScore {
				t.Errorf("scores not sorted descending at %d", i)
			}
		}
	})

	t.Run("ScoresByTier", func(t *testing.T) {
		var resp struct {
			Scores []*domain.VendorRiskScore `json:"scores"`
		}
		decode(t, server.do(t, http.MethodGet, "/risk/scores?tier=LOW&limit=500", nil), &resp)
		for _, s := range resp.Scores {
			if s.RiskTier != domain.TierLow {
				t.Errorf("unexpected tier %s for %s", s.RiskTier, s.VendorID)
			}
		}
	})

	t.Run("ScoresValidation", func(t *testing.T) {
		for _, q := range []string{"tier=SEVERE", "limit=0", "limit=501", "limit=many"} {
			if rr := server.do(t, http.MethodGet, "/risk/scores?"+q, nil); rr.Code != http.StatusBadRequest {
				t.Errorf("%s: expected 400, got %d", q, rr.Code)
			}
		}
	})

	t.Run("Vendor", func(t *testing.T) {
		id := server.anomalies.Ring[0]
		rr := server.do(t, http.MethodGet, "/risk/vendors/"+id, nil)
		expectStatus(t, rr, http.StatusOK)

		var score domain.VendorRiskScore
		decode(t, rr, &score)
		if score.VendorID != id {
			t.Errorf("expected vendor %s, got %s", id, score.VendorID)
		}
		if score.Explanation == "" {
			t.Error("expected explanation")
		}
	})

	t.Run("UnknownVendor", func(t *testing.T) {
		rr := server.do(t, http.MethodGet, "/risk/vendors/UNKNOWN", nil)
		expectStatus(t, rr, http.StatusNotFound)
	})
}

func TestRecomputeEndpoint(t *testing.T) {
	t.Run("Accepted", func(t *testing.T) {
		server := createTestServer(t, true)

		received := make(chan *domain.Message, 1)
		server.bus.Subscribe(context.Background(), domain.TopicRecomputeRequested, func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})

		rr := server.do(t, http.MethodPost, "/recompute", bytes.NewBufferString(`{"scope":"risk"}`))
		expectStatus(t, rr, http.StatusAccepted)

		var resp map[string]string
		decode(t, rr, &resp)
		if resp["scope"] != domain.ScopeRisk || resp["requestId"] == "" {
			t.Errorf("unexpected response: %v", resp)
		}

		var msg *domain.Message
		select {
		case msg = <-received:
		case <-time.After(time.Second):
			t.Fatal("recompute request not published")
		}
		var req domain.RecomputeRequest
		if err := bus.Decode(msg, &req); err != nil {
			t.Fatal(err)
		}
		if req.ID != resp["requestId"] {
			t.Errorf("expected published request %s, got %s", resp["requestId"], req.ID)
		}
	})

	t.Run("DefaultScope", func(t *testing.T) {
		server := createTestServer(t, true)
		var resp map[string]string
		decode(t, server.do(t, http.MethodPost, "/recompute", nil), &resp)
		if resp["scope"] != domain.ScopeAll {
			t.Errorf("expected scope all, got %s", resp["scope"])
		}
	})

	t.Run("InvalidScope", func(t *testing.T) {
		server := createTestServer(t, true)
		rr := server.do(t, http.MethodPost, "/recompute?scope=everything", nil)
		expectStatus(t, rr, http.StatusBadRequest)
	})

	t.Run("InvalidBody", func(t *testing.T) {
		server := createTestServer(t, true)
		rr := server.do(t, http.MethodPost, "/recompute", bytes.NewBufferString("{"))
		expectStatus(t, rr, http.StatusBadRequest)
	})

	t.Run("NoBus", func(t *testing.T) {
		server := createTestServer(t, false)
		rr := server.do(t, http.MethodPost, "/recompute", nil)
		expectStatus(t, rr, http.StatusServiceUnavailable)
	})
}

func TestOverviewEndpoint(t *testing.T) {
	server := createTestServer(t, true)

	rr := server.do(t, http.MethodGet, "/dashboard/overview", nil)
	expectStatus(t, rr, http.StatusOK)

	var out service.Overview
	decode(t, rr, &out)
	if out.Graph == nil || out.Graph.Taxpayers == 0 {
		t.Errorf("expected graph stats, got %+v", out.Graph)
	}
	if out.Reconciliation.TotalInvoices == 0 {
		t.Error("expected reconciliation summary")
	}
	if len(out.TopRiskyVendors) == 0 || len(out.TopRiskyVendors) > service.TopVendors {
		t.Errorf("expected 1..%d top vendors, got %d", service.TopVendors, len(out.TopRiskyVendors))
	}
}

func TestGraphEndpoints(t *testing.T) {
	server := createTestServer(t, false)

	t.Run("Stats", func(t *testing.T) {
		rr := server.do(t, http.MethodGet, "/graph/stats", nil)
		expectStatus(t, rr, http.StatusOK)

		var stats domain.GraphStats
		decode(t, rr, &stats)
		if stats.Taxpayers == 0 || stats.Invoices == 0 || stats.Observations == 0 {
			t.Errorf("expected populated counts, got %+v", stats)
		}
	})

	t.Run("Subgraph", func(t *testing.T) {
		vendor := server.anomalies.Ring[0]
		rr := server.do(t, http.MethodGet, "/graph/subgraph/"+vendor, nil)
		expectStatus(t, rr, http.StatusOK)

		var g domain.Subgraph
		decode(t, rr, &g)
		if g.Root != vendor || len(g.Nodes) < 2 || len(g.Edges) == 0 {
			t.Errorf("expected a neighbourhood around %s, got %d nodes and %d edges", vendor, len(g.Nodes), len(g.Edges))
		}
		if len(g.Edges) > domain.SubgraphEdgeLimit {
			t.Errorf("edge cap exceeded: %d", len(g.Edges))
		}
	})

	t.Run("SubgraphUnknownTaxpayer", func(t *testing.T) {
		rr := server.do(t, http.MethodGet, "/graph/subgraph/UNKNOWN", nil)
		expectStatus(t, rr, http.StatusNotFound)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	server := createTestServer(t, true)
	server.do(t, http.MethodGet, "/health", nil)
	server.do(t, http.MethodGet, "/risk/vendors/UNKNOWN", nil)

	rr := server.do(t, http.MethodGet, "/metrics", nil)
	expectStatus(t, rr, http.StatusOK)

	body := rr.Body.String()
	for _, want := range []string{
		`kestrel_http_requests_total{method="GET",route="/health",status="200"} 1`,
		`kestrel_http_requests_total{method="GET",route="/risk/vendors/{id}",status="404"} 1`,
		`kestrel_risk_runs_total{outcome="ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics to contain %s", want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get(RequestIDHeader) != capturedRequestID {
			t.Error("expected X-Request-ID response header to match context")
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected X-Trace-ID response header")
		}
	})

	t.Run("TracingMiddlewareKeepsIncomingRequestID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get(RequestIDHeader); got != "req-123" {
			t.Errorf("expected req-123, got %s", got)
		}
	})

	t.Run("TracingMiddlewareReplacesOversizedRequestID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", 200))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		got := rr.Header().Get(RequestIDHeader)
		if got == "" || len(got) > 128 {
			t.Errorf("expected a generated request id, got %q", got)
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("preflight should not reach the handler")
		}))

		req := httptest.NewRequest(http.MethodOptions, "/risk/scores", nil)
		req.Header.Set("Origin", "https://dashboard.example")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example" {
			t.Errorf("unexpected allow-origin %s", got)
		}
	})
}
