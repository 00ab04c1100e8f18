package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/service"
)

// Query parameter bounds.
const (
	defaultResultLimit = 50
	maxResultLimit     = 100
	defaultScoreLimit  = 50
	maxScoreLimit      = 500
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *service.Service
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *service.Service, version string) *Handler {
	return &Handler{
		svc:     svc,
		version: version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := h.svc.Ping(r.Context()); err != nil {
		slog.Warn("health check degraded", "error", err)
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// RunResponse is the response for POST /reconciliation/run.
type RunResponse struct {
	RunID      string                       `json:"runId"`
	Summary    domain.ReconciliationSummary `json:"summary"`
	DurationMs int64                        `json:"durationMs"`
}

// RunReconciliation handles POST /reconciliation/run.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	run, err := h.svc.RunReconciliation(r.Context())
	if err != nil {
		h.serverError(w, r, "reconciliation failed", err)
		return
	}

	writeJSON(w, http.StatusOK, RunResponse{
		RunID:      run.ID,
		Summary:    run.Summary,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

// SummaryResponse is the response for GET /reconciliation/summary.
type SummaryResponse struct {
	RunID        string                       `json:"runId"`
	ReconciledAt time.Time                    `json:"reconciledAt"`
	Summary      domain.ReconciliationSummary `json:"summary"`
}

// ReconciliationSummary handles GET /reconciliation/summary.
func (h *Handler) ReconciliationSummary(w http.ResponseWriter, r *http.Request) {
	run, at, err := h.svc.Reconciliation(r.Context())
	if err != nil {
		h.serverError(w, r, "failed to load reconciliation", err)
		return
	}

	writeJSON(w, http.StatusOK, SummaryResponse{
		RunID:        run.ID,
		ReconciledAt: at,
		Summary:      run.Summary,
	})
}

// ReconciliationResults handles GET /reconciliation/results.
func (h *Handler) ReconciliationResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status domain.MatchStatus
	if raw := q.Get("status"); raw != "" {
		s, ok := domain.ParseMatchStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status: "+raw)
			return
		}
		status = s
	}

	page, err := intParam(q.Get("page"), 1, 1, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "page must be an integer >= 1")
		return
	}
	limit, err := intParam(q.Get("limit"), defaultResultLimit, 1, maxResultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 100")
		return
	}

	out, err := h.svc.Results(r.Context(), status, page, limit)
	if err != nil {
		h.serverError(w, r, "failed to list reconciliation results", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// CircularTrading handles GET /reconciliation/circular-trading.
func (h *Handler) CircularTrading(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.CircularTrading(r.Context())
	if err != nil {
		h.serverError(w, r, "failed to load circular trading", err)
		return
	}
	if report.Cycles == nil {
		report.Cycles = []domain.InvoicingCycle{}
	}
	if report.Participants == nil {
		report.Participants = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cycles":       report.Cycles,
		"participants": report.Participants,
		"count":        len(report.Cycles),
	})
}

// InvoiceEligibility handles GET /invoices/{id}/eligibility.
func (h *Handler) InvoiceEligibility(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "id")
	if invoiceID == "" {
		writeError(w, http.StatusBadRequest, "invoice id is required")
		return
	}

	e, err := h.svc.CheckEligibility(r.Context(), invoiceID)
	if err != nil {
		h.serverError(w, r, "eligibility check failed", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// ComputeRiskResponse is the response for POST /risk/compute.
type ComputeRiskResponse struct {
	RunID            string                  `json:"runId"`
	ReconciliationID string                  `json:"reconciliationId"`
	ModelVersion     string                  `json:"modelVersion,omitempty"`
	Vendors          int                     `json:"vendors"`
	TierCounts       map[domain.RiskTier]int `json:"tierCounts"`
	DurationMs       int64                   `json:"durationMs"`
}

// ComputeRisk handles POST /risk/compute.
func (h *Handler) ComputeRisk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	run, err := h.svc.ComputeRisk(r.Context())
	if err != nil {
		h.serverError(w, r, "risk computation failed", err)
		return
	}

	tiers := map[domain.RiskTier]int{
		domain.TierLow:      0,
		domain.TierMedium:   0,
		domain.TierHigh:     0,
		domain.TierCritical: 0,
	}
	for _, s := range run.Scores {
		tiers[s.RiskTier]++
	}

	writeJSON(w, http.StatusOK, ComputeRiskResponse{
		RunID:            run.ID,
		ReconciliationID: run.ReconciliationID,
		ModelVersion:     run.ModelVersion,
		Vendors:          len(run.Scores),
		TierCounts:       tiers,
		DurationMs:       time.Since(start).Milliseconds(),
	})
}

// RiskScores handles GET /risk/scores.
func (h *Handler) RiskScores(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var tier domain.RiskTier
	if raw := q.Get("tier"); raw != "" {
		t, ok := domain.ParseRiskTier(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid tier: "+raw)
			return
		}
		tier = t
	}

	limit, err := intParam(q.Get("limit"), defaultScoreLimit, 1, maxScoreLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
		return
	}

	scores, err := h.svc.RiskScores(r.Context(), tier, limit)
	if err != nil {
		h.serverError(w, r, "failed to list risk scores", err)
		return
	}
	if scores == nil {
		scores = []*domain.VendorRiskScore{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scores": scores,
		"count":  len(scores),
	})
}

// VendorRisk handles GET /risk/vendors/{id}.
func (h *Handler) VendorRisk(w http.ResponseWriter, r *http.Request) {
	vendorID := chi.URLParam(r, "id")

	score, err := h.svc.VendorScore(r.Context(), vendorID)
	if errors.Is(err, service.ErrVendorNotFound) {
		writeError(w, http.StatusNotFound, "vendor not found: "+vendorID)
		return
	}
	if err != nil {
		h.serverError(w, r, "failed to load vendor score", err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// GraphStats handles GET /graph/stats.
func (h *Handler) GraphStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GraphStats(r.Context())
	if errors.Is(err, service.ErrGraphUnsupported) {
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	}
	if err != nil {
		h.serverError(w, r, "failed to count graph entities", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Subgraph handles GET /graph/subgraph/{gstin}.
func (h *Handler) Subgraph(w http.ResponseWriter, r *http.Request) {
	gstin := chi.URLParam(r, "gstin")

	g, err := h.svc.Subgraph(r.Context(), gstin)
	switch {
	case errors.Is(err, domain.ErrTaxpayerNotFound):
		writeError(w, http.StatusNotFound, "taxpayer not found: "+gstin)
		return
	case errors.Is(err, service.ErrGraphUnsupported):
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	case err != nil:
		h.serverError(w, r, "failed to load subgraph", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// RecomputeRequest is the optional body for POST /recompute.
type RecomputeRequest struct {
	Scope string `json:"scope"`
}

// Recompute handles POST /recompute. The scope may come from the JSON body
// or the scope query parameter.
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	var req RecomputeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON request body")
			return
		}
	}
	if req.Scope == "" {
		req.Scope = r.URL.Query().Get("scope")
	}

	accepted, err := h.svc.RequestRecompute(r.Context(), req.Scope)
	switch {
	case errors.Is(err, service.ErrInvalidScope):
		writeError(w, http.StatusBadRequest, "scope must be one of reconciliation, risk, all")
		return
	case errors.Is(err, service.ErrNoBus):
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	case err != nil:
		h.serverError(w, r, "failed to publish recompute request", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"requestId": accepted.ID,
		"scope":     accepted.Scope,
		"status":    "accepted",
	})
}

// Overview handles GET /dashboard/overview.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Overview(r.Context())
	if err != nil {
		h.serverError(w, r, "failed to build overview", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg,
		"path", r.URL.Path,
		"trace_id", GetTraceID(r.Context()),
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, msg)
}

// intParam parses an optional integer query value within [lo, hi].
// hi <= 0 means unbounded.
func intParam(raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < lo || (hi > 0 && n > hi) {
		return 0, strconv.ErrRange
	}
	return n, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
