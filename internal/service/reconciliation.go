package service

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RunReconciliation reconciles the whole graph and swaps in the result.
// Concurrent callers queue; each gets its own complete run.
func (s *Service) RunReconciliation(ctx context.Context) (*domain.ReconciliationRun, error) {
	s.reconMu.Lock()
	defer s.reconMu.Unlock()

	start := time.Now()
	run, err := s.reconciler.Run(ctx)
	s.metrics.ObserveReconciliation(run, time.Since(start))
	if err != nil {
		return nil, err
	}

	if err := s.recon.Store(ctx, run); err != nil {
		s.logger.Warn("reconciliation snapshot not mirrored", "error", err)
	}
	if s.history != nil {
		if err := s.history.SaveReconciliationRun(ctx, run); err != nil {
			s.logger.Warn("failed to record reconciliation run", "run_id", run.ID, "error", err)
		}
	}

	s.publish(ctx, domain.TopicReconciliationComplete, domain.RunCompletedEvent{
		RunID:      run.ID,
		Kind:       domain.ScopeReconciliation,
		Items:      run.Summary.TotalInvoices,
		DurationMs: time.Since(start).Milliseconds(),
	})
	return run, nil
}

// Reconciliation returns the latest run, reconciling first if none exists.
func (s *Service) Reconciliation(ctx context.Context) (*domain.ReconciliationRun, time.Time, error) {
	if run, at, ok := s.recon.Load(); ok {
		return run, at, nil
	}
	run, err := s.RunReconciliation(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	_, at, _ := s.recon.Load()
	return run, at, nil
}

// ResultPage is one page of reconciliation results.
type ResultPage struct {
	RunID   string                         `json:"runId"`
	Page    int                            `json:"page"`
	Limit   int                            `json:"limit"`
	Total   int                            `json:"total"`
	Results []*domain.ReconciliationResult `json:"results"`
}

// Results pages through the latest run, optionally filtered by status.
// page is 1-based.
func (s *Service) Results(ctx context.Context, status domain.MatchStatus, page, limit int) (*ResultPage, error) {
	if page < 1 || limit < 1 {
		return nil, fmt.Errorf("invalid page %d or limit %d", page, limit)
	}
	run, _, err := s.Reconciliation(ctx)
	if err != nil {
		return nil, err
	}

	filtered := run.Results
	if status != "" {
		filtered = make([]*domain.ReconciliationResult, 0, len(run.Results))
		for _, r := range run.Results {
			if r.MatchStatus == status {
				filtered = append(filtered, r)
			}
		}
	}

	out := &ResultPage{
		RunID:   run.ID,
		Page:    page,
		Limit:   limit,
		Total:   len(filtered),
		Results: []*domain.ReconciliationResult{},
	}
	from := (page - 1) * limit
	if from < len(filtered) {
		to := min(from+limit, len(filtered))
		out.Results = filtered[from:to]
	}
	return out, nil
}

// CircularTrading returns the rings found by the latest run.
func (s *Service) CircularTrading(ctx context.Context) (domain.CycleReport, error) {
	run, _, err := s.Reconciliation(ctx)
	if err != nil {
		return domain.CycleReport{}, err
	}
	return run.Cycles, nil
}

// CheckEligibility decides input-credit eligibility for one invoice.
// Decisions are cached per reconciliation generation for the configured TTL.
func (s *Service) CheckEligibility(ctx context.Context, invoiceID string) (*domain.Eligibility, error) {
	key := s.eligibilityKey(invoiceID)

	var cached domain.Eligibility
	if s.eligibilityTTL > 0 && s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	e, err := s.reconciler.Eligibility().Check(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveEligibility(e.Eligible)
	s.cacheSet(ctx, key, e, s.eligibilityTTL)
	return &e, nil
}

func (s *Service) eligibilityKey(invoiceID string) string {
	gen := "none"
	if run, _, ok := s.recon.Load(); ok {
		gen = run.ID
	}
	return eligibilityPrefix + gen + ":" + invoiceID
}

// RecentRuns lists persisted run headers, newest first.
func (s *Service) RecentRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.ListReconciliationRuns(ctx, limit)
}
