package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ValidScope reports whether scope names a recompute target.
func ValidScope(scope string) bool {
	switch scope {
	case domain.ScopeReconciliation, domain.ScopeRisk, domain.ScopeAll:
		return true
	}
	return false
}

// RequestRecompute publishes an asynchronous recompute request.
func (s *Service) RequestRecompute(ctx context.Context, scope string) (*domain.RecomputeRequest, error) {
	if scope == "" {
		scope = domain.ScopeAll
	}
	if !ValidScope(scope) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	if s.bus == nil {
		return nil, ErrNoBus
	}

	req := &domain.RecomputeRequest{ID: newRequestID(), Scope: scope}
	if err := bus.PublishJSON(ctx, s.bus, domain.TopicRecomputeRequested, req); err != nil {
		return nil, err
	}
	s.logger.Info("recompute requested", "request_id", req.ID, "scope", scope)
	return req, nil
}

// Recompute rebuilds the snapshots named by scope. Risk always scores
// against the reconciliation produced in the same call when both run.
func (s *Service) Recompute(ctx context.Context, scope string) error {
	switch scope {
	case domain.ScopeReconciliation:
		_, err := s.RunReconciliation(ctx)
		return err
	case domain.ScopeRisk:
		_, err := s.ComputeRisk(ctx)
		return err
	case domain.ScopeAll, "":
		if _, err := s.RunReconciliation(ctx); err != nil {
			return err
		}
		_, err := s.ComputeRisk(ctx)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
}

// Overview is the dashboard roll-up.
type Overview struct {
	Graph           *domain.GraphStats           `json:"graph,omitempty"`
	Reconciliation  domain.ReconciliationSummary `json:"reconciliation"`
	ReconciledAt    time.Time                    `json:"reconciledAt"`
	TopRiskyVendors []*domain.VendorRiskScore    `json:"topRiskyVendors"`
	RiskComputedAt  time.Time                    `json:"riskComputedAt"`
	ModelVersion    string                       `json:"modelVersion,omitempty"`
	RecentRuns      []*domain.RunRecord          `json:"recentRuns,omitempty"`
}

// Overview assembles graph counts, the latest summary and the riskiest vendors.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	recon, reconAt, err := s.Reconciliation(ctx)
	if err != nil {
		return nil, err
	}
	riskRun, riskAt, err := s.Risk(ctx)
	if err != nil {
		return nil, err
	}

	out := &Overview{
		Reconciliation:  recon.Summary,
		ReconciledAt:    reconAt,
		TopRiskyVendors: riskRun.Scores[:min(TopVendors, len(riskRun.Scores))],
		RiskComputedAt:  riskAt,
		ModelVersion:    riskRun.ModelVersion,
	}

	switch g, err := s.GraphStats(ctx); {
	case err == nil:
		out.Graph = g
	case !errors.Is(err, ErrGraphUnsupported):
		return nil, err
	}

	runs, err := s.RecentRuns(ctx, TopVendors)
	if err != nil {
		s.logger.Warn("failed to list recent runs", "error", err)
	}
	out.RecentRuns = runs
	return out, nil
}
