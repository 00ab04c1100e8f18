package service

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/risk"
)

// ComputeRisk scores every registered vendor against the latest
// reconciliation, reconciling first when no run exists.
func (s *Service) ComputeRisk(ctx context.Context) (*domain.RiskRun, error) {
	recon, _, err := s.Reconciliation(ctx)
	if err != nil {
		return nil, err
	}

	s.riskMu.Lock()
	defer s.riskMu.Unlock()

	start := time.Now()
	run, err := s.computeRisk(ctx, recon)
	s.metrics.ObserveRisk(run, time.Since(start))
	if err != nil {
		return nil, err
	}

	if err := s.risk.Store(ctx, run); err != nil {
		s.logger.Warn("risk snapshot not mirrored", "error", err)
	}

	s.publish(ctx, domain.TopicRiskComputed, domain.RunCompletedEvent{
		RunID:      run.ID,
		Kind:       domain.ScopeRisk,
		Items:      len(run.Scores),
		DurationMs: time.Since(start).Milliseconds(),
	})
	for _, score := range run.Scores {
		if !s.alertTiers[score.RiskTier] {
			continue
		}
		s.publish(ctx, domain.TopicVendorFlagged, domain.VendorFlaggedEvent{
			RunID:          run.ID,
			VendorID:       score.VendorID,
			LegalName:      score.LegalName,
			RiskTier:       score.RiskTier,
			CompositeScore: score.CompositeScore,
		})
	}
	return run, nil
}

func (s *Service) computeRisk(ctx context.Context, recon *domain.ReconciliationRun) (*domain.RiskRun, error) {
	ids, err := s.graph.ListVendorIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vendors: %w", err)
	}

	batch, err := s.scorer.ComputeVendorScores(ctx, ids, recon.Results, &recon.Cycles)
	if err != nil {
		return nil, err
	}

	run := &domain.RiskRun{
		ID:               newRequestID(),
		ReconciliationID: recon.ID,
		ComputedAt:       time.Now().UTC(),
		Scores:           batch.Scores,
	}
	if batch.Model != nil {
		run.ModelVersion = batch.Model.Version
		s.model.Store(batch.Model)
		s.persistModel(ctx, batch.Model)
	}
	return run, nil
}

func (s *Service) persistModel(ctx context.Context, m *risk.Model) {
	if s.history == nil {
		return
	}
	art, err := m.MarshalArtifact()
	if err == nil {
		err = s.history.SaveModelArtifact(ctx, art)
	}
	if err != nil {
		s.logger.Warn("failed to persist model", "version", m.Version, "error", err)
	}
}

// Risk returns the latest risk run, computing one if none exists.
func (s *Service) Risk(ctx context.Context) (*domain.RiskRun, time.Time, error) {
	if run, at, ok := s.risk.Load(); ok {
		return run, at, nil
	}
	run, err := s.ComputeRisk(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	_, at, _ := s.risk.Load()
	return run, at, nil
}

// RiskScores returns the latest scores, highest first, optionally filtered
// by tier and truncated to limit.
func (s *Service) RiskScores(ctx context.Context, tier domain.RiskTier, limit int) ([]*domain.VendorRiskScore, error) {
	run, _, err := s.Risk(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(run.Scores) {
		limit = len(run.Scores)
	}
	out := make([]*domain.VendorRiskScore, 0, limit)
	for _, score := range run.Scores {
		if len(out) == limit {
			break
		}
		if tier != "" && score.RiskTier != tier {
			continue
		}
		out = append(out, score)
	}
	return out, nil
}

// VendorScore returns one vendor's score from the latest run.
func (s *Service) VendorScore(ctx context.Context, vendorID string) (*domain.VendorRiskScore, error) {
	run, _, err := s.Risk(ctx)
	if err != nil {
		return nil, err
	}
	score := run.Vendor(vendorID)
	if score == nil {
		return nil, fmt.Errorf("%w: %s", ErrVendorNotFound, vendorID)
	}
	return score, nil
}
