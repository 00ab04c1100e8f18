package service

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// GraphStats counts the entities in the store.
func (s *Service) GraphStats(ctx context.Context) (*domain.GraphStats, error) {
	src, ok := s.graph.(StatsSource)
	if !ok {
		return nil, ErrGraphUnsupported
	}
	return src.GraphStats(ctx)
}

// Subgraph returns a taxpayer's direct neighbourhood, capped at
// domain.SubgraphEdgeLimit edges. Unknown ids match domain.ErrTaxpayerNotFound.
func (s *Service) Subgraph(ctx context.Context, taxpayerID string) (*domain.Subgraph, error) {
	src, ok := s.graph.(SubgraphSource)
	if !ok {
		return nil, ErrGraphUnsupported
	}
	return src.Subgraph(ctx, taxpayerID, domain.SubgraphEdgeLimit)
}
