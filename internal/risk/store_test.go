package risk

import (
	"context"
	"errors"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// aggStore serves vendor aggregates from memory.
type aggStore struct {
	aggregates map[string]*domain.VendorAggregates
	err        error
}

func (s *aggStore) B2BInvoices(ctx context.Context) ([]*domain.InvoiceObservations, error) {
	return nil, errors.New("not implemented")
}

func (s *aggStore) EligibilityContext(ctx context.Context, invoiceID string) (*domain.EligibilityContext, error) {
	return nil, errors.New("not implemented")
}

func (s *aggStore) InvoicingCycles(ctx context.Context, length int) ([]domain.InvoicingCycle, error) {
	return nil, errors.New("not implemented")
}

func (s *aggStore) VendorAggregates(ctx context.Context, vendorID string) (*domain.VendorAggregates, error) {
	if s.err != nil {
		return nil, s.err
	}
	if a, ok := s.aggregates[vendorID]; ok {
		return a, nil
	}
	return &domain.VendorAggregates{VendorID: vendorID}, nil
}

func (s *aggStore) ListVendorIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(s.aggregates))
	for id := range s.aggregates {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *aggStore) Ping(ctx context.Context) error { return nil }
func (s *aggStore) Close() error                   { return nil }
