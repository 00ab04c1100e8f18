package reconcile

import (
	"context"
	"errors"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// memStore is an in-memory GraphStore for engine tests.
type memStore struct {
	invoices   []*domain.InvoiceObservations
	contexts   map[string]*domain.EligibilityContext
	cycles     []domain.InvoicingCycle
	cycleErr   error
	invoiceErr error
	contextErr error
	aggregates map[string]*domain.VendorAggregates
}

func newMemStore() *memStore {
	return &memStore{
		contexts:   make(map[string]*domain.EligibilityContext),
		aggregates: make(map[string]*domain.VendorAggregates),
	}
}

func (m *memStore) B2BInvoices(ctx context.Context) ([]*domain.InvoiceObservations, error) {
	return m.invoices, m.invoiceErr
}

func (m *memStore) EligibilityContext(ctx context.Context, invoiceID string) (*domain.EligibilityContext, error) {
	if m.contextErr != nil {
		return nil, m.contextErr
	}
	if ec, ok := m.contexts[invoiceID]; ok {
		return ec, nil
	}
	return &domain.EligibilityContext{}, nil
}

func (m *memStore) InvoicingCycles(ctx context.Context, length int) ([]domain.InvoicingCycle, error) {
	return m.cycles, m.cycleErr
}

func (m *memStore) VendorAggregates(ctx context.Context, vendorID string) (*domain.VendorAggregates, error) {
	if a, ok := m.aggregates[vendorID]; ok {
		return a, nil
	}
	return &domain.VendorAggregates{VendorID: vendorID}, nil
}

func (m *memStore) ListVendorIDs(ctx context.Context) ([]string, error) {
	return nil, errors.New("not implemented")
}

func (m *memStore) Ping(ctx context.Context) error { return nil }
func (m *memStore) Close() error                   { return nil }

func eligibleContext() *domain.EligibilityContext {
	return &domain.EligibilityContext{
		Found:              true,
		InBuyerStatement:   true,
		IssuerStatus:       domain.RegistrationActive,
		IssuerFilingStatus: domain.FilingFiled,
	}
}
