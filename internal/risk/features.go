// Package risk scores suppliers from graph aggregates and reconciliation outcomes.
package risk

import (
	"context"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/reconcile"
)

// DefaultExpectedPeriods is the number of return periods a vendor should have filed.
const DefaultExpectedPeriods = 3

// FeatureBuilder joins graph aggregates with reconciliation results per vendor.
type FeatureBuilder struct {
	store           domain.GraphStore
	expectedPeriods int
}

// NewFeatureBuilder creates a builder reading aggregates from store.
func NewFeatureBuilder(store domain.GraphStore, expectedPeriods int) *FeatureBuilder {
	if expectedPeriods <= 0 {
		expectedPeriods = DefaultExpectedPeriods
	}
	return &FeatureBuilder{store: store, expectedPeriods: expectedPeriods}
}

// Build assembles the feature vector for one vendor.
// results may span every vendor; only those issued by vendorID are used.
func (b *FeatureBuilder) Build(ctx context.Context, vendorID string, results []*domain.ReconciliationResult, ring *domain.CycleReport) (domain.VendorFeatureVector, error) {
	agg, err := b.store.VendorAggregates(ctx, vendorID)
	if err != nil {
		return domain.VendorFeatureVector{}, fmt.Errorf("vendor aggregates for %s: %w", vendorID, err)
	}
	return Derive(vendorID, agg, results, ring, b.expectedPeriods), nil
}

// Derive computes a feature vector from already-fetched inputs.
func Derive(vendorID string, agg *domain.VendorAggregates, results []*domain.ReconciliationResult, ring *domain.CycleReport, expectedPeriods int) domain.VendorFeatureVector {
	if expectedPeriods <= 0 {
		expectedPeriods = DefaultExpectedPeriods
	}
	v := domain.VendorFeatureVector{
		VendorID:        vendorID,
		LegalName:       "UNKNOWN",
		PaymentCoverage: 1.0,
		ExpectedPeriods: expectedPeriods,
	}

	if agg != nil && agg.Found {
		v.LegalName = agg.LegalName
		v.RegistrationCancelled = agg.Status == domain.RegistrationCancelled
		v.InvoiceCount = agg.InvoiceCount
		v.TotalTaxableValue = agg.TotalTaxableValue.InexactFloat64()
		v.UniqueCounterparties = agg.UniqueCounterparties
		v.ReturnsFiled = agg.ReturnsFiled
		v.LateFilings = agg.LateFilings
		v.TotalPaid = agg.TotalPaid.InexactFloat64()
		v.MaxInvoiceValue = agg.MaxInvoiceValue.InexactFloat64()
	}

	for _, res := range results {
		if res.SupplierID != vendorID {
			continue
		}
		if res.MatchStatus != domain.StatusFullMatch {
			v.MismatchCount++
		}
		if res.MatchStatus == domain.StatusMissingInStatement || res.MatchStatus == domain.StatusOnlyInReturn {
			v.MissingInStatementCount++
		}
		for _, reason := range res.IneligibilityReasons {
			if reason == reconcile.ReasonEInvoiceCancelled {
				v.CancelledEInvoiceFlag = true
			}
		}
		for _, m := range res.Mismatches {
			if m.Field == domain.FieldTaxableValue {
				v.ValueMismatchTotal += m.Difference.InexactFloat64()
			}
		}
	}

	if v.InvoiceCount > 0 {
		v.MismatchRate = round4(float64(v.MismatchCount) / float64(v.InvoiceCount))
		v.MissingInStatementRate = round4(float64(v.MissingInStatementCount) / float64(v.InvoiceCount))
		v.AvgInvoiceValue = math.Round(v.TotalTaxableValue/float64(v.InvoiceCount)*100) / 100
	}
	v.FilingRegularity = round4(math.Min(float64(v.ReturnsFiled)/float64(expectedPeriods), 1.0))
	if v.TotalTaxableValue > 0 {
		v.PaymentCoverage = round4(v.TotalPaid / v.TotalTaxableValue)
	}
	v.CircularTradeFlag = ring.Contains(vendorID)
	return v
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}
