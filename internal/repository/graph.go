package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// B2BInvoices returns every business-to-business invoice with its observations.
func (r *SQLRepository) B2BInvoices(ctx context.Context) ([]*domain.InvoiceObservations, error) {
	query := `
		SELECT i.id, i.invoice_date, i.issuer_id, i.recipient_id, COALESCE(t.status, ''),
		       o.source_system, o.record_id, o.taxable_value, o.tax_amount, o.igst_amount, o.reporting_period
		FROM invoices i
		LEFT JOIN taxpayers t ON t.id = i.issuer_id
		LEFT JOIN observations o ON o.invoice_id = i.id
		WHERE i.invoice_type = ?
		ORDER BY i.id, o.source_system
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), domain.InvoiceTypeB2B)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}
	defer rows.Close()

	var out []*domain.InvoiceObservations
	var cur *domain.InvoiceObservations
	for rows.Next() {
		var (
			id, issuer, recipient, status string
			date                          time.Time
			source, recordID, period      sql.NullString
			taxable, tax, igst            decimal.NullDecimal
		)
		if err := rows.Scan(&id, &date, &issuer, &recipient, &status,
			&source, &recordID, &taxable, &tax, &igst, &period); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}

		if cur == nil || cur.InvoiceID != id {
			cur = &domain.InvoiceObservations{
				InvoiceID:      id,
				InvoiceDate:    date,
				IssuerID:       issuer,
				CounterpartyID: recipient,
				IssuerStatus:   domain.RegistrationStatus(status),
				Observations:   []domain.Observation{},
			}
			out = append(out, cur)
		}
		if !source.Valid {
			continue
		}
		cur.Observations = append(cur.Observations, domain.Observation{
			Source:          domain.SourceSystem(source.String),
			RecordID:        recordID.String,
			TaxableValue:    taxable.Decimal,
			TaxAmount:       tax.Decimal,
			IGSTAmount:      igst.Decimal,
			ReportingPeriod: period.String,
		})
	}
	return out, rows.Err()
}

// EligibilityContext gathers the credit-relevant neighbourhood of one invoice.
// Filed returns win over unfiled ones for the same period, and any cancelled
// e-invoice reference wins over active ones.
func (r *SQLRepository) EligibilityContext(ctx context.Context, invoiceID string) (*domain.EligibilityContext, error) {
	query := `
		SELECT COALESCE(t.status, ''),
		       CASE WHEN EXISTS (
		           SELECT 1 FROM observations o
		           WHERE o.invoice_id = i.id AND o.source_system = ?
		       ) THEN 1 ELSE 0 END,
		       COALESCE((
		           SELECT e.status FROM einvoices e
		           WHERE e.invoice_id = i.id
		           ORDER BY CASE e.status WHEN 'CANCELLED' THEN 0 ELSE 1 END, e.id
		           LIMIT 1
		       ), ''),
		       COALESCE((
		           SELECT rt.filing_status FROM returns rt
		           WHERE rt.taxpayer_id = i.issuer_id AND rt.return_type = ? AND rt.period = i.period
		           ORDER BY CASE rt.filing_status WHEN 'NOT_FILED' THEN 1 ELSE 0 END, rt.id DESC
		           LIMIT 1
		       ), '')
		FROM invoices i
		LEFT JOIN taxpayers t ON t.id = i.issuer_id
		WHERE i.id = ? AND i.invoice_type = ?
	`
	var (
		status, einvoice, filing string
		inStatement              int
	)
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		domain.SourceBuyerStatement, domain.ReturnTypeSeller, invoiceID, domain.InvoiceTypeB2B,
	).Scan(&status, &inStatement, &einvoice, &filing)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.EligibilityContext{Found: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query eligibility: %w", err)
	}

	return &domain.EligibilityContext{
		Found:              true,
		InBuyerStatement:   inStatement == 1,
		IssuerStatus:       domain.RegistrationStatus(status),
		EInvoiceStatus:     domain.EInvoiceStatus(einvoice),
		IssuerFilingStatus: domain.FilingStatus(filing),
	}, nil
}

// InvoicingCycles returns closed three-party rings A→B→C→A. Each ring is
// reported once, starting at its smallest participant, with the lowest
// invoice id per hop.
func (r *SQLRepository) InvoicingCycles(ctx context.Context, length int) ([]domain.InvoicingCycle, error) {
	if length != 3 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCycleLength, length)
	}
	query := `
		SELECT i1.issuer_id, i2.issuer_id, i3.issuer_id, MIN(i1.id), MIN(i2.id), MIN(i3.id)
		FROM invoices i1
		JOIN invoices i2 ON i2.issuer_id = i1.recipient_id
		JOIN invoices i3 ON i3.issuer_id = i2.recipient_id AND i3.recipient_id = i1.issuer_id
		WHERE i1.issuer_id <> i1.recipient_id
		  AND i2.issuer_id <> i2.recipient_id
		  AND i1.issuer_id <> i2.recipient_id
		  AND i1.issuer_id < i2.issuer_id
		  AND i1.issuer_id < i3.issuer_id
		GROUP BY i1.issuer_id, i2.issuer_id, i3.issuer_id
		ORDER BY i1.issuer_id, i2.issuer_id, i3.issuer_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []domain.InvoicingCycle
	for rows.Next() {
		var a, b, c, ab, bc, ca string
		if err := rows.Scan(&a, &b, &c, &ab, &bc, &ca); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		cycles = append(cycles, domain.InvoicingCycle{
			Participants: []string{a, b, c},
			InvoiceIDs:   []string{ab, bc, ca},
		})
	}
	return cycles, rows.Err()
}

// VendorAggregates returns issuer-side totals for one taxpayer.
// Taxable value comes from the seller's own return.
func (r *SQLRepository) VendorAggregates(ctx context.Context, vendorID string) (*domain.VendorAggregates, error) {
	query := `
		SELECT t.legal_name, t.status,
		       (SELECT COUNT(*) FROM invoices i WHERE i.issuer_id = t.id),
		       (SELECT COUNT(DISTINCT i.recipient_id) FROM invoices i WHERE i.issuer_id = t.id),
		       (SELECT COUNT(*) FROM returns rt WHERE rt.taxpayer_id = t.id AND rt.filing_status IN (?, ?, ?)),
		       (SELECT COUNT(*) FROM returns rt WHERE rt.taxpayer_id = t.id AND rt.filing_status = ?),
		       (SELECT COALESCE(SUM(p.amount), 0) FROM payments p WHERE p.taxpayer_id = t.id),
		       (SELECT COALESCE(SUM(o.taxable_value), 0) FROM observations o
		            JOIN invoices i ON i.id = o.invoice_id
		            WHERE i.issuer_id = t.id AND o.source_system = ?),
		       (SELECT COALESCE(MAX(o.taxable_value), 0) FROM observations o
		            JOIN invoices i ON i.id = o.invoice_id
		            WHERE i.issuer_id = t.id AND o.source_system = ?)
		FROM taxpayers t
		WHERE t.id = ?
	`
	agg := &domain.VendorAggregates{VendorID: vendorID}
	var status string
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		domain.FilingFiled, domain.FilingLateFiled, domain.FilingRevised,
		domain.FilingLateFiled,
		domain.SourceSellerReturn, domain.SourceSellerReturn,
		vendorID,
	).Scan(
		&agg.LegalName, &status,
		&agg.InvoiceCount, &agg.UniqueCounterparties,
		&agg.ReturnsFiled, &agg.LateFilings,
		&agg.TotalPaid, &agg.TotalTaxableValue, &agg.MaxInvoiceValue,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return agg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query vendor aggregates: %w", err)
	}
	agg.Found = true
	agg.Status = domain.RegistrationStatus(status)
	return agg, nil
}

// ListVendorIDs returns every registered (non-stub) taxpayer.
func (r *SQLRepository) ListVendorIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM taxpayers WHERE is_stub = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query vendors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
