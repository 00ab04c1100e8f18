package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveTaxpayer upserts a taxpayer, promoting any stub with the same id.
func (r *SQLRepository) SaveTaxpayer(ctx context.Context, tp *domain.Taxpayer) error {
	return r.saveTaxpayer(ctx, r.db, tp)
}

// SaveInvoice upserts an invoice, creating stub taxpayers for unknown parties.
func (r *SQLRepository) SaveInvoice(ctx context.Context, inv *domain.Invoice) error {
	return r.saveInvoice(ctx, r.db, inv)
}

// SaveObservation upserts one source's record of an invoice.
func (r *SQLRepository) SaveObservation(ctx context.Context, invoiceID string, obs domain.Observation) error {
	return r.saveObservation(ctx, r.db, invoiceID, obs)
}

// SaveReturn upserts a periodic return.
func (r *SQLRepository) SaveReturn(ctx context.Context, ret *domain.ReturnFiling) error {
	return r.saveReturn(ctx, r.db, ret)
}

// SavePayment upserts a tax payment.
func (r *SQLRepository) SavePayment(ctx context.Context, p *domain.Payment) error {
	return r.savePayment(ctx, r.db, p)
}

// SaveEInvoice upserts an e-invoice reference.
func (r *SQLRepository) SaveEInvoice(ctx context.Context, e *domain.EInvoice) error {
	return r.saveEInvoice(ctx, r.db, e)
}

// SaveBatch loads a whole batch in one transaction, parents before children.
func (r *SQLRepository) SaveBatch(ctx context.Context, b *domain.GraphBatch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, tp := range b.Taxpayers {
		if err := r.saveTaxpayer(ctx, tx, tp); err != nil {
			return err
		}
	}
	for _, inv := range b.Invoices {
		if err := r.saveInvoice(ctx, tx, inv); err != nil {
			return err
		}
	}
	for _, o := range b.Observations {
		if err := r.saveObservation(ctx, tx, o.InvoiceID, o.Observation); err != nil {
			return err
		}
	}
	for _, ret := range b.Returns {
		if err := r.saveReturn(ctx, tx, ret); err != nil {
			return err
		}
	}
	for _, p := range b.Payments {
		if err := r.savePayment(ctx, tx, p); err != nil {
			return err
		}
	}
	for _, e := range b.EInvoices {
		if err := r.saveEInvoice(ctx, tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLRepository) saveTaxpayer(ctx context.Context, db execer, tp *domain.Taxpayer) error {
	if tp == nil || tp.ID == "" {
		return fmt.Errorf("%w: taxpayer id is required", ErrInvalidInput)
	}
	status := tp.Status
	if status == "" {
		status = domain.RegistrationActive
	}
	created := tp.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	query := `
		INSERT INTO taxpayers (id, legal_name, status, state_code, is_stub, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT (id) DO UPDATE SET
			legal_name = excluded.legal_name,
			status = excluded.status,
			state_code = excluded.state_code,
			is_stub = 0
	`
	if _, err := db.ExecContext(ctx, r.rebind(query), tp.ID, tp.LegalName, status, tp.StateCode, created); err != nil {
		return fmt.Errorf("save taxpayer %s: %w", tp.ID, err)
	}
	return nil
}

func (r *SQLRepository) ensureStub(ctx context.Context, db execer, id string) error {
	query := `
		INSERT INTO taxpayers (id, legal_name, status, state_code, is_stub, created_at)
		VALUES (?, '', ?, '', 1, ?)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := db.ExecContext(ctx, r.rebind(query), id, domain.RegistrationActive, time.Now().UTC()); err != nil {
		return fmt.Errorf("ensure taxpayer %s: %w", id, err)
	}
	return nil
}

func (r *SQLRepository) saveInvoice(ctx context.Context, db execer, inv *domain.Invoice) error {
	if inv == nil || inv.ID == "" || inv.IssuerID == "" || inv.RecipientID == "" {
		return fmt.Errorf("%w: invoice id, issuer and recipient are required", ErrInvalidInput)
	}
	for _, id := range []string{inv.IssuerID, inv.RecipientID} {
		if err := r.ensureStub(ctx, db, id); err != nil {
			return err
		}
	}
	invType := inv.InvoiceType
	if invType == "" {
		invType = domain.InvoiceTypeB2B
	}

	query := `
		INSERT INTO invoices (id, invoice_number, invoice_type, issuer_id, recipient_id, invoice_date, period)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			invoice_number = excluded.invoice_number,
			invoice_type = excluded.invoice_type,
			issuer_id = excluded.issuer_id,
			recipient_id = excluded.recipient_id,
			invoice_date = excluded.invoice_date,
			period = excluded.period
	`
	_, err := db.ExecContext(ctx, r.rebind(query),
		inv.ID, inv.InvoiceNumber, invType, inv.IssuerID, inv.RecipientID, inv.InvoiceDate, inv.Period,
	)
	if err != nil {
		return fmt.Errorf("save invoice %s: %w", inv.ID, err)
	}
	return nil
}

func (r *SQLRepository) saveObservation(ctx context.Context, db execer, invoiceID string, obs domain.Observation) error {
	if invoiceID == "" {
		return fmt.Errorf("%w: invoice id is required", ErrInvalidInput)
	}
	if !obs.Source.Valid() {
		return fmt.Errorf("%w: unknown source system %q", ErrInvalidInput, obs.Source)
	}

	query := `
		INSERT INTO observations (invoice_id, source_system, record_id, taxable_value, tax_amount, igst_amount, reporting_period)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (invoice_id, source_system) DO UPDATE SET
			record_id = excluded.record_id,
			taxable_value = excluded.taxable_value,
			tax_amount = excluded.tax_amount,
			igst_amount = excluded.igst_amount,
			reporting_period = excluded.reporting_period
	`
	_, err := db.ExecContext(ctx, r.rebind(query),
		invoiceID, obs.Source, obs.RecordID,
		obs.TaxableValue, obs.TaxAmount, obs.IGSTAmount, obs.ReportingPeriod,
	)
	if err != nil {
		return fmt.Errorf("save observation %s/%s: %w", invoiceID, obs.Source, err)
	}
	return nil
}

func (r *SQLRepository) saveReturn(ctx context.Context, db execer, ret *domain.ReturnFiling) error {
	if ret == nil || ret.ID == "" || ret.TaxpayerID == "" {
		return fmt.Errorf("%w: return id and taxpayer are required", ErrInvalidInput)
	}
	if err := r.ensureStub(ctx, db, ret.TaxpayerID); err != nil {
		return err
	}
	returnType := ret.ReturnType
	if returnType == "" {
		returnType = domain.ReturnTypeSeller
	}

	query := `
		INSERT INTO returns (id, taxpayer_id, return_type, period, filing_status, filed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			taxpayer_id = excluded.taxpayer_id,
			return_type = excluded.return_type,
			period = excluded.period,
			filing_status = excluded.filing_status,
			filed_at = excluded.filed_at
	`
	_, err := db.ExecContext(ctx, r.rebind(query),
		ret.ID, ret.TaxpayerID, returnType, ret.Period, ret.Status, ret.FiledAt,
	)
	if err != nil {
		return fmt.Errorf("save return %s: %w", ret.ID, err)
	}
	return nil
}

func (r *SQLRepository) savePayment(ctx context.Context, db execer, p *domain.Payment) error {
	if p == nil || p.ID == "" || p.TaxpayerID == "" {
		return fmt.Errorf("%w: payment id and taxpayer are required", ErrInvalidInput)
	}
	if err := r.ensureStub(ctx, db, p.TaxpayerID); err != nil {
		return err
	}

	query := `
		INSERT INTO payments (id, taxpayer_id, period, amount)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			taxpayer_id = excluded.taxpayer_id,
			period = excluded.period,
			amount = excluded.amount
	`
	if _, err := db.ExecContext(ctx, r.rebind(query), p.ID, p.TaxpayerID, p.Period, p.Amount); err != nil {
		return fmt.Errorf("save payment %s: %w", p.ID, err)
	}
	return nil
}

func (r *SQLRepository) saveEInvoice(ctx context.Context, db execer, e *domain.EInvoice) error {
	if e == nil || e.ID == "" || e.InvoiceID == "" {
		return fmt.Errorf("%w: e-invoice id and invoice are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO einvoices (id, invoice_id, status)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			invoice_id = excluded.invoice_id,
			status = excluded.status
	`
	if _, err := db.ExecContext(ctx, r.rebind(query), e.ID, e.InvoiceID, e.Status); err != nil {
		return fmt.Errorf("save e-invoice %s: %w", e.ID, err)
	}
	return nil
}
