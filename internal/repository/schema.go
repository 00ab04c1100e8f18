package repository

// Schema definitions for the Kestrel graph store.
// Compatible with both SQLite and PostgreSQL.

const schemaTaxpayers = `
CREATE TABLE IF NOT EXISTS taxpayers (
    id TEXT PRIMARY KEY,
    legal_name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'ACTIVE',
    state_code TEXT NOT NULL DEFAULT '',
    is_stub INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_taxpayers_stub ON taxpayers(is_stub);
`

const schemaInvoices = `
CREATE TABLE IF NOT EXISTS invoices (
    id TEXT PRIMARY KEY,
    invoice_number TEXT NOT NULL DEFAULT '',
    invoice_type TEXT NOT NULL,
    issuer_id TEXT NOT NULL REFERENCES taxpayers(id),
    recipient_id TEXT NOT NULL REFERENCES taxpayers(id),
    invoice_date TIMESTAMP NOT NULL,
    period TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_invoices_issuer ON invoices(issuer_id);
CREATE INDEX IF NOT EXISTS idx_invoices_recipient ON invoices(recipient_id);
CREATE INDEX IF NOT EXISTS idx_invoices_type ON invoices(invoice_type);
`

const schemaObservations = `
CREATE TABLE IF NOT EXISTS observations (
    invoice_id TEXT NOT NULL REFERENCES invoices(id),
    source_system TEXT NOT NULL,
    record_id TEXT NOT NULL DEFAULT '',
    taxable_value NUMERIC(18,2) NOT NULL,
    tax_amount NUMERIC(18,2) NOT NULL,
    igst_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
    reporting_period TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (invoice_id, source_system)
);
`

const schemaReturns = `
CREATE TABLE IF NOT EXISTS returns (
    id TEXT PRIMARY KEY,
    taxpayer_id TEXT NOT NULL REFERENCES taxpayers(id),
    return_type TEXT NOT NULL,
    period TEXT NOT NULL,
    filing_status TEXT NOT NULL,
    filed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_returns_taxpayer ON returns(taxpayer_id, return_type, period);
`

const schemaPayments = `
CREATE TABLE IF NOT EXISTS payments (
    id TEXT PRIMARY KEY,
    taxpayer_id TEXT NOT NULL REFERENCES taxpayers(id),
    period TEXT NOT NULL DEFAULT '',
    amount NUMERIC(18,2) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payments_taxpayer ON payments(taxpayer_id);
`

const schemaEInvoices = `
CREATE TABLE IF NOT EXISTS einvoices (
    id TEXT PRIMARY KEY,
    invoice_id TEXT NOT NULL REFERENCES invoices(id),
    status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_einvoices_invoice ON einvoices(invoice_id);
`

const schemaHistory = `
CREATE TABLE IF NOT EXISTS reconciliation_runs (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP NOT NULL,
    total_invoices INTEGER NOT NULL,
    match_rate REAL NOT NULL,
    summary TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_completed ON reconciliation_runs(completed_at);

CREATE TABLE IF NOT EXISTS model_artifacts (
    version TEXT PRIMARY KEY,
    trained_at TIMESTAMP NOT NULL,
    training_size INTEGER NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_model_artifacts_trained ON model_artifacts(trained_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTaxpayers,
		schemaInvoices,
		schemaObservations,
		schemaReturns,
		schemaPayments,
		schemaEInvoices,
		schemaHistory,
	}
}
