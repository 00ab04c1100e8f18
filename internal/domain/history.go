package domain

import (
	"context"
	"time"
)

// HistoryStore persists run summaries and trained model artifacts.
type HistoryStore interface {
	SaveReconciliationRun(ctx context.Context, run *ReconciliationRun) error
	ListReconciliationRuns(ctx context.Context, limit int) ([]*RunRecord, error)
	SaveModelArtifact(ctx context.Context, art *ModelArtifact) error
	LatestModelArtifact(ctx context.Context) (*ModelArtifact, error)
}

// RunRecord is the persisted header of a reconciliation run.
type RunRecord struct {
	ID          string                `json:"id"`
	StartedAt   time.Time             `json:"startedAt"`
	CompletedAt time.Time             `json:"completedAt"`
	Summary     ReconciliationSummary `json:"summary"`
}

// GraphBatch is a set of entities loaded together.
type GraphBatch struct {
	Taxpayers    []*Taxpayer          `json:"taxpayers"`
	Invoices     []*Invoice           `json:"invoices"`
	Observations []InvoiceObservation `json:"observations"`
	Returns      []*ReturnFiling      `json:"returns"`
	Payments     []*Payment           `json:"payments"`
	EInvoices    []*EInvoice          `json:"einvoices"`
}

// InvoiceObservation ties an observation to its invoice for loading.
type InvoiceObservation struct {
	InvoiceID   string      `json:"invoiceId"`
	Observation Observation `json:"observation"`
}
