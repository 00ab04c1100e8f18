package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceSystem identifies one of the three independent invoice sources.
type SourceSystem string

const (
	// SourceSellerReturn is the supplier's outward-supply return.
	SourceSellerReturn SourceSystem = "SELLER_RETURN"

	// SourceBuyerStatement is the buyer's auto-populated inward statement.
	SourceBuyerStatement SourceSystem = "BUYER_STATEMENT"

	// SourcePurchaseLedger is the buyer's own purchase register.
	SourcePurchaseLedger SourceSystem = "PURCHASE_LEDGER"
)

// ExpectedSources is the fixed source set in canonical order.
var ExpectedSources = []SourceSystem{SourceSellerReturn, SourceBuyerStatement, SourcePurchaseLedger}

// Rank returns the canonical position of s, or len(ExpectedSources) if unknown.
func (s SourceSystem) Rank() int {
	for i, src := range ExpectedSources {
		if src == s {
			return i
		}
	}
	return len(ExpectedSources)
}

// Valid reports whether s is one of the expected sources.
func (s SourceSystem) Valid() bool {
	return s.Rank() < len(ExpectedSources)
}

// Observation is one source's record of an invoice. Immutable once read.
type Observation struct {
	Source          SourceSystem    `json:"sourceSystem"`
	RecordID        string          `json:"recordId"`
	TaxableValue    decimal.Decimal `json:"taxableValue"`
	TaxAmount       decimal.Decimal `json:"taxAmount"`
	IGSTAmount      decimal.Decimal `json:"igstAmount"`
	ReportingPeriod string          `json:"reportingPeriod"`
}

// Field names used in mismatch details.
const (
	FieldTaxableValue      = "taxable_value"
	FieldTaxAmount         = "tax_amount"
	FieldIGSTAmount        = "igst_amount"
	FieldTaxAmountSameBase = "tax_amount (same_taxable_base)"
)

// MismatchDetail is a field-level disagreement between two sources.
type MismatchDetail struct {
	Field      string          `json:"field"`
	SourceA    SourceSystem    `json:"sourceA"`
	ValueA     decimal.Decimal `json:"valueA"`
	SourceB    SourceSystem    `json:"sourceB"`
	ValueB     decimal.Decimal `json:"valueB"`
	Difference decimal.Decimal `json:"difference"`
}

// MatchStatus is the three-way match classification of one invoice.
type MatchStatus string

const (
	StatusFullMatch          MatchStatus = "FULL_MATCH"
	StatusPartialMatch       MatchStatus = "PARTIAL_MATCH"
	StatusValueMismatch      MatchStatus = "VALUE_MISMATCH"
	StatusTaxMismatch        MatchStatus = "TAX_MISMATCH"
	StatusMissingInReturn    MatchStatus = "MISSING_IN_RETURN"
	StatusMissingInStatement MatchStatus = "MISSING_IN_STATEMENT"
	StatusMissingInLedger    MatchStatus = "MISSING_IN_LEDGER"
	StatusOnlyInReturn       MatchStatus = "ONLY_IN_RETURN"
	StatusOnlyInLedger       MatchStatus = "ONLY_IN_LEDGER"
)

// ParseMatchStatus validates a status string.
func ParseMatchStatus(s string) (MatchStatus, bool) {
	switch st := MatchStatus(s); st {
	case StatusFullMatch, StatusPartialMatch, StatusValueMismatch, StatusTaxMismatch,
		StatusMissingInReturn, StatusMissingInStatement, StatusMissingInLedger,
		StatusOnlyInReturn, StatusOnlyInLedger:
		return st, true
	}
	return "", false
}

// ReconciliationResult is the outcome for one invoice in one run.
type ReconciliationResult struct {
	InvoiceID            string                           `json:"invoiceId"`
	SupplierID           string                           `json:"supplierId"`
	CounterpartyID       string                           `json:"counterpartyId"`
	InvoiceDate          time.Time                        `json:"invoiceDate"`
	MatchStatus          MatchStatus                      `json:"matchStatus"`
	SourcesPresent       []SourceSystem                   `json:"sourcesPresent"`
	SourcesMissing       []SourceSystem                   `json:"sourcesMissing"`
	Mismatches           []MismatchDetail                 `json:"mismatches"`
	ValueBySource        map[SourceSystem]decimal.Decimal `json:"valueBySource"`
	TaxBySource          map[SourceSystem]decimal.Decimal `json:"taxBySource"`
	CreditEligible       bool                             `json:"creditEligible"`
	IneligibilityReasons []string                         `json:"ineligibilityReasons"`
	ConfidenceScore      float64                          `json:"confidenceScore"`
}

// ReconciliationSummary aggregates one run's results.
type ReconciliationSummary struct {
	TotalInvoices      int                 `json:"totalInvoices"`
	FullMatch          int                 `json:"fullMatch"`
	PartialMatch       int                 `json:"partialMatch"`
	MissingInReturn    int                 `json:"missingInReturn"`
	MissingInStatement int                 `json:"missingInStatement"`
	MissingInLedger    int                 `json:"missingInLedger"`
	ValueMismatch      int                 `json:"valueMismatch"`
	StatusCounts       map[MatchStatus]int `json:"statusCounts"`
	TotalTaxableValue  float64             `json:"totalTaxableValue"`
	TotalTaxAtRisk     float64             `json:"totalTaxAtRisk"`
	MatchRate          float64             `json:"matchRate"` // percent
	CreditIneligible   int                 `json:"creditIneligible"`
	FraudRingSize      int                 `json:"fraudRingSize"`
}

// CycleReport lists detected invoicing cycles and their participants.
type CycleReport struct {
	Cycles       []InvoicingCycle `json:"cycles"`
	Participants []string         `json:"participants"`
}

// Contains reports whether id takes part in any cycle.
func (r *CycleReport) Contains(id string) bool {
	if r == nil {
		return false
	}
	for _, p := range r.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// ReconciliationRun is an immutable snapshot of one reconciliation.
type ReconciliationRun struct {
	ID          string                  `json:"id"`
	StartedAt   time.Time               `json:"startedAt"`
	CompletedAt time.Time               `json:"completedAt"`
	Summary     ReconciliationSummary   `json:"summary"`
	Results     []*ReconciliationResult `json:"results"`
	Cycles      CycleReport             `json:"cycles"`
}

// Eligibility is the input-credit decision for one invoice.
// Reasons is empty iff Eligible.
type Eligibility struct {
	InvoiceID string   `json:"invoiceId"`
	Eligible  bool     `json:"eligible"`
	Reasons   []string `json:"reasons"`
}
