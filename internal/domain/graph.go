// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// GraphStore is the read side of the tax-transaction graph consumed by the
// reconciliation and risk engines.
type GraphStore interface {
	// B2BInvoices returns every business-to-business invoice with its
	// per-source observations, ordered by invoice id.
	B2BInvoices(ctx context.Context) ([]*InvoiceObservations, error)

	// EligibilityContext returns the graph neighbourhood needed to decide
	// input-credit eligibility. Found is false when the invoice is unknown
	// or not business-to-business.
	EligibilityContext(ctx context.Context, invoiceID string) (*EligibilityContext, error)

	// InvoicingCycles returns closed issuer→recipient cycles of the given length.
	InvoicingCycles(ctx context.Context, length int) ([]InvoicingCycle, error)

	// VendorAggregates returns issuer-side totals. Found is false for unknown vendors.
	VendorAggregates(ctx context.Context, vendorID string) (*VendorAggregates, error)

	// ListVendorIDs returns every non-stub taxpayer id, sorted.
	ListVendorIDs(ctx context.Context) ([]string, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// GraphWriter loads graph entities. Upserts are keyed by natural id.
type GraphWriter interface {
	SaveTaxpayer(ctx context.Context, tp *Taxpayer) error
	SaveInvoice(ctx context.Context, inv *Invoice) error
	SaveObservation(ctx context.Context, invoiceID string, obs Observation) error
	SaveReturn(ctx context.Context, r *ReturnFiling) error
	SavePayment(ctx context.Context, p *Payment) error
	SaveEInvoice(ctx context.Context, e *EInvoice) error
}

// RegistrationStatus is a taxpayer's registration state.
type RegistrationStatus string

const (
	RegistrationActive    RegistrationStatus = "ACTIVE"
	RegistrationCancelled RegistrationStatus = "CANCELLED"
	RegistrationSuspended RegistrationStatus = "SUSPENDED"
	RegistrationInactive  RegistrationStatus = "INACTIVE"
)

// FilingStatus is the state of one periodic return.
type FilingStatus string

const (
	FilingFiled     FilingStatus = "FILED"
	FilingNotFiled  FilingStatus = "NOT_FILED"
	FilingLateFiled FilingStatus = "LATE_FILED"
	FilingRevised   FilingStatus = "REVISED"
)

// Filed reports whether the return was submitted at all.
func (s FilingStatus) Filed() bool {
	switch s {
	case FilingFiled, FilingLateFiled, FilingRevised:
		return true
	}
	return false
}

// EInvoiceStatus is the state of an e-invoice reference number.
type EInvoiceStatus string

const (
	EInvoiceActive    EInvoiceStatus = "ACTIVE"
	EInvoiceCancelled EInvoiceStatus = "CANCELLED"
)

// InvoiceTypeB2B marks business-to-business invoices, the only type reconciled.
const InvoiceTypeB2B = "B2B"

// Taxpayer is a registered party. Stub taxpayers are created for recipients
// that appear on invoices before their own registration is loaded.
type Taxpayer struct {
	ID        string             `json:"id"`
	LegalName string             `json:"legalName"`
	Status    RegistrationStatus `json:"status"`
	StateCode string             `json:"stateCode,omitempty"`
	Stub      bool               `json:"stub,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

// Invoice is an issuer→recipient edge in the graph.
type Invoice struct {
	ID            string    `json:"id"`
	InvoiceNumber string    `json:"invoiceNumber"`
	InvoiceType   string    `json:"invoiceType"`
	IssuerID      string    `json:"issuerId"`
	RecipientID   string    `json:"recipientId"`
	InvoiceDate   time.Time `json:"invoiceDate"`
	Period        string    `json:"period"` // MMYYYY
}

// ReturnFiling is one periodic return filed (or not) by a taxpayer.
type ReturnFiling struct {
	ID         string       `json:"id"`
	TaxpayerID string       `json:"taxpayerId"`
	ReturnType string       `json:"returnType"`
	Period     string       `json:"period"`
	Status     FilingStatus `json:"status"`
	FiledAt    *time.Time   `json:"filedAt,omitempty"`
}

// ReturnTypeSeller is the outward-supply return whose filing gates credit.
const ReturnTypeSeller = "SELLER_RETURN"

// Payment is tax paid by a taxpayer for a period.
type Payment struct {
	ID         string          `json:"id"`
	TaxpayerID string          `json:"taxpayerId"`
	Period     string          `json:"period"`
	Amount     decimal.Decimal `json:"amount"`
}

// EInvoice is the electronic reference attached to an invoice.
type EInvoice struct {
	ID        string         `json:"id"`
	InvoiceID string         `json:"invoiceId"`
	Status    EInvoiceStatus `json:"status"`
}

// InvoiceObservations is one invoice with the records each source holds for it.
type InvoiceObservations struct {
	InvoiceID      string             `json:"invoiceId"`
	InvoiceDate    time.Time          `json:"invoiceDate"`
	IssuerID       string             `json:"issuerId"`
	CounterpartyID string             `json:"counterpartyId"`
	IssuerStatus   RegistrationStatus `json:"issuerStatus"`
	Observations   []Observation      `json:"observations"`
}

// EligibilityContext is the neighbourhood of one invoice relevant to credit.
// EInvoiceStatus and IssuerFilingStatus are empty when no such node exists.
type EligibilityContext struct {
	Found              bool               `json:"found"`
	InBuyerStatement   bool               `json:"inBuyerStatement"`
	IssuerStatus       RegistrationStatus `json:"issuerStatus"`
	EInvoiceStatus     EInvoiceStatus     `json:"einvoiceStatus,omitempty"`
	IssuerFilingStatus FilingStatus       `json:"issuerFilingStatus,omitempty"`
}

// InvoicingCycle is a closed chain A→B→C→A with one representative invoice per hop.
type InvoicingCycle struct {
	Participants []string `json:"participants"`
	InvoiceIDs   []string `json:"invoiceIds"`
}

// VendorAggregates are issuer-side graph totals for one vendor.
type VendorAggregates struct {
	Found                bool               `json:"found"`
	VendorID             string             `json:"vendorId"`
	LegalName            string             `json:"legalName"`
	Status               RegistrationStatus `json:"status"`
	InvoiceCount         int                `json:"invoiceCount"`
	UniqueCounterparties int                `json:"uniqueCounterparties"`
	ReturnsFiled         int                `json:"returnsFiled"`
	LateFilings          int                `json:"lateFilings"`
	TotalPaid            decimal.Decimal    `json:"totalPaid"`
	TotalTaxableValue    decimal.Decimal    `json:"totalTaxableValue"`
	MaxInvoiceValue      decimal.Decimal    `json:"maxInvoiceValue"`
}

// GraphStats counts nodes by kind.
type GraphStats struct {
	Taxpayers    int `json:"taxpayers"`
	Invoices     int `json:"invoices"`
	Observations int `json:"observations"`
	Returns      int `json:"returns"`
	Payments     int `json:"payments"`
	EInvoices    int `json:"einvoices"`
}

// ErrTaxpayerNotFound is returned for neighbourhood queries on unknown ids.
var ErrTaxpayerNotFound = errors.New("taxpayer not found")

// SubgraphEdgeLimit caps how many edges a neighbourhood query returns.
const SubgraphEdgeLimit = 200

// Edge types in a taxpayer neighbourhood. Invoices point at their issuer and
// recipient, taxpayers point at their returns and payments, and e-invoices
// point at the invoice they register.
const (
	EdgeIssuedBy   = "ISSUED_BY"
	EdgeReceivedBy = "RECEIVED_BY"
	EdgeFiled      = "FILED"
	EdgePaidTaxIn  = "PAID_TAX_IN"
	EdgeRegisters  = "REGISTERS"
)

// SubgraphNode is one entity in a neighbourhood. Kind is Taxpayer, Invoice,
// Return, Payment or EInvoice.
type SubgraphNode struct {
	ID         string            `json:"id"`
	Kind       string            `json:"label"`
	Properties map[string]string `json:"properties"`
}

type SubgraphEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Subgraph is the direct neighbourhood of one taxpayer.
type Subgraph struct {
	Root      string         `json:"root"`
	Nodes     []SubgraphNode `json:"nodes"`
	Edges     []SubgraphEdge `json:"edges"`
	Truncated bool           `json:"truncated"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
