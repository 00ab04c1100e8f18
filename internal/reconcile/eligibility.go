package reconcile

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Ineligibility reasons, appended in this order.
const (
	ReasonNotFound          = "invoice not found in graph or not business-to-business"
	ReasonNotInStatement    = "invoice not present in buyer's auto-populated statement"
	ReasonEInvoiceCancelled = "e-invoice reference has been CANCELLED; credit not claimable"
	ReasonReturnNotFiled    = "issuer has not filed a return for the relevant period; credit at risk"
)

// RegistrationReason formats the reason for a blocked issuer registration.
func RegistrationReason(status domain.RegistrationStatus) string {
	return fmt.Sprintf("issuer registration is %s; credit disallowed", status)
}

// EligibilityChecker decides whether input credit may be claimed on an invoice.
type EligibilityChecker struct {
	store domain.GraphStore
}

// NewEligibilityChecker creates a checker reading from store.
func NewEligibilityChecker(store domain.GraphStore) *EligibilityChecker {
	return &EligibilityChecker{store: store}
}

// Check evaluates every credit condition for one invoice.
// Store failures are returned; a missing invoice is ineligible, not an error.
func (c *EligibilityChecker) Check(ctx context.Context, invoiceID string) (domain.Eligibility, error) {
	ec, err := c.store.EligibilityContext(ctx, invoiceID)
	if err != nil {
		return domain.Eligibility{}, fmt.Errorf("eligibility context for %s: %w", invoiceID, err)
	}
	reasons := Reasons(ec)
	return domain.Eligibility{
		InvoiceID: invoiceID,
		Eligible:  len(reasons) == 0,
		Reasons:   reasons,
	}, nil
}

// Reasons lists every failed credit condition for an eligibility context.
func Reasons(ec *domain.EligibilityContext) []string {
	if ec == nil || !ec.Found {
		return []string{ReasonNotFound}
	}

	reasons := []string{}
	if !ec.InBuyerStatement {
		reasons = append(reasons, ReasonNotInStatement)
	}
	if ec.IssuerStatus == domain.RegistrationCancelled || ec.IssuerStatus == domain.RegistrationSuspended {
		reasons = append(reasons, RegistrationReason(ec.IssuerStatus))
	}
	if ec.EInvoiceStatus == domain.EInvoiceCancelled {
		reasons = append(reasons, ReasonEInvoiceCancelled)
	}
	if !ec.IssuerFilingStatus.Filed() {
		reasons = append(reasons, ReasonReturnNotFiled)
	}
	return reasons
}
