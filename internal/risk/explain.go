package risk

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Explain renders the fixed-order narrative for one vendor. Each clause
// appears only when its condition holds.
func Explain(v domain.VendorFeatureVector, score float64, tier domain.RiskTier, reasons []string) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Vendor %s (%s) has a %s risk score of %.1f/100.",
		v.LegalName, v.VendorID, tier, score))

	if v.RegistrationCancelled {
		parts = append(parts, "WARNING: This vendor's GST registration has been CANCELLED. "+
			"Input tax credit on their invoices is disallowed.")
	}

	if v.MismatchRate > 0 {
		parts = append(parts, fmt.Sprintf("%d out of %d invoices (%s) show discrepancies "+
			"between the seller return, buyer statement and purchase ledger.",
			v.MismatchCount, v.InvoiceCount, pct(v.MismatchRate)))
	}

	if v.MissingInStatementRate > 0 {
		parts = append(parts, fmt.Sprintf("%d invoices (%s) are missing from buyers' auto-populated statements, "+
			"indicating the supplier may not have reported them.",
			v.MissingInStatementCount, pct(v.MissingInStatementRate)))
	}

	switch {
	case v.PaymentCoverage > 0 && v.PaymentCoverage < 1.0:
		parts = append(parts, fmt.Sprintf("Tax payment coverage is only %s, meaning tax was collected but not fully remitted.",
			pct(v.PaymentCoverage)))
	case v.PaymentCoverage == 0 && v.TotalTaxableValue > 0:
		parts = append(parts, "Zero tax payment detected despite reported taxable supplies.")
	}

	if v.CircularTradeFlag {
		parts = append(parts, "This vendor is part of a circular trading pattern, "+
			"a strong indicator of fake invoicing to claim fraudulent input tax credit.")
	}

	if v.FilingRegularity < 1.0 {
		parts = append(parts, fmt.Sprintf("Filing regularity is %s. Returns were filed for %d out of %d expected periods.",
			pct(v.FilingRegularity), v.ReturnsFiled, v.ExpectedPeriods))
	}

	if len(reasons) > 0 {
		parts = append(parts, "Rule-based findings: "+strings.Join(reasons, "; ")+".")
	}

	return strings.Join(parts, " ")
}

func pct(x float64) string {
	return fmt.Sprintf("%.1f%%", x*100)
}
