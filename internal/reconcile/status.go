package reconcile

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Presence records which expected sources hold a record for an invoice.
type Presence map[domain.SourceSystem]bool

// PresenceOf builds the presence set from observations.
func PresenceOf(observations []domain.Observation) Presence {
	p := make(Presence, len(domain.ExpectedSources))
	for _, o := range observations {
		if o.Source.Valid() {
			p[o.Source] = true
		}
	}
	return p
}

// Split returns present and missing sources in canonical order.
func (p Presence) Split() (present, missing []domain.SourceSystem) {
	present = []domain.SourceSystem{}
	missing = []domain.SourceSystem{}
	for _, s := range domain.ExpectedSources {
		if p[s] {
			present = append(present, s)
		} else {
			missing = append(missing, s)
		}
	}
	return present, missing
}

func (p Presence) only(s domain.SourceSystem) bool {
	return len(p) == 1 && p[s]
}

// ClassifyStatus assigns exactly one status. Presence gaps outrank value
// disagreements, so the first matching rule wins.
func ClassifyStatus(p Presence, mismatches, sameBase []domain.MismatchDetail) domain.MatchStatus {
	switch {
	case p.only(domain.SourcePurchaseLedger):
		return domain.StatusOnlyInLedger
	case p.only(domain.SourceSellerReturn):
		return domain.StatusOnlyInReturn
	case !p[domain.SourceSellerReturn]:
		return domain.StatusMissingInReturn
	case !p[domain.SourceBuyerStatement]:
		return domain.StatusMissingInStatement
	case !p[domain.SourcePurchaseLedger]:
		return domain.StatusMissingInLedger
	}

	if len(mismatches) == 0 && len(sameBase) == 0 {
		return domain.StatusFullMatch
	}

	taxable := hasField(mismatches, domain.FieldTaxableValue)
	tax := hasField(mismatches, domain.FieldTaxAmount) || len(sameBase) > 0
	switch {
	case taxable && !tax:
		return domain.StatusValueMismatch
	case tax:
		return domain.StatusTaxMismatch
	default:
		return domain.StatusPartialMatch
	}
}

func hasField(mismatches []domain.MismatchDetail, field string) bool {
	for _, m := range mismatches {
		if m.Field == field {
			return true
		}
	}
	return false
}

// Confidence scores how much a result can be trusted: 1.0 less 0.2 per
// missing source and 0.1 per mismatch, floored at zero.
func Confidence(missingSources, mismatchCount int) float64 {
	c := 1.0 - 0.2*float64(missingSources) - 0.1*float64(mismatchCount)
	c = math.Round(c*100) / 100
	if c <= 0 {
		return 0
	}
	return c
}
