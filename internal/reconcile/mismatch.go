// Package reconcile implements three-way invoice reconciliation.
package reconcile

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultTolerance is the absolute currency difference treated as agreement.
var DefaultTolerance = decimal.NewFromInt(1)

// Classifier compares observations across sources.
type Classifier struct {
	Tolerance   decimal.Decimal
	CompareIGST bool
}

// NewClassifier creates a classifier with the given tolerance.
func NewClassifier(tolerance decimal.Decimal, compareIGST bool) *Classifier {
	return &Classifier{Tolerance: tolerance, CompareIGST: compareIGST}
}

// Normalize keeps at most one observation per expected source and returns
// them in canonical source order. Duplicates resolve to the lowest record id.
func Normalize(observations []domain.Observation) []domain.Observation {
	sorted := make([]domain.Observation, 0, len(observations))
	for _, o := range observations {
		if o.Source.Valid() {
			sorted = append(sorted, o)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Source.Rank(), sorted[j].Source.Rank()
		if ri != rj {
			return ri < rj
		}
		return sorted[i].RecordID < sorted[j].RecordID
	})

	out := sorted[:0]
	for _, o := range sorted {
		if len(out) > 0 && out[len(out)-1].Source == o.Source {
			continue
		}
		out = append(out, o)
	}
	return out
}

type fieldGetter struct {
	name string
	get  func(domain.Observation) decimal.Decimal
}

var (
	taxableField = fieldGetter{domain.FieldTaxableValue, func(o domain.Observation) decimal.Decimal { return o.TaxableValue }}
	taxField     = fieldGetter{domain.FieldTaxAmount, func(o domain.Observation) decimal.Decimal { return o.TaxAmount }}
	igstField    = fieldGetter{domain.FieldIGSTAmount, func(o domain.Observation) decimal.Decimal { return o.IGSTAmount }}
)

// Compare returns field mismatches for every unordered pair of present sources.
func (c *Classifier) Compare(observations []domain.Observation) []domain.MismatchDetail {
	fields := []fieldGetter{taxableField, taxField}
	if c.CompareIGST {
		fields = append(fields, igstField)
	}

	obs := Normalize(observations)
	var out []domain.MismatchDetail
	forEachPair(obs, func(a, b domain.Observation) {
		for _, f := range fields {
			if d, ok := c.diff(f, a, b); ok {
				out = append(out, d)
			}
		}
	})
	return out
}

// CompareSameBase flags tax differences between sources whose taxable values
// agree, which points at a rate error rather than a reporting gap.
func (c *Classifier) CompareSameBase(observations []domain.Observation) []domain.MismatchDetail {
	obs := Normalize(observations)
	var out []domain.MismatchDetail
	forEachPair(obs, func(a, b domain.Observation) {
		if !c.within(a.TaxableValue, b.TaxableValue) {
			return
		}
		if d, ok := c.diff(taxField, a, b); ok {
			d.Field = domain.FieldTaxAmountSameBase
			out = append(out, d)
		}
	})
	return out
}

func (c *Classifier) within(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(c.Tolerance)
}

func (c *Classifier) diff(f fieldGetter, a, b domain.Observation) (domain.MismatchDetail, bool) {
	va, vb := f.get(a), f.get(b)
	if c.within(va, vb) {
		return domain.MismatchDetail{}, false
	}
	return domain.MismatchDetail{
		Field:      f.name,
		SourceA:    a.Source,
		ValueA:     va,
		SourceB:    b.Source,
		ValueB:     vb,
		Difference: va.Sub(vb).Abs().Round(2),
	}, true
}

// forEachPair visits each unordered pair once, earlier canonical source first.
func forEachPair(obs []domain.Observation, fn func(a, b domain.Observation)) {
	for i := 0; i < len(obs); i++ {
		for j := i + 1; j < len(obs); j++ {
			fn(obs[i], obs[j])
		}
	}
}
