package reconcile

import (
	"reflect"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestClassifyStatus(t *testing.T) {
	c := NewClassifier(DefaultTolerance, true)
	sr := domain.SourceSellerReturn
	bs := domain.SourceBuyerStatement
	pl := domain.SourcePurchaseLedger

	tests := []struct {
		name string
		obs  []domain.Observation
		want domain.MatchStatus
	}{
		{"OnlyLedger", []domain.Observation{obs(pl, "100", "18")}, domain.StatusOnlyInLedger},
		{"OnlyReturn", []domain.Observation{obs(sr, "100", "18")}, domain.StatusOnlyInReturn},
		{"OnlyStatement", []domain.Observation{obs(bs, "100", "18")}, domain.StatusMissingInReturn},
		{"NoReturn", []domain.Observation{obs(bs, "100", "18"), obs(pl, "100", "18")}, domain.StatusMissingInReturn},
		{"NoStatement", []domain.Observation{obs(sr, "100", "18"), obs(pl, "100", "18")}, domain.StatusMissingInStatement},
		{"NoLedgerWithValueGap", []domain.Observation{obs(sr, "600000", "108000"), obs(bs, "605000", "108000")}, domain.StatusMissingInLedger},
		{"FullMatch", []domain.Observation{obs(sr, "100", "18"), obs(bs, "100.4", "18.2"), obs(pl, "100", "17.5")}, domain.StatusFullMatch},
		{"ValueOnly", []domain.Observation{obs(sr, "100", "18"), obs(bs, "150", "18"), obs(pl, "100", "18")}, domain.StatusValueMismatch},
		{"TaxOnly", []domain.Observation{obs(sr, "100", "18"), obs(bs, "100", "12"), obs(pl, "100", "18")}, domain.StatusTaxMismatch},
		{"ValueAndTax", []domain.Observation{obs(sr, "100", "18"), obs(bs, "150", "27"), obs(pl, "100", "18")}, domain.StatusTaxMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyStatus(PresenceOf(tt.obs), c.Compare(tt.obs), c.CompareSameBase(tt.obs))
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}

	t.Run("IGSTOnlyIsPartial", func(t *testing.T) {
		all := []domain.Observation{obs(sr, "100", "18"), obs(bs, "100", "18"), obs(pl, "100", "18")}
		all[0].IGSTAmount = all[0].TaxAmount
		got := ClassifyStatus(PresenceOf(all), c.Compare(all), c.CompareSameBase(all))
		if got != domain.StatusPartialMatch {
			t.Errorf("expected PARTIAL_MATCH, got %s", got)
		}
	})
}

func TestPresenceSplit(t *testing.T) {
	p := PresenceOf([]domain.Observation{
		obs(domain.SourcePurchaseLedger, "1", "1"),
		obs(domain.SourceSellerReturn, "1", "1"),
	})
	present, missing := p.Split()

	if !reflect.DeepEqual(present, []domain.SourceSystem{domain.SourceSellerReturn, domain.SourcePurchaseLedger}) {
		t.Errorf("unexpected present %v", present)
	}
	if !reflect.DeepEqual(missing, []domain.SourceSystem{domain.SourceBuyerStatement}) {
		t.Errorf("unexpected missing %v", missing)
	}
}

func TestConfidence(t *testing.T) {
	if got := Confidence(0, 0); got != 1.0 {
		t.Errorf("expected 1.0, got %v", got)
	}
	if got := Confidence(1, 2); got != 0.6 {
		t.Errorf("expected 0.6, got %v", got)
	}
	if got := Confidence(2, 9); got != 0 {
		t.Errorf("expected floor at 0, got %v", got)
	}

	// Monotone non-increasing in both arguments
	for missing := 0; missing <= 3; missing++ {
		for mm := 0; mm <= 12; mm++ {
			c := Confidence(missing, mm)
			if c < 0 || c > 1 {
				t.Fatalf("confidence %v out of range", c)
			}
			if Confidence(missing+1, mm) > c {
				t.Errorf("confidence rose with missing=%d mismatches=%d", missing+1, mm)
			}
			if Confidence(missing, mm+1) > c {
				t.Errorf("confidence rose with missing=%d mismatches=%d", missing, mm+1)
			}
		}
	}
}
