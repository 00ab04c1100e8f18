package reconcile

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func obs(src domain.SourceSystem, taxable, tax string) domain.Observation {
	return domain.Observation{
		Source:       src,
		RecordID:     string(src) + "-1",
		TaxableValue: decimal.RequireFromString(taxable),
		TaxAmount:    decimal.RequireFromString(tax),
	}
}

func TestCompare(t *testing.T) {
	c := NewClassifier(DefaultTolerance, true)

	t.Run("WithinTolerance", func(t *testing.T) {
		got := c.Compare([]domain.Observation{
			obs(domain.SourceSellerReturn, "100000.00", "18000.00"),
			obs(domain.SourceBuyerStatement, "100000.50", "18000.99"),
			obs(domain.SourcePurchaseLedger, "99999.60", "18001.00"),
		})
		if len(got) != 0 {
			t.Errorf("expected no mismatches, got %+v", got)
		}
	})

	t.Run("ExactlyOneUnitIsNotAMismatch", func(t *testing.T) {
		got := c.Compare([]domain.Observation{
			obs(domain.SourceSellerReturn, "100.00", "18.00"),
			obs(domain.SourceBuyerStatement, "101.00", "18.00"),
		})
		if len(got) != 0 {
			t.Errorf("tolerance must be strict, got %+v", got)
		}
	})

	t.Run("TaxableDelta", func(t *testing.T) {
		got := c.Compare([]domain.Observation{
			obs(domain.SourceSellerReturn, "600000", "108000"),
			obs(domain.SourceBuyerStatement, "605000", "108000"),
		})
		if len(got) != 1 {
			t.Fatalf("expected 1 mismatch, got %d", len(got))
		}
		m := got[0]
		if m.Field != domain.FieldTaxableValue {
			t.Errorf("expected taxable_value, got %s", m.Field)
		}
		if m.SourceA != domain.SourceSellerReturn || m.SourceB != domain.SourceBuyerStatement {
			t.Errorf("unexpected pair %s/%s", m.SourceA, m.SourceB)
		}
		if !m.Difference.Equal(decimal.NewFromInt(5000)) {
			t.Errorf("expected difference 5000, got %s", m.Difference)
		}
	})

	t.Run("IGSTOptional", func(t *testing.T) {
		a := obs(domain.SourceSellerReturn, "100", "18")
		b := obs(domain.SourceBuyerStatement, "100", "18")
		a.IGSTAmount = decimal.NewFromInt(18)
		if got := NewClassifier(DefaultTolerance, false).Compare([]domain.Observation{a, b}); len(got) != 0 {
			t.Errorf("expected igst ignored, got %+v", got)
		}
		got := c.Compare([]domain.Observation{a, b})
		if len(got) != 1 || got[0].Field != domain.FieldIGSTAmount {
			t.Errorf("expected one igst mismatch, got %+v", got)
		}
	})
}

func TestCompareOrderIndependent(t *testing.T) {
	c := NewClassifier(DefaultTolerance, true)
	a := obs(domain.SourceSellerReturn, "1000", "180")
	b := obs(domain.SourceBuyerStatement, "1200", "216")
	l := obs(domain.SourcePurchaseLedger, "1000", "200")

	want := c.Compare([]domain.Observation{a, b, l})
	orders := [][]domain.Observation{
		{l, b, a},
		{b, a, l},
		{l, a, b},
	}
	for _, o := range orders {
		if got := c.Compare(o); !reflect.DeepEqual(got, want) {
			t.Errorf("order changed result:\nwant %+v\ngot  %+v", want, got)
		}
	}

	// One record per (field, pair)
	seen := map[string]bool{}
	for _, m := range want {
		key := m.Field + string(m.SourceA) + string(m.SourceB)
		if seen[key] {
			t.Errorf("duplicate mismatch %s", key)
		}
		seen[key] = true
	}
}

func TestNormalizeDropsDuplicates(t *testing.T) {
	first := obs(domain.SourceBuyerStatement, "10", "1")
	first.RecordID = "a"
	second := obs(domain.SourceBuyerStatement, "99", "9")
	second.RecordID = "b"
	unknown := domain.Observation{Source: "EWAY_BILL"}

	got := Normalize([]domain.Observation{second, unknown, first})
	if len(got) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(got))
	}
	if got[0].RecordID != "a" {
		t.Errorf("expected lowest record id kept, got %s", got[0].RecordID)
	}
}

func TestCompareSameBase(t *testing.T) {
	c := NewClassifier(DefaultTolerance, false)

	got := c.CompareSameBase([]domain.Observation{
		obs(domain.SourceSellerReturn, "50000", "9000"),
		obs(domain.SourceBuyerStatement, "50000", "6000"),
		obs(domain.SourcePurchaseLedger, "52000", "6000"),
	})
	if len(got) != 1 {
		t.Fatalf("expected 1 same-base mismatch, got %+v", got)
	}
	if got[0].Field != domain.FieldTaxAmountSameBase {
		t.Errorf("unexpected field %s", got[0].Field)
	}
	if got[0].SourceA != domain.SourceSellerReturn || got[0].SourceB != domain.SourceBuyerStatement {
		t.Errorf("unexpected pair %s/%s", got[0].SourceA, got[0].SourceB)
	}
}
