package seed

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestGenerateDeterministic(t *testing.T) {
	a, _ := Generate(DefaultOptions())
	b, _ := Generate(DefaultOptions())

	if len(a.Observations) != len(b.Observations) {
		t.Fatalf("observation counts differ: %d vs %d", len(a.Observations), len(b.Observations))
	}
	for i := range a.Observations {
		x, y := a.Observations[i], b.Observations[i]
		if x.InvoiceID != y.InvoiceID || x.Observation.Source != y.Observation.Source ||
			!x.Observation.TaxableValue.Equal(y.Observation.TaxableValue) {
			t.Fatalf("observation %d differs: %+v vs %+v", i, x, y)
		}
	}

	c, _ := Generate(Options{Taxpayers: 20, Invoices: 200, Seed: 7})
	same := len(c.Observations) == len(a.Observations)
	if same {
		for i := range a.Observations {
			if !a.Observations[i].Observation.TaxableValue.Equal(c.Observations[i].Observation.TaxableValue) {
				same = false
				break
			}
		}
	}
	if same {
		t.Error("different seeds should produce different graphs")
	}
}

func TestGenerateShape(t *testing.T) {
	batch, an := Generate(DefaultOptions())

	t.Run("Sizes", func(t *testing.T) {
		if len(batch.Taxpayers) != 20 {
			t.Errorf("expected 20 taxpayers, got %d", len(batch.Taxpayers))
		}
		// 200 random + 3 ring + 1 duplicate
		if len(batch.Invoices) != 204 {
			t.Errorf("expected 204 invoices, got %d", len(batch.Invoices))
		}
	})

	t.Run("ReferentialIntegrity", func(t *testing.T) {
		parties := make(map[string]bool)
		for _, tp := range batch.Taxpayers {
			parties[tp.ID] = true
			if len(tp.ID) != 15 {
				t.Errorf("GSTIN %s should be 15 characters", tp.ID)
			}
		}
		invoices := make(map[string]*domain.Invoice)
		for _, inv := range batch.Invoices {
			invoices[inv.ID] = inv
			if !parties[inv.IssuerID] || !parties[inv.RecipientID] {
				t.Errorf("invoice %s references unknown party", inv.ID)
			}
			if inv.IssuerID == inv.RecipientID {
				t.Errorf("invoice %s is self-issued", inv.ID)
			}
		}
		for _, o := range batch.Observations {
			if invoices[o.InvoiceID] == nil {
				t.Errorf("observation for unknown invoice %s", o.InvoiceID)
			}
			if !o.Observation.Source.Valid() {
				t.Errorf("invalid source %s", o.Observation.Source)
			}
		}
		for _, e := range batch.EInvoices {
			if invoices[e.InvoiceID] == nil {
				t.Errorf("e-invoice for unknown invoice %s", e.InvoiceID)
			}
		}
	})

	t.Run("Anomalies", func(t *testing.T) {
		if len(an.Ring) != 3 {
			t.Errorf("expected 3-party ring, got %v", an.Ring)
		}
		if len(an.MissingInReturn) != 7 || len(an.MissingInStatement) == 0 {
			t.Errorf("unexpected missing sets: %d / %d", len(an.MissingInReturn), len(an.MissingInStatement))
		}
		if len(an.CancelledEInvoices) != 2 {
			t.Errorf("expected 2 cancelled e-invoices, got %d", len(an.CancelledEInvoices))
		}
		if len(an.UnderpaidTaxpayers) != 3 || an.NonPayingTaxpayer == "" {
			t.Errorf("expected payment anomalies, got %+v", an)
		}

		var cancelled bool
		for _, tp := range batch.Taxpayers {
			if tp.ID == an.CancelledSupplier && tp.Status == domain.RegistrationCancelled {
				cancelled = true
			}
		}
		if !cancelled {
			t.Error("expected cancelled supplier in batch")
		}

		inReturn := make(map[string]bool)
		for _, o := range batch.Observations {
			if o.Observation.Source == domain.SourceSellerReturn {
				inReturn[o.InvoiceID] = true
			}
		}
		for _, id := range an.MissingInReturn {
			if inReturn[id] {
				t.Errorf("invoice %s should be missing from seller returns", id)
			}
		}
	})

	t.Run("ReturnsCoverIssuers", func(t *testing.T) {
		filed := make(map[string]bool)
		for _, r := range batch.Returns {
			filed[r.TaxpayerID+"/"+r.Period] = true
			if r.Status == domain.FilingNotFiled && r.FiledAt != nil {
				t.Errorf("unfiled return %s has a filing date", r.ID)
			}
		}
		for _, inv := range batch.Invoices {
			if !filed[inv.IssuerID+"/"+inv.Period] {
				t.Errorf("no return for %s in %s", inv.IssuerID, inv.Period)
			}
		}
	})
}

func TestGSTIN(t *testing.T) {
	id := GSTIN(1, "29")
	if id != GSTIN(1, "29") {
		t.Error("GSTIN should be deterministic")
	}
	if id[:2] != "29" || id[2:7] != "BBBBB" || id[7:11] != "0001" {
		t.Errorf("unexpected GSTIN layout: %s", id)
	}
}
