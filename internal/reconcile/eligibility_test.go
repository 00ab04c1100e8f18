package reconcile

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestReasons(t *testing.T) {
	tests := []struct {
		name   string
		modify func(ec *domain.EligibilityContext)
		want   []string
	}{
		{"Eligible", func(ec *domain.EligibilityContext) {}, []string{}},
		{"NotInStatement", func(ec *domain.EligibilityContext) { ec.InBuyerStatement = false }, []string{ReasonNotInStatement}},
		{"Cancelled", func(ec *domain.EligibilityContext) { ec.IssuerStatus = domain.RegistrationCancelled }, []string{"issuer registration is CANCELLED; credit disallowed"}},
		{"Suspended", func(ec *domain.EligibilityContext) { ec.IssuerStatus = domain.RegistrationSuspended }, []string{"issuer registration is SUSPENDED; credit disallowed"}},
		{"InactiveAllowed", func(ec *domain.EligibilityContext) { ec.IssuerStatus = domain.RegistrationInactive }, []string{}},
		{"EInvoiceCancelled", func(ec *domain.EligibilityContext) { ec.EInvoiceStatus = domain.EInvoiceCancelled }, []string{ReasonEInvoiceCancelled}},
		{"LateFiledCounts", func(ec *domain.EligibilityContext) { ec.IssuerFilingStatus = domain.FilingLateFiled }, []string{}},
		{"NotFiled", func(ec *domain.EligibilityContext) { ec.IssuerFilingStatus = domain.FilingNotFiled }, []string{ReasonReturnNotFiled}},
		{"NoReturn", func(ec *domain.EligibilityContext) { ec.IssuerFilingStatus = "" }, []string{ReasonReturnNotFiled}},
		{"Everything", func(ec *domain.EligibilityContext) {
			ec.InBuyerStatement = false
			ec.IssuerStatus = domain.RegistrationCancelled
			ec.EInvoiceStatus = domain.EInvoiceCancelled
			ec.IssuerFilingStatus = domain.FilingNotFiled
		}, []string{
			ReasonNotInStatement,
			RegistrationReason(domain.RegistrationCancelled),
			ReasonEInvoiceCancelled,
			ReasonReturnNotFiled,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := eligibleContext()
			tt.modify(ec)
			if got := Reasons(ec); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	t.Run("NotFound", func(t *testing.T) {
		if got := Reasons(&domain.EligibilityContext{}); !reflect.DeepEqual(got, []string{ReasonNotFound}) {
			t.Errorf("unexpected reasons %v", got)
		}
		if got := Reasons(nil); !reflect.DeepEqual(got, []string{ReasonNotFound}) {
			t.Errorf("unexpected reasons for nil %v", got)
		}
	})
}

func TestEligibilityCheck(t *testing.T) {
	store := newMemStore()
	store.contexts["INV-1"] = eligibleContext()
	checker := NewEligibilityChecker(store)
	ctx := context.Background()

	got, err := checker.Check(ctx, "INV-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Eligible || len(got.Reasons) != 0 {
		t.Errorf("expected eligible with no reasons, got %+v", got)
	}

	got, err = checker.Check(ctx, "INV-404")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Eligible {
		t.Error("unknown invoice must be ineligible")
	}

	store.contextErr = errors.New("connection refused")
	if _, err := checker.Check(ctx, "INV-1"); err == nil {
		t.Error("expected store failure to surface")
	}
}
