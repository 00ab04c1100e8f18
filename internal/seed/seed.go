// Package seed generates a deterministic synthetic tax-transaction graph
// with known anomalies for demos, tests and benchmarks.
package seed

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Options sizes the generated graph.
type Options struct {
	Taxpayers int
	Invoices  int
	Seed      uint64
}

// DefaultOptions returns 20 taxpayers and 200 invoices seeded with 42.
func DefaultOptions() Options {
	return Options{Taxpayers: 20, Invoices: 200, Seed: 42}
}

// Anomalies records which entities were deliberately corrupted.
type Anomalies struct {
	CancelledSupplier  string
	Ring               []string
	NonFilingSupplier  string
	NonFilingPeriod    string
	HighValueInvoice   string
	DuplicateInvoice   string
	MissingInReturn    []string
	MissingInStatement []string
	ValueMismatch      []string
	TaxMismatch        []string
	CancelledEInvoices []string
	UnderpaidTaxpayers []string
	NonPayingTaxpayer  string
}

// BatchWriter loads a generated batch.
type BatchWriter interface {
	SaveBatch(ctx context.Context, b *domain.GraphBatch) error
}

var (
	states   = []string{"29", "27", "33", "07", "24"}
	taxRates = []string{"0.05", "0.12", "0.18", "0.28"}

	fyStart = time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	fyDays  = 365
)

type invoiceDraft struct {
	inv     *domain.Invoice
	taxable decimal.Decimal
	tax     decimal.Decimal
	igst    decimal.Decimal
}

// Generate builds a graph from opts. The same options always produce the
// same graph.
func Generate(opts Options) (*domain.GraphBatch, *Anomalies) {
	if opts.Taxpayers < 4 {
		opts.Taxpayers = 4
	}
	if opts.Invoices < 60 {
		opts.Invoices = 60
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	batch := &domain.GraphBatch{}
	an := &Anomalies{}
	created := fyStart.Add(-24 * time.Hour)

	taxpayers := make([]*domain.Taxpayer, opts.Taxpayers)
	for i := range taxpayers {
		state := states[(i+1)%len(states)]
		taxpayers[i] = &domain.Taxpayer{
			ID:        GSTIN(i+1, state),
			LegalName: fmt.Sprintf("Company %s Pvt Ltd", companyLetter(i+1)),
			Status:    domain.RegistrationActive,
			StateCode: state,
			CreatedAt: created,
		}
	}
	cancelled := taxpayers[min(15, len(taxpayers)-1)]
	cancelled.Status = domain.RegistrationCancelled
	an.CancelledSupplier = cancelled.ID
	batch.Taxpayers = taxpayers

	var drafts []*invoiceDraft
	next := 1
	newInvoice := func(prefix string, issuer, recipient *domain.Taxpayer, date time.Time, taxable decimal.Decimal, rate string) *invoiceDraft {
		d := &invoiceDraft{
			inv: &domain.Invoice{
				ID:            fmt.Sprintf("INV-%05d", next),
				InvoiceNumber: fmt.Sprintf("%s/%04d", prefix, next),
				InvoiceType:   domain.InvoiceTypeB2B,
				IssuerID:      issuer.ID,
				RecipientID:   recipient.ID,
				InvoiceDate:   date,
				Period:        date.Format("012006"),
			},
			taxable: taxable,
			tax:     taxable.Mul(decimal.RequireFromString(rate)).Round(2),
		}
		if issuer.StateCode != recipient.StateCode {
			d.igst = d.tax
		} else {
			d.igst = decimal.Zero
		}
		next++
		drafts = append(drafts, d)
		return d
	}

	for n := 0; n < opts.Invoices; n++ {
		s := rng.IntN(len(taxpayers))
		b := rng.IntN(len(taxpayers) - 1)
		if b >= s {
			b++
		}
		date := fyStart.AddDate(0, 0, rng.IntN(fyDays))
		taxable := decimal.NewFromFloat(10000 + rng.Float64()*490000).Round(2)
		if n == 50 {
			taxable = decimal.NewFromInt(15000000)
		}
		d := newInvoice("INV/2023-24", taxpayers[s], taxpayers[b], date, taxable, taxRates[rng.IntN(len(taxRates))])
		if n == 50 {
			an.HighValueInvoice = d.inv.ID
		}
	}

	// A -> B -> C -> A
	ring := taxpayers[:3]
	for i := range ring {
		date := fyStart.AddDate(0, 0, 100+5*i)
		newInvoice("INV/CIRC", ring[i], ring[(i+1)%3], date, decimal.NewFromInt(500000), "0.18")
		an.Ring = append(an.Ring, ring[i].ID)
	}

	// Same invoice number reissued to another buyer.
	orig := drafts[10]
	byID := make(map[string]*domain.Taxpayer, len(taxpayers))
	for _, tp := range taxpayers {
		byID[tp.ID] = tp
	}
	issuer := byID[orig.inv.IssuerID]
	buyer := taxpayers[5%len(taxpayers)]
	if buyer == issuer {
		buyer = taxpayers[6%len(taxpayers)]
	}
	dup := newInvoice("INV/DUP", issuer, buyer, orig.inv.InvoiceDate, orig.taxable, "0.18")
	dup.inv.InvoiceNumber = orig.inv.InvoiceNumber
	an.DuplicateInvoice = dup.inv.ID

	nonFiler := taxpayers[7%len(taxpayers)]
	an.NonFilingSupplier = nonFiler.ID
	an.NonFilingPeriod = "052023"

	// Pick disjoint anomaly sets from a single permutation.
	perm := rng.Perm(len(drafts))
	take := func(n int) map[int]bool {
		out := make(map[int]bool, n)
		for _, idx := range perm[:n] {
			out[idx] = true
		}
		perm = perm[n:]
		return out
	}
	missingReturn := take(7)
	missingStatement := take(18)
	valueMismatch := take(10)
	taxMismatch := take(5)

	for i, d := range drafts {
		inv := d.inv
		batch.Invoices = append(batch.Invoices, inv)

		unfiled := inv.IssuerID == nonFiler.ID && inv.Period == an.NonFilingPeriod
		inReturn := !missingReturn[i] && !unfiled
		if missingReturn[i] {
			an.MissingInReturn = append(an.MissingInReturn, inv.ID)
		}
		if inReturn {
			batch.Observations = append(batch.Observations, observation(inv, domain.SourceSellerReturn, "SR", d.taxable, d.tax, d.igst))
		}

		// Buyers still claim credit on unfiled supplies.
		switch {
		case missingStatement[i] && inReturn:
			an.MissingInStatement = append(an.MissingInStatement, inv.ID)
		case inReturn || unfiled:
			taxable, tax, igst := d.taxable, d.tax, d.igst
			if valueMismatch[i] {
				taxable = taxable.Add(decimal.NewFromFloat(500 + rng.Float64()*4500).Round(2))
				an.ValueMismatch = append(an.ValueMismatch, inv.ID)
			}
			if taxMismatch[i] {
				delta := decimal.NewFromFloat(100 + rng.Float64()*900).Round(2)
				tax = tax.Add(delta)
				if igst.IsPositive() {
					igst = igst.Add(delta)
				}
				an.TaxMismatch = append(an.TaxMismatch, inv.ID)
			}
			batch.Observations = append(batch.Observations, observation(inv, domain.SourceBuyerStatement, "BS", taxable, tax, igst))
		}

		if missingReturn[i] || rng.Float64() >= 0.05 {
			batch.Observations = append(batch.Observations, observation(inv, domain.SourcePurchaseLedger, "PR", d.taxable, d.tax, d.igst))
		}
	}

	// E-invoices for 60% of invoices, two of them cancelled.
	einv := rng.Perm(len(drafts))[:len(drafts)*6/10]
	sort.Ints(einv)
	for k, idx := range einv {
		status := domain.EInvoiceActive
		if k < 2 {
			status = domain.EInvoiceCancelled
			an.CancelledEInvoices = append(an.CancelledEInvoices, drafts[idx].inv.ID)
		}
		batch.EInvoices = append(batch.EInvoices, &domain.EInvoice{
			ID:        fmt.Sprintf("IRN-%05d", k+1),
			InvoiceID: drafts[idx].inv.ID,
			Status:    status,
		})
	}

	addReturnsAndPayments(batch, an, drafts)
	return batch, an
}

// addReturnsAndPayments files one seller return per issuer and period and
// pays the declared liability, with a few underpayers and one non-payer.
func addReturnsAndPayments(batch *domain.GraphBatch, an *Anomalies, drafts []*invoiceDraft) {
	type key struct{ taxpayer, period string }
	liability := make(map[key]decimal.Decimal)
	var keys []key
	for _, d := range drafts {
		k := key{d.inv.IssuerID, d.inv.Period}
		if _, ok := liability[k]; !ok {
			keys = append(keys, k)
		}
		liability[k] = liability[k].Add(d.tax)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].taxpayer != keys[j].taxpayer {
			return keys[i].taxpayer < keys[j].taxpayer
		}
		return keys[i].period < keys[j].period
	})

	paid := 0
	for n, k := range keys {
		id := fmt.Sprintf("%s-%s", k.taxpayer, k.period)

		ret := &domain.ReturnFiling{
			ID:         "RET-" + id,
			TaxpayerID: k.taxpayer,
			ReturnType: domain.ReturnTypeSeller,
			Period:     k.period,
			Status:     domain.FilingFiled,
		}
		due := periodEnd(k.period).AddDate(0, 0, 11)
		switch {
		case k.taxpayer == an.NonFilingSupplier && k.period == an.NonFilingPeriod:
			ret.Status = domain.FilingNotFiled
		case n%7 == 3:
			ret.Status = domain.FilingLateFiled
			late := due.AddDate(0, 0, 9)
			ret.FiledAt = &late
		default:
			ret.FiledAt = &due
		}
		batch.Returns = append(batch.Returns, ret)

		if ret.Status == domain.FilingNotFiled {
			continue
		}
		amount := liability[k]
		switch {
		case paid < 3:
			amount = amount.Div(decimal.NewFromInt(2)).Round(2)
			an.UnderpaidTaxpayers = append(an.UnderpaidTaxpayers, k.taxpayer)
		case paid == 4:
			amount = decimal.Zero
			an.NonPayingTaxpayer = k.taxpayer
		}
		paid++
		batch.Payments = append(batch.Payments, &domain.Payment{
			ID:         "PAY-" + id,
			TaxpayerID: k.taxpayer,
			Period:     k.period,
			Amount:     amount,
		})
	}
}

// Load generates a graph and writes it through w.
func Load(ctx context.Context, w BatchWriter, opts Options) (*domain.GraphBatch, *Anomalies, error) {
	batch, an := Generate(opts)
	if err := w.SaveBatch(ctx, batch); err != nil {
		return nil, nil, fmt.Errorf("failed to load seed graph: %w", err)
	}
	return batch, an, nil
}

// GSTIN builds a well-formed, deterministic 15-character registration id.
func GSTIN(index int, state string) string {
	letter := strings.Repeat(companyLetter(index), 5)
	base := fmt.Sprintf("%s%s%04dA1Z", state, letter, index%10000)
	return base + string(checksumChar(base))
}

func companyLetter(index int) string {
	return string(rune('A' + index%26))
}

func checksumChar(s string) byte {
	const chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	sum := 0
	for i := 0; i < len(s); i++ {
		sum += int(s[i]) * (i + 1)
	}
	return chars[sum%len(chars)]
}

func periodEnd(period string) time.Time {
	t, err := time.Parse("012006", period)
	if err != nil {
		return fyStart
	}
	return t.AddDate(0, 1, -1)
}

func observation(inv *domain.Invoice, src domain.SourceSystem, prefix string, taxable, tax, igst decimal.Decimal) domain.InvoiceObservation {
	return domain.InvoiceObservation{
		InvoiceID: inv.ID,
		Observation: domain.Observation{
			Source:          src,
			RecordID:        prefix + "-" + inv.ID,
			TaxableValue:    taxable,
			TaxAmount:       tax,
			IGSTAmount:      igst,
			ReportingPeriod: inv.Period,
		},
	}
}
