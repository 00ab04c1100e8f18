package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var tracer = otel.Tracer("kestrel-reconcile")

// Reconciler drives matching, status classification and eligibility over
// every business-to-business invoice in the graph.
type Reconciler struct {
	store       domain.GraphStore
	classifier  *Classifier
	eligibility *EligibilityChecker
	cycles      *CycleDetector
	maxWorkers  int
	logger      *slog.Logger
}

// Options configures a Reconciler.
type Options struct {
	// Tolerance nil means DefaultTolerance. Zero demands exact agreement.
	Tolerance   *decimal.Decimal
	CompareIGST bool
	Workers     int
	Logger      *slog.Logger
}

// NewReconciler creates a reconciler over store.
func NewReconciler(store domain.GraphStore, opts Options) *Reconciler {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	tolerance := DefaultTolerance
	if opts.Tolerance != nil {
		tolerance = *opts.Tolerance
	}
	logger := opts.Logger.With("component", "reconciler")
	return &Reconciler{
		store:       store,
		classifier:  NewClassifier(tolerance, opts.CompareIGST),
		eligibility: NewEligibilityChecker(store),
		cycles:      NewCycleDetector(store, logger),
		maxWorkers:  opts.Workers,
		logger:      logger,
	}
}

// Cycles exposes the ring detector so callers can attach failure hooks.
func (r *Reconciler) Cycles() *CycleDetector {
	return r.cycles
}

// Eligibility exposes the credit checker used by the run.
func (r *Reconciler) Eligibility() *EligibilityChecker {
	return r.eligibility
}

// Run reconciles every business-to-business invoice and summarises the outcome.
// Store failures abort the run; a failed ring search only empties the ring set.
func (r *Reconciler) Run(ctx context.Context) (*domain.ReconciliationRun, error) {
	ctx, span := tracer.Start(ctx, "reconcile.run")
	defer span.End()

	run := &domain.ReconciliationRun{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}

	// 1. Load invoices
	invoices, err := r.store.B2BInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoices: %w", err)
	}

	// 2. Ring search (non-fatal)
	run.Cycles = r.cycles.Detect(ctx)

	// 3. Per-invoice work; each goroutine owns its slot
	slots := make([]*domain.ReconciliationResult, len(invoices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxWorkers)
	for i, inv := range invoices {
		g.Go(func() error {
			res, err := r.reconcileInvoice(gctx, inv)
			if err != nil {
				return err
			}
			slots[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	run.Results = slots

	// 4. Summary
	run.Summary = Summarize(run.Results)
	run.Summary.FraudRingSize = len(run.Cycles.Participants)
	run.CompletedAt = time.Now().UTC()

	span.SetAttributes(
		attribute.Int("reconcile.invoices", run.Summary.TotalInvoices),
		attribute.Int("reconcile.full_match", run.Summary.FullMatch),
	)
	r.logger.Info("reconciliation complete",
		"runId", run.ID,
		"invoices", run.Summary.TotalInvoices,
		"matchRate", run.Summary.MatchRate,
		"ringMembers", run.Summary.FraudRingSize,
		"duration", run.CompletedAt.Sub(run.StartedAt),
	)
	return run, nil
}

// reconcileInvoice always yields a result. An invoice no source has reported
// has all three sources missing and classifies as MISSING_IN_RETURN.
func (r *Reconciler) reconcileInvoice(ctx context.Context, inv *domain.InvoiceObservations) (*domain.ReconciliationResult, error) {
	obs := Normalize(inv.Observations)

	presence := PresenceOf(obs)
	present, missing := presence.Split()
	mismatches := r.classifier.Compare(obs)
	sameBase := r.classifier.CompareSameBase(obs)

	elig, err := r.eligibility.Check(ctx, inv.InvoiceID)
	if err != nil {
		return nil, err
	}

	res := &domain.ReconciliationResult{
		InvoiceID:            inv.InvoiceID,
		SupplierID:           inv.IssuerID,
		CounterpartyID:       inv.CounterpartyID,
		InvoiceDate:          inv.InvoiceDate,
		MatchStatus:          ClassifyStatus(presence, mismatches, sameBase),
		SourcesPresent:       present,
		SourcesMissing:       missing,
		Mismatches:           mismatches,
		ValueBySource:        make(map[domain.SourceSystem]decimal.Decimal, len(obs)),
		TaxBySource:          make(map[domain.SourceSystem]decimal.Decimal, len(obs)),
		CreditEligible:       elig.Eligible,
		IneligibilityReasons: elig.Reasons,
		ConfidenceScore:      Confidence(len(missing), len(mismatches)),
	}
	if res.Mismatches == nil {
		res.Mismatches = []domain.MismatchDetail{}
	}
	for _, o := range obs {
		res.ValueBySource[o.Source] = o.TaxableValue
		res.TaxBySource[o.Source] = o.TaxAmount
	}
	return res, nil
}

// Summarize folds results into the six reporting buckets.
func Summarize(results []*domain.ReconciliationResult) domain.ReconciliationSummary {
	s := domain.ReconciliationSummary{
		TotalInvoices: len(results),
		StatusCounts:  make(map[domain.MatchStatus]int),
	}

	taxable := decimal.Zero
	atRisk := decimal.Zero
	for _, res := range results {
		s.StatusCounts[res.MatchStatus]++
		switch res.MatchStatus {
		case domain.StatusFullMatch:
			s.FullMatch++
		case domain.StatusPartialMatch:
			s.PartialMatch++
		case domain.StatusValueMismatch, domain.StatusTaxMismatch:
			s.ValueMismatch++
		case domain.StatusMissingInReturn, domain.StatusOnlyInLedger:
			s.MissingInReturn++
		case domain.StatusMissingInStatement, domain.StatusOnlyInReturn:
			s.MissingInStatement++
		case domain.StatusMissingInLedger:
			s.MissingInLedger++
		}
		if !res.CreditEligible {
			s.CreditIneligible++
		}

		taxable = taxable.Add(mean(res.ValueBySource))
		if res.MatchStatus != domain.StatusFullMatch {
			atRisk = atRisk.Add(mean(res.TaxBySource))
		}
	}

	s.TotalTaxableValue = taxable.Round(2).InexactFloat64()
	s.TotalTaxAtRisk = atRisk.Round(2).InexactFloat64()
	if s.TotalInvoices > 0 {
		rate := float64(s.FullMatch) / float64(s.TotalInvoices) * 100
		s.MatchRate = math.Round(rate*100) / 100
	}
	return s
}

func mean(values map[domain.SourceSystem]decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}
