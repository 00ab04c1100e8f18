package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var tracer = otel.Tracer("kestrel-risk")

// Scorer runs the two-phase risk pipeline: train on the batch, then score
// every vendor against the trained model.
type Scorer struct {
	features *FeatureBuilder
	rules    *RuleScorer
	opts     ScorerOptions
	logger   *slog.Logger
}

// ScorerOptions configures a Scorer.
type ScorerOptions struct {
	ExpectedPeriods       int
	Workers               int
	Train                 TrainOptions
	DegreeMean            float64
	DegreeStd             float64
	PopulationDegreeStats bool
	Logger                *slog.Logger
}

// Batch is the output of one risk-compute cycle.
type Batch struct {
	Scores []*domain.VendorRiskScore
	Model  *Model // nil when training was impossible
}

// NewScorer creates a pipeline over store with the given rules.
func NewScorer(store domain.GraphStore, rules *RuleScorer, opts ScorerOptions) *Scorer {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Train.Trees <= 0 {
		opts.Train = DefaultTrainOptions()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scorer{
		features: NewFeatureBuilder(store, opts.ExpectedPeriods),
		rules:    rules,
		opts:     opts,
		logger:   opts.Logger.With("component", "risk"),
	}
}

// ComputeVendorScores scores vendorIDs against the given reconciliation
// results and fraud-ring report. Scores are sorted by composite descending.
func (s *Scorer) ComputeVendorScores(ctx context.Context, vendorIDs []string, results []*domain.ReconciliationResult, ring *domain.CycleReport) (*Batch, error) {
	ctx, span := tracer.Start(ctx, "risk.compute")
	defer span.End()
	span.SetAttributes(attribute.Int("risk.vendors", len(vendorIDs)))

	// 1. Features
	byVendor := groupBySupplier(results)
	vectors := make([]domain.VendorFeatureVector, len(vendorIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, id := range vendorIDs {
		g.Go(func() error {
			v, err := s.features.Build(gctx, id, byVendor[id], ring)
			if err != nil {
				return err
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to build features: %w", err)
	}

	// 2. Train once on the whole batch
	model, err := Train(vectors, s.opts.Train)
	if err != nil {
		if !errors.Is(err, ErrEmptyBatch) {
			return nil, err
		}
		s.logger.Warn("model not trained", "error", err)
	}

	// 3. Score vendors independently
	centrality := NewCentralityScorer(s.opts.DegreeMean, s.opts.DegreeStd)
	if s.opts.PopulationDegreeStats {
		centrality = PopulationCentralityScorer(vectors)
	}
	scores := s.Score(vectors, model, centrality)

	batch := &Batch{Scores: scores, Model: model}
	if model != nil {
		span.SetAttributes(attribute.String("risk.model_version", model.Version))
	}
	s.logger.Info("risk scores computed", "vendors", len(scores), "trained", model != nil)
	return batch, nil
}

// Score applies every scorer to pre-built vectors using an already-trained
// model and returns sorted scores.
func (s *Scorer) Score(vectors []domain.VendorFeatureVector, model *Model, centrality *CentralityScorer) []*domain.VendorRiskScore {
	scores := make([]*domain.VendorRiskScore, len(vectors))
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, v := range vectors {
		g.Go(func() error {
			scores[i] = Composite(CompositeInput{
				Features:   v,
				Rules:      s.rules.Score(v),
				Prediction: model.Predict(v),
				GraphScore: centrality.Score(v),
			})
			return nil
		})
	}
	_ = g.Wait()

	SortScores(scores)
	return scores
}

// SortScores orders by composite descending, then vendor id.
func SortScores(scores []*domain.VendorRiskScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].CompositeScore != scores[j].CompositeScore {
			return scores[i].CompositeScore > scores[j].CompositeScore
		}
		return scores[i].VendorID < scores[j].VendorID
	})
}

func groupBySupplier(results []*domain.ReconciliationResult) map[string][]*domain.ReconciliationResult {
	out := make(map[string][]*domain.ReconciliationResult)
	for _, r := range results {
		out[r.SupplierID] = append(out[r.SupplierID], r)
	}
	return out
}
