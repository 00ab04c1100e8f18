package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrEmptyBatch is returned when there is nothing to train on.
var ErrEmptyBatch = errors.New("risk: empty training batch")

// TopAttributions is the number of feature contributions retained per prediction.
const TopAttributions = 5

// FeatureColumns are the numeric features the statistical model sees.
var FeatureColumns = []string{
	"registration_cancelled",
	"invoice_count",
	"total_taxable_value",
	"mismatch_rate",
	"missing_in_statement_rate",
	"payment_coverage",
	"filing_regularity",
	"late_filings",
	"circular_trade_flag",
}

// modelClasses is the class index order used inside the forest.
var modelClasses = []domain.RiskLabel{domain.LabelLow, domain.LabelMedium, domain.LabelHigh}

// Attributor explains a prediction as ranked per-feature contributions.
type Attributor interface {
	Attribute(v domain.VendorFeatureVector) []domain.FeatureContribution
}

// Model is a trained, versioned statistical risk model. It is immutable and
// safe for concurrent prediction.
type Model struct {
	Version      string                   `json:"version"`
	TrainedAt    time.Time                `json:"trainedAt"`
	TrainingSize int                      `json:"trainingSize"`
	LabelCounts  map[domain.RiskLabel]int `json:"labelCounts"`
	Forest       *Forest                  `json:"forest"`
}

// TrainOptions configures Train.
type TrainOptions struct {
	Trees    int
	MaxDepth int
	Seed     int64
	Workers  int
}

// DefaultTrainOptions returns 50 trees of depth 5 seeded with 42.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{Trees: 50, MaxDepth: 5, Seed: 42}
}

// WeakLabel derives a training label from threshold heuristics, since no
// ground truth exists.
func WeakLabel(v domain.VendorFeatureVector) domain.RiskLabel {
	switch {
	case v.RegistrationCancelled || v.CircularTradeFlag || (v.MismatchRate > 0.3 && v.PaymentCoverage < 0.5):
		return domain.LabelHigh
	case v.MismatchRate > 0.1 || v.PaymentCoverage < 0.8 || v.FilingRegularity < 1.0:
		return domain.LabelMedium
	default:
		return domain.LabelLow
	}
}

// FeatureRow projects a vector onto FeatureColumns.
func FeatureRow(v domain.VendorFeatureVector) []float64 {
	return []float64{
		boolFloat(v.RegistrationCancelled),
		float64(v.InvoiceCount),
		v.TotalTaxableValue,
		v.MismatchRate,
		v.MissingInStatementRate,
		v.PaymentCoverage,
		v.FilingRegularity,
		float64(v.LateFilings),
		boolFloat(v.CircularTradeFlag),
	}
}

// Train fits a model on one batch of feature vectors.
func Train(vectors []domain.VendorFeatureVector, opts TrainOptions) (*Model, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyBatch
	}

	X := make([][]float64, len(vectors))
	y := make([]int, len(vectors))
	counts := make(map[domain.RiskLabel]int)
	for i, v := range vectors {
		X[i] = FeatureRow(v)
		label := WeakLabel(v)
		y[i] = classIndex(label)
		counts[label]++
	}

	forest := FitForest(X, y, len(modelClasses), ForestParams{
		Trees:    opts.Trees,
		MaxDepth: opts.MaxDepth,
		Seed:     opts.Seed,
		Workers:  opts.Workers,
	})

	return &Model{
		Version:      uuid.New().String(),
		TrainedAt:    time.Now().UTC(),
		TrainingSize: len(vectors),
		LabelCounts:  counts,
		Forest:       forest,
	}, nil
}

// Predict classifies one vendor. A nil model yields an UNKNOWN prediction.
func (m *Model) Predict(v domain.VendorFeatureVector) domain.Prediction {
	if m == nil || m.Forest == nil {
		return domain.Prediction{Label: domain.LabelUnknown}
	}

	proba := m.Forest.PredictProba(FeatureRow(v))
	best := 0
	for c := range proba {
		if proba[c] > proba[best] {
			best = c
		}
	}

	pred := domain.Prediction{
		Label:         modelClasses[best],
		Confidence:    round4(proba[best]),
		Probabilities: make(map[domain.RiskLabel]float64, len(modelClasses)),
		ModelVersion:  m.Version,
	}
	for c, label := range modelClasses {
		pred.Probabilities[label] = round4(proba[c])
	}
	pred.Attribution = m.attribute(v, best)
	return pred
}

// Attribute returns the ranked contributions toward the predicted class.
func (m *Model) Attribute(v domain.VendorFeatureVector) []domain.FeatureContribution {
	return m.Predict(v).Attribution
}

func (m *Model) attribute(v domain.VendorFeatureVector, class int) []domain.FeatureContribution {
	row := FeatureRow(v)
	_, contrib := m.Forest.Contributions(row, class)

	// Support for a low-risk class is evidence against risk.
	sign := 1.0
	if modelClasses[class] == domain.LabelLow {
		sign = -1.0
	}

	out := make([]domain.FeatureContribution, 0, len(contrib))
	for j, c := range contrib {
		if c == 0 {
			continue
		}
		dir := domain.DirectionDecreases
		if c*sign > 0 {
			dir = domain.DirectionIncreases
		}
		out = append(out, domain.FeatureContribution{
			Feature:      FeatureColumns[j],
			Value:        row[j],
			Contribution: round4(c),
			Direction:    dir,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Contribution) > math.Abs(out[j].Contribution)
	})
	if len(out) > TopAttributions {
		out = out[:TopAttributions]
	}
	return out
}

// MarshalArtifact serialises the model for persistence.
func (m *Model) MarshalArtifact() (*domain.ModelArtifact, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal model: %w", err)
	}
	return &domain.ModelArtifact{
		Version:      m.Version,
		TrainedAt:    m.TrainedAt,
		TrainingSize: m.TrainingSize,
		Payload:      payload,
	}, nil
}

// LoadArtifact restores a model persisted with MarshalArtifact.
func LoadArtifact(a *domain.ModelArtifact) (*Model, error) {
	var m Model
	if err := json.Unmarshal(a.Payload, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model %s: %w", a.Version, err)
	}
	if m.Forest == nil || m.Forest.NumFeatures != len(FeatureColumns) {
		return nil, fmt.Errorf("model %s has incompatible feature layout", a.Version)
	}
	return &m, nil
}

func classIndex(label domain.RiskLabel) int {
	for i, l := range modelClasses {
		if l == label {
			return i
		}
	}
	return 0
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
