package risk

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// trainingBatch returns ten vendors of each weak label.
func trainingBatch() []domain.VendorFeatureVector {
	var out []domain.VendorFeatureVector
	for i := 0; i < 10; i++ {
		clean := cleanVector()
		clean.VendorID = fmt.Sprintf("LOW-%02d", i)
		clean.InvoiceCount = 12 + i
		out = append(out, clean)

		medium := cleanVector()
		medium.VendorID = fmt.Sprintf("MED-%02d", i)
		medium.InvoiceCount = 10 + i
		medium.MismatchRate = 0.15 + float64(i)*0.01
		medium.PaymentCoverage = 0.7
		out = append(out, medium)

		high := cleanVector()
		high.VendorID = fmt.Sprintf("HIGH-%02d", i)
		high.InvoiceCount = 4 + i
		high.RegistrationCancelled = true
		high.CircularTradeFlag = true
		high.MismatchRate = 0.5
		high.PaymentCoverage = 0.2
		high.FilingRegularity = 0.33
		out = append(out, high)
	}
	return out
}

func TestWeakLabel(t *testing.T) {
	v := cleanVector()
	if got := WeakLabel(v); got != domain.LabelLow {
		t.Errorf("expected LOW_RISK, got %s", got)
	}
	v.FilingRegularity = 0.9
	if got := WeakLabel(v); got != domain.LabelMedium {
		t.Errorf("expected MEDIUM_RISK, got %s", got)
	}
	v.MismatchRate = 0.4
	v.PaymentCoverage = 0.3
	if got := WeakLabel(v); got != domain.LabelHigh {
		t.Errorf("expected HIGH_RISK, got %s", got)
	}
}

func TestTrainEmptyBatch(t *testing.T) {
	if _, err := Train(nil, DefaultTrainOptions()); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestPredictWithoutModel(t *testing.T) {
	var m *Model
	pred := m.Predict(cleanVector())
	if pred.Label != domain.LabelUnknown || pred.Confidence != 0 || len(pred.Attribution) != 0 {
		t.Errorf("expected UNKNOWN with no attribution, got %+v", pred)
	}
	if pred.HighRiskProbability() != 0 {
		t.Errorf("expected zero high-risk probability")
	}
}

func TestTrainAndPredict(t *testing.T) {
	batch := trainingBatch()
	m, err := Train(batch, DefaultTrainOptions())
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if m.Version == "" || m.TrainingSize != len(batch) {
		t.Errorf("unexpected model metadata %+v", m)
	}
	if len(m.Forest.Trees) != 50 {
		t.Errorf("expected 50 trees, got %d", len(m.Forest.Trees))
	}
	if m.LabelCounts[domain.LabelHigh] != 10 {
		t.Errorf("expected 10 high labels, got %d", m.LabelCounts[domain.LabelHigh])
	}

	high := m.Predict(batch[2])
	if high.Label != domain.LabelHigh {
		t.Errorf("expected HIGH_RISK, got %s (%v)", high.Label, high.Probabilities)
	}
	low := m.Predict(batch[0])
	if low.Label != domain.LabelLow {
		t.Errorf("expected LOW_RISK, got %s (%v)", low.Label, low.Probabilities)
	}

	sum := 0.0
	for _, p := range high.Probabilities {
		sum += p
	}
	if math.Abs(sum-1) > 1e-3 {
		t.Errorf("probabilities sum to %v", sum)
	}

	if len(high.Attribution) == 0 || len(high.Attribution) > TopAttributions {
		t.Fatalf("expected 1..%d attributions, got %d", TopAttributions, len(high.Attribution))
	}
	for i := 1; i < len(high.Attribution); i++ {
		if math.Abs(high.Attribution[i].Contribution) > math.Abs(high.Attribution[i-1].Contribution) {
			t.Errorf("attribution not ranked by magnitude: %+v", high.Attribution)
		}
	}
	if high.Attribution[0].Direction != domain.DirectionIncreases {
		t.Errorf("top contribution toward HIGH_RISK should increase risk: %+v", high.Attribution[0])
	}
}

func TestTrainDeterministic(t *testing.T) {
	batch := trainingBatch()
	a, _ := Train(batch, DefaultTrainOptions())
	b, _ := Train(batch, DefaultTrainOptions())

	for _, v := range batch {
		pa, pb := a.Predict(v), b.Predict(v)
		if pa.Label != pb.Label || pa.HighRiskProbability() != pb.HighRiskProbability() {
			t.Errorf("%s: runs disagree %v vs %v", v.VendorID, pa.Probabilities, pb.Probabilities)
		}
	}
}

func TestContributionsSumToProbability(t *testing.T) {
	batch := trainingBatch()
	m, _ := Train(batch, DefaultTrainOptions())

	for _, v := range batch[:6] {
		row := FeatureRow(v)
		proba := m.Forest.PredictProba(row)
		for c := range proba {
			bias, contrib := m.Forest.Contributions(row, c)
			total := bias
			for _, x := range contrib {
				total += x
			}
			if math.Abs(total-proba[c]) > 1e-9 {
				t.Errorf("%s class %d: bias+contrib %v != proba %v", v.VendorID, c, total, proba[c])
			}
		}
	}
}

func TestModelArtifactRoundTrip(t *testing.T) {
	batch := trainingBatch()
	m, _ := Train(batch, DefaultTrainOptions())

	art, err := m.MarshalArtifact()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored, err := LoadArtifact(art)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if restored.Version != m.Version {
		t.Errorf("version changed: %s vs %s", restored.Version, m.Version)
	}
	for _, v := range batch[:3] {
		if m.Predict(v).HighRiskProbability() != restored.Predict(v).HighRiskProbability() {
			t.Errorf("%s: restored model predicts differently", v.VendorID)
		}
	}

	if _, err := LoadArtifact(&domain.ModelArtifact{Version: "x", Payload: []byte(`{"forest":{"numFeatures":2}}`)}); err == nil {
		t.Error("expected incompatible layout error")
	}
}

func TestFitForestIndependentOfWorkers(t *testing.T) {
	X := [][]float64{
		{0, 1}, {0.1, 0.9}, {0.2, 0.8}, {0.3, 0.7},
		{0.7, 0.3}, {0.8, 0.2}, {0.9, 0.1}, {1, 0},
	}
	y := []int{0, 0, 0, 0, 1, 1, 1, 1}

	serial := FitForest(X, y, 2, ForestParams{Trees: 20, Seed: 7, Workers: 1})
	parallel := FitForest(X, y, 2, ForestParams{Trees: 20, Seed: 7, Workers: 8})

	if len(serial.Trees) != 20 || len(parallel.Trees) != 20 {
		t.Fatalf("expected 20 trees, got %d and %d", len(serial.Trees), len(parallel.Trees))
	}
	for _, x := range X {
		ps, pp := serial.PredictProba(x), parallel.PredictProba(x)
		for c := range ps {
			if ps[c] != pp[c] {
				t.Errorf("%v: worker count changed the forest: %v vs %v", x, ps, pp)
				break
			}
		}
	}
}
