package risk

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Composite weights.
const (
	RuleWeight        = 0.40
	StatisticalWeight = 0.40
	GraphWeight       = 0.20
)

// CompositeInput carries everything the composite needs for one vendor.
type CompositeInput struct {
	Features   domain.VendorFeatureVector
	Rules      RuleResult
	Prediction domain.Prediction
	GraphScore float64
}

// Composite blends the three component scores into a bounded vendor score.
func Composite(in CompositeInput) *domain.VendorRiskScore {
	statistical := in.Prediction.HighRiskProbability() * 100
	raw := RuleWeight*in.Rules.Score + StatisticalWeight*statistical + GraphWeight*in.GraphScore
	composite := clamp(raw, 0, 100)
	tier := TierFor(composite)

	attribution := in.Prediction.Attribution
	if attribution == nil {
		attribution = []domain.FeatureContribution{}
	}
	return &domain.VendorRiskScore{
		VendorID:             in.Features.VendorID,
		LegalName:            in.Features.LegalName,
		CompositeScore:       round1(composite),
		RiskTier:             tier,
		RuleScore:            round1(in.Rules.Score),
		StatisticalScore:     round1(statistical),
		GraphScore:           round1(in.GraphScore),
		PredictedLabel:       in.Prediction.Label,
		PredictionConfidence: round4(in.Prediction.Confidence),
		TriggeredRules:       in.Rules.Reasons,
		Explanation:          Explain(in.Features, composite, tier, in.Rules.Reasons),
		Attribution:          attribution,
		Features:             in.Features,
	}
}

// TierFor bands a composite score.
func TierFor(score float64) domain.RiskTier {
	switch {
	case score <= 30:
		return domain.TierLow
	case score <= 60:
		return domain.TierMedium
	case score <= 80:
		return domain.TierHigh
	default:
		return domain.TierCritical
	}
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(x, hi))
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
