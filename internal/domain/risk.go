package domain

import "time"

// RiskTier is the banded composite risk level.
type RiskTier string

const (
	TierLow      RiskTier = "LOW"
	TierMedium   RiskTier = "MEDIUM"
	TierHigh     RiskTier = "HIGH"
	TierCritical RiskTier = "CRITICAL"
)

// ParseRiskTier validates a tier string.
func ParseRiskTier(s string) (RiskTier, bool) {
	switch t := RiskTier(s); t {
	case TierLow, TierMedium, TierHigh, TierCritical:
		return t, true
	}
	return "", false
}

// RiskLabel is the statistical model's class.
type RiskLabel string

const (
	LabelLow     RiskLabel = "LOW_RISK"
	LabelMedium  RiskLabel = "MEDIUM_RISK"
	LabelHigh    RiskLabel = "HIGH_RISK"
	LabelUnknown RiskLabel = "UNKNOWN"
)

// VendorFeatureVector is the per-vendor input to every risk scorer.
type VendorFeatureVector struct {
	VendorID                string  `json:"vendorId"`
	LegalName               string  `json:"legalName"`
	RegistrationCancelled   bool    `json:"registrationCancelled"`
	InvoiceCount            int     `json:"invoiceCount"`
	TotalTaxableValue       float64 `json:"totalTaxableValue"`
	UniqueCounterparties    int     `json:"uniqueCounterparties"`
	ReturnsFiled            int     `json:"returnsFiled"`
	LateFilings             int     `json:"lateFilings"`
	TotalPaid               float64 `json:"totalPaid"`
	PaymentCoverage         float64 `json:"paymentCoverage"`
	MismatchCount           int     `json:"mismatchCount"`
	MismatchRate            float64 `json:"mismatchRate"`
	MissingInStatementCount int     `json:"missingInStatementCount"`
	MissingInStatementRate  float64 `json:"missingInStatementRate"`
	FilingRegularity        float64 `json:"filingRegularity"`
	ExpectedPeriods         int     `json:"expectedPeriods"`
	CircularTradeFlag       bool    `json:"circularTradeFlag"`
	CancelledEInvoiceFlag   bool    `json:"cancelledEinvoiceFlag"`
	AvgInvoiceValue         float64 `json:"avgInvoiceValue"`
	MaxInvoiceValue         float64 `json:"maxInvoiceValue"`
	ValueMismatchTotal      float64 `json:"valueMismatchTotal"`
}

// FeatureContribution is one feature's signed push toward a prediction.
type FeatureContribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
	Direction    string  `json:"direction"`
}

// Contribution directions.
const (
	DirectionIncreases = "increases risk"
	DirectionDecreases = "decreases risk"
)

// Prediction is the statistical model's output for one vendor.
type Prediction struct {
	Label         RiskLabel             `json:"label"`
	Confidence    float64               `json:"confidence"`
	Probabilities map[RiskLabel]float64 `json:"probabilities,omitempty"`
	Attribution   []FeatureContribution `json:"attribution,omitempty"`
	ModelVersion  string                `json:"modelVersion,omitempty"`
}

// HighRiskProbability returns P(HIGH_RISK), zero when unknown.
func (p Prediction) HighRiskProbability() float64 {
	return p.Probabilities[LabelHigh]
}

// VendorRiskScore is the composite risk assessment of one vendor.
type VendorRiskScore struct {
	VendorID             string                `json:"vendorId"`
	LegalName            string                `json:"legalName"`
	CompositeScore       float64               `json:"compositeScore"`
	RiskTier             RiskTier              `json:"riskTier"`
	RuleScore            float64               `json:"ruleScore"`
	StatisticalScore     float64               `json:"statisticalScore"`
	GraphScore           float64               `json:"graphScore"`
	PredictedLabel       RiskLabel             `json:"predictedLabel"`
	PredictionConfidence float64               `json:"predictionConfidence"`
	TriggeredRules       []string              `json:"triggeredRules"`
	Explanation          string                `json:"explanation"`
	Attribution          []FeatureContribution `json:"attribution"`
	Features             VendorFeatureVector   `json:"features"`
}

// RiskRun is an immutable snapshot of one risk-compute cycle.
type RiskRun struct {
	ID               string             `json:"id"`
	ReconciliationID string             `json:"reconciliationId"`
	ModelVersion     string             `json:"modelVersion,omitempty"`
	ComputedAt       time.Time          `json:"computedAt"`
	Scores           []*VendorRiskScore `json:"scores"`
}

// Vendor returns the score for vendorID, or nil.
func (r *RiskRun) Vendor(vendorID string) *VendorRiskScore {
	if r == nil {
		return nil
	}
	for _, s := range r.Scores {
		if s.VendorID == vendorID {
			return s
		}
	}
	return nil
}

// ModelArtifact is a persisted trained model.
type ModelArtifact struct {
	Version      string    `json:"version"`
	TrainedAt    time.Time `json:"trainedAt"`
	TrainingSize int       `json:"trainingSize"`
	Payload      []byte    `json:"payload"`
}
