package risk

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Default degree statistics when the population is not used.
const (
	DefaultDegreeMean = 15.0
	DefaultDegreeStd  = 5.0
)

// CentralityScorer scores vendors by how far their issuing degree strays
// from the norm, plus fraud-ring and cancelled e-invoice bonuses.
type CentralityScorer struct {
	Mean float64
	Std  float64
}

// NewCentralityScorer uses fixed degree statistics.
func NewCentralityScorer(mean, std float64) *CentralityScorer {
	if mean <= 0 {
		mean = DefaultDegreeMean
	}
	if std <= 0 {
		std = DefaultDegreeStd
	}
	return &CentralityScorer{Mean: mean, Std: std}
}

// PopulationCentralityScorer derives degree statistics from the batch,
// falling back to the fixed defaults when the batch cannot support them.
func PopulationCentralityScorer(vectors []domain.VendorFeatureVector) *CentralityScorer {
	if len(vectors) < 2 {
		return NewCentralityScorer(0, 0)
	}
	sum := 0.0
	for _, v := range vectors {
		sum += float64(v.InvoiceCount)
	}
	mean := sum / float64(len(vectors))
	sq := 0.0
	for _, v := range vectors {
		d := float64(v.InvoiceCount) - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(vectors)))
	if std == 0 {
		return NewCentralityScorer(0, 0)
	}
	return &CentralityScorer{Mean: mean, Std: std}
}

// Score returns a value in [0, 100].
func (s *CentralityScorer) Score(v domain.VendorFeatureVector) float64 {
	degree := float64(v.InvoiceCount)
	score := 10.0
	switch {
	case degree > s.Mean+2*s.Std:
		score = 80
	case degree > 0 && degree < s.Mean-s.Std:
		score = 50
	}
	if v.CircularTradeFlag {
		score += 30
	}
	if v.CancelledEInvoiceFlag {
		score += 20
	}
	return math.Min(score, 100)
}
