package colmena

import "math"

// ConfidenceEstimator derives a [0,1] confidence score for an
// aggregate from the number of contributors and their reported model
// quality.
type ConfidenceEstimator struct{}

// primaryQualityMetric picks the quality metric a contribution's score
// is based on: r2 for regression-style models, accuracy for
// classification-style ones.
func primaryQualityMetric(metrics map[string]float64) (float64, bool) {
	if v, ok := metrics["r2"]; ok {
		return v, true
	}
	if v, ok := metrics["accuracy"]; ok {
		return v, true
	}
	return 0, false
}

// Score computes the confidence for a set of contributions. The base
// starts near 0.3 at quorum and saturates at 0.9 as contributors grow;
// it is then scaled by the mean primary quality metric when any
// contribution reports one. The result is clamped to [0,1] and rounded
// to three decimals.
func (ConfidenceEstimator) Score(records []*ContributionRecord) float64 {
	n := len(records)
	if n == 0 {
		return 0
	}

	base := math.Min(0.9, 0.3+float64(n-3)*0.1)
	if base < 0 {
		base = 0
	}

	var sum float64
	var count int
	for _, r := range records {
		if q, ok := primaryQualityMetric(r.ValidationMetrics); ok {
			sum += q
			count++
		}
	}
	if count > 0 {
		base *= sum / float64(count)
	}

	if base < 0 {
		base = 0
	}
	if base > 1 {
		base = 1
	}
	return math.Round(base*1000) / 1000
}
