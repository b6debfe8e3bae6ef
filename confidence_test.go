package colmena

import (
	"math"
	"testing"
)

func recordsWithQuality(n int, quality float64) []*ContributionRecord {
	records := make([]*ContributionRecord, n)
	for i := range records {
		records[i] = testRecord(ModelTypePriceOptimization, 100, nil, map[string]float64{"r2": quality})
	}
	return records
}

func TestConfidenceAtQuorum(t *testing.T) {
	var est ConfidenceEstimator

	// Three contributors at perfect quality score the 0.3 base.
	got := est.Score(recordsWithQuality(3, 1.0))
	if math.Abs(got-0.3) > 1e-9 {
		t.Errorf("confidence at quorum = %v, want 0.3", got)
	}
}

func TestConfidenceScalesWithQuality(t *testing.T) {
	var est ConfidenceEstimator

	got := est.Score(recordsWithQuality(5, 0.8))
	want := 0.5 * 0.8
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", got, want)
	}
}

func TestConfidenceMonotoneInContributors(t *testing.T) {
	var est ConfidenceEstimator

	prev := est.Score(recordsWithQuality(3, 0.9))
	for n := 4; n <= 9; n++ {
		cur := est.Score(recordsWithQuality(n, 0.9))
		if cur < prev {
			t.Errorf("confidence decreased from %v to %v at n=%d", prev, cur, n)
		}
		prev = cur
	}
}

func TestConfidenceSaturates(t *testing.T) {
	var est ConfidenceEstimator

	at9 := est.Score(recordsWithQuality(9, 1.0))
	at20 := est.Score(recordsWithQuality(20, 1.0))
	if at9 != 0.9 || at20 != 0.9 {
		t.Errorf("confidence should saturate at 0.9: n=9 -> %v, n=20 -> %v", at9, at20)
	}
}

func TestConfidenceBounds(t *testing.T) {
	var est ConfidenceEstimator

	cases := []struct {
		n       int
		quality float64
	}{
		{3, 0.0}, {3, 1.0}, {1, 0.5}, {9, 2.0}, {50, 1.0},
	}
	for _, tc := range cases {
		got := est.Score(recordsWithQuality(tc.n, tc.quality))
		if got < 0 || got > 1 {
			t.Errorf("Score(n=%d, q=%v) = %v, out of [0,1]", tc.n, tc.quality, got)
		}
	}
}

func TestConfidenceUsesAccuracyFallback(t *testing.T) {
	var est ConfidenceEstimator

	records := []*ContributionRecord{
		testRecord(ModelTypeTravelerClassification, 100, nil, map[string]float64{"accuracy": 0.5}),
		testRecord(ModelTypeTravelerClassification, 100, nil, map[string]float64{"accuracy": 0.5}),
		testRecord(ModelTypeTravelerClassification, 100, nil, map[string]float64{"accuracy": 0.5}),
	}

	got := est.Score(records)
	if math.Abs(got-0.15) > 1e-9 {
		t.Errorf("confidence from accuracy = %v, want 0.15", got)
	}
}

func TestConfidenceWithoutQualityMetrics(t *testing.T) {
	var est ConfidenceEstimator

	records := []*ContributionRecord{
		testRecord(ModelTypePriceOptimization, 100, nil, map[string]float64{"mse": 12.0}),
		testRecord(ModelTypePriceOptimization, 100, nil, map[string]float64{"mse": 8.0}),
		testRecord(ModelTypePriceOptimization, 100, nil, map[string]float64{"mse": 5.0}),
	}

	// No r2 or accuracy anywhere: the count base stands alone.
	got := est.Score(records)
	if math.Abs(got-0.3) > 1e-9 {
		t.Errorf("confidence without quality metrics = %v, want 0.3", got)
	}
}

func TestConfidenceRounding(t *testing.T) {
	var est ConfidenceEstimator

	got := est.Score(recordsWithQuality(4, 1.0/3.0))
	want := math.Round(0.4*(1.0/3.0)*1000) / 1000
	if got != want {
		t.Errorf("confidence = %v, want rounded %v", got, want)
	}
}

func TestConfidenceEmpty(t *testing.T) {
	var est ConfidenceEstimator
	if got := est.Score(nil); got != 0 {
		t.Errorf("confidence of empty set = %v, want 0", got)
	}
}
