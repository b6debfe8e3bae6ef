package colmena

import (
	"errors"
	"math"
	"testing"
	"time"
)

func testRecord(typ ModelType, samples int, params ParamMap, metrics map[string]float64) *ContributionRecord {
	return &ContributionRecord{
		ID:                newRecordID(),
		ModelType:         typ,
		SegmentHashPrefix: "abcd1234",
		Parameters:        params,
		ValidationMetrics: metrics,
		SampleCount:       samples,
		ReceivedAt:        time.Now(),
	}
}

func TestContributionWeightsSumToOne(t *testing.T) {
	records := []*ContributionRecord{
		testRecord(ModelTypePriceOptimization, 100, nil, nil),
		testRecord(ModelTypePriceOptimization, 250, nil, nil),
		testRecord(ModelTypePriceOptimization, 650, nil, nil),
	}

	weights := contributionWeights(records)
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("weights sum = %v, want 1.0", sum)
	}
	if weights[2] <= weights[0] {
		t.Errorf("larger sample count should get larger weight: %v", weights)
	}
}

func TestContributionWeightsZeroSamples(t *testing.T) {
	records := []*ContributionRecord{
		testRecord(ModelTypePriceOptimization, 0, nil, nil),
		testRecord(ModelTypePriceOptimization, 0, nil, nil),
	}

	weights := contributionWeights(records)
	for i, w := range weights {
		if math.Abs(w-0.5) > 1e-9 {
			t.Errorf("weight[%d] = %v, want uniform 0.5", i, w)
		}
	}
}

func TestCombineWeightedScalar(t *testing.T) {
	// Scalar values 1, 2, 3 with sample counts 100, 200, 300 give
	// (1*100 + 2*200 + 3*300) / 600 = 2.333...
	records := []*ContributionRecord{
		testRecord(ModelTypePriceOptimization, 100, ParamMap{"coef": ScalarParam(1)}, nil),
		testRecord(ModelTypePriceOptimization, 200, ParamMap{"coef": ScalarParam(2)}, nil),
		testRecord(ModelTypePriceOptimization, 300, ParamMap{"coef": ScalarParam(3)}, nil),
	}

	agg := NewAggregator(false)
	model, err := agg.Combine(ModelTypePriceOptimization, records)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}

	got := model.CombinedParameters["coef"].Scalar
	want := 1400.0 / 600.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("combined coef = %v, want %v", got, want)
	}
	if model.ContributionCount != 3 {
		t.Errorf("contribution count = %d, want 3", model.ContributionCount)
	}
}

func TestCombineWeightMonotonicity(t *testing.T) {
	combine := func(samples int) float64 {
		records := []*ContributionRecord{
			testRecord(ModelTypePriceOptimization, samples, ParamMap{"coef": ScalarParam(10)}, nil),
			testRecord(ModelTypePriceOptimization, 100, ParamMap{"coef": ScalarParam(0)}, nil),
			testRecord(ModelTypePriceOptimization, 100, ParamMap{"coef": ScalarParam(0)}, nil),
		}
		agg := NewAggregator(false)
		model, err := agg.Combine(ModelTypePriceOptimization, records)
		if err != nil {
			t.Fatalf("Combine failed: %v", err)
		}
		return model.CombinedParameters["coef"].Scalar
	}

	low := combine(100)
	high := combine(400)
	if high <= low {
		t.Errorf("raising a contributor's sample count should raise its influence: %v -> %v", low, high)
	}
}

func TestCombineVectors(t *testing.T) {
	records := []*ContributionRecord{
		testRecord(ModelTypeTrendDetection, 100, ParamMap{"coefficients": VectorParam([]float64{1, 0})}, nil),
		testRecord(ModelTypeTrendDetection, 100, ParamMap{"coefficients": VectorParam([]float64{3, 2})}, nil),
		testRecord(ModelTypeTrendDetection, 200, ParamMap{"coefficients": VectorParam([]float64{2, 4})}, nil),
	}

	agg := NewAggregator(false)
	model, err := agg.Combine(ModelTypeTrendDetection, records)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}

	vec := model.CombinedParameters["coefficients"].Vector
	if len(vec) != 2 {
		t.Fatalf("combined vector length = %d, want 2", len(vec))
	}
	want0 := 1*0.25 + 3*0.25 + 2*0.5
	if math.Abs(vec[0]-want0) > 1e-9 {
		t.Errorf("vec[0] = %v, want %v", vec[0], want0)
	}
}

func TestCombineShapeMismatchDropsKey(t *testing.T) {
	records := []*ContributionRecord{
		testRecord(ModelTypeTrendDetection, 100, ParamMap{
			"coefficients": VectorParam([]float64{1, 2}),
			"intercept":    ScalarParam(1),
		}, nil),
		testRecord(ModelTypeTrendDetection, 100, ParamMap{
			"coefficients": VectorParam([]float64{1, 2, 3}),
			"intercept":    ScalarParam(3),
		}, nil),
	}

	agg := NewAggregator(false)
	model, err := agg.Combine(ModelTypeTrendDetection, records)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}

	if _, ok := model.CombinedParameters["coefficients"]; ok {
		t.Error("mismatched key should be dropped in fail-soft mode")
	}
	if _, ok := model.CombinedParameters["intercept"]; !ok {
		t.Error("well-formed key should survive a sibling mismatch")
	}
}

func TestCombineShapeMismatchStrict(t *testing.T) {
	records := []*ContributionRecord{
		testRecord(ModelTypeTrendDetection, 100, ParamMap{"coefficients": VectorParam([]float64{1, 2})}, nil),
		testRecord(ModelTypeTrendDetection, 100, ParamMap{"coefficients": VectorParam([]float64{1, 2, 3})}, nil),
	}

	agg := NewAggregator(true)
	_, err := agg.Combine(ModelTypeTrendDetection, records)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("strict mode should fail with ErrShapeMismatch, got %v", err)
	}

	var mismatch *ShapeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error should be a *ShapeMismatchError, got %T", err)
	}
	if mismatch.Key != "coefficients" {
		t.Errorf("mismatch key = %q, want coefficients", mismatch.Key)
	}
}

func TestCombineEmptyRecords(t *testing.T) {
	agg := NewAggregator(false)
	if _, err := agg.Combine(ModelTypePriceOptimization, nil); err == nil {
		t.Fatal("combining zero records should fail")
	}
}

func TestCombineMetricsWeightedAverage(t *testing.T) {
	records := []*ContributionRecord{
		testRecord(ModelTypePriceOptimization, 100, ParamMap{"coef": ScalarParam(1)}, map[string]float64{"r2": 0.8}),
		testRecord(ModelTypePriceOptimization, 300, ParamMap{"coef": ScalarParam(1)}, map[string]float64{"r2": 0.4}),
	}

	agg := NewAggregator(false)
	model, err := agg.Combine(ModelTypePriceOptimization, records)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}

	want := 0.8*0.25 + 0.4*0.75
	if math.Abs(model.AggregatedMetrics["r2"]-want) > 1e-9 {
		t.Errorf("aggregated r2 = %v, want %v", model.AggregatedMetrics["r2"], want)
	}
}

func TestEnsembleStrategyPoolsDescriptors(t *testing.T) {
	records := []*ContributionRecord{
		testRecord(ModelTypeDemandForecast, 300, ParamMap{
			"trees":     VectorParam([]float64{1, 2, 3, 4}),
			"max_depth": ScalarParam(6),
		}, nil),
		testRecord(ModelTypeDemandForecast, 100, ParamMap{
			"trees":     VectorParam([]float64{10, 20, 30, 40}),
			"max_depth": ScalarParam(8),
		}, nil),
	}

	agg := NewAggregator(false)
	model, err := agg.Combine(ModelTypeDemandForecast, records)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}

	pooled := model.CombinedParameters["trees"].Vector
	// 0.75 weight takes 3 of 4 descriptors, 0.25 weight takes 1.
	if len(pooled) != 4 {
		t.Fatalf("pooled descriptors = %d, want 4", len(pooled))
	}
	if pooled[3] != 10 {
		t.Errorf("lighter contributor should still pool at least one descriptor, got %v", pooled)
	}

	depth := model.CombinedParameters["max_depth"].Scalar
	want := 6*0.75 + 8*0.25
	if math.Abs(depth-want) > 1e-9 {
		t.Errorf("max_depth = %v, want %v", depth, want)
	}
}

func TestRegisterStrategyOverride(t *testing.T) {
	agg := NewAggregator(false)
	agg.RegisterStrategy(ModelTypeCampaignRecommendation, &LinearStrategy{})
	if agg.strategyFor(ModelTypeCampaignRecommendation).Name() != "linear" {
		t.Error("registered strategy should replace the fallback")
	}
	if agg.strategyFor("unregistered").Name() != "generic" {
		t.Error("unregistered types should fall back to the generic strategy")
	}
}
