package colmena

import (
	"errors"
	"fmt"
	"time"
)

// CombineStrategy combines parameter maps from several contributions
// into one. Implementations are selected per model type through the
// aggregator's registry; weights are precomputed from sample counts and
// always sum to 1.
type CombineStrategy interface {
	// Name identifies the strategy in stats and audit entries.
	Name() string

	// Combine merges the records' parameters. When strict is false a
	// per-key shape mismatch drops that key from the result; when true
	// it aborts the aggregation with a *ShapeMismatchError.
	Combine(records []*ContributionRecord, weights []float64, strict bool) (ParamMap, error)
}

// Aggregator combines quorum-sized contribution sets into aggregated
// models using sample-count weighting and a model-type strategy
// registry.
type Aggregator struct {
	strategies map[ModelType]CombineStrategy
	fallback   CombineStrategy
	strict     bool
}

// NewAggregator creates an aggregator with the default strategy
// registry. strict controls shape-mismatch handling (see
// PrivacyConfig.StrictShapes).
func NewAggregator(strict bool) *Aggregator {
	return &Aggregator{
		strategies: map[ModelType]CombineStrategy{
			ModelTypeDemandForecast:         &EnsembleStrategy{DescriptorKey: "trees"},
			ModelTypePriceOptimization:      &LinearStrategy{},
			ModelTypeTrendDetection:         &LinearStrategy{},
			ModelTypeTravelerClassification: &ClassificationStrategy{},
		},
		fallback: &GenericStrategy{},
		strict:   strict,
	}
}

// RegisterStrategy installs or replaces the strategy for a model type.
func (a *Aggregator) RegisterStrategy(typ ModelType, s CombineStrategy) {
	a.strategies[typ] = s
}

// strategyFor selects the strategy for a model type, falling back to
// the generic combination rules.
func (a *Aggregator) strategyFor(typ ModelType) CombineStrategy {
	if s, ok := a.strategies[typ]; ok {
		return s
	}
	return a.fallback
}

// Combine merges the given contributions into a single aggregated
// model. Calling it with an empty record set is a caller error: quorum
// must be checked before invocation. Confidence, noise, and version are
// applied by the federation engine afterwards.
func (a *Aggregator) Combine(typ ModelType, records []*ContributionRecord) (*AggregatedModel, error) {
	if len(records) == 0 {
		return nil, errors.New("no contributions to aggregate")
	}

	weights := contributionWeights(records)

	params, err := a.strategyFor(typ).Combine(records, weights, a.strict)
	if err != nil {
		return nil, err
	}

	return &AggregatedModel{
		ModelType:          typ,
		CombinedParameters: params,
		ContributionCount:  len(records),
		AggregatedMetrics:  combineMetrics(records, weights),
		Timestamp:          time.Now(),
	}, nil
}

// contributionWeights derives normalized weights from sample counts so
// larger local datasets dominate the combination. The weights sum to 1.
func contributionWeights(records []*ContributionRecord) []float64 {
	total := 0.0
	for _, r := range records {
		total += float64(r.SampleCount)
	}

	weights := make([]float64, len(records))
	if total == 0 {
		// Degenerate input; fall back to uniform weighting.
		for i := range weights {
			weights[i] = 1.0 / float64(len(records))
		}
		return weights
	}

	for i, r := range records {
		weights[i] = float64(r.SampleCount) / total
	}
	return weights
}

// combineMetrics produces the weighted average of every validation
// metric present in the first contribution. Missing values count as 0,
// matching the contract that the first contribution defines the key
// set.
func combineMetrics(records []*ContributionRecord, weights []float64) map[string]float64 {
	out := make(map[string]float64, len(records[0].ValidationMetrics))
	for name := range records[0].ValidationMetrics {
		var sum float64
		for i, r := range records {
			sum += r.ValidationMetrics[name] * weights[i]
		}
		out[name] = sum
	}
	return out
}

// weightedScalar averages a scalar key across records; records missing
// the key contribute 0.
func weightedScalar(key string, records []*ContributionRecord, weights []float64) float64 {
	var sum float64
	for i, r := range records {
		if v, ok := r.Parameters[key]; ok && v.Kind == KindScalar {
			sum += v.Scalar * weights[i]
		}
	}
	return sum
}

// weightedVector computes the elementwise weighted sum of a vector key
// across records that define a non-empty vector for it. The first
// non-empty vector fixes the expected length.
func weightedVector(key string, records []*ContributionRecord, weights []float64) ([]float64, error) {
	var acc []float64
	for i, r := range records {
		v, ok := r.Parameters[key]
		if !ok || v.Kind != KindVector || len(v.Vector) == 0 {
			continue
		}
		if acc == nil {
			acc = make([]float64, len(v.Vector))
		}
		if len(v.Vector) != len(acc) {
			return nil, &ShapeMismatchError{Key: key, Want: len(acc), Got: len(v.Vector)}
		}
		for j, x := range v.Vector {
			acc[j] += x * weights[i]
		}
	}
	return acc, nil
}

// weightedMatrix computes the cellwise weighted sum of a matrix key.
// All contributing matrices must share dimensions.
func weightedMatrix(key string, records []*ContributionRecord, weights []float64) ([][]float64, error) {
	var acc [][]float64
	for i, r := range records {
		v, ok := r.Parameters[key]
		if !ok || v.Kind != KindMatrix || len(v.Matrix) == 0 {
			continue
		}
		if acc == nil {
			acc = make([][]float64, len(v.Matrix))
			for j, row := range v.Matrix {
				acc[j] = make([]float64, len(row))
			}
		}
		if len(v.Matrix) != len(acc) {
			return nil, &ShapeMismatchError{Key: key, Want: len(acc), Got: len(v.Matrix)}
		}
		for j, row := range v.Matrix {
			if len(row) != len(acc[j]) {
				return nil, &ShapeMismatchError{Key: key, Want: len(acc[j]), Got: len(row)}
			}
			for k, x := range row {
				acc[j][k] += x * weights[i]
			}
		}
	}
	return acc, nil
}

// combineKey applies the generic combination rules to one key. A nil
// result with nil error means no record contributed a usable value.
func combineKey(key string, kind ParamKind, records []*ContributionRecord, weights []float64) (ParamValue, bool, error) {
	switch kind {
	case KindScalar:
		return ScalarParam(weightedScalar(key, records, weights)), true, nil
	case KindVector:
		vec, err := weightedVector(key, records, weights)
		if err != nil {
			return ParamValue{}, false, err
		}
		if vec == nil {
			return ParamValue{}, false, nil
		}
		return VectorParam(vec), true, nil
	case KindMatrix:
		mat, err := weightedMatrix(key, records, weights)
		if err != nil {
			return ParamValue{}, false, err
		}
		if mat == nil {
			return ParamValue{}, false, nil
		}
		return MatrixParam(mat), true, nil
	default:
		return ParamValue{}, false, fmt.Errorf("unknown parameter kind for %q", key)
	}
}

// genericCombine merges every key present in the first contribution
// using the kind-specific weighted rules. Shape mismatches either drop
// the key or abort, depending on strict.
func genericCombine(records []*ContributionRecord, weights []float64, strict bool, skip func(string) bool) (ParamMap, error) {
	out := make(ParamMap)
	for key, first := range records[0].Parameters {
		if skip != nil && skip(key) {
			continue
		}
		value, ok, err := combineKey(key, first.Kind, records, weights)
		if err != nil {
			if strict {
				return nil, err
			}
			continue // fail-soft: drop the mismatched key
		}
		if ok {
			out[key] = value
		}
	}
	return out, nil
}

// GenericStrategy is the fallback combination: sample-count-weighted
// average for scalars, elementwise weighted sum for vectors and
// matrices, keyed on the first contribution.
type GenericStrategy struct{}

func (GenericStrategy) Name() string { return "generic" }

func (GenericStrategy) Combine(records []*ContributionRecord, weights []float64, strict bool) (ParamMap, error) {
	return genericCombine(records, weights, strict, nil)
}

// LinearStrategy combines linear-style models: aligned coefficient
// vectors are summed with weights, scalars averaged. Length mismatches
// are a shape error for that parameter only.
type LinearStrategy struct{}

func (LinearStrategy) Name() string { return "linear" }

func (LinearStrategy) Combine(records []*ContributionRecord, weights []float64, strict bool) (ParamMap, error) {
	return genericCombine(records, weights, strict, nil)
}

// EnsembleStrategy combines ensemble-style models. Internal tree
// structure is not merged; instead each contributor's opaque tree
// descriptors are sampled proportionally to its weight into a pooled
// descriptor list. This is explicitly approximate. All other keys
// follow the generic rules.
type EnsembleStrategy struct {
	// DescriptorKey names the vector parameter holding opaque per-tree
	// descriptors.
	DescriptorKey string
}

func (EnsembleStrategy) Name() string { return "ensemble" }

func (s EnsembleStrategy) Combine(records []*ContributionRecord, weights []float64, strict bool) (ParamMap, error) {
	key := s.DescriptorKey
	if key == "" {
		key = "trees"
	}

	out, err := genericCombine(records, weights, strict, func(k string) bool { return k == key })
	if err != nil {
		return nil, err
	}

	var pooled []float64
	for i, r := range records {
		v, ok := r.Parameters[key]
		if !ok || v.Kind != KindVector || len(v.Vector) == 0 {
			continue
		}
		take := int(float64(len(v.Vector)) * weights[i])
		if take < 1 {
			take = 1
		}
		if take > len(v.Vector) {
			take = len(v.Vector)
		}
		pooled = append(pooled, v.Vector[:take]...)
	}
	if pooled != nil {
		out[key] = VectorParam(pooled)
	}
	return out, nil
}

// ClassificationStrategy combines classifiers: confusion matrices and
// class-probability vectors are summed with weights and must agree in
// shape; remaining keys follow the generic rules (which here coincide).
type ClassificationStrategy struct{}

func (ClassificationStrategy) Name() string { return "classification" }

func (ClassificationStrategy) Combine(records []*ContributionRecord, weights []float64, strict bool) (ParamMap, error) {
	return genericCombine(records, weights, strict, nil)
}
