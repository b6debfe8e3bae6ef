package colmena

import (
	"fmt"
	"time"
)

// ParameterExtractor turns locally trained artifacts into the numeric
// parameter maps that travel to the pool. Every extracted value is
// checked for NaN and Inf before it may leave the process.
type ParameterExtractor struct{}

// FromRegression extracts the shareable parameters of a linear model.
func (ParameterExtractor) FromRegression(model *TrainedModel) (ParamMap, error) {
	params := ParamMap{
		"coefficients": VectorParam(model.Coefficients),
		"intercept":    ScalarParam(model.Intercept),
	}
	return params, checkFinite(params)
}

// FromClassifier extracts the shareable parameters of a classifier.
func (ParameterExtractor) FromClassifier(model *TrainedClassifier) (ParamMap, error) {
	params := ParamMap{
		"classes":          VectorParam(model.Classes),
		"centroids":        MatrixParam(model.Centroids),
		"confusion_matrix": MatrixParam(model.ConfusionMatrix),
	}
	return params, checkFinite(params)
}

// checkFinite rejects parameter maps containing NaN or Inf.
func checkFinite(params ParamMap) error {
	for key, value := range params {
		if !value.Finite() {
			return fmt.Errorf("parameter %q contains non-finite values", key)
		}
	}
	return nil
}

// BuildContribution assembles a contribution from extracted parameters
// and validation metrics. The segment hash must come from
// NewSegmentHash; raw sector or organization identifiers must never be
// used directly.
func BuildContribution(typ ModelType, segmentHash string, params ParamMap,
	metrics map[string]float64, sampleCount int, algorithmVersion string) *ModelContribution {
	return &ModelContribution{
		ModelType:         typ,
		SegmentHash:       segmentHash,
		Parameters:        params,
		ValidationMetrics: metrics,
		SampleCount:       sampleCount,
		Timestamp:         time.Now(),
		AlgorithmVersion:  algorithmVersion,
	}
}
