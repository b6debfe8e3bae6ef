package colmena

import "time"

// ModelType identifies a federated model family. Each type has its own
// contribution pool and aggregation strategy.
type ModelType string

const (
	ModelTypeDemandForecast         ModelType = "demand_forecast"
	ModelTypeTravelerClassification ModelType = "traveler_classification"
	ModelTypePriceOptimization      ModelType = "price_optimization"
	ModelTypeTrendDetection         ModelType = "trend_detection"
	ModelTypeCampaignRecommendation ModelType = "campaign_recommendation"
)

// SupportedModelTypes lists the model types the pool accepts.
func SupportedModelTypes() []ModelType {
	return []ModelType{
		ModelTypeDemandForecast,
		ModelTypeTravelerClassification,
		ModelTypePriceOptimization,
		ModelTypeTrendDetection,
		ModelTypeCampaignRecommendation,
	}
}

// ModelContribution is one organization's locally trained, anonymized
// model summary. It carries parameters and validation metrics only,
// never raw records.
type ModelContribution struct {
	ModelType         ModelType          `json:"model_type"`
	SegmentHash       string             `json:"segment_hash"`
	Parameters        ParamMap           `json:"parameters"`
	ValidationMetrics map[string]float64 `json:"validation_metrics"`
	SampleCount       int                `json:"sample_count"`
	Timestamp         time.Time          `json:"timestamp"`
	AlgorithmVersion  string             `json:"algorithm_version"`
}

// MetricsContribution is one organization's aggregated business metrics
// for a reporting period. List-valued metrics must be aggregated to at
// least ten points before submission.
type MetricsContribution struct {
	SegmentHash       string                 `json:"segment_hash"`
	PeriodStart       time.Time              `json:"period_start"`
	PeriodEnd         time.Time              `json:"period_end"`
	AggregatedMetrics map[string]MetricValue `json:"aggregated_metrics"`
	Timestamp         time.Time              `json:"timestamp"`
}

// MetricValue holds either a single number or a series of numbers.
// Series shorter than the cohort minimum are rejected by the gate.
type MetricValue struct {
	Value  float64   `json:"value,omitempty"`
	Series []float64 `json:"series,omitempty"`
}

// AggregatedModel is the combined result released once a model type
// reaches quorum. It is replaced wholesale on every aggregation, never
// partially updated.
type AggregatedModel struct {
	ModelType          ModelType          `json:"model_type"`
	CombinedParameters ParamMap           `json:"combined_parameters"`
	ContributionCount  int                `json:"contribution_count"`
	AggregatedMetrics  map[string]float64 `json:"aggregated_metrics"`
	Timestamp          time.Time          `json:"timestamp"`
	Confidence         float64            `json:"confidence"`
	Version            int64              `json:"version"`
}

// ContributionRecord is the minimal form in which a validated
// contribution is retained. Full parameter maps are folded into the
// running aggregate and dropped after the retention window; records
// keep only a truncated segment hash, counts, and metrics.
type ContributionRecord struct {
	ID                string             `json:"id"`
	ModelType         ModelType          `json:"model_type"`
	SegmentHashPrefix string             `json:"segment_hash_prefix"`
	Parameters        ParamMap           `json:"-"`
	ValidationMetrics map[string]float64 `json:"validation_metrics"`
	SampleCount       int                `json:"sample_count"`
	ReceivedAt        time.Time          `json:"received_at"`
}

// PrivacyConfig governs anonymization, aggregation release, and noise.
type PrivacyConfig struct {
	// Quorum is the minimum number of independent contributions
	// required before any aggregate is computed or released.
	Quorum int `json:"quorum" yaml:"quorum"`

	// Epsilon shapes the Laplace noise scale (1/epsilon). Smaller means
	// more noise. This is a heuristic, not certified DP.
	Epsilon float64 `json:"epsilon" yaml:"epsilon"`

	// ApplyNoise enables server-side noise injection on aggregates.
	ApplyNoise bool `json:"apply_noise" yaml:"apply_noise"`

	// RetentionDays is how long contribution records are kept.
	RetentionDays int `json:"retention_days" yaml:"retention_days"`

	// MinSampleCount is the server-side minimum sample count per
	// contribution. Clients enforce a stricter minimum of their own.
	MinSampleCount int `json:"min_sample_count" yaml:"min_sample_count"`

	// MinCohortSize is the minimum length of any list-valued metric.
	MinCohortSize int `json:"min_cohort_size" yaml:"min_cohort_size"`

	// DiscardAfterAggregate drops a model type's accumulated
	// contributions once they have been folded into an aggregate. The
	// default keeps them so later arrivals re-aggregate over the full
	// history.
	DiscardAfterAggregate bool `json:"discard_after_aggregate" yaml:"discard_after_aggregate"`

	// StrictShapes fails an aggregation on the first parameter shape
	// mismatch instead of dropping the offending key.
	StrictShapes bool `json:"strict_shapes" yaml:"strict_shapes"`
}

// DefaultPrivacyConfig returns the default privacy configuration.
func DefaultPrivacyConfig() PrivacyConfig {
	return PrivacyConfig{
		Quorum:         3,
		Epsilon:        1.0,
		ApplyNoise:     true,
		RetentionDays:  90,
		MinSampleCount: 50,
		MinCohortSize:  10,
	}
}

// hashPrefix truncates a segment hash for storage so retained records
// cannot be joined back to the full cohort identifier.
func hashPrefix(segmentHash string) string {
	if len(segmentHash) <= 8 {
		return segmentHash
	}
	return segmentHash[:8]
}
