package colmena

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testContribution(samples int) *ModelContribution {
	return &ModelContribution{
		ModelType:         ModelTypePriceOptimization,
		SegmentHash:       strings.Repeat("a", 32),
		Parameters:        ParamMap{"coefficients": VectorParam([]float64{1.5, -0.3})},
		ValidationMetrics: map[string]float64{"r2": 0.7},
		SampleCount:       samples,
		Timestamp:         time.Now(),
	}
}

func TestGateAcceptsCleanContribution(t *testing.T) {
	gate := NewAnonymizationGate(50, 10)
	if err := gate.Validate(testContribution(120)); err != nil {
		t.Fatalf("clean contribution rejected: %v", err)
	}
}

func TestGateRejectsShortHash(t *testing.T) {
	gate := NewAnonymizationGate(50, 10)

	c := testContribution(120)
	c.SegmentHash = "tooshort"

	err := gate.Validate(c)
	if !errors.Is(err, ErrAnonymization) {
		t.Fatalf("short hash should fail anonymization, got %v", err)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Reason != ReasonShortHash {
		t.Errorf("expected ReasonShortHash, got %+v", err)
	}
}

func TestGateRejectsBlockedTerm(t *testing.T) {
	gate := NewAnonymizationGate(50, 10)

	c := testContribution(120)
	c.Parameters = ParamMap{"nombre_cliente": ScalarParam(5)}

	err := gate.Validate(c)
	if !errors.Is(err, ErrAnonymization) {
		t.Fatalf("blocked term should fail anonymization, got %v", err)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Reason != ReasonBlockedTerm {
		t.Errorf("expected ReasonBlockedTerm, got %+v", err)
	}
	if verr.Field != "nombre" {
		t.Errorf("matched term = %q, want nombre", verr.Field)
	}
}

func TestGateBlocklistIsCaseInsensitive(t *testing.T) {
	gate := NewAnonymizationGate(50, 10)

	c := testContribution(120)
	c.Parameters = ParamMap{"Telefono_central": ScalarParam(1)}

	if err := gate.Validate(c); !errors.Is(err, ErrAnonymization) {
		t.Fatalf("case-folded blocked term should be caught, got %v", err)
	}
}

func TestGateRejectsLowSampleCount(t *testing.T) {
	gate := NewAnonymizationGate(50, 10)

	err := gate.Validate(testContribution(10))
	if !errors.Is(err, ErrInsufficientSamples) {
		t.Fatalf("sample count 10 should fail with ErrInsufficientSamples, got %v", err)
	}
	// The sample floor is part of the anonymization contract too.
	if !errors.Is(err, ErrAnonymization) {
		t.Errorf("sample count failure should also match ErrAnonymization")
	}
}

func TestGateSampleCountBoundary(t *testing.T) {
	gate := NewAnonymizationGate(50, 10)

	if err := gate.Validate(testContribution(50)); err != nil {
		t.Errorf("exact minimum should pass, got %v", err)
	}
	if err := gate.Validate(testContribution(49)); err == nil {
		t.Error("one below minimum should fail")
	}
}

func TestGateWithBlockedTerms(t *testing.T) {
	gate := NewAnonymizationGate(50, 10).WithBlockedTerms("Org-42")

	c := testContribution(120)
	c.Parameters = ParamMap{"org-42_share": ScalarParam(0.5)}

	if err := gate.Validate(c); !errors.Is(err, ErrAnonymization) {
		t.Fatalf("custom blocked term should be caught, got %v", err)
	}

	// The base gate is unchanged.
	base := NewAnonymizationGate(50, 10)
	if err := base.Validate(c); err != nil {
		t.Errorf("base gate should not know the custom term, got %v", err)
	}
}

func TestGateValidateMetrics(t *testing.T) {
	gate := NewAnonymizationGate(50, 10)

	m := &MetricsContribution{
		SegmentHash: strings.Repeat("b", 32),
		AggregatedMetrics: map[string]MetricValue{
			"occupancy": {Series: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
			"revenue":   {Value: 1234.5},
		},
		Timestamp: time.Now(),
	}
	if err := gate.ValidateMetrics(m); err != nil {
		t.Fatalf("valid metrics rejected: %v", err)
	}

	m.AggregatedMetrics["occupancy"] = MetricValue{Series: []float64{1, 2, 3}}
	err := gate.ValidateMetrics(m)
	if !errors.Is(err, ErrAnonymization) {
		t.Fatalf("short series should fail, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Reason != ReasonSmallCohort {
		t.Errorf("expected ReasonSmallCohort, got %+v", err)
	}
}

func TestGateValidateMetricsShortHash(t *testing.T) {
	gate := NewAnonymizationGate(50, 10)
	m := &MetricsContribution{SegmentHash: "short"}
	if err := gate.ValidateMetrics(m); !errors.Is(err, ErrAnonymization) {
		t.Fatalf("short metrics hash should fail, got %v", err)
	}
}
