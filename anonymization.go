package colmena

import (
	"encoding/json"
	"fmt"
	"strings"
)

// defaultBlocklist holds identifying terms that must not appear
// anywhere in a contribution's serialized parameters. The terms cover
// the organization fields of the contributing businesses' upstream
// records.
var defaultBlocklist = []string{
	"empresa",
	"nombre",
	"direccion",
	"telefono",
	"email",
	"rfc",
	"razon_social",
	"contacto",
}

// AnonymizationGate validates that a contribution carries no
// identifying information before it may be stored or aggregated.
//
// The gate is a heuristic filter: it checks hash length, scans the
// case-folded serialized parameters for blocklisted substrings, and
// enforces a minimum sample count. It is not a cryptographic guarantee.
type AnonymizationGate struct {
	blocklist      []string
	minHashLength  int
	minSampleCount int
	minCohortSize  int
}

// NewAnonymizationGate creates a gate with the default blocklist.
// minSamples is the minimum sample count per contribution (servers use
// PrivacyConfig.MinSampleCount, clients a stricter local minimum).
func NewAnonymizationGate(minSamples, minCohort int) *AnonymizationGate {
	return &AnonymizationGate{
		blocklist:      defaultBlocklist,
		minHashLength:  MinSegmentHashLength,
		minSampleCount: minSamples,
		minCohortSize:  minCohort,
	}
}

// WithBlockedTerms returns a gate that additionally rejects the given
// terms. Clients add their own organization id here so a leaked
// identifier in a parameter key is caught before transmission.
func (g *AnonymizationGate) WithBlockedTerms(terms ...string) *AnonymizationGate {
	extended := make([]string, 0, len(g.blocklist)+len(terms))
	extended = append(extended, g.blocklist...)
	for _, t := range terms {
		if t != "" {
			extended = append(extended, strings.ToLower(t))
		}
	}
	return &AnonymizationGate{
		blocklist:      extended,
		minHashLength:  g.minHashLength,
		minSampleCount: g.minSampleCount,
		minCohortSize:  g.minCohortSize,
	}
}

// Validate checks a model contribution. A nil return means the
// contribution may be stored and aggregated; any error is a
// *ValidationError and the contribution must be discarded.
func (g *AnonymizationGate) Validate(c *ModelContribution) error {
	if len(c.SegmentHash) < g.minHashLength {
		return newValidationError(ReasonShortHash, "segment_hash",
			fmt.Sprintf("segment hash must have at least %d characters", g.minHashLength))
	}

	if term, ok := g.scanBlocked(c.Parameters); ok {
		return newValidationError(ReasonBlockedTerm, term,
			"parameters contain a blocklisted identifying term")
	}

	if c.SampleCount < g.minSampleCount {
		return newValidationError(ReasonSampleCount, "sample_count",
			fmt.Sprintf("sample count %d below minimum %d", c.SampleCount, g.minSampleCount))
	}

	return nil
}

// ValidateMetrics checks a metrics contribution: the segment hash must
// be long enough and every list-valued metric must be aggregated to at
// least the cohort minimum, preventing re-identification of small
// cohorts.
func (g *AnonymizationGate) ValidateMetrics(m *MetricsContribution) error {
	if len(m.SegmentHash) < g.minHashLength {
		return newValidationError(ReasonShortHash, "segment_hash",
			fmt.Sprintf("segment hash must have at least %d characters", g.minHashLength))
	}

	for name, v := range m.AggregatedMetrics {
		if v.Series != nil && len(v.Series) < g.minCohortSize {
			return newValidationError(ReasonSmallCohort, name,
				fmt.Sprintf("metric series must have at least %d points", g.minCohortSize))
		}
	}

	return nil
}

// scanBlocked serializes the parameter map, case-folds it, and scans
// for blocklisted substrings. Scanning the serialized form catches
// identifying terms in keys and in any future string-bearing field
// alike.
func (g *AnonymizationGate) scanBlocked(params ParamMap) (string, bool) {
	serialized, err := json.Marshal(params)
	if err != nil {
		// Unserializable parameters cannot be vetted; treat as blocked.
		return "unserializable", true
	}

	folded := strings.ToLower(string(serialized))
	for _, term := range g.blocklist {
		if strings.Contains(folded, term) {
			return term, true
		}
	}
	return "", false
}
