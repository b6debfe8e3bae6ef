package colmena

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the colmena package.
var (
	// ErrClosed is returned when operations are attempted on a closed
	// federation or store.
	ErrClosed = errors.New("federation is closed")

	// ErrNotFound is returned when no aggregated model exists for a
	// model type (quorum was never reached).
	ErrNotFound = errors.New("aggregated model not found")

	// ErrBelowQuorum indicates a model type does not yet have enough
	// contributions to aggregate. The contribution is stored, not
	// rejected; aggregation is re-attempted on the next arrival.
	ErrBelowQuorum = errors.New("below contribution quorum")

	// ErrAnonymization is returned when a contribution fails the
	// anonymization gate.
	ErrAnonymization = errors.New("anonymization validation failed")

	// ErrInsufficientSamples is returned when a contribution's sample
	// count is below the configured minimum.
	ErrInsufficientSamples = errors.New("insufficient training samples")

	// ErrShapeMismatch is returned when parameter dimensions disagree
	// during type-specific combination.
	ErrShapeMismatch = errors.New("parameter shape mismatch")

	// ErrTransport is returned by the client when transmission fails or
	// the server responds with a non-success status.
	ErrTransport = errors.New("transport failed")
)

// ValidationReason categorizes anonymization gate failures.
type ValidationReason int

const (
	// ReasonUnknown is an unclassified validation failure.
	ReasonUnknown ValidationReason = iota
	// ReasonShortHash indicates the segment hash is too short to be
	// considered irreversible.
	ReasonShortHash
	// ReasonBlockedTerm indicates a parameter key or value matched the
	// identifying-term blocklist.
	ReasonBlockedTerm
	// ReasonSampleCount indicates the sample count is below the minimum.
	ReasonSampleCount
	// ReasonSmallCohort indicates a list-valued metric has too few
	// points to prevent re-identification.
	ReasonSmallCohort
)

// ValidationError reports why a contribution failed the anonymization
// gate. The caller must neither store nor aggregate the contribution.
type ValidationError struct {
	Reason  ValidationReason
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s [%s]", e.Message, e.Field)
	}
	return e.Message
}

// Is implements error matching for ValidationError.
func (e *ValidationError) Is(target error) bool {
	if e.Reason == ReasonSampleCount {
		return target == ErrInsufficientSamples || target == ErrAnonymization
	}
	return target == ErrAnonymization
}

// newValidationError creates a ValidationError.
func newValidationError(reason ValidationReason, field, message string) *ValidationError {
	return &ValidationError{Reason: reason, Field: field, Message: message}
}

// ShapeMismatchError reports a dimension mismatch for a single
// parameter key during combination. Depending on PrivacyConfig
// strictness the key is dropped from the aggregate or the whole
// aggregation fails.
type ShapeMismatchError struct {
	Key  string
	Want int
	Got  int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch for %q: want %d, got %d", e.Key, e.Want, e.Got)
}

// Is implements error matching for ShapeMismatchError.
func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

// TransportError reports a failed client transmission. It is terminal
// per call; retrying is the caller's decision.
type TransportError struct {
	URL        string
	StatusCode int
	Cause      error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport failed [%s]: %v", e.URL, e.Cause)
	}
	return fmt.Sprintf("transport failed [%s]: status %d", e.URL, e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
