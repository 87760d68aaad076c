// ABOUTME: Error taxonomy shared by every pipeline stage
// ABOUTME: Sentinel errors, typed dimension errors and kind classification

package errs

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyContent indicates a blank or whitespace-only span
	ErrEmptyContent = errors.New("boltindex: empty content")

	// ErrInvalidWeights indicates combination weights that do not sum to 1
	ErrInvalidWeights = errors.New("boltindex: invalid weights")

	// ErrZeroVector indicates a vector with no direction where a unit vector is required
	ErrZeroVector = errors.New("boltindex: zero vector")

	// ErrInvalidEdge indicates an edge that breaks an edge-type rule other than acyclicity
	ErrInvalidEdge = errors.New("boltindex: invalid edge")

	// ErrContentHashMismatch indicates view embeddings derived from different content
	ErrContentHashMismatch = errors.New("boltindex: content hash mismatch")

	// ErrAnalysisUnavailable indicates the analyzer failed or returned nothing usable
	ErrAnalysisUnavailable = errors.New("boltindex: analysis unavailable")

	// ErrTimeout indicates an analyzer call exceeded its deadline
	ErrTimeout = errors.New("boltindex: analyzer timeout")

	// ErrStructuralCycle indicates a Contains edge would create a cycle or second parent
	ErrStructuralCycle = errors.New("boltindex: structural cycle")

	// ErrDimensionMismatch indicates vectors of different dimensions met
	ErrDimensionMismatch = errors.New("boltindex: dimension mismatch")

	// ErrInconsistent indicates a stored hierarchy that no longer matches its source document
	ErrInconsistent = errors.New("boltindex: hierarchy inconsistent with document")

	// ErrMaxHopsExceeded indicates impact propagation hit its hop bound
	ErrMaxHopsExceeded = errors.New("boltindex: max hops exceeded")

	// ErrUpdateInProgress indicates another update holds the document
	ErrUpdateInProgress = errors.New("boltindex: update in progress")

	// ErrValidationFailed indicates a candidate revision failed a blocking check
	ErrValidationFailed = errors.New("boltindex: validation failed")

	// ErrNotFound indicates a missing document, revision or node
	ErrNotFound = errors.New("boltindex: not found")
)

// DimensionError carries the expected and actual dimensions of a mismatch
type DimensionError struct {
	Expected int
	Actual   int
	Where    string
}

func (e *DimensionError) Error() string {
	if e.Where == "" {
		return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
	}
	return fmt.Sprintf("dimension mismatch at %s: expected %d, got %d", e.Where, e.Expected, e.Actual)
}

// Is lets errors.Is(err, ErrDimensionMismatch) match a *DimensionError
func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// Dimension builds a *DimensionError
func Dimension(where string, expected, actual int) error {
	return &DimensionError{Expected: expected, Actual: actual, Where: where}
}

// Kind classifies errors by handling policy
type Kind int

const (
	KindUnknown Kind = iota
	KindInput
	KindCapability
	KindStructural
	KindConcurrency
	KindValidation
	KindNotFound
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindCapability:
		return "capability"
	case KindStructural:
		return "structural"
	case KindConcurrency:
		return "concurrency"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// KindOf classifies err by the first sentinel it wraps
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrEmptyContent), errors.Is(err, ErrInvalidWeights), errors.Is(err, ErrContentHashMismatch),
		errors.Is(err, ErrZeroVector):
		return KindInput
	case errors.Is(err, ErrAnalysisUnavailable), errors.Is(err, ErrTimeout):
		return KindCapability
	case errors.Is(err, ErrStructuralCycle), errors.Is(err, ErrDimensionMismatch), errors.Is(err, ErrMaxHopsExceeded),
		errors.Is(err, ErrInvalidEdge), errors.Is(err, ErrInconsistent):
		return KindStructural
	case errors.Is(err, ErrUpdateInProgress):
		return KindConcurrency
	case errors.Is(err, ErrValidationFailed):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// Retryable reports whether the caller may retry the same request unchanged
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindCapability, KindConcurrency:
		return true
	default:
		return false
	}
}
