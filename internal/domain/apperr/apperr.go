// Package apperr defines the transport-agnostic error taxonomy shared by the
// catalog and order services. Adapters map these kinds to status codes.
package apperr

import (
	"strings"

	"github.com/go-faster/errors"
)

var (
	// ErrUnauthorized is returned when the credential is missing, malformed
	// or fails verification.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when an authenticated principal lacks the role
	// or ownership required for the operation.
	ErrForbidden = errors.New("access denied")
	// ErrNotFound is returned when the target resource does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrDependencyConflict is returned when a deletion is blocked by another
	// entity still referencing the target.
	ErrDependencyConflict = errors.New("resource is referenced by other records")
)

// Kind classifies an error into the taxonomy.
type Kind int

const (
	KindUnexpected Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindValidationFailed
	KindDependencyConflict
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindValidationFailed:
		return "validation_failed"
	case KindDependencyConflict:
		return "dependency_conflict"
	default:
		return "unexpected"
	}
}

// KindOf returns the kind of err. Errors outside the taxonomy, including nil,
// are reported as KindUnexpected.
func KindOf(err error) Kind {
	var verr *ValidationError
	switch {
	case err == nil:
		return KindUnexpected
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.As(err, &verr):
		return KindValidationFailed
	case errors.Is(err, ErrDependencyConflict):
		return KindDependencyConflict
	default:
		return KindUnexpected
	}
}

// Violation is a single field-level validation failure.
type Violation struct {
	Field   string
	Message string
}

// ValidationError carries every violation found in a write payload, in the
// order they were produced.
type ValidationError struct {
	Violations []Violation
}

// NewValidationError returns a ValidationError holding the given violations.
func NewValidationError(violations ...Violation) *ValidationError {
	return &ValidationError{Violations: violations}
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid data")
	for i, v := range e.Violations {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(v.Field)
		b.WriteString(": ")
		b.WriteString(v.Message)
	}
	return b.String()
}
