package shared

import (
	"errors"
	"fmt"
)

// Sentinel errors for the access-control core. Resolution paths never return
// these for data absence (absence resolves to DENY); they are reserved for the
// mutation surface where callers need to distinguish outcomes.
var (
	// ErrNotFound indicates the referenced entity is missing or soft-deleted.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a concurrent mutation lost the race and may be retried.
	ErrConflict = errors.New("concurrent modification conflict")
	// ErrSystemProtected indicates an attempt to delete or alter a system-flagged row.
	ErrSystemProtected = errors.New("system-protected record")
	// ErrGrantsExist indicates an entity still has active grants referencing it.
	ErrGrantsExist = errors.New("active grants reference this record")
	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("validation failed")
)

// StructuralError reports a write rejected by structural validation before any
// row was touched.
type StructuralError struct {
	Code   string
	Detail string
}

// Structural rejection codes.
const (
	CodeMaxDepthExceeded = "MAX_DEPTH_EXCEEDED"
	CodeCycleDetected    = "CYCLE_DETECTED"
	CodeParentNotFound   = "PARENT_NOT_FOUND"
)

func (e *StructuralError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("structural violation: %s", e.Code)
	}
	return fmt.Sprintf("structural violation: %s: %s", e.Code, e.Detail)
}

// NewStructuralError builds a StructuralError with the given code.
func NewStructuralError(code, detail string) *StructuralError {
	return &StructuralError{Code: code, Detail: detail}
}

// IsStructural reports whether err is a structural rejection, returning it.
func IsStructural(err error) (*StructuralError, bool) {
	var se *StructuralError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
