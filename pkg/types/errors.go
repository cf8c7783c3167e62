package types

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or oversized input. It is returned
// before any store call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for the given field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing or hard-deleted entity or
// relationship. Soft-deleted items surface as not found unless the
// caller asked to include them.
type NotFoundError struct {
	Resource string
	ID       string
	GroupID  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found in group %q", e.Resource, e.ID, e.GroupID)
}

// NewNotFoundError creates a not-found error for the given resource.
func NewNotFoundError(resource, id, groupID string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id, GroupID: groupID}
}

// ConflictError reports an unexpected uniqueness violation, such as a
// create racing against a soft-deleted holder of the same key.
type ConflictError struct {
	Resource string
	ID       string
	GroupID  string
	Message  string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("conflict on %s %q in group %q: %s", e.Resource, e.ID, e.GroupID, e.Message)
	}
	return fmt.Sprintf("conflict on %s %q in group %q", e.Resource, e.ID, e.GroupID)
}

// ExtractionError reports a failure of the extraction collaborator.
// The caller may retry the whole reconciliation pass.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingError reports a failure of the embedding collaborator.
// Embedding is best effort; callers log and continue rather than fail.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// StoreError reports that the backing store was unavailable or rejected
// an operation for reasons other than the domain errors above. It is
// retryable with backoff.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store operation %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is, or wraps, a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
