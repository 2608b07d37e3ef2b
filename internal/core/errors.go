package core

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers classify with errors.Is.
var (
	// ErrValidation rejects an entity before it reaches storage.
	ErrValidation = errors.New("validation failed")
	// ErrIntegrityViolation marks duplicate allocations and orphaned
	// references. These are repaired by the integrity guard, not surfaced.
	ErrIntegrityViolation = errors.New("integrity violation")
	// ErrComputationBound is returned when the recurrence loop guard trips.
	ErrComputationBound = errors.New("computation bound exceeded")
	// ErrStorageFailure wraps any backend failure; the mutation was rolled back.
	ErrStorageFailure = errors.New("storage failure")

	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

var (
	ErrInvalidAmount    = &ValidationError{Field: "amount", Reason: "invalid amount"}
	ErrEmptyName        = &ValidationError{Field: "name", Reason: "name cannot be empty"}
	ErrMissingCategory  = &ValidationError{Field: "category", Reason: "category is required"}
	ErrHeaderCategory   = &ValidationError{Field: "category", Reason: "header categories cannot hold money"}
	ErrCategoryTooDeep  = &ValidationError{Field: "parent", Reason: "parent category must be top-level"}
	ErrInvalidFrequency = &ValidationError{Field: "frequency", Reason: "invalid recurrence frequency"}
)

// ValidationError describes why an entity was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrValidation) match every ValidationError.
func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StorageError wraps a backend error so that it matches ErrStorageFailure
// while keeping the driver error reachable.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
}
