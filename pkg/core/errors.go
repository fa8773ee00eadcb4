package core

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNotFound is returned when a record or document is not found
	ErrNotFound = errors.New("record not found")

	// ErrDimensionMismatch is returned when a query vector's length matches
	// no stored dimensionality
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidVector is returned when vector data is invalid
	ErrInvalidVector = errors.New("invalid vector data")

	// ErrStoreClosed is returned when trying to use a closed store
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownBackend is returned for a backend name the factory does not
	// recognize
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrEmptyQuery is returned when a search query is empty
	ErrEmptyQuery = errors.New("empty query")
)

// StoreError wraps errors with the name of the failing operation.
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("hybridstore: %v", e.Err)
	}
	return fmt.Sprintf("hybridstore: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapError tags an error with the operation that produced it. A nil error
// stays nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
