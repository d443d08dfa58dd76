package store

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrDimensionMismatch is returned when a vector's length does not match
	// the dimension registered for its embedder. Always rejected before any
	// write happens.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrNotFound is returned when a referenced document or chunk does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreClosed is returned when using a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidVector is returned when vector data is empty or non-finite.
	ErrInvalidVector = errors.New("invalid vector data")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrProviderUnavailable is returned when an external embedding
	// computation fails. The failure is never cached.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
)

// StoreError wraps errors with operation context.
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("retriva: %v", e.Err)
	}
	return fmt.Sprintf("retriva: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
