package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	// ErrNoSuitableImage means the catalog has no scene matching the
	// spatio-temporal and cloud filters. Recoverable by resampling in
	// sampling modes; terminal for the index in match mode.
	ErrNoSuitableImage = fmt.Errorf("no suitable image: %w", ErrNotFound)

	// ErrTransport wraps network or remote-service failures. Same
	// recovery policy as ErrNoSuitableImage.
	ErrTransport = fmt.Errorf("transport: %w", ErrUnavailable)

	ErrInvalidCoordinate = fmt.Errorf("coordinate: %w", ErrInvalidInput)
	ErrLedgerCorrupt     = fmt.Errorf("checkpoint ledger: %w", ErrInternal)
)

// Retryable reports whether an error is one a sampling-mode worker may
// recover from by burning the coordinate and drawing a fresh one.
func Retryable(err error) bool {
	return errors.Is(err, ErrNoSuitableImage) || errors.Is(err, ErrTransport)
}

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// ResolveError represents a failure to resolve a scene for one coordinate
// and date window.
type ResolveError struct {
	Coordinate Coordinate
	Window     DateWindow
	Err        error
}

// Error implements the error interface.
func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolving scene at (%.4f, %.4f) between %s and %s: %v",
		e.Coordinate.Lat, e.Coordinate.Lon,
		e.Window.CurrentStart.Format("2006-01-02"),
		e.Window.CurrentEnd.Format("2006-01-02"), e.Err)
}

// Unwrap returns the underlying error.
func (e *ResolveError) Unwrap() error {
	return e.Err
}

// StoreError represents an error while persisting a patch.
type StoreError struct {
	Operation string // Operation that failed (put, mkdir, encode)
	Key       string // Object key
	Err       error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store error during %s for %s: %v", e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("store error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
