// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrDataUnavailable     = errors.New("market data unavailable")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrUnknownVariant      = errors.New("unknown alert variant")
	ErrNotEligible         = errors.New("alert not eligible to trigger")
	ErrAlreadyApplied      = errors.New("trigger already applied for tick")
	ErrAlertNotFound       = errors.New("alert not found")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrTimeout             = errors.New("operation timed out")
	ErrRateLimited         = errors.New("rate limited")
	ErrBackpressure        = errors.New("activity queue full")
)

// DataError represents a market data fetch failure for one symbol.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// PersistError represents a failed write of alert state.
type PersistError struct {
	AlertID   string
	Operation string
	Attempts  int
	Err       error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist error [%s] %s after %d attempt(s): %v", e.AlertID, e.Operation, e.Attempts, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// NewPersistError creates a new PersistError.
func NewPersistError(alertID, operation string, attempts int, err error) *PersistError {
	return &PersistError{
		AlertID:   alertID,
		Operation: operation,
		Attempts:  attempts,
		Err:       err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
