// Package errors provides standardized error handling for snapstream
// components. It includes error classification, standard error variables,
// and helpers for consistent wrapping across the write and read paths.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Lifecycle errors
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
	ErrClosed         = errors.New("closed")

	// Stream state errors
	ErrStreamFailed    = errors.New("stream failed")
	ErrStreamSealed    = errors.New("stream already sealed")
	ErrStreamNotFound  = errors.New("stream not found")
	ErrUnknownStream   = errors.New("unknown stream for this dispatcher")
	ErrNoMoreSplits    = errors.New("no more splits")
	ErrSplitNotIssued  = errors.New("split was never issued")
	ErrEndOfCheckpoint = errors.New("checkpoint beyond end of stream")

	// Chunk store errors
	ErrKeyNotFound        = errors.New("key not found")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Chunk integrity errors
	ErrChunkGap       = errors.New("chunk missing from sealed stream")
	ErrChunkCorrupted = errors.New("chunk corrupted")
	ErrChecksumFailed = errors.New("checksum validation failed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrStreamFailed) ||
		errors.Is(err, ErrChunkGap) ||
		errors.Is(err, ErrChunkCorrupted) ||
		errors.Is(err, ErrChecksumFailed)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidConfig)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
	// Unknown errors default to transient to allow retry
	return ErrorTransient
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, operation, message string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     ErrorTransient,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// WrapInvalid wraps an error as invalid input with context
func WrapInvalid(err error, component, operation, message string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     ErrorInvalid,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, operation, message string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     ErrorFatal,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Re-exported standard library helpers so callers need a single errors import.

// Is reports whether any error in err's tree matches target
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's tree that matches target
func As(err error, target any) bool { return errors.As(err, target) }

// New returns an error that formats as the given text
func New(text string) error { return errors.New(text) }
