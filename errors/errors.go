// Package errors provides standardized error handling for dicom-server
// components. It includes error classification, standard error variables for
// the store/retrieve taxonomy, and helper functions for consistent error
// wrapping across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that a caller may retry
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or request state
	ErrorInvalid
	// ErrorNotFound represents errors due to a missing resource
	ErrorNotFound
	// ErrorConflict represents errors due to a conflicting resource state
	ErrorConflict
	// ErrorFatal represents unrecoverable errors that indicate a deployment
	// defect rather than a request defect
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorNotFound:
		return "not_found"
	case ErrorConflict:
		return "conflict"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for the ingestion/retrieval taxonomy
var (
	// ErrNotFound indicates no matching index row exists
	ErrNotFound = errors.New("instance not found")
	// ErrObjectNotFound indicates an index row exists but the bytes are
	// missing from blob storage. This is a data-integrity inconsistency and
	// is never silently treated as ErrNotFound.
	ErrObjectNotFound = errors.New("object not found in blob storage")
	// ErrNotAcceptable indicates content negotiation failed, the object
	// exceeds the configured size limit, or a multi-instance transcode was
	// requested
	ErrNotAcceptable = errors.New("not acceptable")
	// ErrBadRequest indicates malformed identifiers or frame numbers
	ErrBadRequest = errors.New("bad request")
	// ErrValidationFailure indicates an ingestion dataset failed required
	// checks
	ErrValidationFailure = errors.New("dataset validation failed")
	// ErrConflict indicates the instance already exists
	ErrConflict = errors.New("instance already exists")
	// ErrPendingConflict indicates another writer holds an uncommitted index
	// row for the same instance
	ErrPendingConflict = errors.New("instance creation pending by another writer")
	// ErrTranscode indicates pixel-data transcoding failed
	ErrTranscode = errors.New("transcode failed")
	// ErrUnsupportedConversion indicates the requested transfer syntax
	// conversion is not supported by the configured transcoder
	ErrUnsupportedConversion = errors.New("unsupported transfer syntax conversion")
	// ErrFrameNotFound indicates a requested frame number does not exist in
	// the instance
	ErrFrameNotFound = errors.New("frame not found")
	// ErrConfiguration indicates a deployment defect such as a missing store
	// implementation for the active schema version. Fatal, never retried.
	ErrConfiguration = errors.New("configuration error")

	// Storage plumbing errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrKeyNotFound        = errors.New("key not found")
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

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrFrameNotFound):
		return ErrorNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrPendingConflict):
		return ErrorConflict
	case errors.Is(err, ErrNotAcceptable),
		errors.Is(err, ErrBadRequest),
		errors.Is(err, ErrValidationFailure),
		errors.Is(err, ErrUnsupportedConversion):
		return ErrorInvalid
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrObjectNotFound):
		return ErrorFatal
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorTransient
	}

	// Default to transient for unknown errors to allow caller-driven retry
	return ErrorTransient
}

// IsTransient checks if an error is transient and may be retried by the caller
func IsTransient(err error) bool {
	return err != nil && Classify(err) == ErrorTransient
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	return err != nil && Classify(err) == ErrorInvalid
}

// IsFatal checks if an error indicates a deployment defect
func IsFatal(err error) bool {
	return err != nil && Classify(err) == ErrorFatal
}

// newClassified creates a new classified error.
// Internal helper - use the Wrap family instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
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
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// WrapNotFound wraps an error as not-found with context
func WrapNotFound(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorNotFound, wrappedErr, component, method, wrappedErr.Error())
}

// WrapConflict wraps an error as conflict with context
func WrapConflict(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorConflict, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}
