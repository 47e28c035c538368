// Package errors provides structured error handling for airsync workers
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal runtime errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents resource not found errors
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeRateLimit represents rate limit errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents transport level errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData represents record encoding and decoding errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeState represents adapter state fetch or persist errors
	ErrorTypeState ErrorType = "state"
	// ErrorTypeUpload represents artifact upload errors
	ErrorTypeUpload ErrorType = "upload"
	// ErrorTypeEmission represents control protocol emission errors
	ErrorTypeEmission ErrorType = "emission"
	// ErrorTypeConnector represents errors returned by connector code
	ErrorTypeConnector ErrorType = "connector"
)

// Error is a typed error. Status is the HTTP status of the response that caused
// it, or zero.
type Error struct {
	Type    ErrorType
	Message string
	Status  int
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error. The status of a wrapped *Error is kept.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	wrapped := &Error{Type: errType, Message: message, Cause: err}
	if status, ok := StatusOf(err); ok {
		wrapped.Status = status
	}
	return wrapped
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, errType, fmt.Sprintf(format, args...))
}

// FromStatus builds the error for an unexpected HTTP status.
func FromStatus(status int, errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf("%s (status %d)", fmt.Sprintf(format, args...), status),
		Status:  status,
	}
}

// StatusOf returns the first HTTP status recorded in err's chain.
func StatusOf(err error) (int, bool) {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return 0, false
		}
		if e.Status != 0 {
			return e.Status, true
		}
		err = e.Cause
	}
	return 0, false
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	}
	status, ok := StatusOf(err)
	return ok && (status == http.StatusTooManyRequests || status >= http.StatusInternalServerError)
}

// IsType checks if the error, or any error it wraps, is of the given type
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// Public renders err for an event error record: the messages of the chain without
// their type prefixes.
func Public(err error) string {
	if err == nil {
		return ""
	}
	var parts []string
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			parts = append(parts, err.Error())
			break
		}
		parts = append(parts, e.Message)
		err = e.Cause
	}
	return strings.Join(parts, ": ")
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }
