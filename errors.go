package cloudbackend

import (
	"errors"
	"fmt"
)

// Error represents a cloudbackend library error with categorization.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so errors.Is(err, ErrNotFound)
// holds for every not-found error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t == e || (t.Message == "" && t.Code == e.Code)
}

// Error codes for cloudbackend operations.
const (
	// ErrCodeValidation indicates a malformed argument, reported synchronously.
	ErrCodeValidation = "VALIDATION_ERROR"

	// ErrCodeTransport indicates the entity service or push transport failed.
	ErrCodeTransport = "TRANSPORT_ERROR"

	// ErrCodeNotFound indicates the referenced entity does not exist.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeConfiguration indicates invalid configuration.
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
)

// Common errors.
var (
	// ErrNotFound is returned by entity services for unknown ids.
	ErrNotFound = &Error{Code: ErrCodeNotFound}
)

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error wrapping an underlying error.
func NewErrorWithCause(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// NotFoundError reports a missing entity of the given kind.
func NotFoundError(kindName, id string) *Error {
	return NewError(ErrCodeNotFound, fmt.Sprintf("%s %s not found", kindName, id))
}

// hasCode reports whether err is or wraps an *Error with the given code.
func hasCode(err error, code string) bool {
	var cbErr *Error
	for err != nil {
		if !errors.As(err, &cbErr) {
			return false
		}
		if cbErr.Code == code {
			return true
		}
		err = cbErr.Err
	}
	return false
}

// IsNotFound checks if an error reports a missing entity.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsTransport checks if an error is a transport error.
func IsTransport(err error) bool {
	return hasCode(err, ErrCodeTransport)
}

// transportError wraps err as a transport error unless it already carries a
// library error code.
func transportError(message string, err error) error {
	var cbErr *Error
	if errors.As(err, &cbErr) {
		return err
	}
	return NewErrorWithCause(ErrCodeTransport, message, err)
}
