// Package errors provides coded application errors shared by repositories,
// services and transport handlers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code classifies an error for transport mapping.
type Code string

const (
	ErrCodeInvalidInput       Code = "INVALID_INPUT"
	ErrCodeNotFound           Code = "NOT_FOUND"
	ErrCodeConflict           Code = "CONFLICT"
	ErrCodeUnauthorized       Code = "UNAUTHORIZED"
	ErrCodeForbidden          Code = "FORBIDDEN"
	ErrCodeFailedPrecondition Code = "FAILED_PRECONDITION"
	ErrCodeUnavailable        Code = "UNAVAILABLE"
	ErrCodeInternal           Code = "INTERNAL"
)

// Error is a coded error. Reason optionally narrows Code to a domain-specific
// failure (for example STALE_APPROVAL_STATE under CONFLICT).
type Error struct {
	Code    Code
	Reason  string
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Reason when the target carries one, otherwise on Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Reason != "" {
		return t.Reason == e.Reason
	}
	return t.Code == e.Code && t.Message == e.Message
}

// New creates an error with the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error. A nil err yields nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found: %s", resource, id)}
}

// InvalidInput reports a validation failure on a single field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Field: field, Message: message}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// ReasonOf returns the first non-empty Reason in err's chain.
func ReasonOf(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Reason != "" {
			return e.Reason
		}
		err = stderrors.Unwrap(err)
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps an error to an HTTP status code.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeFailedPrecondition:
		return http.StatusUnprocessableEntity
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
