// Package apperr provides the error taxonomy shared by services and handlers.
package apperr

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"
	CodeMissingCredentials   Code = "MISSING_CREDENTIALS"
	CodeSessionAuthDisabled  Code = "SESSION_AUTH_DISABLED"
	CodeInvalidIdentity      Code = "INVALID_IDENTITY"
	CodeInvalidRequest       Code = "INVALID_REQUEST"
	CodeValidationFailed     Code = "VALIDATION_FAILED"
	CodeNotFound             Code = "NOT_FOUND"
	CodeConflict             Code = "CONFLICT"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeConfiguration        Code = "CONFIGURATION"
	CodeInternal             Code = "INTERNAL"
)

// Reason narrows a validation failure.
type Reason string

const (
	ReasonOutOfRange      Reason = "OUT_OF_RANGE"
	ReasonHitsExceedShots Reason = "HITS_EXCEED_SHOTS"
	ReasonRateImplausible Reason = "RATE_IMPLAUSIBLE"
)

// HTTPStatus maps the code to the status written at the request boundary.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeAuthenticationFailed, CodeMissingCredentials:
		return http.StatusUnauthorized
	case CodeSessionAuthDisabled:
		return http.StatusForbidden
	case CodeInvalidIdentity, CodeInvalidRequest, CodeValidationFailed:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type.
type Error struct {
	Code    Code
	Message string // safe to show to the client
	Reason  Reason
	Field   string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Validation builds a VALIDATION_FAILED error for a single rule.
func Validation(reason Reason, field, message string) *Error {
	return &Error{
		Code:    CodeValidationFailed,
		Message: message,
		Reason:  reason,
		Field:   field,
	}
}

// From extracts the *Error from err, or wraps it as INTERNAL.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(CodeInternal, "internal error", err)
}

// CodeOf returns the code carried by err, INTERNAL for foreign errors and
// the empty code for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return From(err).Code
}
