package iam

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned by the service unwraps to exactly one of
// these, so callers can branch with errors.Is.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrInternal     = errors.New("internal server error")
)

// Error is a classified service error
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// BadRequestf returns a BadRequest error
func BadRequestf(format string, args ...interface{}) *Error {
	return newError(ErrBadRequest, format, args...)
}

// Unauthorizedf returns an Unauthorized error
func Unauthorizedf(format string, args ...interface{}) *Error {
	return newError(ErrUnauthorized, format, args...)
}

// Forbiddenf returns a Forbidden error
func Forbiddenf(format string, args ...interface{}) *Error {
	return newError(ErrForbidden, format, args...)
}

// NotFoundf returns a NotFound error
func NotFoundf(format string, args ...interface{}) *Error {
	return newError(ErrNotFound, format, args...)
}

// Internal wraps cause as an InternalServerError
func Internal(message string, cause error) *Error {
	return &Error{Kind: ErrInternal, Message: message, Err: cause}
}

// KindOf returns the kind of the outermost classified error in the chain,
// or ErrInternal for unclassified errors.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}

// HTTPStatus maps the error kind to an HTTP status
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to return to API callers. Causes of
// internal errors stay in the logs.
func (e *Error) PublicMessage() string {
	if e.Kind == ErrInternal || e.HTTPStatus() == http.StatusInternalServerError {
		return e.Message
	}
	return e.Error()
}

// StatusCode maps an error to the HTTP status that represents it
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
