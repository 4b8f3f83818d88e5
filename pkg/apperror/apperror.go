// Package apperror defines the business error taxonomy surfaced to API callers.
package apperror

import (
	"errors"
	"net/http"
)

// Kind classifies an error for status mapping and client handling.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindForbidden           Kind = "forbidden"
	KindInvalidRequest      Kind = "invalid_request"
	KindCapacityExceeded    Kind = "capacity_exceeded"
	KindIdempotencyConflict Kind = "idempotency_conflict"
	KindAlreadyInProgress   Kind = "already_in_progress"
	KindInternal            Kind = "internal"
)

// Error is a classified error with caller-safe message and details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so sentinels declared with New work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Status returns the HTTP status code for the error kind.
func (e *Error) Status() int {
	return StatusFor(e.Kind)
}

// WithDetail returns a copy of e with key set in Details.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// New returns an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an *Error of the given kind carrying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func NotFound(message string) *Error       { return New(KindNotFound, message) }
func Forbidden(message string) *Error      { return New(KindForbidden, message) }
func InvalidRequest(message string) *Error { return New(KindInvalidRequest, message) }
func Internal(cause error) *Error {
	return Wrap(KindInternal, "internal error", cause)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal when err is not classified.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindInternal
}

// StatusFor maps a kind to an HTTP status code.
func StatusFor(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindCapacityExceeded, KindAlreadyInProgress:
		return http.StatusConflict
	case KindIdempotencyConflict:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
