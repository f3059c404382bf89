package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so both gateways can map them to a response.
type ErrorKind string

const (
	KindAuthFailed  ErrorKind = "auth_failed"
	KindForbidden   ErrorKind = "forbidden"
	KindInvalid     ErrorKind = "invalid"
	KindNotFound    ErrorKind = "not_found"
	KindConflict    ErrorKind = "conflict"
	KindUnavailable ErrorKind = "unavailable"
	KindBackend     ErrorKind = "backend"
)

// Error is the chat core error type. Message is safe to show to callers,
// Err carries the underlying cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so errors.Is(err, models.ErrNotFound) works for any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrAuthFailed  = &Error{Kind: KindAuthFailed}
	ErrForbidden   = &Error{Kind: KindForbidden}
	ErrInvalid     = &Error{Kind: KindInvalid}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrConflict    = &Error{Kind: KindConflict}
	ErrUnavailable = &Error{Kind: KindUnavailable}
	ErrBackend     = &Error{Kind: KindBackend}
)

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func AuthFailedf(format string, args ...interface{}) error {
	return newError(KindAuthFailed, format, args...)
}

func Forbiddenf(format string, args ...interface{}) error {
	return newError(KindForbidden, format, args...)
}

func Invalidf(format string, args ...interface{}) error {
	return newError(KindInvalid, format, args...)
}

func NotFoundf(format string, args ...interface{}) error {
	return newError(KindNotFound, format, args...)
}

func Conflictf(format string, args ...interface{}) error {
	return newError(KindConflict, format, args...)
}

func Unavailablef(format string, args ...interface{}) error {
	return newError(KindUnavailable, format, args...)
}

// Backend wraps a store failure.
func Backend(op string, err error) error {
	return &Error{Kind: KindBackend, Message: op, Err: err}
}

// KindOf returns the kind of err, or KindBackend for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindBackend
}

// PublicMessage returns the caller-facing text of err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindBackend {
			return "internal server error"
		}
		return e.Message
	}
	return "internal server error"
}
