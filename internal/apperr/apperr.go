package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to branch on failure
// semantics: synchronous rejection, retry, or escalation.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindTransient    Kind = "transient"
	KindFatal        Kind = "fatal"
)

type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func Newf(kind Kind, code string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Err: fmt.Errorf(format, args...)}
}

func Validation(code string, format string, args ...interface{}) *Error {
	return Newf(KindValidation, code, format, args...)
}

func Conflict(code string, format string, args ...interface{}) *Error {
	return Newf(KindConflict, code, format, args...)
}

func NotFound(code string, format string, args ...interface{}) *Error {
	return Newf(KindNotFound, code, format, args...)
}

func Unauthorized(code string, format string, args ...interface{}) *Error {
	return Newf(KindUnauthorized, code, format, args...)
}

func Transient(code string, format string, args ...interface{}) *Error {
	return Newf(KindTransient, code, format, args...)
}

func Fatal(code string, format string, args ...interface{}) *Error {
	return Newf(KindFatal, code, format, args...)
}

// KindOf returns the Kind of err, or KindTransient for untyped errors so
// that unknown infrastructure failures stay retryable.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransient
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
