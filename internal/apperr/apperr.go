// Package apperr defines the error taxonomy shared by every offsync component.
// Errors carry a string Code that transports map to status codes and render
// verbatim in JSON envelopes.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	// CodeUnauthenticated indicates a missing, malformed or expired credential.
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// CodeInvalidArgument indicates malformed input: bad batch size, out-of-range
	// quota, unknown kind, missing required field.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeNotFound indicates the task, item or source item is absent or not owned
	// by the caller.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConflict indicates a duplicate non-terminal task or a state change on a
	// task that already finished.
	CodeConflict Code = "CONFLICT"

	// CodeResourceExhausted indicates the owner's storage quota is used up.
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"

	// CodeInfrastructure indicates the store or a collaborator is unavailable.
	CodeInfrastructure Code = "INFRASTRUCTURE"
)

// Error is a coded error with a human-readable message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code, so sentinel comparisons like
// errors.Is(err, apperr.ErrNotFound) work regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthenticated   = &Error{Code: CodeUnauthenticated}
	ErrInvalidArgument   = &Error{Code: CodeInvalidArgument}
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrConflict          = &Error{Code: CodeConflict}
	ErrResourceExhausted = &Error{Code: CodeResourceExhausted}
	ErrInfrastructure    = &Error{Code: CodeInfrastructure}
)

func newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Unauthenticated(format string, args ...any) error {
	return newf(CodeUnauthenticated, format, args...)
}

func InvalidArgument(format string, args ...any) error {
	return newf(CodeInvalidArgument, format, args...)
}

func NotFound(format string, args ...any) error {
	return newf(CodeNotFound, format, args...)
}

func Conflict(format string, args ...any) error {
	return newf(CodeConflict, format, args...)
}

func ResourceExhausted(format string, args ...any) error {
	return newf(CodeResourceExhausted, format, args...)
}

// Infrastructure wraps err as an infrastructure failure. A nil err yields nil.
func Infrastructure(err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: CodeInfrastructure, Message: msg, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain.
// Untyped errors are infrastructure failures.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInfrastructure
}

// Message returns the human-readable message for err without its code.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
