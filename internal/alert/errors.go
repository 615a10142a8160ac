package alert

import (
	"errors"
	"strings"
)

// Code is a stable, machine-readable error class.
type Code string

const (
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeConflict          Code = "CONFLICT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeForbidden         Code = "FORBIDDEN"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeLimitExceeded     Code = "LIMIT_EXCEEDED"
	CodeDependencyFailure Code = "DEPENDENCY_FAILURE"
)

// Error is the error type returned by Service operations. Fields is only
// populated for CodeInvalidInput.
type Error struct {
	Code    Code
	Message string
	Fields  []string
	Err     error
}

// Sentinels for errors.Is matching. They match any *Error with the same Code.
var (
	ErrInvalidInput      = &Error{Code: CodeInvalidInput}
	ErrConflict          = &Error{Code: CodeConflict}
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrForbidden         = &Error{Code: CodeForbidden}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition}
	ErrLimitExceeded     = &Error{Code: CodeLimitExceeded}
	ErrDependencyFailure = &Error{Code: CodeDependencyFailure}
)

// ErrStale is returned by Store.Update when the stored version no longer
// matches the version the caller read.
var ErrStale = errors.New("alert: stale version")

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Fields, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so callers can test against the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the Code carried by err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func invalidInput(msg string, fields ...string) *Error {
	return &Error{Code: CodeInvalidInput, Message: msg, Fields: fields}
}

// dependency wraps a store or collaborator failure unless it already
// carries a code.
func dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != "" {
		return err
	}
	return &Error{Code: CodeDependencyFailure, Message: op, Err: err}
}
