package service

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeInvalidSelection       Code = "INVALID_SELECTION"
	CodeNotFound               Code = "NOT_FOUND"
	CodeAlreadyAssigned        Code = "ALREADY_ASSIGNED"
	CodeInvalidCount           Code = "INVALID_COUNT"
	CodeInsufficientUnassigned Code = "INSUFFICIENT_UNASSIGNED"
	CodeNoTelecallers          Code = "NO_TELECALLERS_AVAILABLE"
	CodeTransport              Code = "TRANSPORT_ERROR"
)

// Error is the single error type returned by the engine. Only CodeTransport
// carries an underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func transportError(op string, err error) *Error {
	return &Error{Code: CodeTransport, Message: op + " failed", Err: err}
}

// CodeOf returns the engine code of err, or "" for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether the caller may retry the request unchanged.
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeTransport
}
