// Package errors provides chainable errors: a context message optionally
// wrapping a cause, compatible with the standard errors.Is and errors.As
// traversal.
package errors

import (
	stderr "errors"
)

var _ error = New("")

// New builds an Error carrying msg, with no cause yet
func New(msg string) *Error {
	return &Error{msg: msg}
}

// Error is a message optionally wrapping a cause
type Error struct {
	msg string
	err error
}

// Error renders the message, with the cause appended when present
func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Wrap records err as the cause and returns the receiver
func (e *Error) Wrap(err error) *Error {
	e.err = err
	return e
}

// Is reports whether the receiver or its direct cause is target
func (e *Error) Is(target error) bool {
	return e == target || e.err == target
}

// As is a shortcut to the standard library errors.As
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Is is a shortcut to the standard library errors.Is
func Is(err, target error) bool {
	return stderr.Is(err, target)
}
