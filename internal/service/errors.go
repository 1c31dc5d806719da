package service

import (
	"errors"
	"fmt"
)

// ErrorCode classifies service failures for the transport layer.
type ErrorCode string

const (
	ErrorValidation ErrorCode = "VALIDATION"
	ErrorNotFound   ErrorCode = "NOT_FOUND"
	ErrorConflict   ErrorCode = "CONFLICT"
	ErrorGeneration ErrorCode = "GENERATION"
)

// Error is a classified service error.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("service: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("service: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of a service error, or "" for any other error.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// ReasonOf returns the caller-facing reason of a service error.
func ReasonOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason
	}
	return ""
}
