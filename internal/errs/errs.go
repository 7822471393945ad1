// Package errs defines the machine-readable outcomes returned for expected
// business-rule failures. Anything that is not an *Error is an
// infrastructure fault.
package errs

import (
	"errors"
	"fmt"
)

type Code string

const (
	NotAuthorized       Code = "NOT_AUTHORIZED"
	NotFound            Code = "NOT_FOUND"
	InvalidState        Code = "INVALID_STATE"
	InsufficientBalance Code = "INSUFFICIENT_BALANCE"
	QuotaExhausted      Code = "QUOTA_EXHAUSTED"
	DeadlinePassed      Code = "DEADLINE_PASSED"
	AlreadyExists       Code = "ALREADY_EXISTS"
	Expired             Code = "EXPIRED"
	InvalidInput        Code = "INVALID_INPUT"
)

type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error carrying the same code, so errors.Is(err, errs.E(errs.Expired))
// works without comparing messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New builds a business error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// E returns a bare error for code, mostly for errors.Is comparisons.
func E(code Code) *Error {
	return &Error{Code: code}
}

// CodeOf extracts the business code from err, or "" for infrastructure
// faults and nil.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsBusiness reports whether err is an expected, recoverable outcome.
func IsBusiness(err error) bool {
	return CodeOf(err) != ""
}
