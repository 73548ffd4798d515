// Package circulation implements the transactional engine that keeps book
// status, loan records and the per-book reservation queue mutually
// consistent. Every mutating operation runs as a single database
// transaction; the book row lock taken at the start of each operation
// serializes concurrent requests for the same copy while requests for
// different copies proceed in parallel.
package circulation

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code returned alongside every
// failed operation. Clients branch on the code; the message is for humans.
type Code string

const (
	// CodeNotFound covers missing entities (book, student, loan, reservation).
	CodeNotFound Code = "NOT_FOUND"
	// CodeValidation covers missing or malformed input.
	CodeValidation Code = "VALIDATION_ERROR"

	// Business rule violations. Expected, recoverable outcomes; resubmitting
	// the identical request will fail identically.
	CodeIssueLimitReached      Code = "ISSUE_LIMIT_REACHED"
	CodeBookUnavailable        Code = "BOOK_UNAVAILABLE"
	CodeBookReservedForAnother Code = "BOOK_RESERVED_FOR_ANOTHER"
	CodeAlreadyReserved        Code = "ALREADY_RESERVED"
	CodeBookAlreadyReserved    Code = "BOOK_ALREADY_RESERVED"
	CodeReservationNotActive   Code = "RESERVATION_NOT_ACTIVE"

	// CodeConflict marks a transaction abort caused by concurrent access
	// (deadlock, lock wait timeout). Safe for the caller to retry.
	CodeConflict Code = "CONFLICT"
	// CodeInternal marks storage or infrastructure failures.
	CodeInternal Code = "INTERNAL"
)

// Error is the only error type the coordinator surfaces to callers.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func wrapError(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, cause: cause}
}

// CodeOf extracts the circulation code from err, defaulting to CodeInternal
// for anything that is not a coordinator error.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

// IsBusiness reports whether err is an expected business rule violation, as
// opposed to a missing entity, bad input or infrastructure failure.
func IsBusiness(err error) bool {
	switch CodeOf(err) {
	case CodeIssueLimitReached, CodeBookUnavailable, CodeBookReservedForAnother,
		CodeAlreadyReserved, CodeBookAlreadyReserved, CodeReservationNotActive:
		return true
	}
	return false
}

// Retryable reports whether err came from a concurrent-transaction abort
// and the caller may safely resubmit the same request.
func Retryable(err error) bool { return CodeOf(err) == CodeConflict }
