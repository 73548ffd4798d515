// Package repository defines sentinel error values that are reused across
// multiple repositories. These let higher layers such as the circulation
// coordinator distinguish failure scenarios without inspecting driver errors
// directly. Not-found conditions are reported per entity so precise error
// codes can be surfaced to callers.
package repository

import "errors"

// ErrBookNotFound is returned when no book matches the given id or
// accession number.
var ErrBookNotFound = errors.New("book not found")

// ErrStudentNotFound is returned when no student matches the given id or
// external student code.
var ErrStudentNotFound = errors.New("student not found")

// ErrLoanNotFound is returned when a loan does not exist or, on the return
// path, is already closed.
var ErrLoanNotFound = errors.New("loan not found")

// ErrReservationNotFound is returned when a reservation does not exist.
var ErrReservationNotFound = errors.New("reservation not found")
