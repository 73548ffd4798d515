package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.  Active
// reservations form the per-book FIFO queue; a Fulfilled reservation has been
// promoted off the queue and earmarks the book for its student until the
// student actually picks it up.  Cancelled and consumed Fulfilled
// reservations are terminal.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationFulfilled ReservationStatus = "FULFILLED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Reservation is one student's place in a book's reservation queue.  Queue
// order is reserved_at ascending; two reservations created in the same clock
// tick fall back to insertion order (id ascending).
//
// Fields:
//  ID         – primary key identifier.
//  BookID     – book copy being reserved.
//  StudentID  – reserving student.
//  Status     – ACTIVE, FULFILLED or CANCELLED.
//  ReservedAt – queue ordering key; when the request was made.
//  LoanID     – set when a Fulfilled reservation is consumed by an issue.
//               A Fulfilled reservation with a null LoanID is still pending
//               pickup and keeps the book earmarked.
//  UpdatedAt  – last status change.
type Reservation struct {
	ID         uint64            // reservations.id
	BookID     uint64            // reservations.book_id
	StudentID  uint64            // reservations.student_id
	Status     ReservationStatus // reservations.status
	ReservedAt time.Time         // reservations.reserved_at
	LoanID     *uint64           // reservations.loan_id (nullable)
	UpdatedAt  time.Time         // reservations.updated_at
}

// PendingPickup reports whether the reservation has been promoted off the
// queue but the student has not collected the book yet.
func (r *Reservation) PendingPickup() bool {
	return r.Status == ReservationFulfilled && r.LoanID == nil
}
