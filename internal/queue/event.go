// Package queue defines message payloads exchanged over the message broker.
// Circulation events feed the notification and audit collaborators; they
// carry enough context that consumers never have to query the primary
// database.
package queue

// Event kinds published to the circulation.events queue.
const (
	KindLoanIssued           = "loan.issued"
	KindLoanReturned         = "loan.returned"
	KindReservationPlaced    = "reservation.placed"
	KindReservationFulfilled = "reservation.fulfilled"
	KindReservationCancelled = "reservation.cancelled"
	KindOverdueReminder      = "loan.overdue_reminder"
)

// Envelope wraps every published event with a unique id and kind so
// consumers can deduplicate and dispatch without sniffing payload fields.
type Envelope struct {
	EventID    string `json:"event_id"`
	Kind       string `json:"kind"`
	OccurredAt string `json:"occurred_at"`

	Loan        *LoanEvent        `json:"loan,omitempty"`
	Reservation *ReservationEvent `json:"reservation,omitempty"`
}

// LoanEvent describes an issue, return or overdue reminder.
type LoanEvent struct {
	LoanID        uint64 `json:"loan_id"`
	BookID        uint64 `json:"book_id"`
	BookAccession string `json:"book_accession,omitempty"`
	StudentID     uint64 `json:"student_id"`
	DueDate       string `json:"due_date"`
	ReturnDate    string `json:"return_date,omitempty"`
	Fine          int64  `json:"fine,omitempty"`
}

// ReservationEvent describes a queue change: placed, fulfilled or cancelled.
type ReservationEvent struct {
	ReservationID uint64 `json:"reservation_id"`
	BookID        uint64 `json:"book_id"`
	StudentID     uint64 `json:"student_id"`
	ReservedAt    string `json:"reserved_at"`
	Status        string `json:"status"`
}
