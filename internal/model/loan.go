package model

import "time"

// LoanStatus is the stored state of a loan.  Overdue is not stored; it is
// derived from the due date while the loan is still open (see IsOverdue).
type LoanStatus string

const (
	LoanIssued   LoanStatus = "ISSUED"
	LoanReturned LoanStatus = "RETURNED"
)

// Loan records the borrowing of one book copy by one student.  A loan is
// created on issue, mutated exactly once on return and immutable afterwards.
//
// Fields:
//  ID                 – primary key identifier.
//  BookID             – book copy being borrowed.
//  StudentID          – borrowing student.
//  IssuedBy           – librarian user who performed the issue (nullable).
//  IssueDate          – when the copy was handed out.
//  DueDate            – when the copy must be back.
//  ReturnDate         – when the copy came back (null while open).
//  Status             – ISSUED or RETURNED.
//  Fine               – late fee computed at return time, in currency units.
//  LastReminderSentAt – when the overdue reminder collaborator last pinged
//                       the student (null if never).
type Loan struct {
	ID                 uint64     // loans.id
	BookID             uint64     // loans.book_id
	StudentID          uint64     // loans.student_id
	IssuedBy           *uint64    // loans.issued_by (nullable)
	IssueDate          time.Time  // loans.issue_date
	DueDate            time.Time  // loans.due_date
	ReturnDate         *time.Time // loans.return_date (nullable)
	Status             LoanStatus // loans.status
	Fine               int64      // loans.fine
	LastReminderSentAt *time.Time // loans.last_reminder_sent_at (nullable)
}

// Open reports whether the loan has not been returned yet.
func (l *Loan) Open() bool { return l.Status == LoanIssued }

// IsOverdue reports whether the loan is open and past its due date at the
// given instant.  A loan exactly at the due instant is not overdue.
func (l *Loan) IsOverdue(now time.Time) bool {
	return l.Open() && now.After(l.DueDate)
}
