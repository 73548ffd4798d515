package circulation

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository"
)

// Settings carries the circulation policy knobs. They are injected at
// construction instead of read from a global so tests can vary fine rates
// and limits per coordinator.
type Settings struct {
	FinePerDay       int64 // late fee per billable day, in currency units
	MaxActiveLoans   int   // open loans allowed per student
	LoanDurationDays int   // default loan length when no due date is given
}

// Coordinator owns every write to book status, loans and reservations.
// Each operation opens one transaction, takes a row lock on the affected
// book, re-validates all preconditions under that lock and either commits
// all effects or none of them. The coordinator never retries on conflict;
// aborted transactions surface CodeConflict and the caller decides.
type Coordinator struct {
	db           *sql.DB
	books        *repository.BookRepo
	loans        *repository.LoanRepo
	reservations *repository.ReservationRepo
	students     *repository.StudentRepo
	settings     Settings
	now          func() time.Time
}

// New constructs a Coordinator over the given repositories.
func New(db *sql.DB, books *repository.BookRepo, loans *repository.LoanRepo,
	reservations *repository.ReservationRepo, students *repository.StudentRepo,
	settings Settings) *Coordinator {
	if settings.MaxActiveLoans <= 0 {
		settings.MaxActiveLoans = 4
	}
	if settings.LoanDurationDays <= 0 {
		settings.LoanDurationDays = 14
	}
	return &Coordinator{
		db:           db,
		books:        books,
		loans:        loans,
		reservations: reservations,
		students:     students,
		settings:     settings,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// IssueRequest names the inputs of Issue. BookRef is an internal id or an
// accession number; StudentRef is an internal id or an external student
// code. DueDate nil means "issue date plus the configured loan duration".
type IssueRequest struct {
	BookRef    string
	StudentRef string
	DueDate    *time.Time
	IssuedBy   *uint64
}

// ReturnResult is what a successful return hands back: the closed loan with
// the fine charged, and the reservation promoted off the queue, if any.
type ReturnResult struct {
	Loan     *model.Loan
	Fine     int64
	Promoted *model.Reservation
}

// Reserve places studentRef at the tail of bookRef's reservation queue.
// Reserving an AVAILABLE copy earmarks it immediately (status RESERVED);
// reserving an ISSUED or RESERVED copy just joins the queue. A student
// cannot hold two unresolved reservations on the same copy, and the current
// borrower of a copy cannot reserve it.
func (c *Coordinator) Reserve(ctx context.Context, bookRef, studentRef string) (*model.Reservation, error) {
	if strings.TrimSpace(bookRef) == "" || strings.TrimSpace(studentRef) == "" {
		return nil, newError(CodeValidation, "book and student references are required")
	}
	var out *model.Reservation
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		student, err := c.students.ResolveTx(ctx, tx, studentRef)
		if err != nil {
			return err
		}
		book, err := c.lockBookTx(ctx, tx, bookRef)
		if err != nil {
			return err
		}
		open, err := c.reservations.OpenByBookAndStudentTx(ctx, tx, book.ID, student.ID)
		if err != nil {
			return err
		}
		if open {
			return newError(CodeAlreadyReserved, "student already has an unresolved reservation for this book")
		}
		if book.Status == model.BookIssued {
			loan, err := c.loans.GetOpenByBookTx(ctx, tx, book.ID)
			if err != nil && !errors.Is(err, repository.ErrLoanNotFound) {
				return err
			}
			if loan != nil && loan.StudentID == student.ID {
				return newError(CodeBookUnavailable, "book is currently issued to this student")
			}
		}
		res := &model.Reservation{
			BookID:     book.ID,
			StudentID:  student.ID,
			Status:     model.ReservationActive,
			ReservedAt: c.now(),
		}
		if err := c.reservations.CreateTx(ctx, tx, res); err != nil {
			return err
		}
		if book.Status == model.BookAvailable {
			if err := c.books.SetStatusTx(ctx, tx, book.ID, model.BookReserved); err != nil {
				return err
			}
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelReservation cancels an ACTIVE reservation. When the cancelled
// reservation was the last unresolved one on a RESERVED copy, the copy goes
// back on the shelf.
func (c *Coordinator) CancelReservation(ctx context.Context, reservationID uint64) (*model.Reservation, error) {
	var out *model.Reservation
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		// Peek without locking to learn the book, then lock book before
		// reservation so every operation acquires locks in the same order.
		peek, err := c.reservations.GetTx(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		book, err := c.books.GetForUpdateTx(ctx, tx, peek.BookID)
		if err != nil {
			return err
		}
		res, err := c.reservations.GetForUpdateTx(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if res.Status != model.ReservationActive {
			return newError(CodeReservationNotActive, "reservation is not active")
		}
		if err := c.reservations.SetStatusTx(ctx, tx, res.ID, model.ReservationCancelled); err != nil {
			return err
		}
		if book.Status == model.BookReserved {
			remaining, err := c.reservations.CountOpenTx(ctx, tx, book.ID, res.ID)
			if err != nil {
				return err
			}
			if remaining == 0 {
				if err := c.books.SetStatusTx(ctx, tx, book.ID, model.BookAvailable); err != nil {
					return err
				}
			}
		}
		res.Status = model.ReservationCancelled
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FulfillReservation promotes an ACTIVE reservation off the queue,
// earmarking the copy for its student until pickup. Promotion is refused
// when another reservation on the copy is already pending pickup or
// precedes this one in queue order, and when the copy is out on loan.
func (c *Coordinator) FulfillReservation(ctx context.Context, reservationID uint64) (*model.Reservation, error) {
	var out *model.Reservation
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		peek, err := c.reservations.GetTx(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		book, err := c.books.GetForUpdateTx(ctx, tx, peek.BookID)
		if err != nil {
			return err
		}
		res, err := c.reservations.GetForUpdateTx(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if res.Status != model.ReservationActive {
			return newError(CodeReservationNotActive, "reservation is not active")
		}
		if book.Status == model.BookIssued {
			return newError(CodeBookUnavailable, "book is out on loan")
		}
		pending, err := c.reservations.PendingFulfilledTx(ctx, tx, book.ID)
		if err != nil {
			return err
		}
		if pending != nil {
			return newError(CodeBookAlreadyReserved, "another reservation is already pending pickup")
		}
		earlier, err := c.reservations.HasEarlierActiveTx(ctx, tx, res)
		if err != nil {
			return err
		}
		if earlier {
			return newError(CodeBookAlreadyReserved, "an earlier reservation is ahead in the queue")
		}
		if err := c.reservations.SetStatusTx(ctx, tx, res.ID, model.ReservationFulfilled); err != nil {
			return err
		}
		if book.Status != model.BookReserved {
			if err := c.books.SetStatusTx(ctx, tx, book.ID, model.BookReserved); err != nil {
				return err
			}
		}
		res.Status = model.ReservationFulfilled
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Issue hands a copy to a student and opens a loan. Preconditions are
// checked in a fixed order, first failure wins: student exists, the student
// is under the open-loan limit, the book exists, the book is not out on
// loan, and a RESERVED copy may only go to the student the queue entitles
// to it. Issuing against a reservation consumes it.
func (c *Coordinator) Issue(ctx context.Context, req IssueRequest) (*model.Loan, error) {
	if strings.TrimSpace(req.BookRef) == "" || strings.TrimSpace(req.StudentRef) == "" {
		return nil, newError(CodeValidation, "book and student references are required")
	}
	var out *model.Loan
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		// The student row lock serializes same-student issues across
		// different books; the open-loan count below is only safe under it.
		student, err := c.students.ResolveForUpdateTx(ctx, tx, req.StudentRef)
		if err != nil {
			return err
		}
		openCount, err := c.loans.CountOpenByStudentTx(ctx, tx, student.ID)
		if err != nil {
			return err
		}
		if openCount >= c.settings.MaxActiveLoans {
			return newError(CodeIssueLimitReached, "student has reached the open loan limit")
		}
		book, err := c.lockBookTx(ctx, tx, req.BookRef)
		if err != nil {
			return err
		}
		if book.Status == model.BookIssued {
			return newError(CodeBookUnavailable, "book is out on loan")
		}

		// A RESERVED copy only goes to the student the queue entitles to it:
		// the holder of the pending-pickup reservation, or failing that the
		// head of the ACTIVE queue.
		var claim *model.Reservation
		if book.Status == model.BookReserved {
			pending, err := c.reservations.PendingFulfilledTx(ctx, tx, book.ID)
			if err != nil {
				return err
			}
			if pending != nil {
				if pending.StudentID != student.ID {
					return newError(CodeBookReservedForAnother, "book is reserved for another student")
				}
				claim = pending
			} else {
				head, err := c.reservations.OldestActiveTx(ctx, tx, book.ID)
				if err != nil {
					return err
				}
				if head != nil {
					if head.StudentID != student.ID {
						return newError(CodeBookReservedForAnother, "book is reserved for another student")
					}
					claim = head
				}
			}
		}

		issuedAt := c.now()
		due := DueDate(issuedAt, c.settings.LoanDurationDays)
		if req.DueDate != nil {
			due = req.DueDate.UTC()
		}
		loan := &model.Loan{
			BookID:    book.ID,
			StudentID: student.ID,
			IssuedBy:  req.IssuedBy,
			IssueDate: issuedAt,
			DueDate:   due,
			Status:    model.LoanIssued,
		}
		if err := c.loans.CreateTx(ctx, tx, loan); err != nil {
			return err
		}
		if claim != nil {
			if claim.Status == model.ReservationActive {
				if err := c.reservations.SetStatusTx(ctx, tx, claim.ID, model.ReservationFulfilled); err != nil {
					return err
				}
			}
			if err := c.reservations.AttachLoanTx(ctx, tx, claim.ID, loan.ID); err != nil {
				return err
			}
		}
		if err := c.books.SetStatusTx(ctx, tx, book.ID, model.BookIssued); err != nil {
			return err
		}
		out = loan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Return closes a loan and advances the book's reservation queue. The
// reference is a loan id or a book reference (id or accession number); a
// book reference resolves to the copy's single open loan. Returning the
// same loan twice fails with NOT_FOUND on the second call, so the fine is
// charged once and the queue advances once.
func (c *Coordinator) Return(ctx context.Context, ref string) (*ReturnResult, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, newError(CodeValidation, "loan or book reference is required")
	}
	var out *ReturnResult
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		loan, book, err := c.lockLoanTx(ctx, tx, ref)
		if err != nil {
			return err
		}
		returnedAt := c.now()
		fine := Fine(loan.DueDate, returnedAt, c.settings.FinePerDay)
		if err := c.loans.CloseTx(ctx, tx, loan.ID, returnedAt, fine); err != nil {
			return err
		}
		promoted, err := c.advanceQueueTx(ctx, tx, book.ID)
		if err != nil {
			return err
		}
		loan.Status = model.LoanReturned
		loan.ReturnDate = &returnedAt
		loan.Fine = fine
		out = &ReturnResult{Loan: loan, Fine: fine, Promoted: promoted}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Overdue lists all open loans past their due date. Read-only; consumed by
// the reminder collaborator.
func (c *Coordinator) Overdue(ctx context.Context) ([]model.Loan, error) {
	loans, err := c.loans.ListOverdue(ctx, c.now())
	if err != nil {
		return nil, wrapError(CodeInternal, "listing overdue loans failed", err)
	}
	return loans, nil
}

// advanceQueueTx runs after a loan closes while the book row lock is held:
// the head of the ACTIVE queue is promoted to FULFILLED and the copy stays
// RESERVED for that student; with an empty queue the copy goes back on the
// shelf.
func (c *Coordinator) advanceQueueTx(ctx context.Context, tx *sql.Tx, bookID uint64) (*model.Reservation, error) {
	head, err := c.reservations.OldestActiveTx(ctx, tx, bookID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, c.books.SetStatusTx(ctx, tx, bookID, model.BookAvailable)
	}
	if err := c.reservations.SetStatusTx(ctx, tx, head.ID, model.ReservationFulfilled); err != nil {
		return nil, err
	}
	if err := c.books.SetStatusTx(ctx, tx, bookID, model.BookReserved); err != nil {
		return nil, err
	}
	head.Status = model.ReservationFulfilled
	return head, nil
}

// lockBookTx resolves a book reference and locks the row. A numeric
// reference is tried as the internal id first, then as an accession number,
// so all-digit accession numbers still resolve.
func (c *Coordinator) lockBookTx(ctx context.Context, tx *sql.Tx, ref string) (*model.Book, error) {
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		book, err := c.books.GetForUpdateTx(ctx, tx, id)
		if err == nil {
			return book, nil
		}
		if !errors.Is(err, repository.ErrBookNotFound) {
			return nil, err
		}
	}
	return c.books.GetByAccessionForUpdateTx(ctx, tx, ref)
}

// lockLoanTx resolves a return reference to an open loan and its book, with
// both rows locked. A numeric reference is tried as a loan id first and
// falls back to a book reference.
func (c *Coordinator) lockLoanTx(ctx context.Context, tx *sql.Tx, ref string) (*model.Loan, *model.Book, error) {
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		loan, err := c.loans.GetOpenForUpdateTx(ctx, tx, id)
		if err == nil {
			book, err := c.books.GetForUpdateTx(ctx, tx, loan.BookID)
			if err != nil {
				return nil, nil, err
			}
			return loan, book, nil
		}
		if !errors.Is(err, repository.ErrLoanNotFound) {
			return nil, nil, err
		}
	}
	book, err := c.lockBookTx(ctx, tx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			return nil, nil, repository.ErrLoanNotFound
		}
		return nil, nil, err
	}
	loan, err := c.loans.GetOpenByBookTx(ctx, tx, book.ID)
	if err != nil {
		return nil, nil, err
	}
	return loan, book, nil
}

// withTx brackets fn in a transaction. Any error rolls everything back so a
// failed operation leaves no observable side effects; commit errors and
// driver-level aborts are translated into coordinator errors.
func (c *Coordinator) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError(CodeInternal, "begin transaction failed", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return translate(err)
	}
	if err := tx.Commit(); err != nil {
		return translate(err)
	}
	return nil
}

// translate maps repository sentinels and driver errors onto the stable
// error taxonomy. Coordinator errors pass through untouched.
func translate(err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, repository.ErrBookNotFound):
		return wrapError(CodeNotFound, "book not found", err)
	case errors.Is(err, repository.ErrStudentNotFound):
		return wrapError(CodeNotFound, "student not found", err)
	case errors.Is(err, repository.ErrLoanNotFound):
		return wrapError(CodeNotFound, "loan not found or already returned", err)
	case errors.Is(err, repository.ErrReservationNotFound):
		return wrapError(CodeNotFound, "reservation not found", err)
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		// 1213 deadlock, 1205 lock wait timeout: the transaction was aborted
		// by concurrent access and the caller may retry.
		if me.Number == 1213 || me.Number == 1205 {
			return wrapError(CodeConflict, "transaction aborted by concurrent access", err)
		}
	}
	return wrapError(CodeInternal, "storage failure", err)
}
