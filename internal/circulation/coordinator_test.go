package circulation

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository"
)

var testNow = time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC)

func newTestCoordinator(t *testing.T) (*Coordinator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := New(db,
		repository.NewBookRepo(db),
		repository.NewLoanRepo(db),
		repository.NewReservationRepo(db),
		repository.NewStudentRepo(db),
		Settings{FinePerDay: 10, MaxActiveLoans: 4, LoanDurationDays: 14})
	c.now = func() time.Time { return testNow }
	return c, mock
}

func studentRows(id uint64, code string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "code", "full_name", "email", "department", "created_at", "updated_at"}).
		AddRow(id, code, "Asha Rao", "asha@example.edu", "Physics", testNow, testNow)
}

func bookRows(id uint64, accession string, status model.BookStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "accession_no", "title", "author", "category", "status", "created_at", "updated_at"}).
		AddRow(id, accession, "The Go Programming Language", "Donovan & Kernighan", "CS", string(status), testNow, testNow)
}

func loanRows(id, bookID, studentID uint64, due time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "book_id", "student_id", "issued_by", "issue_date", "due_date", "return_date", "status", "fine", "last_reminder_sent_at"}).
		AddRow(id, bookID, studentID, nil, due.Add(-14*24*time.Hour), due, nil, string(model.LoanIssued), 0, nil)
}

func reservationRows(id, bookID, studentID uint64, status model.ReservationStatus, reservedAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "book_id", "student_id", "status", "reserved_at", "loan_id", "updated_at"}).
		AddRow(id, bookID, studentID, string(status), reservedAt, nil, testNow)
}

func countRows(n int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(n)
}

func TestIssue_AvailableBook(t *testing.T) {
	c, mock := newTestCoordinator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM students WHERE id = \? FOR UPDATE`).WithArgs(7).
		WillReturnRows(studentRows(7, "S-1001"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM loans WHERE student_id = \?`).WithArgs(7, string(model.LoanIssued)).
		WillReturnRows(countRows(0))
	mock.ExpectQuery(`FROM books WHERE id = \? FOR UPDATE`).WithArgs(3).
		WillReturnRows(bookRows(3, "ACC-3", model.BookAvailable))
	mock.ExpectExec(`INSERT INTO loans`).
		WillReturnResult(sqlmock.NewResult(41, 1))
	mock.ExpectExec(`UPDATE books SET status = \?`).WithArgs(string(model.BookIssued), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	loan, err := c.Issue(context.Background(), IssueRequest{BookRef: "3", StudentRef: "7"})
	require.NoError(t, err)
	assert.Equal(t, uint64(41), loan.ID)
	assert.Equal(t, model.LoanIssued, loan.Status)
	assert.Equal(t, testNow, loan.IssueDate)
	assert.Equal(t, testNow.Add(14*24*time.Hour), loan.DueDate, "default due date is issue plus loan duration")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssue_LimitReached(t *testing.T) {
	c, mock := newTestCoordinator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM students WHERE id = \? FOR UPDATE`).WithArgs(7).
		WillReturnRows(studentRows(7, "S-1001"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM loans WHERE student_id = \?`).WithArgs(7, string(model.LoanIssued)).
		WillReturnRows(countRows(4))
	mock.ExpectRollback()

	_, err := c.Issue(context.Background(), IssueRequest{BookRef: "3", StudentRef: "7"})
	require.Error(t, err)
	assert.Equal(t, CodeIssueLimitReached, CodeOf(err))
	assert.True(t, IsBusiness(err))
	assert.NoError(t, mock.ExpectationsWereMet(), "no loan row may be written once the limit check fails")
}

func TestIssue_IssuedBookRefused(t *testing.T) {
	c, mock := newTestCoordinator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM students WHERE id = \? FOR UPDATE`).WithArgs(7).
		WillReturnRows(studentRows(7, "S-1001"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM loans WHERE student_id = \?`).
		WillReturnRows(countRows(0))
	mock.ExpectQuery(`FROM books WHERE id = \? FOR UPDATE`).WithArgs(3).
		WillReturnRows(bookRows(3, "ACC-3", model.BookIssued))
	mock.ExpectRollback()

	_, err := c.Issue(context.Background(), IssueRequest{BookRef: "3", StudentRef: "7"})
	require.Error(t, err)
	assert.Equal(t, CodeBookUnavailable, CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssue_ReservedForAnotherStudent(t *testing.T) {
	c, mock := newTestCoordinator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM students WHERE id = \? FOR UPDATE`).WithArgs(7).
		WillReturnRows(studentRows(7, "S-1001"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM loans WHERE student_id = \?`).
		WillReturnRows(countRows(0))
	mock.ExpectQuery(`FROM books WHERE id = \? FOR UPDATE`).WithArgs(3).
		WillReturnRows(bookRows(3, "ACC-3", model.BookReserved))
	// The pending-pickup reservation belongs to student 9, not 7.
	mock.ExpectQuery(`FROM reservations\s+WHERE book_id = \? AND status = \? AND loan_id IS NULL`).
		WillReturnRows(reservationRows(12, 3, 9, model.ReservationFulfilled, testNow.Add(-time.Hour)))
	mock.ExpectRollback()

	_, err := c.Issue(context.Background(), IssueRequest{BookRef: "3", StudentRef: "7"})
	require.Error(t, err)
	assert.Equal(t, CodeBookReservedForAnother, CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssue_ConsumesOwnFulfilledReservation(t *testing.T) {
	c, mock := newTestCoordinator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM students WHERE id = \? FOR UPDATE`).WithArgs(7).
		WillReturnRows(studentRows(7, "S-1001"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM loans WHERE student_id = \?`).
		WillReturnRows(countRows(1))
	mock.ExpectQuery(`FROM books WHERE id = \? FOR UPDATE`).WithArgs(3).
		WillReturnRows(bookRows(3, "ACC-3", model.BookReserved))
	mock.ExpectQuery(`FROM reservations\s+WHERE book_id = \? AND status = \? AND loan_id IS NULL`).
		WillReturnRows(reservationRows(12, 3, 7, model.ReservationFulfilled, testNow.Add(-time.Hour)))
	mock.ExpectExec(`INSERT INTO loans`).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectExec(`UPDATE reservations SET loan_id = \?`).WithArgs(42, 12).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE books SET status = \?`).WithArgs(string(model.BookIssued), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	loan, err := c.Issue(context.Background(), IssueRequest{BookRef: "3", StudentRef: "7"})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), loan.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturn_LateLoanChargesFineAndPromotesQueueHead(t *testing.T) {
	c, mock := newTestCoordinator(t)

	// 25 hours late at 10 per day bills two days.
	due := testNow.Add(-25 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM loans WHERE id = \? AND status = \? FOR UPDATE`).WithArgs(41, string(model.LoanIssued)).
		WillReturnRows(loanRows(41, 3, 7, due))
	mock.ExpectQuery(`FROM books WHERE id = \? FOR UPDATE`).WithArgs(3).
		WillReturnRows(bookRows(3, "ACC-3", model.BookIssued))
	mock.ExpectExec(`UPDATE loans SET status = \?`).
		WithArgs(string(model.LoanReturned), testNow, 20, 41, string(model.LoanIssued)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM reservations\s+WHERE book_id = \? AND status = \?\s+ORDER BY reserved_at ASC, id ASC`).
		WillReturnRows(reservationRows(12, 3, 9, model.ReservationActive, testNow.Add(-2*time.Hour)))
	mock.ExpectExec(`UPDATE reservations SET status = \?`).WithArgs(string(model.ReservationFulfilled), 12).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE books SET status = \?`).WithArgs(string(model.BookReserved), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := c.Return(context.Background(), "41")
	require.NoError(t, err)
	assert.Equal(t, int64(20), result.Fine)
	assert.Equal(t, model.LoanReturned, result.Loan.Status)
	require.NotNil(t, result.Promoted, "queue head must come off the queue in the same transaction")
	assert.Equal(t, uint64(12), result.Promoted.ID)
	assert.Equal(t, model.ReservationFulfilled, result.Promoted.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturn_EmptyQueuePutsBookBackOnShelf(t *testing.T) {
	c, mock := newTestCoordinator(t)

	// On time, nobody waiting: zero fine, book goes back to AVAILABLE.
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM loans WHERE id = \? AND status = \? FOR UPDATE`).WithArgs(41, string(model.LoanIssued)).
		WillReturnRows(loanRows(41, 3, 7, testNow.Add(48*time.Hour)))
	mock.ExpectQuery(`FROM books WHERE id = \? FOR UPDATE`).WithArgs(3).
		WillReturnRows(bookRows(3, "ACC-3", model.BookIssued))
	mock.ExpectExec(`UPDATE loans SET status = \?`).
		WithArgs(string(model.LoanReturned), testNow, 0, 41, string(model.LoanIssued)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM reservations\s+WHERE book_id = \? AND status = \?\s+ORDER BY reserved_at ASC, id ASC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "book_id", "student_id", "status", "reserved_at", "loan_id", "updated_at"}))
	mock.ExpectExec(`UPDATE books SET status = \?`).WithArgs(string(model.BookAvailable), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := c.Return(context.Background(), "41")
	require.NoError(t, err)
	assert.Zero(t, result.Fine)
	assert.Nil(t, result.Promoted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturn_AlreadyReturnedLoan(t *testing.T) {
	c, mock := newTestCoordinator(t)

	noLoans := sqlmock.NewRows([]string{"id", "book_id", "student_id", "issued_by", "issue_date", "due_date", "return_date", "status", "fine", "last_reminder_sent_at"})
	noBooks := sqlmock.NewRows([]string{"id", "accession_no", "title", "author", "category", "status", "created_at", "updated_at"})

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM loans WHERE id = \? AND status = \? FOR UPDATE`).WithArgs(41, string(model.LoanIssued)).
		WillReturnRows(noLoans)
	// The numeric reference then falls back to a book lookup, which also
	// finds nothing.
	mock.ExpectQuery(`FROM books WHERE id = \? FOR UPDATE`).WithArgs(41).
		WillReturnRows(noBooks)
	mock.ExpectQuery(`FROM books WHERE accession_no = \? FOR UPDATE`).WithArgs("41").
		WillReturnRows(sqlmock.NewRows([]string{"id", "accession_no", "title", "author", "category", "status", "created_at", "updated_at"}))
	mock.ExpectRollback()

	_, err := c.Return(context.Background(), "41")
	require.Error(t, err)
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Contains(t, err.Error(), "already returned")
	assert.NoError(t, mock.ExpectationsWereMet(), "a second return must not charge the fine again")
}

func TestReserve_AvailableBookIsEarmarked(t *testing.T) {
	c, mock := newTestCoordinator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM students WHERE code = \?`).WithArgs("S-1001").
		WillReturnRows(studentRows(7, "S-1001"))
	mock.ExpectQuery(`FROM books WHERE accession_no = \? FOR UPDATE`).WithArgs("ACC-3").
		WillReturnRows(bookRows(3, "ACC-3", model.BookAvailable))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM reservations\s+WHERE book_id = \? AND student_id = \?`).
		WillReturnRows(countRows(0))
	mock.ExpectExec(`INSERT INTO reservations`).WithArgs(3, 7, string(model.ReservationActive), testNow).
		WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectExec(`UPDATE books SET status = \?`).WithArgs(string(model.BookReserved), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := c.Reserve(context.Background(), "ACC-3", "S-1001")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), res.ID)
	assert.Equal(t, model.ReservationActive, res.Status)
	assert.Equal(t, testNow, res.ReservedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserve_DuplicateClaimRefused(t *testing.T) {
	c, mock := newTestCoordinator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM students WHERE code = \?`).WithArgs("S-1001").
		WillReturnRows(studentRows(7, "S-1001"))
	mock.ExpectQuery(`FROM books WHERE accession_no = \? FOR UPDATE`).WithArgs("ACC-3").
		WillReturnRows(bookRows(3, "ACC-3", model.BookIssued))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM reservations\s+WHERE book_id = \? AND student_id = \?`).
		WillReturnRows(countRows(1))
	mock.ExpectRollback()

	_, err := c.Reserve(context.Background(), "ACC-3", "S-1001")
	require.Error(t, err)
	assert.Equal(t, CodeAlreadyReserved, CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserve_BorrowerCannotReserveOwnLoan(t *testing.T) {
	c, mock := newTestCoordinator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM students WHERE code = \?`).WithArgs("S-1001").
		WillReturnRows(studentRows(7, "S-1001"))
	mock.ExpectQuery(`FROM books WHERE accession_no = \? FOR UPDATE`).WithArgs("ACC-3").
		WillReturnRows(bookRows(3, "ACC-3", model.BookIssued))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM reservations\s+WHERE book_id = \? AND student_id = \?`).
		WillReturnRows(countRows(0))
	mock.ExpectQuery(`FROM loans WHERE book_id = \? AND status = \? FOR UPDATE`).WithArgs(3, string(model.LoanIssued)).
		WillReturnRows(loanRows(41, 3, 7, testNow.Add(24*time.Hour)))
	mock.ExpectRollback()

	_, err := c.Reserve(context.Background(), "ACC-3", "S-1001")
	require.Error(t, err)
	assert.Equal(t, CodeBookUnavailable, CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelReservation_LastClaimFreesBook(t *testing.T) {
	c, mock := newTestCoordinator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM reservations WHERE id = \?`).WithArgs(12).
		WillReturnRows(reservationRows(12, 3, 7, model.ReservationActive, testNow.Add(-time.Hour)))
	mock.ExpectQuery(`FROM books WHERE id = \? FOR UPDATE`).WithArgs(3).
		WillReturnRows(bookRows(3, "ACC-3", model.BookReserved))
	mock.ExpectQuery(`FROM reservations WHERE id = \? FOR UPDATE`).WithArgs(12).
		WillReturnRows(reservationRows(12, 3, 7, model.ReservationActive, testNow.Add(-time.Hour)))
	mock.ExpectExec(`UPDATE reservations SET status = \?`).WithArgs(string(model.ReservationCancelled), 12).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM reservations\s+WHERE book_id = \? AND id <> \?`).
		WillReturnRows(countRows(0))
	mock.ExpectExec(`UPDATE books SET status = \?`).WithArgs(string(model.BookAvailable), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := c.CancelReservation(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCancelled, res.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelReservation_NotActive(t *testing.T) {
	c, mock := newTestCoordinator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM reservations WHERE id = \?`).WithArgs(12).
		WillReturnRows(reservationRows(12, 3, 7, model.ReservationCancelled, testNow.Add(-time.Hour)))
	mock.ExpectQuery(`FROM books WHERE id = \? FOR UPDATE`).WithArgs(3).
		WillReturnRows(bookRows(3, "ACC-3", model.BookAvailable))
	mock.ExpectQuery(`FROM reservations WHERE id = \? FOR UPDATE`).WithArgs(12).
		WillReturnRows(reservationRows(12, 3, 7, model.ReservationCancelled, testNow.Add(-time.Hour)))
	mock.ExpectRollback()

	_, err := c.CancelReservation(context.Background(), 12)
	require.Error(t, err)
	assert.Equal(t, CodeReservationNotActive, CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFulfillReservation_QueueOrderEnforced(t *testing.T) {
	c, mock := newTestCoordinator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM reservations WHERE id = \?`).WithArgs(13).
		WillReturnRows(reservationRows(13, 3, 9, model.ReservationActive, testNow))
	mock.ExpectQuery(`FROM books WHERE id = \? FOR UPDATE`).WithArgs(3).
		WillReturnRows(bookRows(3, "ACC-3", model.BookReserved))
	mock.ExpectQuery(`FROM reservations WHERE id = \? FOR UPDATE`).WithArgs(13).
		WillReturnRows(reservationRows(13, 3, 9, model.ReservationActive, testNow))
	mock.ExpectQuery(`FROM reservations\s+WHERE book_id = \? AND status = \? AND loan_id IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "book_id", "student_id", "status", "reserved_at", "loan_id", "updated_at"}))
	// Reservation 12 is ahead of 13 in the queue.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM reservations\s+WHERE book_id = \? AND status = \? AND id <> \?`).
		WillReturnRows(countRows(1))
	mock.ExpectRollback()

	_, err := c.FulfillReservation(context.Background(), 13)
	require.Error(t, err)
	assert.Equal(t, CodeBookAlreadyReserved, CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFulfillReservation_HeadPromoted(t *testing.T) {
	c, mock := newTestCoordinator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM reservations WHERE id = \?`).WithArgs(12).
		WillReturnRows(reservationRows(12, 3, 7, model.ReservationActive, testNow.Add(-time.Hour)))
	mock.ExpectQuery(`FROM books WHERE id = \? FOR UPDATE`).WithArgs(3).
		WillReturnRows(bookRows(3, "ACC-3", model.BookReserved))
	mock.ExpectQuery(`FROM reservations WHERE id = \? FOR UPDATE`).WithArgs(12).
		WillReturnRows(reservationRows(12, 3, 7, model.ReservationActive, testNow.Add(-time.Hour)))
	mock.ExpectQuery(`FROM reservations\s+WHERE book_id = \? AND status = \? AND loan_id IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "book_id", "student_id", "status", "reserved_at", "loan_id", "updated_at"}))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM reservations\s+WHERE book_id = \? AND status = \? AND id <> \?`).
		WillReturnRows(countRows(0))
	mock.ExpectExec(`UPDATE reservations SET status = \?`).WithArgs(string(model.ReservationFulfilled), 12).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := c.FulfillReservation(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationFulfilled, res.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssue_LocksStudentRowBeforeLimitCheck(t *testing.T) {
	c, mock := newTestCoordinator(t)

	// The open-loan count is only meaningful under a student row lock:
	// without it, two same-student issues of different books both read a
	// snapshot count under the limit and commit past it. The expectation
	// below fails if the issue path drops to a non-locking student read.
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM students WHERE code = \? FOR UPDATE`).WithArgs("S-1001").
		WillReturnRows(studentRows(7, "S-1001"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM loans WHERE student_id = \?`).WithArgs(7, string(model.LoanIssued)).
		WillReturnRows(countRows(3))
	mock.ExpectQuery(`FROM books WHERE id = \? FOR UPDATE`).WithArgs(3).
		WillReturnRows(bookRows(3, "ACC-3", model.BookAvailable))
	mock.ExpectExec(`INSERT INTO loans`).
		WillReturnResult(sqlmock.NewResult(43, 1))
	mock.ExpectExec(`UPDATE books SET status = \?`).WithArgs(string(model.BookIssued), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	loan, err := c.Issue(context.Background(), IssueRequest{BookRef: "3", StudentRef: "S-1001"})
	require.NoError(t, err)
	assert.Equal(t, uint64(43), loan.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssue_ActiveHeadBlocksOtherStudent(t *testing.T) {
	c, mock := newTestCoordinator(t)

	// Reserved book, no pending pickup, queue head belongs to student 9:
	// student 7 is turned away even though nothing is FULFILLED yet.
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM students WHERE id = \? FOR UPDATE`).WithArgs(7).
		WillReturnRows(studentRows(7, "S-1001"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM loans WHERE student_id = \?`).
		WillReturnRows(countRows(0))
	mock.ExpectQuery(`FROM books WHERE id = \? FOR UPDATE`).WithArgs(3).
		WillReturnRows(bookRows(3, "ACC-3", model.BookReserved))
	mock.ExpectQuery(`FROM reservations\s+WHERE book_id = \? AND status = \? AND loan_id IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "book_id", "student_id", "status", "reserved_at", "loan_id", "updated_at"}))
	mock.ExpectQuery(`FROM reservations\s+WHERE book_id = \? AND status = \?\s+ORDER BY reserved_at ASC, id ASC`).
		WillReturnRows(reservationRows(12, 3, 9, model.ReservationActive, testNow.Add(-time.Hour)))
	mock.ExpectRollback()

	_, err := c.Issue(context.Background(), IssueRequest{BookRef: "3", StudentRef: "7"})
	require.Error(t, err)
	assert.Equal(t, CodeBookReservedForAnother, CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet(), "no loan may be created for a student the queue does not entitle")
}

func TestIssue_ActiveHeadOwnerConsumesReservation(t *testing.T) {
	c, mock := newTestCoordinator(t)

	// The head of the ACTIVE queue walks up to the desk directly: the
	// reservation is fulfilled and consumed in the same transaction as the
	// loan, never left dangling as a second claim on the copy.
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM students WHERE id = \? FOR UPDATE`).WithArgs(7).
		WillReturnRows(studentRows(7, "S-1001"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM loans WHERE student_id = \?`).
		WillReturnRows(countRows(0))
	mock.ExpectQuery(`FROM books WHERE id = \? FOR UPDATE`).WithArgs(3).
		WillReturnRows(bookRows(3, "ACC-3", model.BookReserved))
	mock.ExpectQuery(`FROM reservations\s+WHERE book_id = \? AND status = \? AND loan_id IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "book_id", "student_id", "status", "reserved_at", "loan_id", "updated_at"}))
	mock.ExpectQuery(`FROM reservations\s+WHERE book_id = \? AND status = \?\s+ORDER BY reserved_at ASC, id ASC`).
		WillReturnRows(reservationRows(12, 3, 7, model.ReservationActive, testNow.Add(-time.Hour)))
	mock.ExpectExec(`INSERT INTO loans`).
		WillReturnResult(sqlmock.NewResult(44, 1))
	mock.ExpectExec(`UPDATE reservations SET status = \?`).WithArgs(string(model.ReservationFulfilled), 12).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE reservations SET loan_id = \?`).WithArgs(44, 12).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE books SET status = \?`).WithArgs(string(model.BookIssued), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	loan, err := c.Issue(context.Background(), IssueRequest{BookRef: "3", StudentRef: "7"})
	require.NoError(t, err)
	assert.Equal(t, uint64(44), loan.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssue_Validation(t *testing.T) {
	c, _ := newTestCoordinator(t)

	_, err := c.Issue(context.Background(), IssueRequest{BookRef: "", StudentRef: "7"})
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, err = c.Issue(context.Background(), IssueRequest{BookRef: "3", StudentRef: "  "})
	assert.Equal(t, CodeValidation, CodeOf(err))
}
