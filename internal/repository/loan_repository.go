package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/library-circulation/internal/model"
)

// LoanRepo provides access to the `loans` table. Loans are created and
// closed only through the circulation coordinator's transactions; the
// non-Tx methods serve read paths (history listings, the overdue feed).
// All timestamps are stored in UTC.
type LoanRepo struct {
	db *sql.DB
}

// NewLoanRepo returns a LoanRepo bound to the given database.
func NewLoanRepo(db *sql.DB) *LoanRepo { return &LoanRepo{db: db} }

const loanColumns = `id, book_id, student_id, issued_by, issue_date, due_date, return_date, status, fine, last_reminder_sent_at`

func scanLoanRow(scan func(dest ...interface{}) error) (*model.Loan, error) {
	var (
		l        model.Loan
		issuedBy sql.NullInt64
		returned sql.NullTime
		reminded sql.NullTime
	)
	err := scan(&l.ID, &l.BookID, &l.StudentID, &issuedBy, &l.IssueDate, &l.DueDate, &returned, &l.Status, &l.Fine, &reminded)
	if err != nil {
		return nil, err
	}
	if issuedBy.Valid {
		v := uint64(issuedBy.Int64)
		l.IssuedBy = &v
	}
	if returned.Valid {
		t := returned.Time
		l.ReturnDate = &t
	}
	if reminded.Valid {
		t := reminded.Time
		l.LastReminderSentAt = &t
	}
	return &l, nil
}

// CreateTx inserts a new open loan within tx and populates the generated id.
func (r *LoanRepo) CreateTx(ctx context.Context, tx *sql.Tx, l *model.Loan) error {
	var issuedBy interface{}
	if l.IssuedBy != nil {
		issuedBy = *l.IssuedBy
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO loans (book_id, student_id, issued_by, issue_date, due_date, status, fine) VALUES (?, ?, ?, ?, ?, ?, 0)`,
		l.BookID, l.StudentID, issuedBy, l.IssueDate, l.DueDate, l.Status)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = uint64(id)
	return nil
}

// GetOpenForUpdateTx loads the open loan with the given id inside tx,
// locking the row. Returns ErrLoanNotFound when the loan does not exist or
// was already returned, which makes a second return of the same loan fail
// cleanly instead of charging the fine twice.
func (r *LoanRepo) GetOpenForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Loan, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = ? AND status = ? FOR UPDATE`,
		id, model.LoanIssued)
	l, err := scanLoanRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLoanNotFound
	}
	return l, err
}

// GetOpenByBookTx loads the open loan for a book inside tx, locking the row.
func (r *LoanRepo) GetOpenByBookTx(ctx context.Context, tx *sql.Tx, bookID uint64) (*model.Loan, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE book_id = ? AND status = ? FOR UPDATE`,
		bookID, model.LoanIssued)
	l, err := scanLoanRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLoanNotFound
	}
	return l, err
}

// CountOpenByStudentTx counts a student's open loans inside tx. The
// coordinator re-checks the per-student limit against this count right
// before inserting a loan.
func (r *LoanRepo) CountOpenByStudentTx(ctx context.Context, tx *sql.Tx, studentID uint64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE student_id = ? AND status = ?`,
		studentID, model.LoanIssued).Scan(&n)
	return n, err
}

// CloseTx marks a loan returned within tx, recording the return time and
// the fine computed by the coordinator. It only touches loans that are
// still open; closing an already-returned loan reports ErrLoanNotFound.
func (r *LoanRepo) CloseTx(ctx context.Context, tx *sql.Tx, id uint64, returnedAt time.Time, fine int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE loans SET status = ?, return_date = ?, fine = ? WHERE id = ? AND status = ?`,
		model.LoanReturned, returnedAt, fine, id, model.LoanIssued)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLoanNotFound
	}
	return nil
}

// ListOverdue returns all open loans whose due date has passed at the given
// instant, oldest due date first. Consumed by the reminder collaborator.
func (r *LoanRepo) ListOverdue(ctx context.Context, now time.Time) ([]model.Loan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE status = ? AND due_date < ? ORDER BY due_date ASC`,
		model.LoanIssued, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	loans := make([]model.Loan, 0)
	for rows.Next() {
		l, err := scanLoanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		loans = append(loans, *l)
	}
	return loans, rows.Err()
}

// ListByStudent returns a student's loans, newest first.
func (r *LoanRepo) ListByStudent(ctx context.Context, studentID uint64) ([]model.Loan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE student_id = ? ORDER BY issue_date DESC`,
		studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	loans := make([]model.Loan, 0)
	for rows.Next() {
		l, err := scanLoanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		loans = append(loans, *l)
	}
	return loans, rows.Err()
}

// TouchReminderSent records that an overdue reminder went out for a loan.
func (r *LoanRepo) TouchReminderSent(ctx context.Context, loanID uint64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE loans SET last_reminder_sent_at = ? WHERE id = ?`, at, loanID)
	return err
}
