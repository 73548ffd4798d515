package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/library-circulation/internal/model"
)

// ReservationRepo provides access to the `reservations` table. The per-book
// queue is ordered by reserved_at ascending with id ascending as the
// tie-break, so two requests landing in the same clock tick resolve in
// insertion order. Status transitions happen only inside coordinator
// transactions. All timestamps are stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, book_id, student_id, status, reserved_at, loan_id, updated_at`

func scanReservationRow(scan func(dest ...interface{}) error) (*model.Reservation, error) {
	var (
		res    model.Reservation
		loanID sql.NullInt64
	)
	err := scan(&res.ID, &res.BookID, &res.StudentID, &res.Status, &res.ReservedAt, &loanID, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if loanID.Valid {
		v := uint64(loanID.Int64)
		res.LoanID = &v
	}
	return &res, nil
}

// CreateTx inserts a new reservation within tx and populates the generated
// id. Status and ReservedAt must be set by the caller.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO reservations (book_id, student_id, status, reserved_at) VALUES (?, ?, ?, ?)`,
		res.BookID, res.StudentID, res.Status, res.ReservedAt)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	return nil
}

// GetByID loads a reservation by id through the pool, for read paths
// outside coordinator transactions.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	res, err := scanReservationRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	return res, err
}

// GetTx loads a reservation by id inside tx without locking it. The
// coordinator uses this to learn the book id before taking the book row
// lock, then re-reads the reservation under GetForUpdateTx.
func (r *ReservationRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Reservation, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	res, err := scanReservationRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	return res, err
}

// GetForUpdateTx loads a reservation by id inside tx and locks the row.
func (r *ReservationRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Reservation, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ? FOR UPDATE`, id)
	res, err := scanReservationRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	return res, err
}

// OpenByBookAndStudentTx reports whether the student already has an unresolved
// claim on the book: an ACTIVE reservation or a FULFILLED one still pending
// pickup.
func (r *ReservationRepo) OpenByBookAndStudentTx(ctx context.Context, tx *sql.Tx, bookID, studentID uint64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations
		 WHERE book_id = ? AND student_id = ?
		   AND (status = ? OR (status = ? AND loan_id IS NULL))`,
		bookID, studentID, model.ReservationActive, model.ReservationFulfilled).Scan(&n)
	return n > 0, err
}

// OldestActiveTx returns the head of the book's queue (earliest ACTIVE
// reservation), locking its row, or nil when the queue is empty.
func (r *ReservationRepo) OldestActiveTx(ctx context.Context, tx *sql.Tx, bookID uint64) (*model.Reservation, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE book_id = ? AND status = ?
		 ORDER BY reserved_at ASC, id ASC LIMIT 1 FOR UPDATE`,
		bookID, model.ReservationActive)
	res, err := scanReservationRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return res, err
}

// PendingFulfilledTx returns the book's FULFILLED-but-unclaimed reservation,
// locking its row, or nil when none exists. At most one such reservation may
// exist per book at any time.
func (r *ReservationRepo) PendingFulfilledTx(ctx context.Context, tx *sql.Tx, bookID uint64) (*model.Reservation, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE book_id = ? AND status = ? AND loan_id IS NULL
		 LIMIT 1 FOR UPDATE`,
		bookID, model.ReservationFulfilled)
	res, err := scanReservationRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return res, err
}

// HasEarlierActiveTx reports whether another ACTIVE reservation on the same
// book precedes the given one in queue order.
func (r *ReservationRepo) HasEarlierActiveTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations
		 WHERE book_id = ? AND status = ? AND id <> ?
		   AND (reserved_at < ? OR (reserved_at = ? AND id < ?))`,
		res.BookID, model.ReservationActive, res.ID,
		res.ReservedAt, res.ReservedAt, res.ID).Scan(&n)
	return n > 0, err
}

// CountOpenTx counts the book's unresolved reservations (ACTIVE plus
// FULFILLED pending pickup), excluding the given reservation id. Used after
// a cancel to decide whether the book goes back on the shelf.
func (r *ReservationRepo) CountOpenTx(ctx context.Context, tx *sql.Tx, bookID, excludeID uint64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations
		 WHERE book_id = ? AND id <> ?
		   AND (status = ? OR (status = ? AND loan_id IS NULL))`,
		bookID, excludeID, model.ReservationActive, model.ReservationFulfilled).Scan(&n)
	return n, err
}

// SetStatusTx updates a reservation's status within tx.
func (r *ReservationRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.ReservationStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrReservationNotFound
	}
	return nil
}

// AttachLoanTx consumes a FULFILLED reservation by linking it to the loan
// created when its student picked the book up. A consumed reservation no
// longer earmarks the book.
func (r *ReservationRepo) AttachLoanTx(ctx context.Context, tx *sql.Tx, id, loanID uint64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE reservations SET loan_id = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`, loanID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrReservationNotFound
	}
	return nil
}

// ListByStudent returns a student's reservations, newest first.
func (r *ReservationRepo) ListByStudent(ctx context.Context, studentID uint64) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE student_id = ? ORDER BY reserved_at DESC`,
		studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservationRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

// ListQueueByBook returns the book's unresolved reservations in queue order,
// the pending FULFILLED one first when present.
func (r *ReservationRepo) ListQueueByBook(ctx context.Context, bookID uint64) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE book_id = ?
		   AND (status = ? OR (status = ? AND loan_id IS NULL))
		 ORDER BY status = ? DESC, reserved_at ASC, id ASC`,
		bookID, model.ReservationActive, model.ReservationFulfilled, model.ReservationFulfilled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservationRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}
