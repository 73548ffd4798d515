package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/iliyamo/library-circulation/internal/model"
)

// StudentRepo provides access to the `students` table.
type StudentRepo struct {
	db *sql.DB
}

// NewStudentRepo returns a StudentRepo bound to the given database.
func NewStudentRepo(db *sql.DB) *StudentRepo { return &StudentRepo{db: db} }

const studentColumns = `id, code, full_name, email, department, created_at, updated_at`

func scanStudent(row *sql.Row) (*model.Student, error) {
	var s model.Student
	err := row.Scan(&s.ID, &s.Code, &s.FullName, &s.Email, &s.Department, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByID loads a student by primary key.
func (r *StudentRepo) GetByID(ctx context.Context, id uint64) (*model.Student, error) {
	return scanStudent(r.db.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE id = ?`, id))
}

// GetByCode loads a student by external student code.
func (r *StudentRepo) GetByCode(ctx context.Context, code string) (*model.Student, error) {
	return scanStudent(r.db.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE code = ?`, code))
}

// ResolveTx resolves a student reference inside tx. The reference is either
// the internal numeric id or the external student code; a purely numeric
// reference is tried as an id first and falls back to a code lookup, so
// numeric student codes still resolve. Returns ErrStudentNotFound when
// neither form matches.
func (r *StudentRepo) ResolveTx(ctx context.Context, tx *sql.Tx, ref string) (*model.Student, error) {
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		s, err := scanStudent(tx.QueryRowContext(ctx,
			`SELECT `+studentColumns+` FROM students WHERE id = ?`, id))
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrStudentNotFound) {
			return nil, err
		}
	}
	return scanStudent(tx.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE code = ?`, ref))
}

// ResolveForUpdateTx is ResolveTx with a row lock on the student. The issue
// path takes it before counting the student's open loans: the book row lock
// only serializes same-book requests, so without the student lock two
// concurrent issues of different books could both read the count under the
// limit and commit past it.
func (r *StudentRepo) ResolveForUpdateTx(ctx context.Context, tx *sql.Tx, ref string) (*model.Student, error) {
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		s, err := scanStudent(tx.QueryRowContext(ctx,
			`SELECT `+studentColumns+` FROM students WHERE id = ? FOR UPDATE`, id))
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrStudentNotFound) {
			return nil, err
		}
	}
	return scanStudent(tx.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE code = ? FOR UPDATE`, ref))
}

// Create inserts a student record and populates the generated id.
func (r *StudentRepo) Create(ctx context.Context, s *model.Student) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO students (code, full_name, email, department) VALUES (?, ?, ?, ?)`,
		s.Code, s.FullName, s.Email, s.Department)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}
