package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/library-circulation/internal/model"
)

// BookRepo provides access to the `books` table. Plain reads go through the
// pool; every method suffixed Tx runs inside a caller-supplied transaction
// and is meant to be used only by the circulation coordinator, which owns
// all writes to a book's status.
type BookRepo struct {
	db *sql.DB
}

// NewBookRepo returns a BookRepo bound to the given database.
func NewBookRepo(db *sql.DB) *BookRepo { return &BookRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions.
func (r *BookRepo) DB() *sql.DB { return r.db }

const bookColumns = `id, accession_no, title, author, category, status, created_at, updated_at`

func scanBook(row *sql.Row) (*model.Book, error) {
	var b model.Book
	err := row.Scan(&b.ID, &b.Accession, &b.Title, &b.Author, &b.Category, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetByID loads a book by primary key.
func (r *BookRepo) GetByID(ctx context.Context, id uint64) (*model.Book, error) {
	return scanBook(r.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = ?`, id))
}

// GetByAccession loads a book by its accession number.
func (r *BookRepo) GetByAccession(ctx context.Context, accession string) (*model.Book, error) {
	return scanBook(r.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE accession_no = ?`, accession))
}

// GetForUpdateTx loads a book by id inside tx and takes a row lock on it.
// The lock serializes all circulation operations touching the same copy for
// the lifetime of the transaction.
func (r *BookRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Book, error) {
	return scanBook(tx.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = ? FOR UPDATE`, id))
}

// GetByAccessionForUpdateTx is GetForUpdateTx keyed by accession number.
func (r *BookRepo) GetByAccessionForUpdateTx(ctx context.Context, tx *sql.Tx, accession string) (*model.Book, error) {
	return scanBook(tx.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE accession_no = ? FOR UPDATE`, accession))
}

// SetStatusTx updates a book's circulation status within tx. Must only be
// called by the coordinator while it holds the row lock.
func (r *BookRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.BookStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE books SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBookNotFound
	}
	return nil
}

// Create inserts a new copy during inventory load. New copies start
// AVAILABLE. The generated id is populated on the passed book.
func (r *BookRepo) Create(ctx context.Context, b *model.Book) error {
	if b.Status == "" {
		b.Status = model.BookAvailable
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO books (accession_no, title, author, category, status) VALUES (?, ?, ?, ?, ?)`,
		b.Accession, b.Title, b.Author, b.Category, b.Status)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

// Search returns books whose title, author or accession number matches the
// query, newest first. An empty query lists everything up to limit.
func (r *BookRepo) Search(ctx context.Context, query string, limit int) ([]model.Book, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := `SELECT ` + bookColumns + ` FROM books`
	args := []interface{}{}
	if query != "" {
		q += ` WHERE title LIKE ? OR author LIKE ? OR accession_no = ?`
		like := "%" + query + "%"
		args = append(args, like, like, query)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	books := make([]model.Book, 0)
	for rows.Next() {
		var b model.Book
		if err := rows.Scan(&b.ID, &b.Accession, &b.Title, &b.Author, &b.Category, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}
