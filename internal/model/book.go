package model

import "time"

// BookStatus is the single authoritative circulation state of a book copy.
// The original schema carried a separate `available` boolean next to the
// status column; it was always derivable from the status, so it is exposed
// here only through the Available() accessor.
type BookStatus string

const (
	BookAvailable BookStatus = "AVAILABLE" // on the shelf, may be issued or reserved
	BookIssued    BookStatus = "ISSUED"    // out on an open loan
	BookReserved  BookStatus = "RESERVED"  // earmarked by the reservation queue
)

// Valid reports whether s is one of the known circulation states.
func (s BookStatus) Valid() bool {
	switch s {
	case BookAvailable, BookIssued, BookReserved:
		return true
	}
	return false
}

// Book represents a single physical copy in the `books` table.  Each copy
// carries a unique human-facing accession number used by librarians at the
// desk; numeric IDs are internal.
//
// Fields:
//  ID        – primary key identifier.
//  Accession – unique accession number printed on the copy.
//  Title     – book title.
//  Author    – book author.
//  Category  – shelving category (free text).
//  Status    – circulation state, see BookStatus.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Book struct {
	ID        uint64     // books.id
	Accession string     // books.accession_no
	Title     string     // books.title
	Author    string     // books.author
	Category  string     // books.category
	Status    BookStatus // books.status
	CreatedAt time.Time  // books.created_at
	UpdatedAt time.Time  // books.updated_at
}

// Available reports whether the copy can be picked off the shelf right now.
// It is derived from Status and never stored separately.
func (b *Book) Available() bool { return b.Status == BookAvailable }
