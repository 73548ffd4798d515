package model

import "time"

// Student is a borrower record from the `students` table.  Students are
// addressed either by their internal numeric ID or by the external student
// code printed on their ID card; the repository resolves both forms.
type Student struct {
	ID         uint64    // students.id
	Code       string    // students.code (external student code, unique)
	FullName   string    // students.full_name
	Email      string    // students.email
	Department string    // students.department
	CreatedAt  time.Time // students.created_at
	UpdatedAt  time.Time // students.updated_at
}
