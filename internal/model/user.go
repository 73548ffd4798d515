package model

import "time"

// Staff roles stored in users.role.  LIBRARIAN accounts operate the
// circulation desk; STUDENT accounts can reserve books and browse their own
// loans.  Role names match the values embedded in JWT claims.
const (
	RoleLibrarian = "LIBRARIAN"
	RoleStudent   = "STUDENT"
)

// User represents a login account in the `users` table.  Student accounts
// link to a borrower record through StudentID; librarian accounts leave it
// null.
//
// Fields:
//  ID           – primary key identifier.
//  Email        – unique email address.
//  PasswordHash – bcrypt hashed password.
//  Role         – LIBRARIAN or STUDENT.
//  StudentID    – borrower record for student accounts (nullable).
//  IsActive     – whether the account may log in.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	StudentID    *uint64   // users.student_id (nullable)
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  Only the
// SHA-256 hash of the raw token is stored.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
