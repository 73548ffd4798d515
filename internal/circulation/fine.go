package circulation

import "time"

// loanDay is the unit lateness is billed in.
const loanDay = 24 * time.Hour

// Fine computes the late fee for a loan returned at returnedAt. Partial
// days always round up: 25 hours late is two billable days. A return at the
// due instant itself is free (strict after, not at-or-after).
func Fine(dueDate, returnedAt time.Time, finePerDay int64) int64 {
	if !returnedAt.After(dueDate) {
		return 0
	}
	late := returnedAt.Sub(dueDate)
	days := int64(late / loanDay)
	if late%loanDay != 0 {
		days++
	}
	return days * finePerDay
}

// DueDate returns the default due date for a loan issued at issuedAt.
func DueDate(issuedAt time.Time, loanDurationDays int) time.Time {
	return issuedAt.Add(time.Duration(loanDurationDays) * loanDay)
}
