package models

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// DefaultLoanPeriodDays is used when no loan period is configured
const DefaultLoanPeriodDays = 14

// Book represents a catalog title and its copy counters
type Book struct {
	ID              uuid.UUID `json:"id"`
	ISBN            string    `json:"isbn"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// OnLoan returns the number of copies currently lent out
func (b Book) OnLoan() int {
	return b.TotalCopies - b.AvailableCopies
}

// Reader represents a registered library reader
type Reader struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email,omitempty"`
	Phone    string    `json:"phone,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
	Active   bool      `json:"active"`
}

// LoanStatus is derived from the return date of a BorrowRecord
type LoanStatus string

const (
	LoanActive   LoanStatus = "active"
	LoanReturned LoanStatus = "returned"
)

// BorrowRecord represents a single loan of one book copy to one reader
type BorrowRecord struct {
	ID         uuid.UUID  `json:"id"`
	ReaderID   uuid.UUID  `json:"reader_id"`
	BookID     uuid.UUID  `json:"book_id"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueAt      time.Time  `json:"due_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
}

// Status reports whether the loan is still open
func (r BorrowRecord) Status() LoanStatus {
	if r.ReturnedAt == nil {
		return LoanActive
	}
	return LoanReturned
}

// IsActive reports whether the loan has not been returned yet
func (r BorrowRecord) IsActive() bool {
	return r.ReturnedAt == nil
}

// IsOverdue reports whether the loan is active and its due date is strictly before asOf
func (r BorrowRecord) IsOverdue(asOf time.Time) bool {
	return r.IsActive() && r.DueAt.Before(asOf)
}

// LoanFilter selects borrow records in a store scan.
// Zero-valued fields do not restrict the result.
type LoanFilter struct {
	ReaderID   *uuid.UUID
	BookID     *uuid.UUID
	ActiveOnly bool
	DueBefore  time.Time
}

// Matches reports whether the record satisfies every set field of the filter
func (f LoanFilter) Matches(r BorrowRecord) bool {
	if f.ReaderID != nil && r.ReaderID != *f.ReaderID {
		return false
	}
	if f.BookID != nil && r.BookID != *f.BookID {
		return false
	}
	if f.ActiveOnly && !r.IsActive() {
		return false
	}
	if !f.DueBefore.IsZero() && !r.DueAt.Before(f.DueBefore) {
		return false
	}
	return true
}

// BookStat represents how many times a book was borrowed
type BookStat struct {
	BookID    uuid.UUID `json:"book_id"`
	LoanCount int       `json:"loan_count"`
}

// ReaderStat represents how many loans a reader has started
type ReaderStat struct {
	ReaderID  uuid.UUID `json:"reader_id"`
	LoanCount int       `json:"loan_count"`
}

// LessID orders identifiers by their byte representation, which matches
// the ordering of their canonical string form
func LessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
