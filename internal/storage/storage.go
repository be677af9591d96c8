package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"circulation/internal/models"
)

// ErrNotFound is returned by every store when the requested row does not exist.
// Any other error is a storage failure.
var ErrNotFound = errors.New("storage: not found")

// BookStore persists catalog records
type BookStore interface {
	LoadBook(ctx context.Context, id uuid.UUID) (models.Book, error)
	FindBookByISBN(ctx context.Context, isbn string) (models.Book, error)
	// SaveBook inserts the book or replaces the stored row with the same ID
	SaveBook(ctx context.Context, book models.Book) error
	DeleteBook(ctx context.Context, id uuid.UUID) error
	ListBooks(ctx context.Context) ([]models.Book, error)
}

// ReaderStore persists reader records
type ReaderStore interface {
	LoadReader(ctx context.Context, id uuid.UUID) (models.Reader, error)
	ReaderExists(ctx context.Context, id uuid.UUID) (bool, error)
	SaveReader(ctx context.Context, reader models.Reader) error
	DeleteReader(ctx context.Context, id uuid.UUID) error
	ListReaders(ctx context.Context) ([]models.Reader, error)
}

// LoanStore persists borrow records. Records are appended once and updated
// only to set the return date.
type LoanStore interface {
	AppendLoan(ctx context.Context, record models.BorrowRecord) error
	UpdateLoan(ctx context.Context, record models.BorrowRecord) error
	LoadLoan(ctx context.Context, id uuid.UUID) (models.BorrowRecord, error)
	// ScanLoans returns every record matching the filter, in no particular order
	ScanLoans(ctx context.Context, filter models.LoanFilter) ([]models.BorrowRecord, error)
}

// Storage defines the interface for data storage operations
type Storage interface {
	BookStore
	ReaderStore
	LoanStore

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
