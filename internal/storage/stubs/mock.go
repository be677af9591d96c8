package stubs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"circulation/internal/models"
	"circulation/internal/storage"
)

// MockDB is an in-memory implementation of the Storage interface for testing
// and for running the service without a database
type MockDB struct {
	mu      sync.RWMutex
	books   map[uuid.UUID]models.Book
	readers map[uuid.UUID]models.Reader
	loans   map[uuid.UUID]models.BorrowRecord

	// failures maps an operation name (e.g. "SaveBook") to the error it should return
	failures map[string]error
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		books:    make(map[uuid.UUID]models.Book),
		readers:  make(map[uuid.UUID]models.Reader),
		loans:    make(map[uuid.UUID]models.BorrowRecord),
		failures: make(map[string]error),
	}
}

// Initialize seeds a small demo catalog and two readers when the store is empty
func (m *MockDB) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.books) > 0 || len(m.readers) > 0 {
		return nil
	}

	now := time.Now().UTC()
	demoBooks := []struct {
		isbn, title, author string
		copies              int
	}{
		{"9780134190440", "The Go Programming Language", "Alan Donovan, Brian Kernighan", 3},
		{"9781491941294", "Concurrency in Go", "Katherine Cox-Buday", 2},
		{"9780262033848", "Introduction to Algorithms", "Thomas Cormen", 1},
	}
	for _, b := range demoBooks {
		book := models.Book{
			ID:              uuid.New(),
			ISBN:            b.isbn,
			Title:           b.title,
			Author:          b.author,
			TotalCopies:     b.copies,
			AvailableCopies: b.copies,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		m.books[book.ID] = book
	}

	for _, name := range []string{"Alice", "Bob"} {
		reader := models.Reader{
			ID:       uuid.New(),
			Name:     name,
			JoinedAt: now,
			Active:   true,
		}
		m.readers[reader.ID] = reader
	}

	return nil
}

// FailOn makes every subsequent call of the named operation return err.
// Passing a nil error clears the failure.
func (m *MockDB) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// failure must be called with m.mu held
func (m *MockDB) failure(op string) error {
	return m.failures[op]
}

// LoadBook returns the book with the given ID
func (m *MockDB) LoadBook(ctx context.Context, id uuid.UUID) (models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("LoadBook"); err != nil {
		return models.Book{}, err
	}
	book, ok := m.books[id]
	if !ok {
		return models.Book{}, storage.ErrNotFound
	}
	return book, nil
}

// FindBookByISBN returns the book with the given ISBN
func (m *MockDB) FindBookByISBN(ctx context.Context, isbn string) (models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("FindBookByISBN"); err != nil {
		return models.Book{}, err
	}
	for _, book := range m.books {
		if book.ISBN == isbn {
			return book, nil
		}
	}
	return models.Book{}, storage.ErrNotFound
}

// SaveBook inserts or replaces a book
func (m *MockDB) SaveBook(ctx context.Context, book models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("SaveBook"); err != nil {
		return err
	}
	m.books[book.ID] = book
	return nil
}

// DeleteBook removes a book
func (m *MockDB) DeleteBook(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("DeleteBook"); err != nil {
		return err
	}
	if _, ok := m.books[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.books, id)
	return nil
}

// ListBooks returns all books sorted by title
func (m *MockDB) ListBooks(ctx context.Context) ([]models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("ListBooks"); err != nil {
		return nil, err
	}

	books := make([]models.Book, 0, len(m.books))
	for _, book := range m.books {
		books = append(books, book)
	}

	// Sort by title, then by ID
	sort.Slice(books, func(i, j int) bool {
		if books[i].Title != books[j].Title {
			return books[i].Title < books[j].Title
		}
		return models.LessID(books[i].ID, books[j].ID)
	})

	return books, nil
}

// LoadReader returns the reader with the given ID
func (m *MockDB) LoadReader(ctx context.Context, id uuid.UUID) (models.Reader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("LoadReader"); err != nil {
		return models.Reader{}, err
	}
	reader, ok := m.readers[id]
	if !ok {
		return models.Reader{}, storage.ErrNotFound
	}
	return reader, nil
}

// ReaderExists reports whether a reader with the given ID is stored
func (m *MockDB) ReaderExists(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("ReaderExists"); err != nil {
		return false, err
	}
	_, ok := m.readers[id]
	return ok, nil
}

// SaveReader inserts or replaces a reader
func (m *MockDB) SaveReader(ctx context.Context, reader models.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("SaveReader"); err != nil {
		return err
	}
	m.readers[reader.ID] = reader
	return nil
}

// DeleteReader removes a reader
func (m *MockDB) DeleteReader(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("DeleteReader"); err != nil {
		return err
	}
	if _, ok := m.readers[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.readers, id)
	return nil
}

// ListReaders returns all readers sorted by name
func (m *MockDB) ListReaders(ctx context.Context) ([]models.Reader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("ListReaders"); err != nil {
		return nil, err
	}

	readers := make([]models.Reader, 0, len(m.readers))
	for _, r := range m.readers {
		readers = append(readers, r)
	}

	// Sort by name, then by ID
	sort.Slice(readers, func(i, j int) bool {
		if readers[i].Name != readers[j].Name {
			return readers[i].Name < readers[j].Name
		}
		return models.LessID(readers[i].ID, readers[j].ID)
	})

	return readers, nil
}

// AppendLoan stores a new borrow record
func (m *MockDB) AppendLoan(ctx context.Context, record models.BorrowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("AppendLoan"); err != nil {
		return err
	}
	m.loans[record.ID] = cloneLoan(record)
	return nil
}

// UpdateLoan replaces an existing borrow record
func (m *MockDB) UpdateLoan(ctx context.Context, record models.BorrowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("UpdateLoan"); err != nil {
		return err
	}
	if _, ok := m.loans[record.ID]; !ok {
		return storage.ErrNotFound
	}
	m.loans[record.ID] = cloneLoan(record)
	return nil
}

// LoadLoan returns the borrow record with the given ID
func (m *MockDB) LoadLoan(ctx context.Context, id uuid.UUID) (models.BorrowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("LoadLoan"); err != nil {
		return models.BorrowRecord{}, err
	}
	record, ok := m.loans[id]
	if !ok {
		return models.BorrowRecord{}, storage.ErrNotFound
	}
	return cloneLoan(record), nil
}

// ScanLoans returns a snapshot of every record matching the filter
func (m *MockDB) ScanLoans(ctx context.Context, filter models.LoanFilter) ([]models.BorrowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("ScanLoans"); err != nil {
		return nil, err
	}

	var records []models.BorrowRecord
	for _, record := range m.loans {
		if filter.Matches(record) {
			records = append(records, cloneLoan(record))
		}
	}
	return records, nil
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}

// cloneLoan copies the return date so callers cannot mutate stored state
func cloneLoan(r models.BorrowRecord) models.BorrowRecord {
	if r.ReturnedAt != nil {
		t := *r.ReturnedAt
		r.ReturnedAt = &t
	}
	return r
}
