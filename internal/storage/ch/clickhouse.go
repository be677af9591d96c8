package ch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"

	"circulation/internal/models"
	"circulation/internal/storage"
)

// Rows are never mutated in place: every save inserts a new row version and
// ReplacingMergeTree keeps the highest one. Reads use FINAL so the latest
// version wins even before background merges run.
const (
	bookColumns   = "id, isbn, title, author, total_copies, available_copies, created_at, updated_at"
	readerColumns = "id, name, email, phone, joined_at, active"
	loanColumns   = "id, reader_id, book_id, borrowed_at, due_at, returned_at"
)

var lastVersion atomic.Uint64

// nextVersion returns a strictly increasing row version, even when the wall
// clock stalls or steps back
func nextVersion() uint64 {
	for {
		prev := lastVersion.Load()
		next := uint64(time.Now().UnixNano())
		if next <= prev {
			next = prev + 1
		}
		if lastVersion.CompareAndSwap(prev, next) {
			return next
		}
	}
}

type ClickHouseDB struct {
	conn clickhouse.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(host string, port int, database, user, password string, useTLS bool) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(Options(host, port, database, user, password, useTLS))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Options builds native protocol connection options. cmd/migrate reuses them
// with clickhouse.OpenDB to hand goose a database/sql handle.
func Options(host string, port int, database, user, password string, useTLS bool) *clickhouse.Options {
	options := &clickhouse.Options{
		Addr:     []string{fmt.Sprintf("%s:%d", host, port)},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	}

	// Configure TLS if enabled
	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}
	return options
}

// Initialize is a no-op - tables are managed via migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	return nil
}

// LoadBook returns the current version of a book
func (db *ClickHouseDB) LoadBook(ctx context.Context, id uuid.UUID) (models.Book, error) {
	books, err := db.queryBooks(ctx, `WHERE id = toUUID(?) AND is_deleted = 0`, id.String())
	if err != nil {
		return models.Book{}, fmt.Errorf("failed to load book: %w", err)
	}
	if len(books) == 0 {
		return models.Book{}, storage.ErrNotFound
	}
	return books[0], nil
}

// FindBookByISBN returns the book with the given ISBN
func (db *ClickHouseDB) FindBookByISBN(ctx context.Context, isbn string) (models.Book, error) {
	books, err := db.queryBooks(ctx, `WHERE isbn = ? AND is_deleted = 0 ORDER BY id LIMIT 1`, isbn)
	if err != nil {
		return models.Book{}, fmt.Errorf("failed to find book by isbn: %w", err)
	}
	if len(books) == 0 {
		return models.Book{}, storage.ErrNotFound
	}
	return books[0], nil
}

// SaveBook inserts a new version of the book row
func (db *ClickHouseDB) SaveBook(ctx context.Context, book models.Book) error {
	if err := db.insertBook(ctx, book, 0); err != nil {
		return fmt.Errorf("failed to save book: %w", err)
	}
	return nil
}

// DeleteBook writes a tombstone version of the book row
func (db *ClickHouseDB) DeleteBook(ctx context.Context, id uuid.UUID) error {
	book, err := db.LoadBook(ctx, id)
	if err != nil {
		return err
	}
	if err := db.insertBook(ctx, book, 1); err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	return nil
}

// ListBooks returns all books ordered by title
func (db *ClickHouseDB) ListBooks(ctx context.Context) ([]models.Book, error) {
	books, err := db.queryBooks(ctx, `WHERE is_deleted = 0 ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

func (db *ClickHouseDB) insertBook(ctx context.Context, book models.Book, deleted uint8) error {
	batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO books ("+bookColumns+", version, is_deleted)")
	if err != nil {
		return err
	}
	if err := batch.Append(
		book.ID, book.ISBN, book.Title, book.Author,
		int32(book.TotalCopies), int32(book.AvailableCopies),
		book.CreatedAt, book.UpdatedAt,
		nextVersion(), deleted,
	); err != nil {
		_ = batch.Abort()
		return err
	}
	return batch.Send()
}

func (db *ClickHouseDB) queryBooks(ctx context.Context, where string, args ...any) ([]models.Book, error) {
	rows, err := db.conn.Query(ctx, "SELECT "+bookColumns+" FROM books FINAL "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []models.Book
	for rows.Next() {
		var (
			book             models.Book
			total, available int32
		)
		if err := rows.Scan(&book.ID, &book.ISBN, &book.Title, &book.Author,
			&total, &available, &book.CreatedAt, &book.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		book.TotalCopies = int(total)
		book.AvailableCopies = int(available)
		book.CreatedAt = book.CreatedAt.UTC()
		book.UpdatedAt = book.UpdatedAt.UTC()
		books = append(books, book)
	}
	return books, rows.Err()
}

// LoadReader returns the current version of a reader
func (db *ClickHouseDB) LoadReader(ctx context.Context, id uuid.UUID) (models.Reader, error) {
	readers, err := db.queryReaders(ctx, `WHERE id = toUUID(?) AND is_deleted = 0`, id.String())
	if err != nil {
		return models.Reader{}, fmt.Errorf("failed to load reader: %w", err)
	}
	if len(readers) == 0 {
		return models.Reader{}, storage.ErrNotFound
	}
	return readers[0], nil
}

// ReaderExists reports whether a reader row is present
func (db *ClickHouseDB) ReaderExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := db.LoadReader(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SaveReader inserts a new version of the reader row
func (db *ClickHouseDB) SaveReader(ctx context.Context, reader models.Reader) error {
	if err := db.insertReader(ctx, reader, 0); err != nil {
		return fmt.Errorf("failed to save reader: %w", err)
	}
	return nil
}

// DeleteReader writes a tombstone version of the reader row
func (db *ClickHouseDB) DeleteReader(ctx context.Context, id uuid.UUID) error {
	reader, err := db.LoadReader(ctx, id)
	if err != nil {
		return err
	}
	if err := db.insertReader(ctx, reader, 1); err != nil {
		return fmt.Errorf("failed to delete reader: %w", err)
	}
	return nil
}

// ListReaders returns all readers ordered by name
func (db *ClickHouseDB) ListReaders(ctx context.Context) ([]models.Reader, error) {
	readers, err := db.queryReaders(ctx, `WHERE is_deleted = 0 ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list readers: %w", err)
	}
	return readers, nil
}

func (db *ClickHouseDB) insertReader(ctx context.Context, reader models.Reader, deleted uint8) error {
	batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO readers ("+readerColumns+", version, is_deleted)")
	if err != nil {
		return err
	}
	if err := batch.Append(
		reader.ID, reader.Name, reader.Email, reader.Phone, reader.JoinedAt, reader.Active,
		nextVersion(), deleted,
	); err != nil {
		_ = batch.Abort()
		return err
	}
	return batch.Send()
}

func (db *ClickHouseDB) queryReaders(ctx context.Context, where string, args ...any) ([]models.Reader, error) {
	rows, err := db.conn.Query(ctx, "SELECT "+readerColumns+" FROM readers FINAL "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readers []models.Reader
	for rows.Next() {
		var reader models.Reader
		if err := rows.Scan(&reader.ID, &reader.Name, &reader.Email, &reader.Phone,
			&reader.JoinedAt, &reader.Active); err != nil {
			return nil, fmt.Errorf("failed to scan reader: %w", err)
		}
		reader.JoinedAt = reader.JoinedAt.UTC()
		readers = append(readers, reader)
	}
	return readers, rows.Err()
}

// AppendLoan inserts a new borrow record
func (db *ClickHouseDB) AppendLoan(ctx context.Context, record models.BorrowRecord) error {
	if err := db.insertLoan(ctx, record); err != nil {
		return fmt.Errorf("failed to append loan: %w", err)
	}
	return nil
}

// UpdateLoan replaces an existing borrow record with a newer version
func (db *ClickHouseDB) UpdateLoan(ctx context.Context, record models.BorrowRecord) error {
	if _, err := db.LoadLoan(ctx, record.ID); err != nil {
		return err
	}
	if err := db.insertLoan(ctx, record); err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return nil
}

// LoadLoan returns the current version of a borrow record
func (db *ClickHouseDB) LoadLoan(ctx context.Context, id uuid.UUID) (models.BorrowRecord, error) {
	loans, err := db.queryLoans(ctx, `WHERE id = toUUID(?)`, id.String())
	if err != nil {
		return models.BorrowRecord{}, fmt.Errorf("failed to load loan: %w", err)
	}
	if len(loans) == 0 {
		return models.BorrowRecord{}, storage.ErrNotFound
	}
	return loans[0], nil
}

// ScanLoans returns the borrow records matching the filter
func (db *ClickHouseDB) ScanLoans(ctx context.Context, filter models.LoanFilter) ([]models.BorrowRecord, error) {
	where, args := loanWhere(filter)
	loans, err := db.queryLoans(ctx, where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan loans: %w", err)
	}
	return loans, nil
}

// loanWhere translates a filter into a WHERE clause. Times are passed as
// epoch milliseconds to keep DateTime64 precision in bound parameters.
func loanWhere(filter models.LoanFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.ReaderID != nil {
		conds = append(conds, "reader_id = toUUID(?)")
		args = append(args, filter.ReaderID.String())
	}
	if filter.BookID != nil {
		conds = append(conds, "book_id = toUUID(?)")
		args = append(args, filter.BookID.String())
	}
	if filter.ActiveOnly {
		conds = append(conds, "returned_at IS NULL")
	}
	if !filter.DueBefore.IsZero() {
		conds = append(conds, "due_at < fromUnixTimestamp64Milli(toInt64(?), 'UTC')")
		args = append(args, filter.DueBefore.UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (db *ClickHouseDB) insertLoan(ctx context.Context, record models.BorrowRecord) error {
	batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO loans ("+loanColumns+", version)")
	if err != nil {
		return err
	}
	if err := batch.Append(
		record.ID, record.ReaderID, record.BookID,
		record.BorrowedAt, record.DueAt, record.ReturnedAt,
		nextVersion(),
	); err != nil {
		_ = batch.Abort()
		return err
	}
	return batch.Send()
}

func (db *ClickHouseDB) queryLoans(ctx context.Context, where string, args ...any) ([]models.BorrowRecord, error) {
	rows, err := db.conn.Query(ctx, "SELECT "+loanColumns+" FROM loans FINAL "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []models.BorrowRecord
	for rows.Next() {
		var rec models.BorrowRecord
		if err := rows.Scan(&rec.ID, &rec.ReaderID, &rec.BookID,
			&rec.BorrowedAt, &rec.DueAt, &rec.ReturnedAt); err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		rec.BorrowedAt = rec.BorrowedAt.UTC()
		rec.DueAt = rec.DueAt.UTC()
		if rec.ReturnedAt != nil {
			returned := rec.ReturnedAt.UTC()
			rec.ReturnedAt = &returned
		}
		loans = append(loans, rec)
	}
	return loans, rows.Err()
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
