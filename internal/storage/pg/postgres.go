// Package pg stores the circulation records in PostgreSQL.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"circulation/internal/models"
	"circulation/internal/storage"
)

const (
	dialectPostgres = "postgres"
	tableBooks      = "books"
	tableReaders    = "readers"
	tableLoans      = "loans"
	colID           = "id"
	colISBN         = "isbn"
	colTitle        = "title"
	colAuthor       = "author"
	colTotal        = "total_copies"
	colAvailable    = "available_copies"
	colCreatedAt    = "created_at"
	colUpdatedAt    = "updated_at"
	colName         = "name"
	colEmail        = "email"
	colPhone        = "phone"
	colJoinedAt     = "joined_at"
	colActive       = "active"
	colReaderID     = "reader_id"
	colBookID       = "book_id"
	colBorrowedAt   = "borrowed_at"
	colDueAt        = "due_at"
	colReturnedAt   = "returned_at"
)

var (
	bookCols   = []any{colID, colISBN, colTitle, colAuthor, colTotal, colAvailable, colCreatedAt, colUpdatedAt}
	readerCols = []any{colID, colName, colEmail, colPhone, colJoinedAt, colActive}
	loanCols   = []any{colID, colReaderID, colBookID, colBorrowedAt, colDueAt, colReturnedAt}
)

// PostgresDB implements storage.Storage on a pgx connection pool
type PostgresDB struct {
	pool    *pgxpool.Pool
	builder goqu.DialectWrapper
}

// NewPostgresDB connects to PostgreSQL using a DSN
func NewPostgresDB(ctx context.Context, dsn string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}
	return &PostgresDB{pool: pool, builder: goqu.Dialect(dialectPostgres)}, nil
}

// Initialize is a no-op - tables are managed via migrations
func (db *PostgresDB) Initialize(ctx context.Context) error {
	return nil
}

// Close releases the connection pool
func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func (db *PostgresDB) exec(ctx context.Context, stmt interface {
	ToSQL() (string, []any, error)
}) (int64, error) {
	query, args, err := stmt.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	tag, err := db.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (db *PostgresDB) query(ctx context.Context, stmt *goqu.SelectDataset) (pgx.Rows, error) {
	query, args, err := stmt.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return db.pool.Query(ctx, query, args...)
}

// LoadBook returns a book by ID
func (db *PostgresDB) LoadBook(ctx context.Context, id uuid.UUID) (models.Book, error) {
	return db.oneBook(ctx, goqu.Ex{colID: id})
}

// FindBookByISBN returns the book with the given ISBN
func (db *PostgresDB) FindBookByISBN(ctx context.Context, isbn string) (models.Book, error) {
	return db.oneBook(ctx, goqu.Ex{colISBN: isbn})
}

func (db *PostgresDB) oneBook(ctx context.Context, where goqu.Ex) (models.Book, error) {
	books, err := db.selectBooks(ctx, db.builder.From(tableBooks).Select(bookCols...).Where(where))
	if err != nil {
		return models.Book{}, fmt.Errorf("failed to load book: %w", err)
	}
	if len(books) == 0 {
		return models.Book{}, storage.ErrNotFound
	}
	return books[0], nil
}

// SaveBook inserts or replaces a book
func (db *PostgresDB) SaveBook(ctx context.Context, book models.Book) error {
	stmt := db.builder.Insert(tableBooks).Prepared(true).
		Rows(goqu.Record{
			colID: book.ID, colISBN: book.ISBN, colTitle: book.Title, colAuthor: book.Author,
			colTotal: book.TotalCopies, colAvailable: book.AvailableCopies,
			colCreatedAt: book.CreatedAt, colUpdatedAt: book.UpdatedAt,
		}).
		OnConflict(goqu.DoUpdate(colID, goqu.Record{
			colISBN:      goqu.L("EXCLUDED." + colISBN),
			colTitle:     goqu.L("EXCLUDED." + colTitle),
			colAuthor:    goqu.L("EXCLUDED." + colAuthor),
			colTotal:     goqu.L("EXCLUDED." + colTotal),
			colAvailable: goqu.L("EXCLUDED." + colAvailable),
			colUpdatedAt: goqu.L("EXCLUDED." + colUpdatedAt),
		}))
	if _, err := db.exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to save book: %w", err)
	}
	return nil
}

// DeleteBook removes a book
func (db *PostgresDB) DeleteBook(ctx context.Context, id uuid.UUID) error {
	n, err := db.exec(ctx, db.builder.Delete(tableBooks).Prepared(true).Where(goqu.Ex{colID: id}))
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListBooks returns all books ordered by title
func (db *PostgresDB) ListBooks(ctx context.Context) ([]models.Book, error) {
	books, err := db.selectBooks(ctx, db.builder.From(tableBooks).Select(bookCols...).
		Order(goqu.I(colTitle).Asc(), goqu.I(colID).Asc()))
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

func (db *PostgresDB) selectBooks(ctx context.Context, stmt *goqu.SelectDataset) ([]models.Book, error) {
	rows, err := db.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []models.Book
	for rows.Next() {
		var book models.Book
		if err := rows.Scan(&book.ID, &book.ISBN, &book.Title, &book.Author,
			&book.TotalCopies, &book.AvailableCopies, &book.CreatedAt, &book.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		book.CreatedAt = book.CreatedAt.UTC()
		book.UpdatedAt = book.UpdatedAt.UTC()
		books = append(books, book)
	}
	return books, rows.Err()
}

// LoadReader returns a reader by ID
func (db *PostgresDB) LoadReader(ctx context.Context, id uuid.UUID) (models.Reader, error) {
	readers, err := db.selectReaders(ctx, db.builder.From(tableReaders).Select(readerCols...).
		Where(goqu.Ex{colID: id}))
	if err != nil {
		return models.Reader{}, fmt.Errorf("failed to load reader: %w", err)
	}
	if len(readers) == 0 {
		return models.Reader{}, storage.ErrNotFound
	}
	return readers[0], nil
}

// ReaderExists reports whether a reader row is present
func (db *PostgresDB) ReaderExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := db.LoadReader(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SaveReader inserts or replaces a reader
func (db *PostgresDB) SaveReader(ctx context.Context, reader models.Reader) error {
	stmt := db.builder.Insert(tableReaders).Prepared(true).
		Rows(goqu.Record{
			colID: reader.ID, colName: reader.Name, colEmail: reader.Email, colPhone: reader.Phone,
			colJoinedAt: reader.JoinedAt, colActive: reader.Active,
		}).
		OnConflict(goqu.DoUpdate(colID, goqu.Record{
			colName:   goqu.L("EXCLUDED." + colName),
			colEmail:  goqu.L("EXCLUDED." + colEmail),
			colPhone:  goqu.L("EXCLUDED." + colPhone),
			colActive: goqu.L("EXCLUDED." + colActive),
		}))
	if _, err := db.exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to save reader: %w", err)
	}
	return nil
}

// DeleteReader removes a reader
func (db *PostgresDB) DeleteReader(ctx context.Context, id uuid.UUID) error {
	n, err := db.exec(ctx, db.builder.Delete(tableReaders).Prepared(true).Where(goqu.Ex{colID: id}))
	if err != nil {
		return fmt.Errorf("failed to delete reader: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListReaders returns all readers ordered by name
func (db *PostgresDB) ListReaders(ctx context.Context) ([]models.Reader, error) {
	readers, err := db.selectReaders(ctx, db.builder.From(tableReaders).Select(readerCols...).
		Order(goqu.I(colName).Asc(), goqu.I(colID).Asc()))
	if err != nil {
		return nil, fmt.Errorf("failed to list readers: %w", err)
	}
	return readers, nil
}

func (db *PostgresDB) selectReaders(ctx context.Context, stmt *goqu.SelectDataset) ([]models.Reader, error) {
	rows, err := db.query(ctx, stmt)
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
func (db *PostgresDB) AppendLoan(ctx context.Context, record models.BorrowRecord) error {
	stmt := db.builder.Insert(tableLoans).Prepared(true).Rows(goqu.Record{
		colID: record.ID, colReaderID: record.ReaderID, colBookID: record.BookID,
		colBorrowedAt: record.BorrowedAt, colDueAt: record.DueAt, colReturnedAt: nullableTime(record.ReturnedAt),
	})
	if _, err := db.exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to append loan: %w", err)
	}
	return nil
}

// UpdateLoan stores the return date of an existing borrow record
func (db *PostgresDB) UpdateLoan(ctx context.Context, record models.BorrowRecord) error {
	stmt := db.builder.Update(tableLoans).Prepared(true).
		Set(goqu.Record{colReturnedAt: nullableTime(record.ReturnedAt), colDueAt: record.DueAt}).
		Where(goqu.Ex{colID: record.ID})
	n, err := db.exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// LoadLoan returns a borrow record by ID
func (db *PostgresDB) LoadLoan(ctx context.Context, id uuid.UUID) (models.BorrowRecord, error) {
	loans, err := db.selectLoans(ctx, db.builder.From(tableLoans).Select(loanCols...).
		Where(goqu.Ex{colID: id}))
	if err != nil {
		return models.BorrowRecord{}, fmt.Errorf("failed to load loan: %w", err)
	}
	if len(loans) == 0 {
		return models.BorrowRecord{}, storage.ErrNotFound
	}
	return loans[0], nil
}

// ScanLoans returns the borrow records matching the filter
func (db *PostgresDB) ScanLoans(ctx context.Context, filter models.LoanFilter) ([]models.BorrowRecord, error) {
	stmt := db.builder.From(tableLoans).Select(loanCols...)
	if conds := loanConditions(filter); len(conds) > 0 {
		stmt = stmt.Where(goqu.And(conds...))
	}
	loans, err := db.selectLoans(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan loans: %w", err)
	}
	return loans, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func loanConditions(filter models.LoanFilter) []goqu.Expression {
	conds := make([]goqu.Expression, 0, 4)
	if filter.ReaderID != nil {
		conds = append(conds, goqu.C(colReaderID).Eq(*filter.ReaderID))
	}
	if filter.BookID != nil {
		conds = append(conds, goqu.C(colBookID).Eq(*filter.BookID))
	}
	if filter.ActiveOnly {
		conds = append(conds, goqu.C(colReturnedAt).IsNull())
	}
	if !filter.DueBefore.IsZero() {
		conds = append(conds, goqu.C(colDueAt).Lt(filter.DueBefore))
	}
	return conds
}

func (db *PostgresDB) selectLoans(ctx context.Context, stmt *goqu.SelectDataset) ([]models.BorrowRecord, error) {
	rows, err := db.query(ctx, stmt)
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
