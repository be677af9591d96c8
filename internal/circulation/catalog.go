package circulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"circulation/internal/models"
	"circulation/internal/storage"
)

// MaxCopies is the largest copy count the stores can hold
const MaxCopies = math.MaxInt32

// NewBook holds the fields needed to add a title to the catalog
type NewBook struct {
	ISBN   string
	Title  string
	Author string
	Copies int
}

// Catalog owns book records and their copy counters.
//
// Every mutation of a book's counters runs under that book's lock, so
// ReserveCopy, ReleaseCopy and ChangeTotal on one book are serialized while
// different books proceed independently.
type Catalog struct {
	books storage.BookStore
	locks *idLocks
	opts  options

	// addMu keeps the ISBN uniqueness check and the insert together
	addMu sync.Mutex
}

// NewCatalog creates a catalog backed by the given store
func NewCatalog(books storage.BookStore, opts ...Option) *Catalog {
	return &Catalog{
		books: books,
		locks: newIDLocks(),
		opts:  buildOptions(opts),
	}
}

// AddBook registers a new title with all of its copies available
func (c *Catalog) AddBook(ctx context.Context, nb NewBook) (models.Book, error) {
	nb.ISBN = strings.TrimSpace(nb.ISBN)
	nb.Title = strings.TrimSpace(nb.Title)
	if nb.ISBN == "" || nb.Title == "" {
		return models.Book{}, fmt.Errorf("%w: isbn and title are required", ErrInvalidArgument)
	}
	if nb.Copies < 0 || nb.Copies > MaxCopies {
		return models.Book{}, fmt.Errorf("%w: copies must be between 0 and %d", ErrInvalidArgument, MaxCopies)
	}

	c.addMu.Lock()
	defer c.addMu.Unlock()

	_, err := c.books.FindBookByISBN(ctx, nb.ISBN)
	switch {
	case err == nil:
		return models.Book{}, fmt.Errorf("%w: book with isbn %s", ErrAlreadyExists, nb.ISBN)
	case !errors.Is(err, storage.ErrNotFound):
		return models.Book{}, storeErr(err, "find book by isbn %s", nb.ISBN)
	}

	now := c.opts.timestamp()
	book := models.Book{
		ID:              uuid.New(),
		ISBN:            nb.ISBN,
		Title:           nb.Title,
		Author:          strings.TrimSpace(nb.Author),
		TotalCopies:     nb.Copies,
		AvailableCopies: nb.Copies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := c.books.SaveBook(ctx, book); err != nil {
		return models.Book{}, storeErr(err, "save book %s", book.ID)
	}

	c.opts.logger.Info("Book added",
		zap.String("book_id", book.ID.String()),
		zap.String("isbn", book.ISBN),
		zap.Int("copies", book.TotalCopies),
	)
	return book, nil
}

// UpdateDetails changes the descriptive fields of a book; counters are untouched
func (c *Catalog) UpdateDetails(ctx context.Context, bookID uuid.UUID, title, author string) (models.Book, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Book{}, fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}

	unlock := c.locks.lock(bookID)
	defer unlock()

	book, err := c.load(ctx, bookID)
	if err != nil {
		return models.Book{}, err
	}
	book.Title = title
	book.Author = strings.TrimSpace(author)
	book.UpdatedAt = c.opts.timestamp()
	if err := c.save(ctx, book); err != nil {
		return models.Book{}, err
	}
	return book, nil
}

// FindBook returns a book by ID
func (c *Catalog) FindBook(ctx context.Context, bookID uuid.UUID) (models.Book, error) {
	return c.load(ctx, bookID)
}

// FindByISBN returns a book by its ISBN
func (c *Catalog) FindByISBN(ctx context.Context, isbn string) (models.Book, error) {
	book, err := c.books.FindBookByISBN(ctx, strings.TrimSpace(isbn))
	if err != nil {
		return models.Book{}, storeErr(err, "book with isbn %s", isbn)
	}
	return book, nil
}

// ListBooks returns every book ordered by title, then ID
func (c *Catalog) ListBooks(ctx context.Context) ([]models.Book, error) {
	books, err := c.books.ListBooks(ctx)
	if err != nil {
		return nil, storeErr(err, "list books")
	}
	return books, nil
}

// GetAvailability returns the total and available copy counts of a book
func (c *Catalog) GetAvailability(ctx context.Context, bookID uuid.UUID) (total, available int, err error) {
	book, err := c.load(ctx, bookID)
	if err != nil {
		return 0, 0, err
	}
	return book.TotalCopies, book.AvailableCopies, nil
}

// ReserveCopy takes one copy out of the available pool
func (c *Catalog) ReserveCopy(ctx context.Context, bookID uuid.UUID) error {
	unlock := c.locks.lock(bookID)
	defer unlock()

	_, err := c.reserve(ctx, bookID)
	return err
}

// ReleaseCopy puts one copy back into the available pool
func (c *Catalog) ReleaseCopy(ctx context.Context, bookID uuid.UUID) error {
	unlock := c.locks.lock(bookID)
	defer unlock()

	return c.release(ctx, bookID)
}

// ChangeTotal sets the number of owned copies. The change is rejected when it
// would leave fewer copies than are currently on loan.
func (c *Catalog) ChangeTotal(ctx context.Context, bookID uuid.UUID, newTotal int) error {
	if newTotal < 0 || newTotal > MaxCopies {
		return fmt.Errorf("%w: total copies must be between 0 and %d", ErrInvalidArgument, MaxCopies)
	}

	unlock := c.locks.lock(bookID)
	defer unlock()

	book, err := c.load(ctx, bookID)
	if err != nil {
		return err
	}

	onLoan := book.OnLoan()
	if newTotal < onLoan {
		return fmt.Errorf("%w: book %s has %d copies on loan, cannot set total to %d",
			ErrInvalidArgument, bookID, onLoan, newTotal)
	}

	book.AvailableCopies += newTotal - book.TotalCopies
	book.TotalCopies = newTotal
	book.UpdatedAt = c.opts.timestamp()
	if err := c.save(ctx, book); err != nil {
		return err
	}

	c.opts.logger.Info("Book total changed",
		zap.String("book_id", bookID.String()),
		zap.Int("total", book.TotalCopies),
		zap.Int("available", book.AvailableCopies),
	)
	return nil
}

// RemoveBook deletes a book that has no copies on loan
func (c *Catalog) RemoveBook(ctx context.Context, bookID uuid.UUID) error {
	unlock := c.locks.lock(bookID)
	defer unlock()

	book, err := c.load(ctx, bookID)
	if err != nil {
		return err
	}
	if onLoan := book.OnLoan(); onLoan > 0 {
		return fmt.Errorf("%w: book %s has %d copies on loan", ErrHasActiveLoans, bookID, onLoan)
	}
	if err := c.books.DeleteBook(ctx, bookID); err != nil {
		return storeErr(err, "delete book %s", bookID)
	}

	c.opts.logger.Info("Book removed", zap.String("book_id", bookID.String()))
	return nil
}

// reserve decrements the available counter. The caller must hold the book lock.
func (c *Catalog) reserve(ctx context.Context, bookID uuid.UUID) (models.Book, error) {
	book, err := c.load(ctx, bookID)
	if err != nil {
		return models.Book{}, err
	}
	if book.AvailableCopies <= 0 {
		return models.Book{}, fmt.Errorf("%w: book %s", ErrOutOfStock, bookID)
	}

	book.AvailableCopies--
	book.UpdatedAt = c.opts.timestamp()
	if err := c.save(ctx, book); err != nil {
		return models.Book{}, err
	}
	return book, nil
}

// release increments the available counter. The caller must hold the book lock.
func (c *Catalog) release(ctx context.Context, bookID uuid.UUID) error {
	book, err := c.load(ctx, bookID)
	if err != nil {
		return err
	}
	if book.AvailableCopies >= book.TotalCopies {
		c.opts.logger.DPanic("Release would exceed total copies",
			zap.String("book_id", bookID.String()),
			zap.Int("total", book.TotalCopies),
			zap.Int("available", book.AvailableCopies),
		)
		return fmt.Errorf("%w: book %s already has all %d copies available",
			ErrInvariantViolation, bookID, book.TotalCopies)
	}

	book.AvailableCopies++
	book.UpdatedAt = c.opts.timestamp()
	return c.save(ctx, book)
}

func (c *Catalog) load(ctx context.Context, bookID uuid.UUID) (models.Book, error) {
	book, err := c.books.LoadBook(ctx, bookID)
	if err != nil {
		return models.Book{}, storeErr(err, "book %s", bookID)
	}
	return book, nil
}

func (c *Catalog) save(ctx context.Context, book models.Book) error {
	if err := c.books.SaveBook(ctx, book); err != nil {
		return storeErr(err, "save book %s", book.ID)
	}
	return nil
}
