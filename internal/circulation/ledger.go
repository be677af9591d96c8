package circulation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"circulation/internal/models"
	"circulation/internal/storage"
)

// Ledger orchestrates borrow and return transactions. It is the only writer of
// borrow records and the only caller that moves copies in and out of the
// catalog's available pool.
type Ledger struct {
	loans      storage.LoanStore
	catalog    *Catalog
	membership *Membership
	opts       options
}

// NewLedger creates a ledger over the given collaborators
func NewLedger(loans storage.LoanStore, catalog *Catalog, membership *Membership, opts ...Option) *Ledger {
	return &Ledger{
		loans:      loans,
		catalog:    catalog,
		membership: membership,
		opts:       buildOptions(opts),
	}
}

// Borrow lends one copy of a book to a reader for loanPeriodDays days, or for
// the configured default period when loanPeriodDays is zero.
//
// The reader check, the counter decrement and the record append happen under
// the reader's lock and then the book's lock, always in that order; on any
// failure neither the catalog nor the ledger is changed.
func (l *Ledger) Borrow(ctx context.Context, readerID, bookID uuid.UUID, loanPeriodDays int) (models.BorrowRecord, error) {
	if loanPeriodDays < 0 {
		return models.BorrowRecord{}, fmt.Errorf("%w: loan period must not be negative", ErrInvalidArgument)
	}
	if loanPeriodDays == 0 {
		loanPeriodDays = l.opts.loanPeriodDays
	}

	unlockReader := l.membership.locks.lock(readerID)
	defer unlockReader()

	reader, err := l.membership.Find(ctx, readerID)
	if err != nil {
		return models.BorrowRecord{}, err
	}
	if !reader.Active {
		return models.BorrowRecord{}, fmt.Errorf("%w: reader %s", ErrReaderInactive, readerID)
	}

	unlock := l.catalog.locks.lock(bookID)
	defer unlock()

	if _, err := l.catalog.reserve(ctx, bookID); err != nil {
		return models.BorrowRecord{}, err
	}

	now := l.opts.timestamp()
	record := models.BorrowRecord{
		ID:         uuid.New(),
		ReaderID:   readerID,
		BookID:     bookID,
		BorrowedAt: now,
		DueAt:      now.AddDate(0, 0, loanPeriodDays),
	}

	if err := l.loans.AppendLoan(ctx, record); err != nil {
		if rerr := l.catalog.release(ctx, bookID); rerr != nil {
			l.opts.logger.Error("Failed to undo copy reservation after append failure",
				zap.String("book_id", bookID.String()),
				zap.Error(rerr),
			)
		}
		return models.BorrowRecord{}, storeErr(err, "append loan %s", record.ID)
	}

	l.opts.logger.Info("Book borrowed",
		zap.String("loan_id", record.ID.String()),
		zap.String("reader_id", readerID.String()),
		zap.String("book_id", bookID.String()),
		zap.Time("due_at", record.DueAt),
	)
	return record, nil
}

// Return closes an active loan and puts its copy back into the available pool.
// A second Return of the same loan fails with ErrAlreadyReturned and never
// releases another copy.
func (l *Ledger) Return(ctx context.Context, recordID uuid.UUID) (models.BorrowRecord, error) {
	record, err := l.FindLoan(ctx, recordID)
	if err != nil {
		return models.BorrowRecord{}, err
	}

	unlock := l.catalog.locks.lock(record.BookID)
	defer unlock()

	// Reload under the lock: a concurrent Return may have won the race
	record, err = l.FindLoan(ctx, recordID)
	if err != nil {
		return models.BorrowRecord{}, err
	}
	if !record.IsActive() {
		return models.BorrowRecord{}, fmt.Errorf("%w: loan %s", ErrAlreadyReturned, recordID)
	}

	now := l.opts.timestamp()
	if now.Before(record.BorrowedAt) {
		now = record.BorrowedAt
	}
	record.ReturnedAt = &now

	released := true
	if err := l.catalog.release(ctx, record.BookID); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return models.BorrowRecord{}, err
		}
		released = false
		l.opts.logger.Warn("Returned loan references a missing book",
			zap.String("loan_id", recordID.String()),
			zap.String("book_id", record.BookID.String()),
			zap.String("code", ErrBookVanished.Code),
		)
	}

	if err := l.loans.UpdateLoan(ctx, record); err != nil {
		if released {
			if _, rerr := l.catalog.reserve(ctx, record.BookID); rerr != nil {
				l.opts.logger.Error("Failed to undo copy release after update failure",
					zap.String("book_id", record.BookID.String()),
					zap.Error(rerr),
				)
			}
		}
		return models.BorrowRecord{}, storeErr(err, "update loan %s", recordID)
	}

	l.opts.logger.Info("Book returned",
		zap.String("loan_id", recordID.String()),
		zap.String("reader_id", record.ReaderID.String()),
		zap.String("book_id", record.BookID.String()),
	)
	return record, nil
}

// FindLoan returns a borrow record by ID
func (l *Ledger) FindLoan(ctx context.Context, recordID uuid.UUID) (models.BorrowRecord, error) {
	record, err := l.loans.LoadLoan(ctx, recordID)
	if err != nil {
		return models.BorrowRecord{}, storeErr(err, "loan %s", recordID)
	}
	return record, nil
}

// FindActiveLoans returns every unreturned loan, optionally restricted to one
// reader, ordered by borrow time then ID
func (l *Ledger) FindActiveLoans(ctx context.Context, readerID *uuid.UUID) ([]models.BorrowRecord, error) {
	records, err := l.loans.ScanLoans(ctx, models.LoanFilter{ReaderID: readerID, ActiveOnly: true})
	if err != nil {
		return nil, storeErr(err, "scan active loans")
	}
	sortByBorrowedAt(records)
	return records, nil
}

// History returns every loan a reader ever started, oldest first
func (l *Ledger) History(ctx context.Context, readerID uuid.UUID) ([]models.BorrowRecord, error) {
	records, err := l.loans.ScanLoans(ctx, models.LoanFilter{ReaderID: &readerID})
	if err != nil {
		return nil, storeErr(err, "scan loans of reader %s", readerID)
	}
	sortByBorrowedAt(records)
	return records, nil
}

func sortByBorrowedAt(records []models.BorrowRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].BorrowedAt.Equal(records[j].BorrowedAt) {
			return records[i].BorrowedAt.Before(records[j].BorrowedAt)
		}
		return models.LessID(records[i].ID, records[j].ID)
	})
}
