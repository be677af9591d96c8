package stubs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"circulation/internal/models"
	"circulation/internal/storage"
)

func TestMockDB_Initialize(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	if err := db.Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	books, err := db.ListBooks(ctx)
	if err != nil {
		t.Fatalf("Failed to list books: %v", err)
	}
	if len(books) == 0 {
		t.Fatal("Expected demo books to be seeded")
	}
	for _, book := range books {
		if book.AvailableCopies != book.TotalCopies {
			t.Errorf("Expected seeded book %q to have all copies available", book.Title)
		}
	}

	// A second Initialize must not duplicate the seed data
	if err := db.Initialize(ctx); err != nil {
		t.Fatalf("Failed to re-initialize database: %v", err)
	}
	again, _ := db.ListBooks(ctx)
	if len(again) != len(books) {
		t.Errorf("Expected %d books after re-initialize, got %d", len(books), len(again))
	}
}

func TestMockDB_Books(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	b := models.Book{ID: uuid.New(), ISBN: "111", Title: "Book B", TotalCopies: 2, AvailableCopies: 2}
	a := models.Book{ID: uuid.New(), ISBN: "222", Title: "Book A", TotalCopies: 1, AvailableCopies: 1}
	for _, book := range []models.Book{b, a} {
		if err := db.SaveBook(ctx, book); err != nil {
			t.Fatalf("Failed to save book: %v", err)
		}
	}

	books, err := db.ListBooks(ctx)
	if err != nil {
		t.Fatalf("Failed to list books: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("Expected 2 books, got %d", len(books))
	}
	if books[0].Title != "Book A" || books[1].Title != "Book B" {
		t.Error("Expected books to be sorted by title")
	}

	found, err := db.FindBookByISBN(ctx, "111")
	if err != nil {
		t.Fatalf("Failed to find book by ISBN: %v", err)
	}
	if found.ID != b.ID {
		t.Errorf("Expected book %s, got %s", b.ID, found.ID)
	}

	if err := db.DeleteBook(ctx, a.ID); err != nil {
		t.Fatalf("Failed to delete book: %v", err)
	}
	if _, err := db.LoadBook(ctx, a.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := db.DeleteBook(ctx, a.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound when deleting twice, got %v", err)
	}
}

func TestMockDB_Readers(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	reader := models.Reader{ID: uuid.New(), Name: "Carol", Active: true}
	if err := db.SaveReader(ctx, reader); err != nil {
		t.Fatalf("Failed to save reader: %v", err)
	}

	exists, err := db.ReaderExists(ctx, reader.ID)
	if err != nil {
		t.Fatalf("Failed to check reader: %v", err)
	}
	if !exists {
		t.Error("Expected reader to exist")
	}

	exists, _ = db.ReaderExists(ctx, uuid.New())
	if exists {
		t.Error("Expected unknown reader not to exist")
	}
}

func TestMockDB_ScanLoans(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	readerA, readerB := uuid.New(), uuid.New()
	bookID := uuid.New()
	now := time.Now()
	returned := now.Add(time.Hour)

	records := []models.BorrowRecord{
		{ID: uuid.New(), ReaderID: readerA, BookID: bookID, BorrowedAt: now, DueAt: now.AddDate(0, 0, 14)},
		{ID: uuid.New(), ReaderID: readerB, BookID: bookID, BorrowedAt: now, DueAt: now.AddDate(0, 0, 1)},
		{ID: uuid.New(), ReaderID: readerA, BookID: bookID, BorrowedAt: now, DueAt: now.AddDate(0, 0, 1), ReturnedAt: &returned},
	}
	for _, r := range records {
		if err := db.AppendLoan(ctx, r); err != nil {
			t.Fatalf("Failed to append loan: %v", err)
		}
	}

	all, err := db.ScanLoans(ctx, models.LoanFilter{})
	if err != nil {
		t.Fatalf("Failed to scan loans: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 loans, got %d", len(all))
	}

	active, _ := db.ScanLoans(ctx, models.LoanFilter{ActiveOnly: true})
	if len(active) != 2 {
		t.Errorf("Expected 2 active loans, got %d", len(active))
	}

	byReader, _ := db.ScanLoans(ctx, models.LoanFilter{ReaderID: &readerA})
	if len(byReader) != 2 {
		t.Errorf("Expected 2 loans for reader A, got %d", len(byReader))
	}

	dueSoon, _ := db.ScanLoans(ctx, models.LoanFilter{ActiveOnly: true, DueBefore: now.AddDate(0, 0, 2)})
	if len(dueSoon) != 1 || dueSoon[0].ReaderID != readerB {
		t.Errorf("Expected only reader B's loan to be due soon, got %v", dueSoon)
	}
}

func TestMockDB_LoadLoanReturnsCopy(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	returned := time.Now()
	record := models.BorrowRecord{ID: uuid.New(), ReturnedAt: &returned}
	if err := db.AppendLoan(ctx, record); err != nil {
		t.Fatalf("Failed to append loan: %v", err)
	}

	loaded, _ := db.LoadLoan(ctx, record.ID)
	*loaded.ReturnedAt = returned.Add(time.Hour)

	again, _ := db.LoadLoan(ctx, record.ID)
	if !again.ReturnedAt.Equal(returned) {
		t.Error("Expected stored return date to be unaffected by caller mutation")
	}
}

func TestMockDB_FailOn(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()
	boom := errors.New("connection reset")

	db.FailOn("SaveBook", boom)
	if err := db.SaveBook(ctx, models.Book{ID: uuid.New()}); !errors.Is(err, boom) {
		t.Errorf("Expected injected failure, got %v", err)
	}

	db.FailOn("SaveBook", nil)
	if err := db.SaveBook(ctx, models.Book{ID: uuid.New()}); err != nil {
		t.Errorf("Expected failure to be cleared, got %v", err)
	}
}

func TestMockDB_UpdateUnknownLoan(t *testing.T) {
	db := NewMockDB()
	err := db.UpdateLoan(context.Background(), models.BorrowRecord{ID: uuid.New()})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
