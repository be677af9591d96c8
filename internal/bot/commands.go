package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"circulation/internal/models"
)

const (
	defaultTopN  = 5
	returnPrefix = "return:"
)

// handleStart shows welcome message and available commands
func (b *Bot) handleStart(message *tgbotapi.Message) {
	text := `Welcome to the circulation desk! 📚

Available commands:
/books - List the catalog with available copies
/add_book - Add a title to the catalog
/add_reader - Register a reader
/borrow <reader-id> <book-id> [days] - Lend a copy
/return <loan-id> - Return a loan
/loans [reader-id] - Show active loans
/overdue - Show overdue loans, most urgent first
/top_books [n] - Most borrowed books
/top_readers [n] - Readers with the most loans`

	b.reply(message.Chat.ID, text)
}

// handleBooks lists the catalog
func (b *Bot) handleBooks(ctx context.Context, message *tgbotapi.Message) {
	books, err := b.svc.Catalog.ListBooks(ctx)
	if err != nil {
		b.replyError(message.Chat.ID, "list books", err)
		return
	}
	if len(books) == 0 {
		b.reply(message.Chat.ID, "The catalog is empty. Add a title with /add_book")
		return
	}

	var sb strings.Builder
	sb.WriteString("📚 Catalog:\n")
	for _, book := range books {
		fmt.Fprintf(&sb, "\n%s by %s (%d/%d available)\n%s\n",
			book.Title, book.Author, book.AvailableCopies, book.TotalCopies, book.ID)
	}
	b.reply(message.Chat.ID, sb.String())
}

// handleBorrow lends a copy: /borrow <reader-id> <book-id> [days]
func (b *Bot) handleBorrow(ctx context.Context, message *tgbotapi.Message, args []string) {
	if len(args) < 2 {
		b.reply(message.Chat.ID, "Usage: /borrow <reader-id> <book-id> [days]")
		return
	}
	readerID, err := parseID(args[0], "reader")
	if err != nil {
		b.replyError(message.Chat.ID, "borrow", err)
		return
	}
	bookID, err := parseID(args[1], "book")
	if err != nil {
		b.replyError(message.Chat.ID, "borrow", err)
		return
	}
	days, err := parseCount(args, 2, 0)
	if err != nil {
		b.replyError(message.Chat.ID, "borrow", err)
		return
	}

	rec, err := b.svc.Ledger.Borrow(ctx, readerID, bookID, days)
	if err != nil {
		b.replyError(message.Chat.ID, "borrow", err)
		return
	}

	b.logger.Info("Loan created via bot",
		zap.String("loan_id", rec.ID.String()),
		zap.Int64("user_id", message.From.ID),
	)
	b.reply(message.Chat.ID, fmt.Sprintf("✅ %s borrowed %s.\nDue: %s\nLoan: %s",
		b.readerName(ctx, rec.ReaderID), b.bookTitle(ctx, rec.BookID), rec.DueAt.Format(dateLayout), rec.ID))
}

// handleReturn closes a loan: /return <loan-id>
func (b *Bot) handleReturn(ctx context.Context, message *tgbotapi.Message, args []string) {
	if len(args) != 1 {
		b.reply(message.Chat.ID, "Usage: /return <loan-id>")
		return
	}
	loanID, err := parseID(args[0], "loan")
	if err != nil {
		b.replyError(message.Chat.ID, "return", err)
		return
	}
	b.returnLoan(ctx, message.Chat.ID, loanID)
}

func (b *Bot) returnLoan(ctx context.Context, chatID int64, loanID uuid.UUID) {
	rec, err := b.svc.Ledger.Return(ctx, loanID)
	if err != nil {
		b.replyError(chatID, "return", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("📥 %s returned %s.", b.readerName(ctx, rec.ReaderID), b.bookTitle(ctx, rec.BookID)))
}

// handleLoans shows active loans with a return button for each
func (b *Bot) handleLoans(ctx context.Context, message *tgbotapi.Message, args []string) {
	var readerID *uuid.UUID
	if len(args) > 0 {
		id, err := parseID(args[0], "reader")
		if err != nil {
			b.replyError(message.Chat.ID, "list loans", err)
			return
		}
		readerID = &id
	}

	loans, err := b.svc.Ledger.FindActiveLoans(ctx, readerID)
	if err != nil {
		b.replyError(message.Chat.ID, "list loans", err)
		return
	}
	if len(loans) == 0 {
		b.reply(message.Chat.ID, "No active loans.")
		return
	}

	var (
		sb   strings.Builder
		rows [][]tgbotapi.InlineKeyboardButton
	)
	sb.WriteString("📖 Active loans:\n")
	for _, loan := range loans {
		sb.WriteString(b.describeLoan(ctx, loan))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Return "+shortID(loan.ID), returnPrefix+loan.ID.String()),
		))
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, sb.String())
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.sendMessage(msg)
}

// handleOverdue lists loans past their due date, earliest first
func (b *Bot) handleOverdue(ctx context.Context, message *tgbotapi.Message) {
	loans, err := b.svc.Overdue.ListOverdue(ctx, b.now().UTC())
	if err != nil {
		b.replyError(message.Chat.ID, "list overdue loans", err)
		return
	}
	if len(loans) == 0 {
		b.reply(message.Chat.ID, "No overdue loans 🎉")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "⏰ Overdue loans (%d):\n", len(loans))
	for _, loan := range loans {
		sb.WriteString(b.describeLoan(ctx, loan))
	}
	b.reply(message.Chat.ID, sb.String())
}

// handleTopBooks shows the most borrowed books: /top_books [n]
func (b *Bot) handleTopBooks(ctx context.Context, message *tgbotapi.Message, args []string) {
	n, err := parseCount(args, 0, defaultTopN)
	if err != nil {
		b.replyError(message.Chat.ID, "rank books", err)
		return
	}
	stats, err := b.svc.Usage.TopBooks(ctx, n)
	if err != nil {
		b.replyError(message.Chat.ID, "rank books", err)
		return
	}
	if len(stats) == 0 {
		b.reply(message.Chat.ID, "No loans recorded yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("🏆 Most borrowed books:\n")
	for i, s := range stats {
		fmt.Fprintf(&sb, "%d. %s - %d\n", i+1, b.bookTitle(ctx, s.BookID), s.LoanCount)
	}
	b.reply(message.Chat.ID, sb.String())
}

// handleTopReaders shows the readers with the most loans: /top_readers [n]
func (b *Bot) handleTopReaders(ctx context.Context, message *tgbotapi.Message, args []string) {
	n, err := parseCount(args, 0, defaultTopN)
	if err != nil {
		b.replyError(message.Chat.ID, "rank readers", err)
		return
	}
	stats, err := b.svc.Usage.TopReaders(ctx, n)
	if err != nil {
		b.replyError(message.Chat.ID, "rank readers", err)
		return
	}
	if len(stats) == 0 {
		b.reply(message.Chat.ID, "No loans recorded yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("🏆 Most active readers:\n")
	for i, s := range stats {
		fmt.Fprintf(&sb, "%d. %s - %d\n", i+1, b.readerName(ctx, s.ReaderID), s.LoanCount)
	}
	b.reply(message.Chat.ID, sb.String())
}

func (b *Bot) describeLoan(ctx context.Context, loan models.BorrowRecord) string {
	return fmt.Sprintf("\n%s → %s, due %s\n%s\n",
		b.bookTitle(ctx, loan.BookID), b.readerName(ctx, loan.ReaderID), loan.DueAt.Format(dateLayout), loan.ID)
}

// bookTitle falls back to the ID when the book cannot be loaded
func (b *Bot) bookTitle(ctx context.Context, id uuid.UUID) string {
	book, err := b.svc.Catalog.FindBook(ctx, id)
	if err != nil {
		return id.String()
	}
	return book.Title
}

func (b *Bot) readerName(ctx context.Context, id uuid.UUID) string {
	reader, err := b.svc.Membership.Find(ctx, id)
	if err != nil {
		return id.String()
	}
	return reader.Name
}
