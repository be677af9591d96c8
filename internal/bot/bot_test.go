package bot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"circulation/internal/circulation"
	"circulation/internal/models"
	"circulation/internal/storage/stubs"
)

const (
	testUserID = int64(123)
	testChatID = int64(456)
)

// recorder captures outgoing Telegram calls instead of hitting the API
type recorder struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
}

func (r *recorder) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		r.sent = append(r.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (r *recorder) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (r *recorder) last() tgbotapi.MessageConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return tgbotapi.MessageConfig{}
	}
	return r.sent[len(r.sent)-1]
}

func (r *recorder) lastText() string {
	return r.last().Text
}

type testBot struct {
	*Bot
	out *recorder
	svc *circulation.Service
	now time.Time
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := circulation.New(stubs.NewMockDB(), circulation.WithClock(func() time.Time { return now }))

	rec := &recorder{}
	b := newBot(svc, []int64{testUserID}, zap.NewNop())
	b.out = rec
	b.now = func() time.Time { return now }

	return &testBot{Bot: b, out: rec, svc: svc, now: now}
}

// send delivers a text message from the allowed user, marking a leading
// slash word as a bot command
func (tb *testBot) send(text string) {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: testUserID},
		Chat: &tgbotapi.Chat{ID: testChatID},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	tb.HandleUpdate(context.Background(), tgbotapi.Update{Message: msg})
}

func (tb *testBot) seed(t *testing.T, copies int) (models.Book, models.Reader) {
	t.Helper()
	ctx := context.Background()
	book, err := tb.svc.Catalog.AddBook(ctx, circulation.NewBook{ISBN: "978-0", Title: "Dune", Author: "Frank Herbert", Copies: copies})
	require.NoError(t, err)
	reader, err := tb.svc.Membership.Register(ctx, circulation.NewReader{Name: "Alice"})
	require.NoError(t, err)
	return book, reader
}

func TestBot_Start(t *testing.T) {
	tb := newTestBot(t)
	tb.send("/start")
	assert.Contains(t, tb.out.lastText(), "/borrow <reader-id> <book-id> [days]")
	assert.Equal(t, testChatID, tb.out.last().ChatID)
}

func TestBot_Unauthorized(t *testing.T) {
	tb := newTestBot(t)
	tb.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 999},
		Chat: &tgbotapi.Chat{ID: testChatID},
		Text: "/books",
	}})
	assert.Contains(t, tb.out.lastText(), "not authorized")
}

func TestBot_BorrowAndReturn(t *testing.T) {
	tb := newTestBot(t)
	book, reader := tb.seed(t, 1)

	tb.send("/borrow " + reader.ID.String() + " " + book.ID.String() + " 7")
	assert.Contains(t, tb.out.lastText(), "Alice borrowed Dune")
	assert.Contains(t, tb.out.lastText(), "Due: 2024-03-08")

	tb.send("/borrow " + reader.ID.String() + " " + book.ID.String())
	assert.Contains(t, tb.out.lastText(), "No copies of this book are available")

	loans, err := tb.svc.Ledger.FindActiveLoans(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, loans, 1)

	tb.send("/return " + loans[0].ID.String())
	assert.Contains(t, tb.out.lastText(), "Alice returned Dune")

	tb.send("/return " + loans[0].ID.String())
	assert.Contains(t, tb.out.lastText(), "already returned")

	total, available, err := tb.svc.Catalog.GetAvailability(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, total, available)
}

func TestBot_BorrowUsage(t *testing.T) {
	tb := newTestBot(t)
	book, reader := tb.seed(t, 1)

	tb.send("/borrow")
	assert.Contains(t, tb.out.lastText(), "Usage: /borrow")

	tb.send("/borrow nope " + book.ID.String())
	assert.Contains(t, tb.out.lastText(), "reader must be an ID")

	tb.send("/borrow " + reader.ID.String() + " " + book.ID.String() + " zero")
	assert.Contains(t, tb.out.lastText(), "not a positive number")

	tb.send("/return")
	assert.Contains(t, tb.out.lastText(), "Usage: /return")
}

func TestBot_InactiveReaderCannotBorrow(t *testing.T) {
	tb := newTestBot(t)
	book, reader := tb.seed(t, 1)
	require.NoError(t, tb.svc.Membership.Deactivate(context.Background(), reader.ID))

	tb.send("/borrow " + reader.ID.String() + " " + book.ID.String())
	assert.Contains(t, tb.out.lastText(), "not active")
}

func TestBot_LoansKeyboardAndCallback(t *testing.T) {
	tb := newTestBot(t)
	book, reader := tb.seed(t, 2)
	rec, err := tb.svc.Ledger.Borrow(context.Background(), reader.ID, book.ID, 0)
	require.NoError(t, err)

	tb.send("/loans " + reader.ID.String())
	msg := tb.out.last()
	assert.Contains(t, msg.Text, "Dune → Alice, due 2024-03-15")
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	data := markup.InlineKeyboard[0][0].CallbackData
	require.NotNil(t, data)
	assert.Equal(t, returnPrefix+rec.ID.String(), *data)

	tb.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: testUserID},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: testChatID}},
		Data:    *data,
	}})
	assert.Contains(t, tb.out.lastText(), "Alice returned Dune")
	assert.Len(t, tb.out.requests, 1, "callback must be answered")

	tb.send("/loans")
	assert.Equal(t, "No active loans.", tb.out.lastText())
}

func TestBot_Overdue(t *testing.T) {
	tb := newTestBot(t)
	book, reader := tb.seed(t, 2)

	tb.send("/overdue")
	assert.Contains(t, tb.out.lastText(), "No overdue loans")

	_, err := tb.svc.Ledger.Borrow(context.Background(), reader.ID, book.ID, 3)
	require.NoError(t, err)

	tb.Bot.now = func() time.Time { return tb.now.AddDate(0, 0, 5) }
	tb.send("/overdue")
	assert.Contains(t, tb.out.lastText(), "Overdue loans (1)")
	assert.Contains(t, tb.out.lastText(), "due 2024-03-04")
}

func TestBot_TopCommands(t *testing.T) {
	tb := newTestBot(t)
	book, reader := tb.seed(t, 3)

	tb.send("/top_books")
	assert.Equal(t, "No loans recorded yet.", tb.out.lastText())

	for i := 0; i < 2; i++ {
		_, err := tb.svc.Ledger.Borrow(context.Background(), reader.ID, book.ID, 0)
		require.NoError(t, err)
	}

	tb.send("/top_books 1")
	assert.Contains(t, tb.out.lastText(), "1. Dune - 2")

	tb.send("/top_readers")
	assert.Contains(t, tb.out.lastText(), "1. Alice - 2")

	tb.send("/top_readers -3")
	assert.Contains(t, tb.out.lastText(), "not a positive number")
}

func TestBot_AddBookConversation(t *testing.T) {
	tb := newTestBot(t)

	tb.send("/add_book")
	assert.Equal(t, "Please enter the book title:", tb.out.lastText())
	require.NotNil(t, tb.state(testUserID))

	tb.send("Anathem")
	tb.send("Neal Stephenson")
	tb.send("978-1")
	tb.send("many")
	assert.Contains(t, tb.out.lastText(), "whole number")
	tb.send("4")
	assert.Contains(t, tb.out.lastText(), "Book added!")
	assert.Nil(t, tb.state(testUserID), "conversation must be cleaned up")

	book, err := tb.svc.Catalog.FindByISBN(context.Background(), "978-1")
	require.NoError(t, err)
	assert.Equal(t, "Anathem", book.Title)
	assert.Equal(t, "Neal Stephenson", book.Author)
	assert.Equal(t, 4, book.AvailableCopies)
}

func TestBot_AddReaderConversation(t *testing.T) {
	tb := newTestBot(t)

	tb.send("/add_reader")
	tb.send("Bob")
	tb.send("-")
	assert.Contains(t, tb.out.lastText(), "Reader registered!")

	readers, err := tb.svc.Membership.List(context.Background())
	require.NoError(t, err)
	require.Len(t, readers, 1)
	assert.Equal(t, "Bob", readers[0].Name)
	assert.Empty(t, readers[0].Email)
}

func TestBot_CommandInterruptsConversation(t *testing.T) {
	tb := newTestBot(t)

	tb.send("/add_book")
	tb.send("/books")
	assert.Nil(t, tb.state(testUserID))
	assert.Contains(t, tb.out.lastText(), "The catalog is empty")

	// Plain text outside a conversation is ignored
	n := len(tb.out.sent)
	tb.send("hello")
	assert.Len(t, tb.out.sent, n)
}

func TestBot_UnknownCommand(t *testing.T) {
	tb := newTestBot(t)
	tb.send("/dance")
	assert.Contains(t, tb.out.lastText(), "Unknown command")
}

func TestBot_WebhookHandler(t *testing.T) {
	tb := newTestBot(t)
	h := tb.WebhookHandler()

	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, WebhookPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	body := `{"update_id":1,"message":{"message_id":1,"from":{"id":999},"chat":{"id":456},"text":"hi"}}`
	rr = httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rr.Code)

	assert.Eventually(t, func() bool {
		return strings.Contains(tb.out.lastText(), "not authorized")
	}, time.Second, 10*time.Millisecond)
}
