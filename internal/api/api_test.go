package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"circulation/internal/circulation"
	"circulation/internal/models"
	"circulation/internal/storage/stubs"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestMux(t *testing.T) (*http.ServeMux, *stubs.MockDB) {
	t.Helper()
	db := stubs.NewMockDB()
	svc := circulation.New(db, circulation.WithClock(func() time.Time { return testNow }))
	h := NewHandler(svc, zap.NewNop())
	h.now = func() time.Time { return testNow }

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, db
}

func do(t *testing.T, mux http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestAPI_BorrowAndReturn(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := do(t, mux, http.MethodPost, "/api/books", AddBookRequest{ISBN: "978-0", Title: "Dune", Copies: 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	book := decodeBody[models.Book](t, rec)
	assert.Equal(t, 1, book.AvailableCopies)

	rec = do(t, mux, http.MethodPost, "/api/readers", RegisterReaderRequest{Name: "Alice"})
	require.Equal(t, http.StatusCreated, rec.Code)
	reader := decodeBody[models.Reader](t, rec)

	rec = do(t, mux, http.MethodPost, "/api/loans", BorrowRequest{ReaderID: reader.ID, BookID: book.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	loan := decodeBody[models.BorrowRecord](t, rec)
	assert.Equal(t, testNow.AddDate(0, 0, 14), loan.DueAt)

	// The only copy is out
	rec = do(t, mux, http.MethodPost, "/api/loans", BorrowRequest{ReaderID: reader.ID, BookID: book.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "OUT_OF_STOCK", decodeBody[ErrorResponse](t, rec).Code)

	rec = do(t, mux, http.MethodGet, "/api/loans?reader="+reader.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.BorrowRecord](t, rec), 1)

	rec = do(t, mux, http.MethodGet, "/api/stats/active", nil)
	assert.Equal(t, CountResponse{Active: 1}, decodeBody[CountResponse](t, rec))

	rec = do(t, mux, http.MethodPost, "/api/loans/"+loan.ID.String()+"/return", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	returned := decodeBody[models.BorrowRecord](t, rec)
	require.NotNil(t, returned.ReturnedAt)

	rec = do(t, mux, http.MethodPost, "/api/loans/"+loan.ID.String()+"/return", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_RETURNED", decodeBody[ErrorResponse](t, rec).Code)

	rec = do(t, mux, http.MethodGet, "/api/books/"+book.ID.String(), nil)
	assert.Equal(t, 1, decodeBody[models.Book](t, rec).AvailableCopies)
}

func TestAPI_Books(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := do(t, mux, http.MethodGet, "/api/books", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, mux, http.MethodPost, "/api/books", AddBookRequest{ISBN: "978-0", Title: "Dune", Copies: 2})
	book := decodeBody[models.Book](t, rec)

	rec = do(t, mux, http.MethodPost, "/api/books", AddBookRequest{ISBN: "978-0", Title: "Again", Copies: 1})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, mux, http.MethodPut, "/api/books/"+book.ID.String()+"/total", ChangeTotalRequest{Total: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody[models.Book](t, rec)
	assert.Equal(t, 5, updated.TotalCopies)
	assert.Equal(t, 5, updated.AvailableCopies)

	rec = do(t, mux, http.MethodPut, "/api/books/"+book.ID.String()+"/total", ChangeTotalRequest{Total: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodDelete, "/api/books/"+book.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, mux, http.MethodGet, "/api/books/"+book.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)
}

func TestAPI_Readers(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := do(t, mux, http.MethodPost, "/api/readers", RegisterReaderRequest{Name: "Alice"})
	reader := decodeBody[models.Reader](t, rec)
	rec = do(t, mux, http.MethodPost, "/api/books", AddBookRequest{ISBN: "1", Title: "Dune", Copies: 1})
	book := decodeBody[models.Book](t, rec)

	rec = do(t, mux, http.MethodPost, "/api/readers/"+reader.ID.String()+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[models.Reader](t, rec).Active)

	rec = do(t, mux, http.MethodPost, "/api/loans", BorrowRequest{ReaderID: reader.ID, BookID: book.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "READER_INACTIVE", decodeBody[ErrorResponse](t, rec).Code)

	rec = do(t, mux, http.MethodPost, "/api/readers/"+reader.ID.String()+"/reactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[models.Reader](t, rec).Active)

	rec = do(t, mux, http.MethodGet, "/api/readers", nil)
	assert.Len(t, decodeBody[[]models.Reader](t, rec), 1)
}

func TestAPI_OverdueAndStats(t *testing.T) {
	mux, _ := newTestMux(t)

	book := decodeBody[models.Book](t, do(t, mux, http.MethodPost, "/api/books", AddBookRequest{ISBN: "1", Title: "Dune", Copies: 3}))
	reader := decodeBody[models.Reader](t, do(t, mux, http.MethodPost, "/api/readers", RegisterReaderRequest{Name: "Alice"}))

	rec := do(t, mux, http.MethodPost, "/api/loans", BorrowRequest{ReaderID: reader.ID, BookID: book.ID, Days: 3})
	loan := decodeBody[models.BorrowRecord](t, rec)

	// Due 2024-03-04 10:00; midnight of that day is not past it
	rec = do(t, mux, http.MethodGet, "/api/overdue?as_of=2024-03-04", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]models.BorrowRecord](t, rec))

	rec = do(t, mux, http.MethodGet, "/api/overdue?as_of=2024-03-05", nil)
	overdue := decodeBody[[]models.BorrowRecord](t, rec)
	require.Len(t, overdue, 1)
	assert.Equal(t, loan.ID, overdue[0].ID)

	rec = do(t, mux, http.MethodGet, "/api/overdue?as_of=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodGet, "/api/stats/top-books?n=1", nil)
	top := decodeBody[[]models.BookStat](t, rec)
	require.Len(t, top, 1)
	assert.Equal(t, models.BookStat{BookID: book.ID, LoanCount: 1}, top[0])

	rec = do(t, mux, http.MethodGet, "/api/stats/top-readers", nil)
	assert.Len(t, decodeBody[[]models.ReaderStat](t, rec), 1)

	rec = do(t, mux, http.MethodGet, "/api/stats/top-readers?n=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodGet, "/api/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAPI_BadInput(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := do(t, mux, http.MethodGet, "/api/books/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ARGUMENT", decodeBody[ErrorResponse](t, rec).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/books", bytes.NewBufferString(`{"isbn": 1`))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rec = do(t, mux, http.MethodGet, "/api/loans?reader=xyz", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodPost, "/api/loans/"+uuid.NewString()+"/return", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_StorageFailure(t *testing.T) {
	mux, db := newTestMux(t)
	db.FailOn("ListBooks", errors.New("connection refused"))

	rec := do(t, mux, http.MethodGet, "/api/books", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "UNAVAILABLE", body.Code)
	assert.Equal(t, "storage unavailable, try again later", body.Error)
	assert.NotContains(t, body.Error, "connection refused")
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{circulation.ErrNotFound, http.StatusNotFound},
		{circulation.ErrOutOfStock, http.StatusConflict},
		{circulation.ErrAlreadyReturned, http.StatusConflict},
		{circulation.ErrReaderInactive, http.StatusConflict},
		{circulation.ErrHasActiveLoans, http.StatusConflict},
		{circulation.ErrAlreadyExists, http.StatusConflict},
		{circulation.ErrInvalidArgument, http.StatusBadRequest},
		{circulation.ErrUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(circulation.CodeOf(tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}
