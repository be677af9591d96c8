// Package api exposes the circulation service over HTTP with JSON bodies.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"circulation/internal/circulation"
)

// AddBookRequest is the body of POST /api/books
type AddBookRequest struct {
	ISBN   string `json:"isbn"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Copies int    `json:"copies"`
}

// ChangeTotalRequest is the body of PUT /api/books/{id}/total
type ChangeTotalRequest struct {
	Total int `json:"total"`
}

// RegisterReaderRequest is the body of POST /api/readers
type RegisterReaderRequest struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// BorrowRequest is the body of POST /api/loans. Days = 0 uses the configured loan period.
type BorrowRequest struct {
	ReaderID uuid.UUID `json:"reader_id"`
	BookID   uuid.UUID `json:"book_id"`
	Days     int       `json:"days,omitempty"`
}

// CountResponse is returned by GET /api/stats/active
type CountResponse struct {
	Active int `json:"active"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// DateLayout is the calendar date format accepted by as_of
const DateLayout = "2006-01-02"

// Handler serves the circulation API
type Handler struct {
	svc    *circulation.Service
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates an API handler for the given service
func NewHandler(svc *circulation.Service, logger *zap.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
		now:    time.Now,
	}
}

// RegisterRoutes registers the API routes on the provided mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/books", h.handleListBooks)
	mux.HandleFunc("POST /api/books", h.handleAddBook)
	mux.HandleFunc("GET /api/books/{id}", h.handleFindBook)
	mux.HandleFunc("PUT /api/books/{id}/total", h.handleChangeTotal)
	mux.HandleFunc("DELETE /api/books/{id}", h.handleRemoveBook)

	mux.HandleFunc("GET /api/readers", h.handleListReaders)
	mux.HandleFunc("POST /api/readers", h.handleRegisterReader)
	mux.HandleFunc("POST /api/readers/{id}/deactivate", h.handleSetActive(false))
	mux.HandleFunc("POST /api/readers/{id}/reactivate", h.handleSetActive(true))

	mux.HandleFunc("GET /api/loans", h.handleActiveLoans)
	mux.HandleFunc("POST /api/loans", h.handleBorrow)
	mux.HandleFunc("POST /api/loans/{id}/return", h.handleReturn)

	mux.HandleFunc("GET /api/overdue", h.handleOverdue)
	mux.HandleFunc("GET /api/stats/active", h.handleCountActive)
	mux.HandleFunc("GET /api/stats/top-books", h.handleTopBooks)
	mux.HandleFunc("GET /api/stats/top-readers", h.handleTopReaders)
	mux.HandleFunc("GET /api/audit", h.handleAudit)
}

func (h *Handler) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.svc.Catalog.ListBooks(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(books))
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var req AddBookRequest
	if !h.decode(w, r, &req) {
		return
	}
	book, err := h.svc.Catalog.AddBook(r.Context(), circulation.NewBook{
		ISBN: req.ISBN, Title: req.Title, Author: req.Author, Copies: req.Copies,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (h *Handler) handleFindBook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	book, err := h.svc.Catalog.FindBook(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *Handler) handleChangeTotal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req ChangeTotalRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.Catalog.ChangeTotal(r.Context(), id, req.Total); err != nil {
		h.writeError(w, r, err)
		return
	}
	book, err := h.svc.Catalog.FindBook(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *Handler) handleRemoveBook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Catalog.RemoveBook(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListReaders(w http.ResponseWriter, r *http.Request) {
	readers, err := h.svc.Membership.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(readers))
}

func (h *Handler) handleRegisterReader(w http.ResponseWriter, r *http.Request) {
	var req RegisterReaderRequest
	if !h.decode(w, r, &req) {
		return
	}
	reader, err := h.svc.Membership.Register(r.Context(), circulation.NewReader{
		Name: req.Name, Email: req.Email, Phone: req.Phone,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reader)
}

func (h *Handler) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r)
		if !ok {
			return
		}
		var err error
		if active {
			err = h.svc.Membership.Reactivate(r.Context(), id)
		} else {
			err = h.svc.Membership.Deactivate(r.Context(), id)
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		reader, err := h.svc.Membership.Find(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, reader)
	}
}

func (h *Handler) handleActiveLoans(w http.ResponseWriter, r *http.Request) {
	var readerID *uuid.UUID
	if v := r.URL.Query().Get("reader"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			h.writeError(w, r, invalid("reader must be a UUID"))
			return
		}
		readerID = &id
	}
	loans, err := h.svc.Ledger.FindActiveLoans(r.Context(), readerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(loans))
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req BorrowRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.svc.Ledger.Borrow(r.Context(), req.ReaderID, req.BookID, req.Days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("Loan created via API",
		zap.String("loan_id", rec.ID.String()),
		zap.String("reader_id", rec.ReaderID.String()),
		zap.String("book_id", rec.BookID.String()),
	)
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.Ledger.Return(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleOverdue(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseAsOf(r.URL.Query().Get("as_of"), h.now)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	loans, err := h.svc.Overdue.ListOverdue(r.Context(), asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(loans))
}

func (h *Handler) handleCountActive(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Overdue.CountActive(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Active: n})
}

func (h *Handler) handleTopBooks(w http.ResponseWriter, r *http.Request) {
	n, err := parseLimit(r.URL.Query().Get("n"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	stats, err := h.svc.Usage.TopBooks(r.Context(), n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(stats))
}

func (h *Handler) handleTopReaders(w http.ResponseWriter, r *http.Request) {
	n, err := parseLimit(r.URL.Query().Get("n"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	stats, err := h.svc.Usage.TopReaders(r.Context(), n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(stats))
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	findings, err := h.svc.Auditor.Audit(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(findings))
}

// parseAsOf accepts a calendar date (midnight UTC) or an RFC 3339 timestamp.
// An empty value means now.
func parseAsOf(v string, now func() time.Time) (time.Time, error) {
	if v == "" {
		return now().UTC(), nil
	}
	if t, err := time.Parse(DateLayout, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, invalid("as_of must be YYYY-MM-DD or RFC 3339")
	}
	return t.UTC(), nil
}

// parseLimit parses the n query parameter; empty means no limit
func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, invalid("n must be a non-negative integer")
	}
	return n, nil
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, invalid("id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.logger.Warn("Failed to decode request body", zap.Error(err), zap.String("path", r.URL.Path))
		h.writeError(w, r, invalid("invalid request body"))
		return false
	}
	return true
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", circulation.ErrInvalidArgument, msg)
}

// StatusOf maps a circulation error to an HTTP status code
func StatusOf(err error) int {
	switch {
	case errors.Is(err, circulation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, circulation.ErrOutOfStock),
		errors.Is(err, circulation.ErrAlreadyReturned),
		errors.Is(err, circulation.ErrReaderInactive),
		errors.Is(err, circulation.ErrHasActiveLoans),
		errors.Is(err, circulation.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, circulation.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, circulation.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		switch status {
		case http.StatusServiceUnavailable:
			msg = "storage unavailable, try again later"
		default:
			msg = "internal error"
		}
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Code: circulation.CodeOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// nonNil turns a nil slice into an empty one so lists encode as []
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
