// Package client talks to a running circulation server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"circulation/internal/api"
	"circulation/internal/circulation"
	"circulation/internal/models"
)

// APIError is a non-2xx response decoded from the server
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
}

// Client is a circulation API client
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL, e.g. http://localhost:8080
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// ListBooks returns the catalog
func (c *Client) ListBooks(ctx context.Context) ([]models.Book, error) {
	return call[[]models.Book](ctx, c, http.MethodGet, "/api/books", nil)
}

// AddBook adds a title to the catalog
func (c *Client) AddBook(ctx context.Context, req api.AddBookRequest) (models.Book, error) {
	return call[models.Book](ctx, c, http.MethodPost, "/api/books", req)
}

// FindBook returns one book with its counters
func (c *Client) FindBook(ctx context.Context, id uuid.UUID) (models.Book, error) {
	return call[models.Book](ctx, c, http.MethodGet, "/api/books/"+id.String(), nil)
}

// ChangeTotal sets the number of owned copies of a book
func (c *Client) ChangeTotal(ctx context.Context, id uuid.UUID, total int) (models.Book, error) {
	return call[models.Book](ctx, c, http.MethodPut, "/api/books/"+id.String()+"/total", api.ChangeTotalRequest{Total: total})
}

// RemoveBook deletes a book with no copies on loan
func (c *Client) RemoveBook(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/books/"+id.String(), nil, nil)
}

// ListReaders returns every registered reader
func (c *Client) ListReaders(ctx context.Context) ([]models.Reader, error) {
	return call[[]models.Reader](ctx, c, http.MethodGet, "/api/readers", nil)
}

// RegisterReader creates an active reader
func (c *Client) RegisterReader(ctx context.Context, req api.RegisterReaderRequest) (models.Reader, error) {
	return call[models.Reader](ctx, c, http.MethodPost, "/api/readers", req)
}

// SetReaderActive deactivates or reactivates a reader
func (c *Client) SetReaderActive(ctx context.Context, id uuid.UUID, active bool) (models.Reader, error) {
	action := "deactivate"
	if active {
		action = "reactivate"
	}
	return call[models.Reader](ctx, c, http.MethodPost, "/api/readers/"+id.String()+"/"+action, nil)
}

// Borrow lends a copy of a book to a reader. days = 0 uses the server's loan period.
func (c *Client) Borrow(ctx context.Context, readerID, bookID uuid.UUID, days int) (models.BorrowRecord, error) {
	req := api.BorrowRequest{ReaderID: readerID, BookID: bookID, Days: days}
	return call[models.BorrowRecord](ctx, c, http.MethodPost, "/api/loans", req)
}

// Return closes a loan
func (c *Client) Return(ctx context.Context, loanID uuid.UUID) (models.BorrowRecord, error) {
	return call[models.BorrowRecord](ctx, c, http.MethodPost, "/api/loans/"+loanID.String()+"/return", nil)
}

// ActiveLoans returns open loans, optionally for one reader
func (c *Client) ActiveLoans(ctx context.Context, readerID *uuid.UUID) ([]models.BorrowRecord, error) {
	path := "/api/loans"
	if readerID != nil {
		path += "?reader=" + readerID.String()
	}
	return call[[]models.BorrowRecord](ctx, c, http.MethodGet, path, nil)
}

// Overdue returns loans past due as of the given date; a zero date means now
func (c *Client) Overdue(ctx context.Context, asOf time.Time) ([]models.BorrowRecord, error) {
	path := "/api/overdue"
	if !asOf.IsZero() {
		path += "?as_of=" + url.QueryEscape(asOf.UTC().Format(time.RFC3339))
	}
	return call[[]models.BorrowRecord](ctx, c, http.MethodGet, path, nil)
}

// CountActive returns the number of open loans
func (c *Client) CountActive(ctx context.Context) (int, error) {
	resp, err := call[api.CountResponse](ctx, c, http.MethodGet, "/api/stats/active", nil)
	return resp.Active, err
}

// TopBooks returns the most borrowed books; n <= 0 returns all
func (c *Client) TopBooks(ctx context.Context, n int) ([]models.BookStat, error) {
	return call[[]models.BookStat](ctx, c, http.MethodGet, "/api/stats/top-books"+limitQuery(n), nil)
}

// TopReaders returns the readers with the most loans; n <= 0 returns all
func (c *Client) TopReaders(ctx context.Context, n int) ([]models.ReaderStat, error) {
	return call[[]models.ReaderStat](ctx, c, http.MethodGet, "/api/stats/top-readers"+limitQuery(n), nil)
}

// Audit returns counter and reference discrepancies found by the server
func (c *Client) Audit(ctx context.Context) ([]circulation.Discrepancy, error) {
	return call[[]circulation.Discrepancy](ctx, c, http.MethodGet, "/api/audit", nil)
}

func call[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var out T
	err := c.do(ctx, method, path, body, &out)
	return out, err
}

func limitQuery(n int) string {
	if n <= 0 {
		return ""
	}
	return "?n=" + strconv.Itoa(n)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return &APIError{Status: resp.StatusCode, Code: "INTERNAL", Message: resp.Status}
		}
		return &APIError{Status: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
