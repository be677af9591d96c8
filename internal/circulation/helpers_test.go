package circulation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"circulation/internal/models"
	"circulation/internal/storage/stubs"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	db    *stubs.MockDB
	clock *fakeClock
	svc   *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	db := stubs.NewMockDB()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)

	return &fixture{
		db:    db,
		clock: clock,
		svc:   New(db, opts...),
	}
}

func (f *fixture) addBook(t *testing.T, copies int) models.Book {
	t.Helper()
	book, err := f.svc.Catalog.AddBook(context.Background(), NewBook{
		ISBN:   uuid.NewString(),
		Title:  "Book " + uuid.NewString()[:8],
		Author: "Author",
		Copies: copies,
	})
	require.NoError(t, err)
	return book
}

func (f *fixture) addReader(t *testing.T, name string) models.Reader {
	t.Helper()
	reader, err := f.svc.Membership.Register(context.Background(), NewReader{Name: name})
	require.NoError(t, err)
	return reader
}

// requireConsistent checks 0 <= available <= total and total - available == active loans
func (f *fixture) requireConsistent(t *testing.T, bookID uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	total, available, err := f.svc.Catalog.GetAvailability(ctx, bookID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, available, 0)
	require.LessOrEqual(t, available, total)

	active, err := f.db.ScanLoans(ctx, models.LoanFilter{BookID: &bookID, ActiveOnly: true})
	require.NoError(t, err)
	require.Equal(t, len(active), total-available, "copies on loan must match active loans")
}
