package circulation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circulation/internal/models"
	"circulation/internal/storage/stubs"
)

func TestMembership_RegisterAndUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reader, err := f.svc.Membership.Register(ctx, NewReader{Name: " Alice ", Email: "alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", reader.Name)
	assert.True(t, reader.Active)
	assert.Equal(t, f.clock.Now(), reader.JoinedAt)

	updated, err := f.svc.Membership.Update(ctx, reader.ID, ReaderProfile{Name: "Alice B", Phone: "555-0100"})
	require.NoError(t, err)
	assert.Equal(t, "Alice B", updated.Name)
	assert.Equal(t, "555-0100", updated.Phone)
	assert.Empty(t, updated.Email)
	assert.True(t, updated.Active, "profile edits must not change status")

	_, err = f.svc.Membership.Register(ctx, NewReader{Name: "   "})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMembership_ActiveFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reader := f.addReader(t, "Alice")

	active, err := f.svc.Membership.IsActive(ctx, reader.ID)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, f.svc.Membership.Deactivate(ctx, reader.ID))
	active, _ = f.svc.Membership.IsActive(ctx, reader.ID)
	assert.False(t, active)

	require.NoError(t, f.svc.Membership.Reactivate(ctx, reader.ID))
	active, _ = f.svc.Membership.IsActive(ctx, reader.ID)
	assert.True(t, active)

	_, err = f.svc.Membership.IsActive(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMembership_Remove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, 1)
	reader := f.addReader(t, "Alice")

	rec, err := f.svc.Ledger.Borrow(ctx, reader.ID, book.ID, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.Membership.Remove(ctx, reader.ID), ErrHasActiveLoans)

	_, err = f.svc.Ledger.Return(ctx, rec.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Membership.Remove(ctx, reader.ID))

	exists, err := f.svc.Membership.Exists(ctx, reader.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	// The returned loan stays available for reporting
	top, err := f.svc.Usage.TopReaders(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, reader.ID, top[0].ReaderID)
}

func TestMembership_ListSorted(t *testing.T) {
	f := newFixture(t)
	f.addReader(t, "Zoe")
	f.addReader(t, "Adam")

	readers, err := f.svc.Membership.List(context.Background())
	require.NoError(t, err)
	require.Len(t, readers, 2)
	assert.Equal(t, "Adam", readers[0].Name)
	assert.Equal(t, "Zoe", readers[1].Name)
}

// gatedDB pauses the first call of one store operation until released
type gatedDB struct {
	*stubs.MockDB
	op      string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedDB(op string) *gatedDB {
	return &gatedDB{
		MockDB:  stubs.NewMockDB(),
		op:      op,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedDB) pause(op string) {
	if op != g.op {
		return
	}
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
}

func (g *gatedDB) LoadReader(ctx context.Context, id uuid.UUID) (models.Reader, error) {
	g.pause("LoadReader")
	return g.MockDB.LoadReader(ctx, id)
}

func (g *gatedDB) AppendLoan(ctx context.Context, record models.BorrowRecord) error {
	g.pause("AppendLoan")
	return g.MockDB.AppendLoan(ctx, record)
}

// requireBlocked fails if done completes within a short window
func requireBlocked(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		t.Fatalf("operation finished while the reader was locked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMembership_UpdateDoesNotUndoDeactivate(t *testing.T) {
	ctx := context.Background()
	db := newGatedDB("")
	svc := New(db)
	book, err := svc.Catalog.AddBook(ctx, NewBook{ISBN: "978-0", Title: "Dune", Copies: 1})
	require.NoError(t, err)
	reader, err := svc.Membership.Register(ctx, NewReader{Name: "Alice"})
	require.NoError(t, err)
	db.op = "LoadReader"

	updated := make(chan error, 1)
	go func() {
		_, err := svc.Membership.Update(ctx, reader.ID, ReaderProfile{Name: "Alice B"})
		updated <- err
	}()
	<-db.entered

	deactivated := make(chan error, 1)
	go func() { deactivated <- svc.Membership.Deactivate(ctx, reader.ID) }()
	requireBlocked(t, deactivated)

	close(db.release)
	require.NoError(t, <-updated)
	require.NoError(t, <-deactivated)

	got, err := svc.Membership.Find(ctx, reader.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice B", got.Name)
	assert.False(t, got.Active)

	_, err = svc.Ledger.Borrow(ctx, reader.ID, book.ID, 0)
	assert.ErrorIs(t, err, ErrReaderInactive)
}

func TestMembership_RemoveWaitsForBorrow(t *testing.T) {
	ctx := context.Background()
	db := newGatedDB("AppendLoan")
	svc := New(db)
	book, err := svc.Catalog.AddBook(ctx, NewBook{ISBN: "978-0", Title: "Dune", Copies: 1})
	require.NoError(t, err)
	reader, err := svc.Membership.Register(ctx, NewReader{Name: "Alice"})
	require.NoError(t, err)

	borrowed := make(chan error, 1)
	go func() {
		_, err := svc.Ledger.Borrow(ctx, reader.ID, book.ID, 0)
		borrowed <- err
	}()
	<-db.entered

	removed := make(chan error, 1)
	go func() { removed <- svc.Membership.Remove(ctx, reader.ID) }()
	requireBlocked(t, removed)

	close(db.release)
	require.NoError(t, <-borrowed)
	assert.ErrorIs(t, <-removed, ErrHasActiveLoans)

	found, err := svc.Auditor.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, found)
}
