package circulation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"circulation/internal/models"
	"circulation/internal/storage"
)

// NewReader holds the fields needed to register a reader
type NewReader struct {
	Name  string
	Email string
	Phone string
}

// ReaderProfile holds the editable contact fields of a reader
type ReaderProfile struct {
	Name  string
	Email string
	Phone string
}

// Membership owns reader records and their active flag
type Membership struct {
	readers storage.ReaderStore
	loans   storage.LoanStore
	locks   *idLocks
	opts    options
}

// NewMembership creates a membership registry. The loan store is only read,
// to refuse removal of readers with open loans.
func NewMembership(readers storage.ReaderStore, loans storage.LoanStore, opts ...Option) *Membership {
	return &Membership{
		readers: readers,
		loans:   loans,
		locks:   newIDLocks(),
		opts:    buildOptions(opts),
	}
}

// Register creates an active reader
func (m *Membership) Register(ctx context.Context, nr NewReader) (models.Reader, error) {
	name := strings.TrimSpace(nr.Name)
	if name == "" {
		return models.Reader{}, fmt.Errorf("%w: reader name is required", ErrInvalidArgument)
	}

	reader := models.Reader{
		ID:       uuid.New(),
		Name:     name,
		Email:    strings.TrimSpace(nr.Email),
		Phone:    strings.TrimSpace(nr.Phone),
		JoinedAt: m.opts.timestamp(),
		Active:   true,
	}
	if err := m.readers.SaveReader(ctx, reader); err != nil {
		return models.Reader{}, storeErr(err, "save reader %s", reader.ID)
	}

	m.opts.logger.Info("Reader registered", zap.String("reader_id", reader.ID.String()))
	return reader, nil
}

// Update replaces the contact fields of a reader
func (m *Membership) Update(ctx context.Context, readerID uuid.UUID, profile ReaderProfile) (models.Reader, error) {
	name := strings.TrimSpace(profile.Name)
	if name == "" {
		return models.Reader{}, fmt.Errorf("%w: reader name is required", ErrInvalidArgument)
	}

	unlock := m.locks.lock(readerID)
	defer unlock()

	reader, err := m.Find(ctx, readerID)
	if err != nil {
		return models.Reader{}, err
	}
	reader.Name = name
	reader.Email = strings.TrimSpace(profile.Email)
	reader.Phone = strings.TrimSpace(profile.Phone)
	if err := m.readers.SaveReader(ctx, reader); err != nil {
		return models.Reader{}, storeErr(err, "save reader %s", readerID)
	}
	return reader, nil
}

// Deactivate stops a reader from starting new loans
func (m *Membership) Deactivate(ctx context.Context, readerID uuid.UUID) error {
	return m.setActive(ctx, readerID, false)
}

// Reactivate allows a deactivated reader to borrow again
func (m *Membership) Reactivate(ctx context.Context, readerID uuid.UUID) error {
	return m.setActive(ctx, readerID, true)
}

func (m *Membership) setActive(ctx context.Context, readerID uuid.UUID, active bool) error {
	unlock := m.locks.lock(readerID)
	defer unlock()

	reader, err := m.Find(ctx, readerID)
	if err != nil {
		return err
	}
	if reader.Active == active {
		return nil
	}
	reader.Active = active
	if err := m.readers.SaveReader(ctx, reader); err != nil {
		return storeErr(err, "save reader %s", readerID)
	}

	m.opts.logger.Info("Reader status changed",
		zap.String("reader_id", readerID.String()),
		zap.Bool("active", active),
	)
	return nil
}

// Find returns a reader by ID
func (m *Membership) Find(ctx context.Context, readerID uuid.UUID) (models.Reader, error) {
	reader, err := m.readers.LoadReader(ctx, readerID)
	if err != nil {
		return models.Reader{}, storeErr(err, "reader %s", readerID)
	}
	return reader, nil
}

// List returns every reader ordered by name, then ID
func (m *Membership) List(ctx context.Context) ([]models.Reader, error) {
	readers, err := m.readers.ListReaders(ctx)
	if err != nil {
		return nil, storeErr(err, "list readers")
	}
	return readers, nil
}

// Exists reports whether a reader is registered
func (m *Membership) Exists(ctx context.Context, readerID uuid.UUID) (bool, error) {
	ok, err := m.readers.ReaderExists(ctx, readerID)
	if err != nil {
		return false, storeErr(err, "reader %s", readerID)
	}
	return ok, nil
}

// IsActive reports whether the reader may start new loans
func (m *Membership) IsActive(ctx context.Context, readerID uuid.UUID) (bool, error) {
	reader, err := m.Find(ctx, readerID)
	if err != nil {
		return false, err
	}
	return reader.Active, nil
}

// Remove deletes a reader without active loans. Returned loans keep
// referencing the removed ID for reporting.
func (m *Membership) Remove(ctx context.Context, readerID uuid.UUID) error {
	unlock := m.locks.lock(readerID)
	defer unlock()

	active, err := m.loans.ScanLoans(ctx, models.LoanFilter{ReaderID: &readerID, ActiveOnly: true})
	if err != nil {
		return storeErr(err, "scan loans of reader %s", readerID)
	}
	if len(active) > 0 {
		return fmt.Errorf("%w: reader %s has %d active loans", ErrHasActiveLoans, readerID, len(active))
	}
	if err := m.readers.DeleteReader(ctx, readerID); err != nil {
		return storeErr(err, "delete reader %s", readerID)
	}

	m.opts.logger.Info("Reader removed", zap.String("reader_id", readerID.String()))
	return nil
}
