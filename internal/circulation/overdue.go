package circulation

import (
	"context"
	"sort"
	"time"

	"circulation/internal/models"
	"circulation/internal/storage"
)

// OverdueTracker answers time-dependent questions about open loans.
// It never mutates state and takes no book locks.
type OverdueTracker struct {
	loans storage.LoanStore
}

// NewOverdueTracker creates an overdue tracker over the loan store
func NewOverdueTracker(loans storage.LoanStore) *OverdueTracker {
	return &OverdueTracker{loans: loans}
}

// ListOverdue returns active loans whose due date is strictly before asOf,
// earliest due date first
func (t *OverdueTracker) ListOverdue(ctx context.Context, asOf time.Time) ([]models.BorrowRecord, error) {
	records, err := t.loans.ScanLoans(ctx, models.LoanFilter{ActiveOnly: true, DueBefore: asOf})
	if err != nil {
		return nil, storeErr(err, "scan overdue loans")
	}

	// Stores may apply the filter loosely; keep only strict matches
	overdue := records[:0]
	for _, r := range records {
		if r.IsOverdue(asOf) {
			overdue = append(overdue, r)
		}
	}

	sort.Slice(overdue, func(i, j int) bool {
		if !overdue[i].DueAt.Equal(overdue[j].DueAt) {
			return overdue[i].DueAt.Before(overdue[j].DueAt)
		}
		return models.LessID(overdue[i].ID, overdue[j].ID)
	})
	return overdue, nil
}

// CountActive returns the number of unreturned loans
func (t *OverdueTracker) CountActive(ctx context.Context) (int, error) {
	records, err := t.loans.ScanLoans(ctx, models.LoanFilter{ActiveOnly: true})
	if err != nil {
		return 0, storeErr(err, "scan active loans")
	}
	return len(records), nil
}
