package circulation

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"circulation/internal/models"
	"circulation/internal/storage"
)

// UsageReporter aggregates loan counts over every record ever created.
//
// Rankings are ordered by count descending with ties broken by ascending
// identifier, so equal inputs always produce equal output.
type UsageReporter struct {
	loans storage.LoanStore
}

// NewUsageReporter creates a usage reporter over the loan store
func NewUsageReporter(loans storage.LoanStore) *UsageReporter {
	return &UsageReporter{loans: loans}
}

// TopBooks returns the n most borrowed books. n <= 0 returns all of them.
func (u *UsageReporter) TopBooks(ctx context.Context, n int) ([]models.BookStat, error) {
	counts, err := u.count(ctx, func(r models.BorrowRecord) uuid.UUID { return r.BookID })
	if err != nil {
		return nil, err
	}

	stats := make([]models.BookStat, 0, len(counts))
	for _, c := range rank(counts, n) {
		stats = append(stats, models.BookStat{BookID: c.id, LoanCount: c.count})
	}
	return stats, nil
}

// TopReaders returns the n readers with the most loans. n <= 0 returns all of them.
func (u *UsageReporter) TopReaders(ctx context.Context, n int) ([]models.ReaderStat, error) {
	counts, err := u.count(ctx, func(r models.BorrowRecord) uuid.UUID { return r.ReaderID })
	if err != nil {
		return nil, err
	}

	stats := make([]models.ReaderStat, 0, len(counts))
	for _, c := range rank(counts, n) {
		stats = append(stats, models.ReaderStat{ReaderID: c.id, LoanCount: c.count})
	}
	return stats, nil
}

func (u *UsageReporter) count(ctx context.Context, key func(models.BorrowRecord) uuid.UUID) (map[uuid.UUID]int, error) {
	records, err := u.loans.ScanLoans(ctx, models.LoanFilter{})
	if err != nil {
		return nil, storeErr(err, "scan loans")
	}

	counts := make(map[uuid.UUID]int)
	for _, r := range records {
		counts[key(r)]++
	}
	return counts, nil
}

type idCount struct {
	id    uuid.UUID
	count int
}

// rank sorts counts by count descending, then ID ascending, and keeps the first n
func rank(counts map[uuid.UUID]int, n int) []idCount {
	ranked := make([]idCount, 0, len(counts))
	for id, c := range counts {
		ranked = append(ranked, idCount{id: id, count: c})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return models.LessID(ranked[i].id, ranked[j].id)
	})

	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}
