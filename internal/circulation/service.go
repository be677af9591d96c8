package circulation

import (
	"circulation/internal/storage"
)

// Service bundles the circulation components over one store. The catalog and
// the ledger share the catalog's per-book locks, and the ledger takes the
// membership's per-reader locks before a book's.
type Service struct {
	Catalog    *Catalog
	Membership *Membership
	Ledger     *Ledger
	Overdue    *OverdueTracker
	Usage      *UsageReporter
	Auditor    *Auditor
}

// New wires every component to the given store
func New(store storage.Storage, opts ...Option) *Service {
	catalog := NewCatalog(store, opts...)
	membership := NewMembership(store, store, opts...)

	return &Service{
		Catalog:    catalog,
		Membership: membership,
		Ledger:     NewLedger(store, catalog, membership, opts...),
		Overdue:    NewOverdueTracker(store),
		Usage:      NewUsageReporter(store),
		Auditor:    NewAuditor(store, opts...),
	}
}
